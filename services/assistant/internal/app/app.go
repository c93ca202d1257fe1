package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"gotovo/internal/ratelimit"
	"gotovo/internal/util"
	"gotovo/pkg/ai"
	"gotovo/pkg/domain"
	"gotovo/pkg/formulas"
	"gotovo/pkg/modelroute"
	"gotovo/pkg/payments"
	"gotovo/pkg/retrieval"
	"gotovo/pkg/usage"
)

const (
	maxQuestionRunes = 4000
	systemPrompt     = "Ты «Готово!», помощник по домашним заданиям для школьников. " +
		"Отвечай на русском, решай по шагам и коротко объясняй каждый шаг. " +
		"Если даны правила из учебника, опирайся на них и не выдумывай ссылки. " +
		"Формулы пиши в одну строку обычным текстом."
)

// Limiter throttles solve requests per user.
type Limiter interface {
	Allow(ctx context.Context, key string) (ratelimit.Result, error)
}

// HintSearcher finds textbook rules for a question.
type HintSearcher interface {
	SearchCandidates(ctx context.Context, query string, subjects []string, grade, topK int) []domain.RuleHit
}

// Config wires the application dependencies. Limiter and Hints are optional.
type Config struct {
	Usage     *usage.Service
	Router    *modelroute.Router
	Generator ai.TextGenerator
	Hints     HintSearcher
	Limiter   Limiter
	TopK      int
	Logger    *slog.Logger
}

// App runs the solve flow and exposes account views.
type App struct {
	usage     *usage.Service
	router    *modelroute.Router
	generator ai.TextGenerator
	hints     HintSearcher
	limiter   Limiter
	topK      int
	logger    *slog.Logger
}

func New(cfg Config) (*App, error) {
	if cfg.Usage == nil {
		return nil, fmt.Errorf("usage service required")
	}
	if cfg.Generator == nil {
		return nil, fmt.Errorf("text generator required")
	}
	if cfg.Router == nil {
		cfg.Router = modelroute.New(modelroute.Table{})
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &App{
		usage:     cfg.Usage,
		router:    cfg.Router,
		generator: cfg.Generator,
		hints:     cfg.Hints,
		limiter:   cfg.Limiter,
		topK:      cfg.TopK,
		logger:    cfg.Logger,
	}, nil
}

// SolveRequest is one homework question.
type SolveRequest struct {
	UserID  int64  `json:"userId"`
	Text    string `json:"text"`
	Subject string `json:"subject,omitempty"`
	Grade   int    `json:"grade,omitempty"`
	Pro     bool   `json:"pro,omitempty"`
}

// Solve throttles, spends one unit at the gate, gathers hints, generates
// and formats the answer. A unit spent at the gate is not returned when
// generation fails afterwards.
func (a *App) Solve(ctx context.Context, req SolveRequest) (domain.Answer, error) {
	req.Text = strings.TrimSpace(req.Text)
	switch {
	case req.UserID <= 0:
		return domain.Answer{}, fmt.Errorf("%w: userId is required", ErrInvalidRequest)
	case req.Text == "":
		return domain.Answer{}, fmt.Errorf("%w: text is required", ErrInvalidRequest)
	case utf8.RuneCountInString(req.Text) > maxQuestionRunes:
		return domain.Answer{}, fmt.Errorf("%w: text longer than %d characters", ErrInvalidRequest, maxQuestionRunes)
	case req.Grade < 0 || req.Grade > 11:
		return domain.Answer{}, fmt.Errorf("%w: grade must be between 1 and 11, or 0 when unknown", ErrInvalidRequest)
	}
	logger := util.LoggerFromContext(ctx).With("user_id", req.UserID)

	if a.limiter != nil {
		res, err := a.limiter.Allow(ctx, "solve:"+strconv.FormatInt(req.UserID, 10))
		if err != nil {
			logger.Warn("solve limiter unavailable", "err", err)
		}
		if !res.Allowed {
			return domain.Answer{}, &RateLimitedError{RetryAfter: res.RetryAfter}
		}
	}

	decision, err := a.usage.Consume(ctx, usage.ConsumeRequest{UserID: req.UserID, RequiresPro: req.Pro, Prompt: req.Text})
	if err != nil {
		return domain.Answer{}, err
	}
	if !decision.Granted {
		return domain.Answer{}, &RejectedError{Reason: decision.Reason}
	}

	var hints []domain.RuleHit
	if a.hints != nil && req.Grade > 0 {
		if keys := CandidateKeys(req.Subject); len(keys) > 0 {
			hints = a.hints.SearchCandidates(ctx, req.Text, keys, req.Grade, a.topK)
		}
	}

	route := a.router.Select(decision.FundingMode, req.Text)
	started := time.Now()
	text, err := a.generator.GenerateText(ctx, ai.GenerateRequest{
		Model:        route.Model,
		SystemPrompt: systemPrompt,
		UserPrompt:   buildPrompt(req, hints),
		MaxTokens:    route.MaxTokens,
	})
	if err != nil {
		logger.Error("generation failed", "model", route.Model, "mode", decision.FundingMode, "err", err)
		return domain.Answer{}, fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}
	logger.Info("solved",
		"mode", decision.FundingMode,
		"model", route.Model,
		"hints", len(hints),
		"duration_ms", time.Since(started).Milliseconds(),
	)
	return domain.Answer{
		UserID:      req.UserID,
		Question:    req.Text,
		Answer:      formulas.Prettify(text),
		FundingMode: decision.FundingMode,
		Model:       route.Model,
		Hints:       hints,
		CreatedAt:   a.usage.Now(),
	}, nil
}

func buildPrompt(req SolveRequest, hints []domain.RuleHit) string {
	var sb strings.Builder
	if req.Grade > 0 {
		fmt.Fprintf(&sb, "Класс: %d\n", req.Grade)
	}
	if subject := strings.TrimSpace(req.Subject); subject != "" {
		fmt.Fprintf(&sb, "Предмет: %s\n", subject)
	}
	if len(hints) > 0 {
		sb.WriteString("Правила из учебника:\n")
		sb.WriteString(retrieval.BuildContext(hints))
		sb.WriteString("\n")
	}
	sb.WriteString("Задание:\n")
	sb.WriteString(req.Text)
	return sb.String()
}

// Plan returns the user's current entitlements.
func (a *App) Plan(ctx context.Context, userID int64) (domain.Entitlements, error) {
	return a.usage.Entitlements(ctx, userID)
}

// Stats returns the user's query counts.
func (a *App) Stats(ctx context.Context, userID int64) (domain.UserStats, error) {
	return a.usage.UserStats(ctx, userID)
}

func (a *App) Products() []payments.Product {
	return payments.Products()
}

// ApplyPayment credits a paid product to the user.
func (a *App) ApplyPayment(ctx context.Context, userID int64, payload string) (payments.Receipt, error) {
	receipt, err := payments.Apply(ctx, a.usage, userID, payload)
	if err != nil {
		return payments.Receipt{}, err
	}
	util.LoggerFromContext(ctx).Info("payment applied", "user_id", userID, "product", receipt.Product.Code)
	return receipt, nil
}

// DailySummary aggregates one UTC day given as YYYY-MM-DD. Empty means today.
func (a *App) DailySummary(ctx context.Context, day string) (domain.DailySummary, error) {
	at := a.usage.Now()
	if day = strings.TrimSpace(day); day != "" {
		parsed, err := time.Parse(time.DateOnly, day)
		if err != nil {
			return domain.DailySummary{}, fmt.Errorf("%w: day must be YYYY-MM-DD", ErrInvalidRequest)
		}
		at = parsed
	}
	return a.usage.DailySummary(ctx, at)
}

func (a *App) Export(ctx context.Context) (domain.Export, error) {
	return a.usage.Export(ctx)
}

// IsUnavailable reports whether err means the ledger could not be reached.
func IsUnavailable(err error) bool {
	return errors.Is(err, usage.ErrUnavailable)
}

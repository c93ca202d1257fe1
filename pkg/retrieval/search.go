package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gotovo/pkg/ai"
	"gotovo/pkg/domain"
	"gotovo/pkg/metrics"
	"gotovo/pkg/store"
)

var ErrInvalidQuery = errors.New("retrieval: query, subject and grade are required")

const (
	defaultTimeout    = 3 * time.Second
	defaultTopK       = 5
	maxTopK           = 50
	defaultBriefWords = 40
)

// Config tunes a Service. Zero values fall back to defaults.
type Config struct {
	Timeout    time.Duration
	DefaultK   int
	BriefWords int
}

// Service answers rule lookups for one (subject, grade) pair. The embedder
// must be configured exactly like the one used to build the index.
type Service struct {
	index    store.RuleIndex
	embedder ai.Embedder
	cfg      Config
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func NewService(index store.RuleIndex, embedder ai.Embedder, cfg Config, m *metrics.Metrics, logger *slog.Logger) *Service {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.DefaultK <= 0 {
		cfg.DefaultK = defaultTopK
	}
	if cfg.BriefWords <= 0 {
		cfg.BriefWords = defaultBriefWords
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{index: index, embedder: embedder, cfg: cfg, metrics: m, logger: logger}
}

// Search returns at most topK chunks tagged with exactly (subject, grade),
// best first. No match is an empty slice and a nil error.
func (s *Service) Search(ctx context.Context, query, subject string, grade, topK int) ([]domain.RuleHit, error) {
	query = strings.TrimSpace(query)
	subject = strings.TrimSpace(subject)
	if query == "" || subject == "" || grade <= 0 {
		return nil, ErrInvalidQuery
	}
	if topK <= 0 {
		topK = s.cfg.DefaultK
	}
	topK = min(topK, maxTopK)

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	start := time.Now()

	hits, err := s.search(ctx, query, subject, grade, topK)
	switch {
	case err != nil:
		s.metrics.ObserveRetrieval(metrics.OutcomeError, time.Since(start))
		return nil, err
	case len(hits) == 0:
		s.metrics.ObserveRetrieval(metrics.OutcomeEmpty, time.Since(start))
	default:
		s.metrics.ObserveRetrieval(metrics.OutcomeHit, time.Since(start))
	}
	return hits, nil
}

// SearchCandidates tries each subject key in order and returns the hits of
// the first key that has any. Errors are logged and yield no hints.
func (s *Service) SearchCandidates(ctx context.Context, query string, subjects []string, grade, topK int) []domain.RuleHit {
	for _, subject := range subjects {
		hits, err := s.Search(ctx, query, subject, grade, topK)
		if err != nil {
			s.logger.Warn("rule search failed", "subject", subject, "grade", grade, "err", err)
			return nil
		}
		if len(hits) > 0 {
			return hits
		}
	}
	return nil
}

func (s *Service) search(ctx context.Context, query, subject string, grade, topK int) ([]domain.RuleHit, error) {
	embedding, err := s.embedder.EmbedText(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	scored, err := s.index.SearchRules(ctx, embedding, subject, grade, topK)
	if err != nil {
		return nil, fmt.Errorf("search rules: %w", err)
	}
	hits := make([]domain.RuleHit, 0, len(scored))
	for _, item := range scored {
		hits = append(hits, domain.RuleHit{
			ID:      item.Record.ID,
			Score:   item.Score,
			Book:    item.Record.Book,
			Chapter: item.Record.Chapter,
			Page:    item.Record.Page,
			Brief:   ClampWords(item.Record.Text, s.cfg.BriefWords),
		})
	}
	return hits, nil
}

// ClampWords keeps the first maxWords whitespace-separated words. Trailing
// punctuation of the kept text is dropped and an ellipsis marks a cut.
func ClampWords(text string, maxWords int) string {
	words := strings.Fields(text)
	cut := maxWords > 0 && len(words) > maxWords
	if cut {
		words = words[:maxWords]
	}
	out := strings.TrimRight(strings.Join(words, " "), ",.;:")
	if cut {
		out += "…"
	}
	return out
}

// BuildContext renders hits as numbered hint lines for a prompt.
func BuildContext(hits []domain.RuleHit) string {
	var sb strings.Builder
	for i, hit := range hits {
		fmt.Fprintf(&sb, "[%d] %s", i+1, hit.Brief)
		if location := hitLocation(hit); location != "" {
			sb.WriteString(" (" + location + ")")
		}
		sb.WriteString("\n")
	}
	return strings.TrimSpace(sb.String())
}

func hitLocation(hit domain.RuleHit) string {
	parts := make([]string, 0, 3)
	if hit.Book != "" {
		parts = append(parts, hit.Book)
	}
	if hit.Chapter != "" {
		parts = append(parts, hit.Chapter)
	}
	if hit.Page > 0 {
		parts = append(parts, fmt.Sprintf("с. %d", hit.Page))
	}
	return strings.Join(parts, ", ")
}

package usage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gotovo/pkg/domain"
	"gotovo/pkg/metrics"
	"gotovo/pkg/modelroute"
	"gotovo/pkg/store"
)

var (
	ErrUnavailable   = errors.New("usage: ledger unavailable")
	ErrInvalidUser   = errors.New("usage: invalid user id")
	ErrInvalidAmount = errors.New("usage: amount must be positive")

	errRejected = errors.New("usage: rejected")
)

// Limits are the configured quotas.
type Limits struct {
	FreeDaily           int `yaml:"freeDaily"`
	TrialDaily          int `yaml:"trialDaily"`
	SubscriptionMonthly int `yaml:"subscriptionMonthly"`
	// TrialWindowDays limits the trial tier to the first N days after the
	// account was created. Zero keeps the trial open indefinitely.
	TrialWindowDays int `yaml:"trialWindowDays"`
}

func DefaultLimits() Limits {
	return Limits{FreeDaily: 3, TrialDaily: 1, SubscriptionMonthly: 600}
}

// ConsumeRequest describes one billable request.
type ConsumeRequest struct {
	UserID      int64
	RequiresPro bool
	// Prompt is only used to pick the model tag recorded on the event.
	Prompt string
}

// Service is the entitlement resolver and consumption gate over a Ledger.
type Service struct {
	ledger  store.Ledger
	limits  Limits
	clock   Clock
	router  *modelroute.Router
	metrics *metrics.Metrics
	logger  *slog.Logger
}

type Option func(*Service)

func WithClock(c Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

func WithRouter(r *modelroute.Router) Option {
	return func(s *Service) {
		if r != nil {
			s.router = r
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func NewService(ledger store.Ledger, limits Limits, opts ...Option) *Service {
	s := &Service{
		ledger: ledger,
		limits: limits,
		clock:  SystemClock(),
		router: modelroute.New(modelroute.Table{}),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Limits() Limits { return s.limits }

func (s *Service) Now() time.Time { return s.clock.Now().UTC() }

// Entitlements resolves what userID may still spend right now. It only
// reads; the gate re-checks everything at consumption time.
func (s *Service) Entitlements(ctx context.Context, userID int64) (domain.Entitlements, error) {
	if userID <= 0 {
		return domain.Entitlements{}, ErrInvalidUser
	}
	now := s.Now()
	day, ym := DayBucket(now), YearMonth(now)

	account, found, err := s.ledger.GetAccount(ctx, userID)
	if err != nil {
		return domain.Entitlements{}, fmt.Errorf("%w: load account: %w", ErrUnavailable, err)
	}
	counts, err := s.ledger.CountQueriesByMode(ctx, userID, day, day)
	if err != nil {
		return domain.Entitlements{}, fmt.Errorf("%w: count events: %w", ErrUnavailable, err)
	}
	ent := domain.Entitlements{
		UserID:              userID,
		FreeRemainingToday:  max(0, s.limits.FreeDaily-counts[domain.ModeFree]),
		TrialRemainingToday: max(0, s.limits.TrialDaily-counts[domain.ModeTrial]),
		SubscriptionActive:  account.SubscriptionActive(now),
		SubscriptionExpiry:  account.SubscriptionExpiry,
		CreditBalance:       account.Credits,
		ResolvedAt:          now,
	}
	if found && !s.trialOpen(account, now) {
		ent.TrialRemainingToday = 0
	}
	used, err := s.ledger.SubscriptionUsed(ctx, userID, ym)
	if err != nil {
		return domain.Entitlements{}, fmt.Errorf("%w: subscription usage: %w", ErrUnavailable, err)
	}
	// Reported whether or not the subscription is active.
	ent.SubscriptionRemaining = max(0, s.limits.SubscriptionMonthly-used)
	return ent, nil
}

// Consume decides whether the request may run and debits exactly one unit
// from the first funding source that has one: subscription, free (only
// when Pro is not required), trial, credit. The debit and its usage event
// commit in one transaction. A rejection leaves the ledger untouched.
//
// Store failures fail closed: the decision carries ReasonUnavailable and
// the returned error wraps ErrUnavailable.
func (s *Service) Consume(ctx context.Context, req ConsumeRequest) (domain.Decision, error) {
	if req.UserID <= 0 {
		return domain.Decision{Reason: domain.ReasonUnavailable}, ErrInvalidUser
	}
	now := s.Now()
	day, ym := DayBucket(now), YearMonth(now)

	var decision domain.Decision
	err := s.ledger.InTx(ctx, func(tx store.LedgerTx) error {
		account, err := tx.EnsureAccount(req.UserID, now)
		if err != nil {
			return err
		}
		mode, err := s.debit(tx, account, req, now, day, ym)
		if err != nil {
			return err
		}
		if mode == "" {
			return errRejected
		}
		route := s.router.Select(mode, req.Prompt)
		ev := domain.UsageEvent{
			OccurredAt:  now,
			DayBucket:   day,
			YearMonth:   ym,
			UserID:      req.UserID,
			Type:        domain.EventQuery,
			FundingMode: mode,
			ModelUsed:   route.Tag,
		}
		if err := tx.AppendEvent(&ev); err != nil {
			return err
		}
		decision = domain.Decision{Granted: true, FundingMode: mode, ModelTag: route.Tag, EventID: ev.ID}
		return nil
	})

	switch {
	case errors.Is(err, errRejected):
		decision = domain.Decision{Reason: domain.ReasonFreeExhausted}
		if req.RequiresPro {
			decision.Reason = domain.ReasonNeedsPro
		}
		err = nil
	case err != nil:
		s.logger.Error("consume failed", "user_id", req.UserID, "requires_pro", req.RequiresPro, "err", err)
		decision = domain.Decision{Reason: domain.ReasonUnavailable}
		err = fmt.Errorf("%w: %w", ErrUnavailable, err)
	default:
		s.logger.Debug("consume granted", "user_id", req.UserID, "mode", decision.FundingMode, "model", decision.ModelTag)
	}
	s.metrics.ObserveDecision(decision)
	return decision, err
}

func (s *Service) debit(tx store.LedgerTx, account domain.Account, req ConsumeRequest, now time.Time, day int64, ym string) (domain.FundingMode, error) {
	if account.SubscriptionActive(now) {
		ok, err := tx.TryIncrementSubscription(req.UserID, ym, s.limits.SubscriptionMonthly)
		if err != nil || ok {
			return domain.ModeSubscription, err
		}
	}
	if !req.RequiresPro {
		ok, err := tx.TryIncrementDaily(req.UserID, day, domain.ModeFree, s.limits.FreeDaily)
		if err != nil || ok {
			return domain.ModeFree, err
		}
	}
	if s.trialOpen(account, now) {
		ok, err := tx.TryIncrementDaily(req.UserID, day, domain.ModeTrial, s.limits.TrialDaily)
		if err != nil || ok {
			return domain.ModeTrial, err
		}
	}
	ok, err := tx.TryDebitCredit(req.UserID, now)
	if err != nil || ok {
		return domain.ModeCredit, err
	}
	return "", nil
}

func (s *Service) trialOpen(account domain.Account, now time.Time) bool {
	if s.limits.TrialWindowDays <= 0 || account.CreatedAt.IsZero() {
		return true
	}
	return now.Before(account.CreatedAt.Add(time.Duration(s.limits.TrialWindowDays) * 24 * time.Hour))
}

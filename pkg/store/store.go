package store

import (
	"context"
	"errors"
	"time"

	"gotovo/pkg/domain"
)

var (
	ErrNotFound          = errors.New("store: not found")
	ErrEmbeddingMismatch = errors.New("store: embedding dimension mismatch")
)

// Ledger persists accounts, usage events and quota counters.
type Ledger interface {
	GetAccount(ctx context.Context, userID int64) (domain.Account, bool, error)
	CountQueriesByMode(ctx context.Context, userID int64, fromDay, toDay int64) (domain.ModeCounts, error)
	SubscriptionUsed(ctx context.Context, userID int64, yearMonth string) (int, error)
	DaySummary(ctx context.Context, day int64) (domain.DailySummary, error)
	ListEventsSince(ctx context.Context, since time.Time, limit int) ([]domain.UsageEvent, error)
	ListAccounts(ctx context.Context) ([]domain.Account, error)

	// InTx runs fn in a single transaction. Any error from fn rolls back
	// every mutation fn made.
	InTx(ctx context.Context, fn func(LedgerTx) error) error
}

// LedgerTx is the set of mutations available inside a ledger transaction.
// The Try* methods are conditional updates: they report false, without
// error, when the quota or balance has nothing left.
type LedgerTx interface {
	EnsureAccount(userID int64, now time.Time) (domain.Account, error)
	TryIncrementSubscription(userID int64, yearMonth string, limit int) (bool, error)
	TryIncrementDaily(userID int64, day int64, mode domain.FundingMode, limit int) (bool, error)
	TryDebitCredit(userID int64, now time.Time) (bool, error)
	AddCredits(userID int64, n int, now time.Time) error
	SetSubscriptionExpiry(userID int64, expiry time.Time, now time.Time) error
	AppendEvent(ev *domain.UsageEvent) error
}

// ScoredRule is a rule chunk with its similarity to the query vector.
type ScoredRule struct {
	Record domain.RuleRecord
	Score  float64
}

// RuleIndex stores rule chunks with embeddings and searches them by
// exact (subject, grade) match ordered by cosine similarity.
type RuleIndex interface {
	UpsertRules(ctx context.Context, records []domain.RuleRecord, embeddings [][]float32) error
	SearchRules(ctx context.Context, embedding []float32, subject string, grade int, limit int) ([]ScoredRule, error)
	CountRules(ctx context.Context) (int64, error)
}

package usage

import (
	"context"
	"fmt"
	"time"

	"gotovo/pkg/domain"
)

const (
	exportWindow = 30 * 24 * time.Hour
	exportLimit  = 10000
)

// UserStats counts a user's queries by funding mode for today, the last 7
// days and the last 30 days (each window includes today).
func (s *Service) UserStats(ctx context.Context, userID int64) (domain.UserStats, error) {
	if userID <= 0 {
		return domain.UserStats{}, ErrInvalidUser
	}
	today := DayBucket(s.Now())
	stats := domain.UserStats{UserID: userID}
	windows := []struct {
		days int64
		dst  *domain.ModeCounts
	}{
		{1, &stats.Today},
		{7, &stats.Last7},
		{30, &stats.Last30},
	}
	for _, w := range windows {
		counts, err := s.ledger.CountQueriesByMode(ctx, userID, today-w.days+1, today)
		if err != nil {
			return domain.UserStats{}, fmt.Errorf("%w: user stats: %w", ErrUnavailable, err)
		}
		*w.dst = counts
	}
	return stats, nil
}

// DailySummary aggregates the day containing at across all users.
func (s *Service) DailySummary(ctx context.Context, at time.Time) (domain.DailySummary, error) {
	summary, err := s.ledger.DaySummary(ctx, DayBucket(at))
	if err != nil {
		return domain.DailySummary{}, fmt.Errorf("%w: daily summary: %w", ErrUnavailable, err)
	}
	return summary, nil
}

// Export dumps the last 30 days of events (newest first, capped) and all
// accounts.
func (s *Service) Export(ctx context.Context) (domain.Export, error) {
	now := s.Now()
	events, err := s.ledger.ListEventsSince(ctx, now.Add(-exportWindow), exportLimit)
	if err != nil {
		return domain.Export{}, fmt.Errorf("%w: export events: %w", ErrUnavailable, err)
	}
	accounts, err := s.ledger.ListAccounts(ctx)
	if err != nil {
		return domain.Export{}, fmt.Errorf("%w: export accounts: %w", ErrUnavailable, err)
	}
	return domain.Export{GeneratedAt: now, Events: events, Accounts: accounts}, nil
}

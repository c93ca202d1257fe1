package usage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gotovo/pkg/domain"
)

func TestUserStatsWindows(t *testing.T) {
	svc, _, clock := newTestService(t, Limits{FreeDaily: 1, TrialDaily: 1})
	ctx := context.Background()

	clock.Set(testStart.Add(-10 * 24 * time.Hour))
	_, err := svc.Consume(ctx, ConsumeRequest{UserID: 30})
	require.NoError(t, err)

	clock.Set(testStart.Add(-3 * 24 * time.Hour))
	_, err = svc.Consume(ctx, ConsumeRequest{UserID: 30})
	require.NoError(t, err)

	clock.Set(testStart)
	_, err = svc.Consume(ctx, ConsumeRequest{UserID: 30})
	require.NoError(t, err)
	_, err = svc.Consume(ctx, ConsumeRequest{UserID: 30})
	require.NoError(t, err)

	stats, err := svc.UserStats(ctx, 30)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Today[domain.ModeFree])
	require.Equal(t, 1, stats.Today[domain.ModeTrial])
	require.Equal(t, 3, stats.Last7.Total())
	require.Equal(t, 4, stats.Last30.Total())
}

func TestDailySummaryAndExport(t *testing.T) {
	svc, _, _ := newTestService(t, Limits{FreeDaily: 1, TrialDaily: 1, SubscriptionMonthly: 10})
	ctx := context.Background()

	_, err := svc.Consume(ctx, ConsumeRequest{UserID: 40})
	require.NoError(t, err)
	_, err = svc.Consume(ctx, ConsumeRequest{UserID: 40})
	require.NoError(t, err)
	_, err = svc.AddCredits(ctx, 41, 50)
	require.NoError(t, err)
	_, err = svc.Consume(ctx, ConsumeRequest{UserID: 41, RequiresPro: true})
	require.NoError(t, err)
	_, err = svc.Consume(ctx, ConsumeRequest{UserID: 41, RequiresPro: true})
	require.NoError(t, err)
	_, err = svc.ActivateSubscription(ctx, 42, 31)
	require.NoError(t, err)
	_, err = svc.Consume(ctx, ConsumeRequest{UserID: 42})
	require.NoError(t, err)

	summary, err := svc.DailySummary(ctx, testStart)
	require.NoError(t, err)
	require.Equal(t, domain.DailySummary{
		DayBucket:    DayBucket(testStart),
		ActiveUsers:  3,
		FreeTotal:    3,
		Paid:         2,
		Credit:       1,
		Subscription: 1,
		Purchases:    2,
	}, summary)

	export, err := svc.Export(ctx)
	require.NoError(t, err)
	require.Len(t, export.Events, 7)
	require.Len(t, export.Accounts, 3)
	require.Equal(t, 49, export.Accounts[1].Credits)
}

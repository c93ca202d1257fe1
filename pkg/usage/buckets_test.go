package usage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gotovo/pkg/domain"
)

func TestDayBucketBoundaries(t *testing.T) {
	midnight := time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC)
	require.Equal(t, DayBucket(midnight)-1, DayBucket(midnight.Add(-time.Nanosecond)))
	require.Equal(t, midnight.Unix()/86400, DayBucket(midnight))
	require.Equal(t, DayBucket(midnight), DayBucket(midnight.Add(24*time.Hour-time.Second)))
	require.True(t, DayStart(DayBucket(midnight)).Equal(midnight))

	msk := time.FixedZone("MSK", 3*60*60)
	require.Equal(t, DayBucket(midnight), DayBucket(time.Date(2026, 10, 18, 2, 0, 0, 0, msk).Add(time.Hour)))

	require.Equal(t, int64(-1), DayBucket(time.Unix(-1, 0)))
}

func TestYearMonthUsesUTC(t *testing.T) {
	require.Equal(t, "2026-10", YearMonth(time.Date(2026, 10, 31, 23, 59, 59, 0, time.UTC)))
	require.Equal(t, "2026-11", YearMonth(time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)))
	msk := time.FixedZone("MSK", 3*60*60)
	require.Equal(t, "2026-10", YearMonth(time.Date(2026, 11, 1, 2, 0, 0, 0, msk)))
}

func TestSubscriptionCounterResetsOnNewMonth(t *testing.T) {
	svc, _, clock := newTestService(t, Limits{SubscriptionMonthly: 1})
	ctx := context.Background()
	clock.Set(time.Date(2026, 10, 31, 23, 0, 0, 0, time.UTC))

	_, err := svc.ActivateSubscription(ctx, 21, 31)
	require.NoError(t, err)
	d, err := svc.Consume(ctx, ConsumeRequest{UserID: 21, RequiresPro: true})
	require.NoError(t, err)
	require.Equal(t, domain.ModeSubscription, d.FundingMode)
	d, err = svc.Consume(ctx, ConsumeRequest{UserID: 21, RequiresPro: true})
	require.NoError(t, err)
	require.False(t, d.Granted)

	clock.Advance(time.Hour)
	d, err = svc.Consume(ctx, ConsumeRequest{UserID: 21, RequiresPro: true})
	require.NoError(t, err)
	require.Equal(t, domain.ModeSubscription, d.FundingMode)
}

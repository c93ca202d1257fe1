package usage

import (
	"context"
	"fmt"
	"time"

	"gotovo/pkg/domain"
	"gotovo/pkg/store"
)

const (
	ProductCredits      = "credits"
	ProductSubscription = "subscription"
)

// AddCredits adds n prepaid credits and records the purchase.
func (s *Service) AddCredits(ctx context.Context, userID int64, n int) (domain.Account, error) {
	if userID <= 0 {
		return domain.Account{}, ErrInvalidUser
	}
	if n <= 0 {
		return domain.Account{}, ErrInvalidAmount
	}
	now := s.Now()
	var account domain.Account
	err := s.ledger.InTx(ctx, func(tx store.LedgerTx) error {
		current, err := tx.EnsureAccount(userID, now)
		if err != nil {
			return err
		}
		if err := tx.AddCredits(userID, n, now); err != nil {
			return err
		}
		if err := tx.AppendEvent(purchaseEvent(userID, now, n, ProductCredits)); err != nil {
			return err
		}
		current.Credits += n
		account = current
		return nil
	})
	if err != nil {
		return domain.Account{}, fmt.Errorf("%w: add credits: %w", ErrUnavailable, err)
	}
	s.logger.Info("credits added", "user_id", userID, "credits", n, "balance", account.Credits)
	return account, nil
}

// ActivateSubscription extends the subscription by days, counting from the
// current expiry when it is still in the future.
func (s *Service) ActivateSubscription(ctx context.Context, userID int64, days int) (domain.Account, error) {
	if userID <= 0 {
		return domain.Account{}, ErrInvalidUser
	}
	if days <= 0 {
		return domain.Account{}, ErrInvalidAmount
	}
	now := s.Now()
	var account domain.Account
	err := s.ledger.InTx(ctx, func(tx store.LedgerTx) error {
		current, err := tx.EnsureAccount(userID, now)
		if err != nil {
			return err
		}
		start := now
		if current.SubscriptionExpiry.After(now) {
			start = current.SubscriptionExpiry
		}
		expiry := start.Add(time.Duration(days) * 24 * time.Hour)
		if err := tx.SetSubscriptionExpiry(userID, expiry, now); err != nil {
			return err
		}
		if err := tx.AppendEvent(purchaseEvent(userID, now, days, ProductSubscription)); err != nil {
			return err
		}
		current.SubscriptionExpiry = expiry
		account = current
		return nil
	})
	if err != nil {
		return domain.Account{}, fmt.Errorf("%w: activate subscription: %w", ErrUnavailable, err)
	}
	s.logger.Info("subscription activated", "user_id", userID, "days", days, "expiry", account.SubscriptionExpiry)
	return account, nil
}

func purchaseEvent(userID int64, now time.Time, amount int, product string) *domain.UsageEvent {
	return &domain.UsageEvent{
		OccurredAt: now,
		DayBucket:  DayBucket(now),
		YearMonth:  YearMonth(now),
		UserID:     userID,
		Type:       domain.EventPurchase,
		Amount:     &amount,
		Product:    product,
	}
}

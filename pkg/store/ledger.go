package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gotovo/pkg/domain"
)

// GetAccount returns the account row, or false when the user has none yet.
func (s *GormStore) GetAccount(ctx context.Context, userID int64) (domain.Account, bool, error) {
	var model AccountModel
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Account{UserID: userID}, false, nil
	}
	if err != nil {
		return domain.Account{}, false, err
	}
	return accountFromModel(model), true, nil
}

// CountQueriesByMode counts query events per funding mode for days in
// [fromDay, toDay].
func (s *GormStore) CountQueriesByMode(ctx context.Context, userID int64, fromDay, toDay int64) (domain.ModeCounts, error) {
	var rows []struct {
		FundingMode string
		Count       int
	}
	err := s.db.WithContext(ctx).Model(&EventModel{}).
		Select("funding_mode, COUNT(*) AS count").
		Where("user_id = ? AND event_type = ? AND day_bucket BETWEEN ? AND ?", userID, string(domain.EventQuery), fromDay, toDay).
		Group("funding_mode").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := domain.ModeCounts{}
	for _, row := range rows {
		counts[domain.FundingMode(row.FundingMode)] = row.Count
	}
	return counts, nil
}

// SubscriptionUsed returns the subscription counter for a month.
func (s *GormStore) SubscriptionUsed(ctx context.Context, userID int64, yearMonth string) (int, error) {
	var model SubscriptionUsageModel
	err := s.db.WithContext(ctx).Where("user_id = ? AND year_month = ?", userID, yearMonth).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return model.UsedCount, nil
}

// DaySummary aggregates one day bucket across all users.
func (s *GormStore) DaySummary(ctx context.Context, day int64) (domain.DailySummary, error) {
	summary := domain.DailySummary{DayBucket: day}
	db := s.db.WithContext(ctx)

	var dau int64
	if err := db.Model(&EventModel{}).
		Where("day_bucket = ? AND event_type = ?", day, string(domain.EventQuery)).
		Distinct("user_id").
		Count(&dau).Error; err != nil {
		return summary, err
	}
	summary.ActiveUsers = int(dau)

	var rows []struct {
		EventType   string
		FundingMode *string
		Count       int
	}
	if err := db.Model(&EventModel{}).
		Select("event_type, funding_mode, COUNT(*) AS count").
		Where("day_bucket = ?", day).
		Group("event_type, funding_mode").
		Scan(&rows).Error; err != nil {
		return summary, err
	}
	for _, row := range rows {
		if row.EventType == string(domain.EventPurchase) {
			summary.Purchases += row.Count
			continue
		}
		if row.FundingMode == nil {
			continue
		}
		switch domain.FundingMode(*row.FundingMode) {
		case domain.ModeFree, domain.ModeTrial:
			summary.FreeTotal += row.Count
		case domain.ModeCredit:
			summary.Credit += row.Count
			summary.Paid += row.Count
		case domain.ModeSubscription:
			summary.Subscription += row.Count
			summary.Paid += row.Count
		}
	}
	return summary, nil
}

// ListEventsSince returns the newest events at or after since.
func (s *GormStore) ListEventsSince(ctx context.Context, since time.Time, limit int) ([]domain.UsageEvent, error) {
	query := s.db.WithContext(ctx).Where("occurred_at >= ?", since).Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var models []EventModel
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	events := make([]domain.UsageEvent, 0, len(models))
	for _, model := range models {
		events = append(events, eventFromModel(model))
	}
	return events, nil
}

// ListAccounts returns every account ordered by user id.
func (s *GormStore) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	var models []AccountModel
	if err := s.db.WithContext(ctx).Order("user_id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	accounts := make([]domain.Account, 0, len(models))
	for _, model := range models {
		accounts = append(accounts, accountFromModel(model))
	}
	return accounts, nil
}

// InTx runs fn inside one database transaction.
func (s *GormStore) InTx(ctx context.Context, fn func(LedgerTx) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormLedgerTx{tx: tx})
	})
}

type gormLedgerTx struct {
	tx *gorm.DB
}

func (t *gormLedgerTx) EnsureAccount(userID int64, now time.Time) (domain.Account, error) {
	model := AccountModel{UserID: userID, CreatedAt: now, UpdatedAt: now}
	if err := t.tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	}).Create(&model).Error; err != nil {
		return domain.Account{}, fmt.Errorf("ensure account: %w", err)
	}
	var current AccountModel
	if err := t.tx.Where("user_id = ?", userID).Take(&current).Error; err != nil {
		return domain.Account{}, fmt.Errorf("load account: %w", err)
	}
	return accountFromModel(current), nil
}

func (t *gormLedgerTx) TryIncrementSubscription(userID int64, yearMonth string, limit int) (bool, error) {
	if limit <= 0 {
		return false, nil
	}
	res := t.tx.Exec(`
		INSERT INTO subscription_usage (user_id, year_month, used_count) VALUES (?, ?, 1)
		ON CONFLICT (user_id, year_month) DO UPDATE
		SET used_count = subscription_usage.used_count + 1
		WHERE subscription_usage.used_count < ?`,
		userID, yearMonth, limit)
	if res.Error != nil {
		return false, fmt.Errorf("increment subscription usage: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (t *gormLedgerTx) TryIncrementDaily(userID int64, day int64, mode domain.FundingMode, limit int) (bool, error) {
	if limit <= 0 {
		return false, nil
	}
	res := t.tx.Exec(`
		INSERT INTO daily_usage (user_id, day_bucket, funding_mode, used_count) VALUES (?, ?, ?, 1)
		ON CONFLICT (user_id, day_bucket, funding_mode) DO UPDATE
		SET used_count = daily_usage.used_count + 1
		WHERE daily_usage.used_count < ?`,
		userID, day, string(mode), limit)
	if res.Error != nil {
		return false, fmt.Errorf("increment %s usage: %w", mode, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (t *gormLedgerTx) TryDebitCredit(userID int64, now time.Time) (bool, error) {
	res := t.tx.Exec(
		"UPDATE users SET credits = credits - 1, updated_at = ? WHERE user_id = ? AND credits > 0",
		now, userID)
	if res.Error != nil {
		return false, fmt.Errorf("debit credit: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (t *gormLedgerTx) AddCredits(userID int64, n int, now time.Time) error {
	res := t.tx.Exec(
		"UPDATE users SET credits = credits + ?, updated_at = ? WHERE user_id = ?",
		n, now, userID)
	if res.Error != nil {
		return fmt.Errorf("add credits: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *gormLedgerTx) SetSubscriptionExpiry(userID int64, expiry time.Time, now time.Time) error {
	res := t.tx.Model(&AccountModel{}).
		Where("user_id = ?", userID).
		Updates(map[string]any{"subscription_expiry": expiry, "updated_at": now})
	if res.Error != nil {
		return fmt.Errorf("set subscription expiry: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *gormLedgerTx) AppendEvent(ev *domain.UsageEvent) error {
	model := eventToModel(*ev)
	if err := t.tx.Create(&model).Error; err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	ev.ID = model.ID
	return nil
}

func accountFromModel(m AccountModel) domain.Account {
	account := domain.Account{
		UserID:    m.UserID,
		Credits:   m.Credits,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
	if m.SubscriptionExpiry != nil {
		account.SubscriptionExpiry = m.SubscriptionExpiry.UTC()
	}
	return account
}

func eventToModel(ev domain.UsageEvent) EventModel {
	return EventModel{
		ID:          ev.ID,
		OccurredAt:  ev.OccurredAt,
		DayBucket:   ev.DayBucket,
		YearMonth:   ev.YearMonth,
		UserID:      ev.UserID,
		EventType:   string(ev.Type),
		FundingMode: optionalString(string(ev.FundingMode)),
		ModelUsed:   optionalString(ev.ModelUsed),
		Amount:      ev.Amount,
		Product:     optionalString(ev.Product),
	}
}

func eventFromModel(m EventModel) domain.UsageEvent {
	ev := domain.UsageEvent{
		ID:         m.ID,
		OccurredAt: m.OccurredAt.UTC(),
		DayBucket:  m.DayBucket,
		YearMonth:  m.YearMonth,
		UserID:     m.UserID,
		Type:       domain.EventType(m.EventType),
		Amount:     m.Amount,
	}
	if m.FundingMode != nil {
		ev.FundingMode = domain.FundingMode(*m.FundingMode)
	}
	if m.ModelUsed != nil {
		ev.ModelUsed = *m.ModelUsed
	}
	if m.Product != nil {
		ev.Product = *m.Product
	}
	return ev
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

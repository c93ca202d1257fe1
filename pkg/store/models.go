package store

import (
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
)

// GORM models used for persistence.
type AccountModel struct {
	UserID             int64 `gorm:"primaryKey;autoIncrement:false"`
	Credits            int   `gorm:"not null;default:0"`
	SubscriptionExpiry *time.Time
	CreatedAt          time.Time `gorm:"not null"`
	UpdatedAt          time.Time `gorm:"not null"`
}

func (AccountModel) TableName() string { return "users" }

type EventModel struct {
	ID          int64     `gorm:"primaryKey;autoIncrement"`
	OccurredAt  time.Time `gorm:"not null;index"`
	DayBucket   int64     `gorm:"not null;index:idx_events_user_day,priority:2;index:idx_events_day"`
	YearMonth   string    `gorm:"size:7;not null"`
	UserID      int64     `gorm:"not null;index:idx_events_user_day,priority:1"`
	EventType   string    `gorm:"size:16;not null"`
	FundingMode *string   `gorm:"size:16"`
	ModelUsed   *string   `gorm:"size:64"`
	Amount      *int
	Product     *string `gorm:"size:32"`
}

func (EventModel) TableName() string { return "events" }

type SubscriptionUsageModel struct {
	UserID    int64  `gorm:"primaryKey;autoIncrement:false"`
	YearMonth string `gorm:"primaryKey;size:7"`
	UsedCount int    `gorm:"not null;default:0"`
}

func (SubscriptionUsageModel) TableName() string { return "subscription_usage" }

type DailyUsageModel struct {
	UserID      int64  `gorm:"primaryKey;autoIncrement:false"`
	DayBucket   int64  `gorm:"primaryKey;autoIncrement:false"`
	FundingMode string `gorm:"primaryKey;size:16"`
	UsedCount   int    `gorm:"not null;default:0"`
}

func (DailyUsageModel) TableName() string { return "daily_usage" }

type RuleChunkModel struct {
	ID        string `gorm:"primaryKey;size:64"`
	Subject   string `gorm:"size:64;not null;index:idx_rule_chunks_subject_grade,priority:1"`
	Grade     int    `gorm:"not null;index:idx_rule_chunks_subject_grade,priority:2"`
	Book      string `gorm:"size:255;not null"`
	Chapter   string `gorm:"size:255"`
	Page      int
	Content   string `gorm:"type:text;not null"`
	Metadata  datatypes.JSONMap
	Embedding *pgvector.Vector `gorm:"type:vector(1536)"`
	CreatedAt time.Time        `gorm:"not null"`
	UpdatedAt time.Time        `gorm:"not null"`
}

func (RuleChunkModel) TableName() string { return "rule_chunks" }

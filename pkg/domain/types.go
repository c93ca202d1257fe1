package domain

import "time"

type FundingMode string

const (
	ModeFree         FundingMode = "free"
	ModeTrial        FundingMode = "trial"
	ModeCredit       FundingMode = "credit"
	ModeSubscription FundingMode = "subscription"
)

// FundingModes lists every mode in gate precedence order.
var FundingModes = []FundingMode{ModeSubscription, ModeFree, ModeTrial, ModeCredit}

type EventType string

const (
	EventQuery    EventType = "query"
	EventPurchase EventType = "purchase"
)

type RejectReason string

const (
	ReasonNone          RejectReason = ""
	ReasonNeedsPro      RejectReason = "needs_pro"
	ReasonFreeExhausted RejectReason = "free_exhausted"
	ReasonUnavailable   RejectReason = "unavailable"
)

type Account struct {
	UserID             int64     `json:"userId"`
	Credits            int       `json:"credits"`
	SubscriptionExpiry time.Time `json:"subscriptionExpiry"`
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

// SubscriptionActive reports whether the subscription covers the instant now.
func (a Account) SubscriptionActive(now time.Time) bool {
	return !a.SubscriptionExpiry.IsZero() && now.Before(a.SubscriptionExpiry)
}

type UsageEvent struct {
	ID          int64       `json:"id"`
	OccurredAt  time.Time   `json:"occurredAt"`
	DayBucket   int64       `json:"dayBucket"`
	YearMonth   string      `json:"yearMonth"`
	UserID      int64       `json:"userId"`
	Type        EventType   `json:"type"`
	FundingMode FundingMode `json:"fundingMode,omitempty"`
	ModelUsed   string      `json:"modelUsed,omitempty"`
	Amount      *int        `json:"amount,omitempty"`
	Product     string      `json:"product,omitempty"`
}

// Entitlements is a read-only snapshot of what a user may still spend.
type Entitlements struct {
	UserID                int64     `json:"userId"`
	FreeRemainingToday    int       `json:"freeRemainingToday"`
	TrialRemainingToday   int       `json:"trialRemainingToday"`
	SubscriptionActive    bool      `json:"subscriptionActive"`
	SubscriptionExpiry    time.Time `json:"subscriptionExpiry,omitzero"`
	SubscriptionRemaining int       `json:"subscriptionRemainingThisMonth"`
	CreditBalance         int       `json:"creditBalance"`
	ResolvedAt            time.Time `json:"resolvedAt"`
}

// Decision is the outcome of one consumption attempt.
type Decision struct {
	Granted     bool         `json:"granted"`
	FundingMode FundingMode  `json:"fundingMode,omitempty"`
	Reason      RejectReason `json:"reason,omitempty"`
	ModelTag    string       `json:"modelTag,omitempty"`
	EventID     int64        `json:"eventId,omitempty"`
}

// ModeCounts holds query counts per funding mode.
type ModeCounts map[FundingMode]int

func (c ModeCounts) Total() int {
	total := 0
	for _, n := range c {
		total += n
	}
	return total
}

type UserStats struct {
	UserID int64      `json:"userId"`
	Today  ModeCounts `json:"today"`
	Last7  ModeCounts `json:"last7"`
	Last30 ModeCounts `json:"last30"`
}

type DailySummary struct {
	DayBucket    int64 `json:"dayBucket"`
	ActiveUsers  int   `json:"dau"`
	FreeTotal    int   `json:"freeTotal"`
	Paid         int   `json:"paid"`
	Credit       int   `json:"credit"`
	Subscription int   `json:"subscription"`
	Purchases    int   `json:"purchases"`
}

type Export struct {
	GeneratedAt time.Time    `json:"generatedAt"`
	Events      []UsageEvent `json:"events"`
	Accounts    []Account    `json:"accounts"`
}

// RuleRecord is one retrievable chunk as produced by the corpus builder.
type RuleRecord struct {
	ID       string            `json:"id"`
	Text     string            `json:"text"`
	Subject  string            `json:"subject"`
	Grade    int               `json:"grade"`
	Book     string            `json:"book"`
	Chapter  string            `json:"chapter,omitempty"`
	Page     int               `json:"page,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// RuleHit is one search result.
type RuleHit struct {
	ID      string  `json:"id"`
	Score   float64 `json:"score"`
	Book    string  `json:"book"`
	Chapter string  `json:"chapter,omitempty"`
	Page    int     `json:"page,omitempty"`
	Brief   string  `json:"brief"`
}

type Answer struct {
	UserID      int64       `json:"userId"`
	Question    string      `json:"question"`
	Answer      string      `json:"answer"`
	FundingMode FundingMode `json:"fundingMode"`
	Model       string      `json:"model"`
	Hints       []RuleHit   `json:"hints"`
	CreatedAt   time.Time   `json:"createdAt"`
}

type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobDone       JobStatus = "done"
	JobFailed     JobStatus = "failed"
)

type IndexJob struct {
	ID           string    `json:"id"`
	Status       JobStatus `json:"status"`
	Records      int       `json:"records"`
	Attempts     int       `json:"attempts"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gotovo/pkg/domain"
	"gotovo/pkg/metrics"
	"gotovo/pkg/queue"
	"gotovo/pkg/retrieval"
)

var (
	ErrEmptyBatch    = errors.New("items required")
	ErrBatchTooLarge = errors.New("too many items in one batch")
)

// Config holds runtime dependencies.
type Config struct {
	Queue      *queue.RedisJobQueue
	Indexer    *retrieval.Indexer
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
	MaxRecords int
}

// App accepts rule batches and indexes them from a job queue.
type App struct {
	queue      *queue.RedisJobQueue
	indexer    *retrieval.Indexer
	metrics    *metrics.Metrics
	logger     *slog.Logger
	maxRecords int
}

// New constructs the indexer app. Call Start to run workers.
func New(cfg Config) (*App, error) {
	if cfg.Queue == nil {
		return nil, fmt.Errorf("job queue required")
	}
	if cfg.Indexer == nil {
		return nil, fmt.Errorf("rule indexer required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxRecords <= 0 {
		cfg.MaxRecords = 2000
	}
	return &App{
		queue:      cfg.Queue,
		indexer:    cfg.Indexer,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
		maxRecords: cfg.MaxRecords,
	}, nil
}

// Start runs concurrency queue consumers until ctx is done.
func (a *App) Start(ctx context.Context, concurrency int) {
	a.queue.Start(ctx, concurrency, a.process)
}

// Enqueue validates records and queues them as one index job.
func (a *App) Enqueue(ctx context.Context, records []domain.RuleRecord) (domain.IndexJob, error) {
	if len(records) == 0 {
		return domain.IndexJob{}, ErrEmptyBatch
	}
	if len(records) > a.maxRecords {
		return domain.IndexJob{}, fmt.Errorf("%w: %d > %d", ErrBatchTooLarge, len(records), a.maxRecords)
	}
	for i, record := range records {
		if err := retrieval.ValidateRecord(record); err != nil {
			return domain.IndexJob{}, fmt.Errorf("item %d: %w", i, err)
		}
	}
	records = dedupeRecords(records)
	payload, err := json.Marshal(records)
	if err != nil {
		return domain.IndexJob{}, fmt.Errorf("encode records: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	job, err := a.queue.Enqueue(ctx, payload, len(records))
	if err != nil {
		return domain.IndexJob{}, fmt.Errorf("enqueue: %w", err)
	}
	a.metrics.ObserveIndexJob(domain.JobQueued)
	a.logger.Info("index job queued", "job_id", job.ID, "records", job.Records)
	return job, nil
}

// dedupeRecords keeps the first record for each id.
func dedupeRecords(records []domain.RuleRecord) []domain.RuleRecord {
	seen := make(map[string]struct{}, len(records))
	out := make([]domain.RuleRecord, 0, len(records))
	for _, record := range records {
		if _, ok := seen[record.ID]; ok {
			continue
		}
		seen[record.ID] = struct{}{}
		out = append(out, record)
	}
	return out
}

// GetJob returns a job by ID.
func (a *App) GetJob(ctx context.Context, id string) (domain.IndexJob, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return a.queue.GetJob(ctx, id)
}

func (a *App) process(ctx context.Context, job queue.Job) error {
	var records []domain.RuleRecord
	if err := json.Unmarshal(job.Payload, &records); err != nil {
		a.metrics.ObserveIndexJob(domain.JobFailed)
		return fmt.Errorf("decode payload: %w", err)
	}
	started := time.Now()
	n, err := a.indexer.Upsert(ctx, records)
	if err != nil {
		a.metrics.ObserveIndexJob(domain.JobFailed)
		return err
	}
	a.metrics.ObserveIndexJob(domain.JobDone)
	a.logger.Info("index job done",
		"job_id", job.ID,
		"records", n,
		"attempt", job.Attempts,
		"duration_ms", time.Since(started).Milliseconds(),
	)
	return nil
}

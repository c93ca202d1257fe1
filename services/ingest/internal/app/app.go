package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"gotovo/pkg/domain"
	"gotovo/pkg/metrics"
	"gotovo/pkg/storage"
)

var (
	ErrNoRecords   = errors.New("no valid records in source")
	ErrBatchFailed = errors.New("batch upsert failed")
)

// Config holds runtime configuration.
type Config struct {
	Source         storage.ObjectStore
	Prefix         string
	Sink           Sink
	ArtifactPath   string
	ArtifactKey    string
	CheckpointPath string
	ChunkSize      int
	ChunkOverlap   int
	BatchSize      int
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BatchPause     time.Duration
	Metrics        *metrics.Metrics
	Logger         *slog.Logger
}

// App builds rule chunks from a source tree and commits them in batches.
type App struct {
	source         storage.ObjectStore
	prefix         string
	sink           Sink
	artifactPath   string
	artifactKey    string
	checkpointPath string
	chunkSize      int
	chunkOverlap   int
	batchSize      int
	maxRetries     int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	batchPause     time.Duration
	metrics        *metrics.Metrics
	logger         *slog.Logger

	mu       sync.Mutex
	progress Progress
}

// Run phases reported by Progress.
const (
	PhaseIdle       = "idle"
	PhaseCollecting = "collecting"
	PhaseUpserting  = "upserting"
	PhaseDone       = "done"
	PhaseFailed     = "failed"
)

// Progress reports the state of the current or last run.
type Progress struct {
	Phase     string    `json:"phase"`
	Done      int       `json:"done"`
	Total     int       `json:"total"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Progress returns a snapshot of the run state.
func (a *App) Progress() Progress {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.progress
}

func (a *App) setProgress(phase string, done, total int, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.progress = Progress{Phase: phase, Done: done, Total: total, UpdatedAt: time.Now().UTC()}
	if err != nil {
		a.progress.Error = err.Error()
	}
}

// New constructs the corpus builder.
func New(cfg Config) (*App, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("source store required")
	}
	if cfg.ArtifactPath == "" {
		return nil, fmt.Errorf("artifact path required")
	}
	if cfg.CheckpointPath == "" {
		return nil, fmt.Errorf("checkpoint path required")
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 900
	}
	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.ChunkSize {
		return nil, fmt.Errorf("chunk overlap must be in [0, chunk size)")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 256
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &App{
		source:         cfg.Source,
		prefix:         cfg.Prefix,
		sink:           cfg.Sink,
		artifactPath:   cfg.ArtifactPath,
		artifactKey:    cfg.ArtifactKey,
		checkpointPath: cfg.CheckpointPath,
		chunkSize:      cfg.ChunkSize,
		chunkOverlap:   cfg.ChunkOverlap,
		batchSize:      cfg.BatchSize,
		maxRetries:     cfg.MaxRetries,
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     cfg.MaxBackoff,
		batchPause:     cfg.BatchPause,
		metrics:        cfg.Metrics,
		logger:         cfg.Logger,
		progress:       Progress{Phase: PhaseIdle, UpdatedAt: time.Now().UTC()},
	}, nil
}

// RunOptions select what a run does after the artifact is written.
type RunOptions struct {
	DryRun bool
	Resume bool
}

// Result summarizes one run.
type Result struct {
	BuildStats
	Records     int    `json:"records"`
	Signature   string `json:"signature"`
	AlreadyDone int    `json:"alreadyDone"`
	Upserted    int    `json:"upserted"`
}

// Run collects records, writes the batch artifact and, unless DryRun,
// commits pending batches with retries. After every committed batch the
// checkpoint is saved; when a batch exhausts its retries the run stops with
// ErrBatchFailed and the checkpoint keeps everything committed so far.
func (a *App) Run(ctx context.Context, opts RunOptions) (res Result, err error) {
	defer func() {
		if err != nil {
			a.setProgress(PhaseFailed, res.AlreadyDone+res.Upserted, res.Records, err)
			return
		}
		a.setProgress(PhaseDone, res.AlreadyDone+res.Upserted, res.Records, nil)
	}()
	a.setProgress(PhaseCollecting, 0, 0, nil)
	records, stats, err := a.collect(ctx, a.source, a.prefix)
	if err != nil {
		return Result{}, fmt.Errorf("collect sources: %w", err)
	}
	res = Result{BuildStats: stats, Records: len(records), Signature: sourceSignature(records)}
	a.logger.Info("corpus collected",
		"files", stats.Files,
		"records", len(records),
		"invalid", stats.Invalid,
		"duplicate", stats.Duplicate,
		"skipped", stats.Skipped,
	)
	if len(records) == 0 {
		return res, ErrNoRecords
	}
	if err := a.writeArtifact(ctx, records); err != nil {
		return res, err
	}
	if opts.DryRun {
		return res, nil
	}
	if a.sink == nil {
		return res, fmt.Errorf("sink required unless dry run")
	}

	done := a.resumeFrom(opts.Resume, res.Signature)
	doneSet := make(map[string]struct{}, len(done))
	for _, id := range done {
		doneSet[id] = struct{}{}
	}
	pending := make([]domain.RuleRecord, 0, len(records))
	for _, record := range records {
		if _, ok := doneSet[record.ID]; !ok {
			pending = append(pending, record)
		}
	}
	res.AlreadyDone = len(records) - len(pending)
	a.setProgress(PhaseUpserting, res.AlreadyDone, len(records), nil)

	for start := 0; start < len(pending); start += a.batchSize {
		batch := pending[start:min(start+a.batchSize, len(pending))]
		if err := a.upsertWithRetry(ctx, start/a.batchSize+1, batch); err != nil {
			a.metrics.ObserveBuildBatch(metrics.OutcomeFailed)
			if saveErr := a.save(done, res.Signature); saveErr != nil {
				a.logger.Error("checkpoint save failed", "err", saveErr)
			}
			return res, fmt.Errorf("%w at record %d: %w", ErrBatchFailed, res.AlreadyDone+start, err)
		}
		for _, record := range batch {
			done = append(done, record.ID)
		}
		res.Upserted += len(batch)
		a.setProgress(PhaseUpserting, len(done), len(records), nil)
		if err := a.save(done, res.Signature); err != nil {
			return res, fmt.Errorf("save checkpoint: %w", err)
		}
		a.logger.Info("batch committed",
			"done", len(done),
			"total", len(records),
			"percent", fmt.Sprintf("%.1f", float64(len(done))*100/float64(len(records))),
		)
		if a.batchPause > 0 && start+a.batchSize < len(pending) {
			select {
			case <-ctx.Done():
				return res, ctx.Err()
			case <-time.After(a.batchPause):
			}
		}
	}
	return res, nil
}

// resumeFrom returns the committed ids to skip. A checkpoint only applies
// when resuming and its signature matches the current source set.
func (a *App) resumeFrom(resume bool, signature string) []string {
	if !resume {
		return nil
	}
	cp, err := loadCheckpoint(a.checkpointPath)
	if err != nil {
		a.logger.Warn("checkpoint unreadable, starting over", "err", err)
		return nil
	}
	if cp == nil || cp.SourceSignature != signature {
		a.logger.Info("no matching checkpoint, starting over")
		return nil
	}
	a.logger.Info("resuming from checkpoint", "done", len(cp.Done))
	return append([]string(nil), cp.Done...)
}

func (a *App) save(done []string, signature string) error {
	return saveCheckpoint(a.checkpointPath, Checkpoint{
		Done:            done,
		SourceSignature: signature,
		UpdatedAt:       time.Now().UTC(),
	})
}

func (a *App) upsertWithRetry(ctx context.Context, n int, batch []domain.RuleRecord) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = a.initialBackoff
	policy.Multiplier = 2
	policy.RandomizationFactor = 0
	policy.MaxInterval = a.maxBackoff

	attempts := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		return struct{}{}, a.sink.Upsert(ctx, batch)
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(a.maxRetries+1)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			a.logger.Warn("batch upsert retry", "batch", n, "size", len(batch), "wait", wait, "err", err)
		}),
	)
	if err != nil {
		return err
	}
	if attempts > 1 {
		a.metrics.ObserveBuildBatch(metrics.OutcomeRetried)
	} else {
		a.metrics.ObserveBuildBatch(metrics.OutcomeOK)
	}
	return nil
}

func (a *App) writeArtifact(ctx context.Context, records []domain.RuleRecord) error {
	data, err := json.Marshal(batchBody{Items: records})
	if err != nil {
		return fmt.Errorf("encode artifact: %w", err)
	}
	if err := writeFileAtomic(a.artifactPath, data); err != nil {
		return fmt.Errorf("write artifact: %w", err)
	}
	a.logger.Info("artifact written", "path", a.artifactPath, "bytes", len(data))
	if a.artifactKey == "" {
		return nil
	}
	if err := a.source.Put(ctx, a.artifactKey, bytes.NewReader(data), int64(len(data)), "application/json"); err != nil {
		return fmt.Errorf("upload artifact: %w", err)
	}
	a.logger.Info("artifact uploaded", "key", a.artifactKey)
	return nil
}

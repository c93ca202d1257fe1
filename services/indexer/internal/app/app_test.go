package app

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"gotovo/pkg/domain"
	"gotovo/pkg/queue"
	"gotovo/pkg/retrieval"
	"gotovo/pkg/store"
)

type constEmbedder struct{}

func (constEmbedder) EmbedText(context.Context, string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func newTestApp(t *testing.T) (*App, *store.GormStore) {
	t.Helper()
	redisSrv := miniredis.RunT(t)
	q, err := queue.NewRedisJobQueue(queue.RedisQueueConfig{
		Addr:       redisSrv.Addr(),
		Stream:     "test:indexer",
		Group:      "indexer",
		MaxRetries: 2,
		RetryDelay: time.Millisecond,
		Block:      20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	t.Cleanup(func() { _ = q.Close() })
	st, err := store.OpenInMemory(t.Name(), store.WithEmbeddingDim(3))
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	a, err := New(Config{Queue: q, Indexer: retrieval.NewIndexer(st, constEmbedder{}, 2, 2, nil), MaxRecords: 3})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return a, st
}

func rule(id string) domain.RuleRecord {
	return domain.RuleRecord{ID: id, Text: "Правило " + id, Subject: "physics", Grade: 7, Book: "Физика 7"}
}

func TestEnqueueAndProcess(t *testing.T) {
	a, st := newTestApp(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	job, err := a.Enqueue(ctx, []domain.RuleRecord{rule("p1"), rule("p2"), rule("p3")})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if job.Status != domain.JobQueued || job.Records != 3 {
		t.Fatalf("unexpected job: %+v", job)
	}
	a.Start(ctx, 1)

	deadline := time.Now().Add(3 * time.Second)
	for {
		got, err := a.GetJob(ctx, job.ID)
		if err == nil && got.Status == domain.JobDone {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("job not done: %+v (%v)", got, err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	count, err := st.CountRules(ctx)
	if err != nil || count != 3 {
		t.Fatalf("expected 3 indexed rules, got %d (%v)", count, err)
	}
}

func TestEnqueueKeepsFirstRecordPerID(t *testing.T) {
	a, st := newTestApp(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	later := rule("p1")
	later.Text = "Другая формулировка"
	job, err := a.Enqueue(ctx, []domain.RuleRecord{rule("p1"), rule("p2"), later})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if job.Records != 2 {
		t.Fatalf("expected 2 records after dedupe, got %d", job.Records)
	}
	a.Start(ctx, 1)

	deadline := time.Now().Add(3 * time.Second)
	for {
		got, err := a.GetJob(ctx, job.ID)
		if err == nil && got.Status == domain.JobDone {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("job not done: %+v (%v)", got, err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	hits, err := st.SearchRules(ctx, []float32{1, 0, 0}, "physics", 7, 10)
	if err != nil || len(hits) != 2 {
		t.Fatalf("expected 2 indexed rules, got %d (%v)", len(hits), err)
	}
	for _, hit := range hits {
		if hit.Record.ID == "p1" && hit.Record.Text != "Правило p1" {
			t.Fatalf("first record must win, got %q", hit.Record.Text)
		}
	}
}

func TestEnqueueValidation(t *testing.T) {
	a, _ := newTestApp(t)
	ctx := context.Background()

	if _, err := a.Enqueue(ctx, nil); !errors.Is(err, ErrEmptyBatch) {
		t.Fatalf("expected ErrEmptyBatch, got %v", err)
	}
	if _, err := a.Enqueue(ctx, []domain.RuleRecord{rule("a"), rule("b"), rule("c"), rule("d")}); !errors.Is(err, ErrBatchTooLarge) {
		t.Fatalf("expected ErrBatchTooLarge, got %v", err)
	}
	bad := rule("x")
	bad.Grade = 0
	if _, err := a.Enqueue(ctx, []domain.RuleRecord{rule("ok"), bad}); err == nil || !strings.Contains(err.Error(), "item 1") {
		t.Fatalf("expected item validation error, got %v", err)
	}
	if _, err := a.GetJob(ctx, "nope"); !errors.Is(err, queue.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

package retrieval

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"gotovo/pkg/domain"
	"gotovo/pkg/store"
)

// fakeEmbedder maps texts to fixed 3-dim vectors by keyword.
type fakeEmbedder struct {
	calls      atomic.Int32
	batchCalls atomic.Int32
	delay      time.Duration
	err        error
}

func (f *fakeEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return vectorFor(text), nil
}

type fakeBatchEmbedder struct {
	fakeEmbedder
}

func (f *fakeBatchEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	f.batchCalls.Add(1)
	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		out = append(out, vectorFor(text))
	}
	return out, nil
}

func vectorFor(text string) []float32 {
	text = strings.ToLower(text)
	switch {
	case strings.Contains(text, "уравнени"):
		return []float32{1, 0, 0}
	case strings.Contains(text, "дроб"):
		return []float32{0, 1, 0}
	default:
		return []float32{0, 0, 1}
	}
}

func newIndex(t *testing.T) *store.GormStore {
	t.Helper()
	s, err := store.OpenInMemory(t.Name(), store.WithEmbeddingDim(3))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedRules(t *testing.T, s *store.GormStore) {
	t.Helper()
	records := []domain.RuleRecord{
		{ID: "a", Text: "Линейное уравнение решают переносом слагаемых.", Subject: "algebra", Grade: 7, Book: "Алгебра 7", Chapter: "Уравнения", Page: 45},
		{ID: "b", Text: "Дроби складывают после приведения к общему знаменателю.", Subject: "algebra", Grade: 7, Book: "Алгебра 7", Page: 12},
		{ID: "c", Text: "Уравнение с модулем имеет два случая.", Subject: "algebra", Grade: 8, Book: "Алгебра 8"},
	}
	ix := NewIndexer(s, &fakeBatchEmbedder{}, 2, 2, nil)
	if n, err := ix.Upsert(context.Background(), records); err != nil || n != 3 {
		t.Fatalf("seed: n=%d err=%v", n, err)
	}
}

func TestSearchFiltersBySubjectAndGrade(t *testing.T) {
	s := newIndex(t)
	seedRules(t, s)
	svc := NewService(s, &fakeEmbedder{}, Config{}, nil, nil)

	hits, err := svc.Search(context.Background(), "как решить уравнение", "algebra", 7, 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits for grade 7, got %d", len(hits))
	}
	if hits[0].ID != "a" || hits[0].Page != 45 || hits[0].Chapter != "Уравнения" {
		t.Fatalf("unexpected best hit: %+v", hits[0])
	}
	if hits[0].Score < hits[1].Score {
		t.Fatalf("hits not ordered by score: %+v", hits)
	}

	hits, err = svc.Search(context.Background(), "как решить уравнение", "algebra", 7, 1)
	if err != nil || len(hits) != 1 {
		t.Fatalf("expected topK=1 to cap results, got %d (%v)", len(hits), err)
	}
}

func TestSearchUnmappedSubjectReturnsEmpty(t *testing.T) {
	s := newIndex(t)
	seedRules(t, s)
	svc := NewService(s, &fakeEmbedder{}, Config{}, nil, nil)

	hits, err := svc.Search(context.Background(), "уравнение", "unmapped_subject_xyz", 8, 5)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if hits == nil || len(hits) != 0 {
		t.Fatalf("expected empty non-nil list, got %#v", hits)
	}
}

func TestSearchRejectsInvalidQuery(t *testing.T) {
	svc := NewService(newIndex(t), &fakeEmbedder{}, Config{}, nil, nil)
	for _, tc := range []struct {
		query, subject string
		grade          int
	}{
		{"", "algebra", 7},
		{"уравнение", " ", 7},
		{"уравнение", "algebra", 0},
	} {
		if _, err := svc.Search(context.Background(), tc.query, tc.subject, tc.grade, 5); !errors.Is(err, ErrInvalidQuery) {
			t.Fatalf("Search(%q, %q, %d) err = %v", tc.query, tc.subject, tc.grade, err)
		}
	}
}

func TestSearchTimesOut(t *testing.T) {
	svc := NewService(newIndex(t), &fakeEmbedder{delay: time.Second}, Config{Timeout: 20 * time.Millisecond}, nil, nil)
	_, err := svc.Search(context.Background(), "уравнение", "algebra", 7, 5)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestSearchCandidatesFallsThroughAndDegrades(t *testing.T) {
	s := newIndex(t)
	seedRules(t, s)
	svc := NewService(s, &fakeEmbedder{}, Config{}, nil, nil)

	hits := svc.SearchCandidates(context.Background(), "дроби", []string{"math", "algebra"}, 7, 3)
	if len(hits) == 0 || hits[0].ID != "b" {
		t.Fatalf("expected fallback to algebra, got %+v", hits)
	}

	failing := NewService(s, &fakeEmbedder{err: errors.New("boom")}, Config{}, nil, nil)
	if hits := failing.SearchCandidates(context.Background(), "дроби", []string{"algebra"}, 7, 3); hits != nil {
		t.Fatalf("expected no hints on error, got %+v", hits)
	}
}

func TestIndexerUsesBatchEmbedderAndReplacesByID(t *testing.T) {
	s := newIndex(t)
	embedder := &fakeBatchEmbedder{}
	ix := NewIndexer(s, embedder, 2, 3, nil)
	records := []domain.RuleRecord{
		{ID: "1", Text: "уравнение", Subject: "math", Grade: 5, Book: "b"},
		{ID: "2", Text: "дробь", Subject: "math", Grade: 5, Book: "b"},
		{ID: "3", Text: "угол", Subject: "math", Grade: 5, Book: "b"},
	}
	if _, err := ix.Upsert(context.Background(), records); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, err := ix.Upsert(context.Background(), records); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}
	if got := embedder.batchCalls.Load(); got != 2 {
		t.Fatalf("expected 2 batch calls for one multi-record batch per run, got %d", got)
	}
	if got := embedder.calls.Load(); got != 2 {
		t.Fatalf("expected single-record batches to use EmbedText, got %d calls", got)
	}
	count, err := s.CountRules(context.Background())
	if err != nil || count != 3 {
		t.Fatalf("expected 3 rules after re-upsert, got %d (%v)", count, err)
	}
}

func TestIndexerRejectsInvalidRecord(t *testing.T) {
	ix := NewIndexer(newIndex(t), &fakeEmbedder{}, 0, 0, nil)
	_, err := ix.Upsert(context.Background(), []domain.RuleRecord{{ID: "x", Text: "t", Subject: "math", Grade: 5}})
	if err == nil || !strings.Contains(err.Error(), "book required") {
		t.Fatalf("expected book validation error, got %v", err)
	}
}

func TestClampWords(t *testing.T) {
	cases := []struct {
		in   string
		max  int
		want string
	}{
		{"  один   два три ", 5, "один два три"},
		{"один, два, три, четыре", 2, "один, два…"},
		{"конец фразы.", 5, "конец фразы"},
		{"", 40, ""},
	}
	for _, tc := range cases {
		if got := ClampWords(tc.in, tc.max); got != tc.want {
			t.Fatalf("ClampWords(%q, %d) = %q, want %q", tc.in, tc.max, got, tc.want)
		}
	}
	long := strings.Repeat("слово ", 41)
	if got := ClampWords(long, 40); len(strings.Fields(got)) != 40 || !strings.HasSuffix(got, "…") {
		t.Fatalf("unexpected clamp of 41 words: %q", got)
	}
}

func TestBuildContext(t *testing.T) {
	got := BuildContext([]domain.RuleHit{
		{Brief: "Правило один", Book: "Алгебра 7", Page: 3},
		{Brief: "Правило два"},
	})
	want := "[1] Правило один (Алгебра 7, с. 3)\n[2] Правило два"
	if got != want {
		t.Fatalf("BuildContext = %q, want %q", got, want)
	}
}

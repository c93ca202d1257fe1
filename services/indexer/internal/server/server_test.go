package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"gotovo/internal/servicetoken"
	"gotovo/pkg/queue"
	"gotovo/pkg/retrieval"
	"gotovo/pkg/store"
	"gotovo/services/indexer/internal/app"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type constEmbedder struct{}

func (constEmbedder) EmbedText(context.Context, string) ([]float32, error) {
	return []float32{0, 1, 0}, nil
}

func newTestServer(t *testing.T) (http.Handler, string) {
	t.Helper()
	redisSrv := miniredis.RunT(t)
	q, err := queue.NewRedisJobQueue(queue.RedisQueueConfig{Addr: redisSrv.Addr(), Stream: "test:indexer"})
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	t.Cleanup(func() { _ = q.Close() })
	st, err := store.OpenInMemory(t.Name(), store.WithEmbeddingDim(3))
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	a, err := app.New(app.Config{Queue: q, Indexer: retrieval.NewIndexer(st, constEmbedder{}, 0, 0, nil)})
	if err != nil {
		t.Fatalf("app: %v", err)
	}
	verifier, err := servicetoken.NewVerifier(testSecret, "indexer", []string{"ingest"})
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}
	signer, err := servicetoken.NewSigner(testSecret, "ingest", time.Minute)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	token, err := signer.Sign("indexer")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return New(Config{App: a, Verifier: verifier}).Router(), token
}

func do(h http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRulesEndpointQueuesJob(t *testing.T) {
	h, token := newTestServer(t)
	body := `{"items":[{"id":"c1","text":"Закон Ома","subject":"physics","grade":8,"book":"Физика 8","page":12}]}`

	rec := do(h, http.MethodPost, "/indexer/rules", token, body)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var accepted struct {
		JobID  string `json:"jobId"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &accepted); err != nil || accepted.JobID == "" || accepted.Status != "queued" {
		t.Fatalf("unexpected body %s (%v)", rec.Body.String(), err)
	}

	rec = do(h, http.MethodGet, "/indexer/jobs/"+accepted.JobID, token, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("job status %d", rec.Code)
	}
	rec = do(h, http.MethodGet, "/indexer/jobs/missing", token, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestRulesEndpointRejects(t *testing.T) {
	h, token := newTestServer(t)
	if rec := do(h, http.MethodPost, "/indexer/rules", "", `{"items":[]}`); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if rec := do(h, http.MethodPost, "/indexer/rules", token, `{"items":[]}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty batch, got %d", rec.Code)
	}
	if rec := do(h, http.MethodPost, "/indexer/rules", token, `{"items":[{"id":"x","text":"t"}]}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid record, got %d", rec.Code)
	}
	if rec := do(h, http.MethodGet, "/healthz", "", ""); rec.Code != http.StatusOK {
		t.Fatalf("healthz status %d", rec.Code)
	}
}

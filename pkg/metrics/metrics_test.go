package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"gotovo/pkg/domain"
)

func TestObserveDecisionCountsByOutcome(t *testing.T) {
	m := New("assistant")
	m.ObserveDecision(domain.Decision{Granted: true, FundingMode: domain.ModeFree})
	m.ObserveDecision(domain.Decision{Granted: true, FundingMode: domain.ModeFree})
	m.ObserveDecision(domain.Decision{Reason: domain.ReasonNeedsPro})

	if got := testutil.ToFloat64(m.consumeDecisions.WithLabelValues("granted", "free")); got != 2 {
		t.Fatalf("expected 2 free grants, got %v", got)
	}
	if got := testutil.ToFloat64(m.consumeDecisions.WithLabelValues("rejected", "needs_pro")); got != 1 {
		t.Fatalf("expected 1 needs_pro rejection, got %v", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveDecision(domain.Decision{Granted: true})
	m.ObserveRetrieval(OutcomeHit, time.Second)
	m.AddIndexedRules(3)
	m.ObserveIndexJob(domain.JobDone)
	m.ObserveBuildBatch(OutcomeOK)
	m.ObserveHTTP("/healthz", 200)
	if m.Registry() != nil {
		t.Fatalf("expected nil registry")
	}
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New("indexer")
	m.AddIndexedRules(5)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `gotovo_indexed_rules_total{service="indexer"} 5`) {
		t.Fatalf("missing indexed rules sample in:\n%s", rec.Body.String())
	}
}

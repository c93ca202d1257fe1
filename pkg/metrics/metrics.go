package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gotovo/pkg/domain"
)

const (
	OutcomeHit     = "hit"
	OutcomeEmpty   = "empty"
	OutcomeError   = "error"
	OutcomeOK      = "ok"
	OutcomeRetried = "retried"
	OutcomeFailed  = "failed"
)

// Metrics holds the collectors shared by the assistant, indexer and ingest
// binaries. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry          *prometheus.Registry
	consumeDecisions  *prometheus.CounterVec
	retrievalRequests *prometheus.CounterVec
	retrievalDuration prometheus.Histogram
	indexedRules      prometheus.Counter
	indexJobs         *prometheus.CounterVec
	buildBatches      *prometheus.CounterVec
	httpRequests      *prometheus.CounterVec
}

// New builds a private registry labelled with the service name.
func New(serviceName string) *Metrics {
	serviceName = strings.TrimSpace(serviceName)
	if serviceName == "" {
		serviceName = "gotovo"
	}
	constLabels := prometheus.Labels{"service": serviceName}
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		consumeDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "gotovo",
			Name:        "consume_decisions_total",
			Help:        "Consumption gate decisions by outcome and funding mode or reject reason.",
			ConstLabels: constLabels,
		}, []string{"outcome", "detail"}),
		retrievalRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "gotovo",
			Name:        "retrieval_requests_total",
			Help:        "Rule retrieval requests by outcome.",
			ConstLabels: constLabels,
		}, []string{"outcome"}),
		retrievalDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "gotovo",
			Name:        "retrieval_duration_seconds",
			Help:        "Rule retrieval latency including query embedding.",
			ConstLabels: constLabels,
			Buckets:     []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8},
		}),
		indexedRules: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "gotovo",
			Name:        "indexed_rules_total",
			Help:        "Rule chunks embedded and upserted into the index.",
			ConstLabels: constLabels,
		}),
		indexJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "gotovo",
			Name:        "index_jobs_total",
			Help:        "Index job status transitions (queued, done, failed attempts).",
			ConstLabels: constLabels,
		}, []string{"status"}),
		buildBatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "gotovo",
			Name:        "corpus_batches_total",
			Help:        "Corpus builder batch upsert attempts by outcome.",
			ConstLabels: constLabels,
		}, []string{"outcome"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "gotovo",
			Name:        "http_requests_total",
			Help:        "HTTP requests by route and status class.",
			ConstLabels: constLabels,
		}, []string{"route", "code"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.consumeDecisions,
		m.retrievalRequests,
		m.retrievalDuration,
		m.indexedRules,
		m.indexJobs,
		m.buildBatches,
		m.httpRequests,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveDecision(d domain.Decision) {
	if m == nil {
		return
	}
	if d.Granted {
		m.consumeDecisions.WithLabelValues("granted", string(d.FundingMode)).Inc()
		return
	}
	m.consumeDecisions.WithLabelValues("rejected", string(d.Reason)).Inc()
}

func (m *Metrics) ObserveRetrieval(outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.retrievalRequests.WithLabelValues(outcome).Inc()
	m.retrievalDuration.Observe(took.Seconds())
}

func (m *Metrics) AddIndexedRules(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.indexedRules.Add(float64(n))
}

func (m *Metrics) ObserveIndexJob(status domain.JobStatus) {
	if m == nil {
		return
	}
	m.indexJobs.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) ObserveBuildBatch(outcome string) {
	if m == nil {
		return
	}
	m.buildBatches.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveHTTP(route string, status int) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, statusClass(status)).Inc()
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

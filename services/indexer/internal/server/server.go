package server

import (
	"errors"
	"net/http"

	"gotovo/internal/servicetoken"
	"gotovo/internal/util"
	"gotovo/pkg/domain"
	"gotovo/pkg/metrics"
	"gotovo/pkg/queue"
	"gotovo/services/indexer/internal/app"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App      *app.App
	Verifier *servicetoken.Verifier
	Metrics  *metrics.Metrics
}

// Server exposes HTTP endpoints for the indexer service.
type Server struct {
	app      *app.App
	verifier *servicetoken.Verifier
	metrics  *metrics.Metrics
	mux      *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	s := &Server{
		app:      cfg.App,
		verifier: cfg.Verifier,
		metrics:  cfg.Metrics,
		mux:      http.NewServeMux(),
	}
	s.routes()
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.Chain(s.mux, util.WithRequestID, util.WithRequestLog, util.WithSecurityHeaders)
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics.Handler())
	}
	s.mux.Handle("POST /indexer/rules", s.withService("index_rules", s.handleRules))
	s.mux.Handle("GET /indexer/jobs/{id}", s.withService("index_job", s.handleJobByID))
}

func (s *Server) withService(route string, next http.HandlerFunc) http.Handler {
	var h http.Handler = next
	if s.verifier != nil {
		h = s.verifier.Require(h)
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &util.StatusRecorder{ResponseWriter: w}
		h.ServeHTTP(rec, r)
		s.metrics.ObserveHTTP(route, rec.Code())
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	util.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// maxRulesBody fits the largest accepted batch of full-size chunks.
const maxRulesBody = 32 << 20

type rulesRequest struct {
	Items []domain.RuleRecord `json:"items"`
}

func (s *Server) handleRules(w http.ResponseWriter, r *http.Request) {
	var req rulesRequest
	if err := util.DecodeJSONLimit(r, &req, maxRulesBody); err != nil {
		util.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	job, err := s.app.Enqueue(r.Context(), req.Items)
	if err != nil {
		if errors.Is(err, app.ErrBatchTooLarge) {
			util.WriteError(w, http.StatusRequestEntityTooLarge, "batch_too_large", err.Error())
			return
		}
		util.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	util.WriteJSON(w, http.StatusAccepted, map[string]any{"jobId": job.ID, "status": job.Status, "records": job.Records})
}

func (s *Server) handleJobByID(w http.ResponseWriter, r *http.Request) {
	job, err := s.app.GetJob(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, queue.ErrJobNotFound) {
			util.WriteError(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		util.WriteError(w, http.StatusServiceUnavailable, "unavailable", "job store unavailable")
		return
	}
	util.WriteJSON(w, http.StatusOK, job)
}

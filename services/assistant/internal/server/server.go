package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"gotovo/internal/servicetoken"
	"gotovo/internal/util"
	"gotovo/pkg/domain"
	"gotovo/pkg/metrics"
	"gotovo/pkg/payments"
	"gotovo/pkg/usage"
	"gotovo/services/assistant/internal/app"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App      *app.App
	Verifier *servicetoken.Verifier
	Metrics  *metrics.Metrics
}

// Server exposes HTTP endpoints for the assistant service.
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
	s.mux.Handle("GET /v1/products", s.observe("products", http.HandlerFunc(s.handleProducts)))
	s.mux.Handle("POST /v1/solve", s.protected("solve", s.handleSolve))
	s.mux.Handle("GET /v1/users/{id}/plan", s.protected("plan", s.handlePlan))
	s.mux.Handle("GET /v1/users/{id}/stats", s.protected("stats", s.handleStats))
	s.mux.Handle("POST /internal/payments/apply", s.protected("payments_apply", s.handleApplyPayment))
	s.mux.Handle("GET /internal/stats/daily", s.protected("stats_daily", s.handleDailySummary))
	s.mux.Handle("GET /internal/stats/export", s.protected("stats_export", s.handleExport))
}

func (s *Server) protected(route string, h http.HandlerFunc) http.Handler {
	var next http.Handler = h
	if s.verifier != nil {
		next = s.verifier.Require(next)
	}
	return s.observe(route, next)
}

func (s *Server) observe(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &util.StatusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		s.metrics.ObserveHTTP(route, rec.Code())
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	util.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleProducts(w http.ResponseWriter, _ *http.Request) {
	type productView struct {
		payments.Product
		Stars int `json:"stars"`
	}
	products := s.app.Products()
	out := make([]productView, 0, len(products))
	for _, p := range products {
		out = append(out, productView{Product: p, Stars: p.Stars()})
	}
	util.WriteJSON(w, http.StatusOK, map[string]any{"products": out})
}

func (s *Server) handleSolve(w http.ResponseWriter, r *http.Request) {
	var req app.SolveRequest
	if err := util.DecodeJSON(r, &req); err != nil {
		util.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	answer, err := s.app.Solve(r.Context(), req)
	if err != nil {
		writeAppError(w, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, answer)
}

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUserID(w, r)
	if !ok {
		return
	}
	plan, err := s.app.Plan(r.Context(), userID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, plan)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUserID(w, r)
	if !ok {
		return
	}
	stats, err := s.app.Stats(r.Context(), userID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, stats)
}

type applyPaymentRequest struct {
	UserID  int64  `json:"userId"`
	Payload string `json:"payload"`
}

func (s *Server) handleApplyPayment(w http.ResponseWriter, r *http.Request) {
	var req applyPaymentRequest
	if err := util.DecodeJSON(r, &req); err != nil {
		util.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	receipt, err := s.app.ApplyPayment(r.Context(), req.UserID, req.Payload)
	if err != nil {
		writeAppError(w, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, receipt)
}

func (s *Server) handleDailySummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.app.DailySummary(r.Context(), r.URL.Query().Get("day"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, summary)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	export, err := s.app.Export(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, export)
}

func pathUserID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		util.WriteError(w, http.StatusBadRequest, "invalid_request", "user id must be a positive integer")
		return 0, false
	}
	return id, true
}

func writeAppError(w http.ResponseWriter, err error) {
	var rejected *app.RejectedError
	var limited *app.RateLimitedError
	switch {
	case errors.As(err, &limited):
		secs := int(limited.RetryAfter.Round(time.Second) / time.Second)
		w.Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
		util.WriteError(w, http.StatusTooManyRequests, "rate_limited", err.Error())
	case errors.As(err, &rejected):
		util.WriteError(w, http.StatusPaymentRequired, string(rejected.Reason), err.Error())
	case app.IsUnavailable(err):
		util.WriteError(w, http.StatusServiceUnavailable, string(domain.ReasonUnavailable), "service temporarily unavailable")
	case errors.Is(err, app.ErrInvalidRequest),
		errors.Is(err, usage.ErrInvalidUser),
		errors.Is(err, usage.ErrInvalidAmount),
		errors.Is(err, payments.ErrUnknownProduct):
		util.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, app.ErrGenerationFailed):
		util.WriteError(w, http.StatusBadGateway, "generation_failed", "could not generate an answer")
	default:
		util.WriteError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

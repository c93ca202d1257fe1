package server

import (
	"net/http"

	"gotovo/internal/util"
	"gotovo/pkg/metrics"
	"gotovo/services/ingest/internal/app"
)

// Config wires required dependencies for the status server.
type Config struct {
	App     *app.App
	Metrics *metrics.Metrics
}

// Server exposes health, progress and metrics while a build runs.
type Server struct {
	app     *app.App
	metrics *metrics.Metrics
	mux     *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	s := &Server{
		app:     cfg.App,
		metrics: cfg.Metrics,
		mux:     http.NewServeMux(),
	}
	s.routes()
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithSecurityHeaders(s.mux))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("GET /ingest/status", s.handleStatus)
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics.Handler())
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	util.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	util.WriteJSON(w, http.StatusOK, s.app.Progress())
}

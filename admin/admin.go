// Package admin serves the operator-facing status endpoint: per-source
// health, current job progress, and a liveness probe.
package admin

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hazyhaar/moisson/checkpoint"
	"github.com/hazyhaar/moisson/health"
)

// Server exposes registry and checkpoint state over HTTP.
type Server struct {
	registry *health.Registry
	ckpt     *checkpoint.Manager // optional
	logger   *slog.Logger
}

// New creates the admin server. ckpt may be nil when no job is running
// with persistence enabled.
func New(registry *health.Registry, ckpt *checkpoint.Manager, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{registry: registry, ckpt: ckpt, logger: logger}
}

// Router builds the chi router for the endpoint.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"engines": s.registry.Snapshot(),
		})
	})

	r.Get("/job", func(w http.ResponseWriter, _ *http.Request) {
		if s.ckpt == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no active job"})
			return
		}
		writeJSON(w, http.StatusOK, s.ckpt.Job())
	})

	return r
}

// ListenAndServe runs the endpoint until the listener fails.
func (s *Server) ListenAndServe(addr string) error {
	s.logger.Info("admin: listening", "addr", addr)
	return http.ListenAndServe(addr, s.Router())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

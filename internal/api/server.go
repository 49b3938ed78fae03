// Package api exposes the HTTP interface for the scanner service.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/bizradar/reddit-scanner/internal/account"
	"github.com/bizradar/reddit-scanner/internal/config"
	"github.com/bizradar/reddit-scanner/internal/digest"
	"github.com/bizradar/reddit-scanner/internal/metrics"
	"github.com/bizradar/reddit-scanner/internal/orchestrator"
	"github.com/bizradar/reddit-scanner/internal/scanner"
	"github.com/bizradar/reddit-scanner/internal/stats"
)

// Server wires HTTP handlers to the orchestrator and account pool.
type Server struct {
	router   chi.Router
	orch     *orchestrator.Orchestrator
	pool     *account.Pool
	stats    *stats.Aggregator
	recorder *digest.Recorder
	idGen    scanner.IDGenerator
	cfg      config.Config
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes. The recorder
// may be nil when no persistence backends are configured.
func NewServer(
	orch *orchestrator.Orchestrator,
	pool *account.Pool,
	agg *stats.Aggregator,
	recorder *digest.Recorder,
	idGen scanner.IDGenerator,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		orch:     orch,
		pool:     pool,
		stats:    agg,
		recorder: recorder,
		idGen:    idGen,
		cfg:      cfg,
		logger:   logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		// The streaming endpoint manages its own lifetime; everything else
		// gets a hard timeout.
		r.Group(func(r chi.Router) {
			r.Use(timeoutMiddleware(2 * time.Minute))
			r.Post("/searches", s.runSearches)
			r.Get("/stats", s.getStats)
			r.Route("/accounts", func(r chi.Router) {
				r.Post("/", s.addAccount)
				r.Delete("/{username}", s.removeAccount)
			})
		})
		r.Get("/searches/stream", s.streamSearch)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.pool.Len() == 0 {
		writeError(w, http.StatusServiceUnavailable, "no accounts available")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// Package api exposes the scan-orchestration operation set (§6) as a thin
// HTTP surface: submit_scan, get_scan_status, get_scan_results, list_tasks,
// list_scanners, list_pools, get_pool_status, get_queue_status, plus the
// DLQ/breaker admin operations scanorchctl drives.
package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/scanorch/scanorch/internal/breaker"
	"github.com/scanorch/scanorch/internal/config"
	"github.com/scanorch/scanorch/internal/idempotency"
	"github.com/scanorch/scanorch/internal/queue"
	"github.com/scanorch/scanorch/internal/registry"
	"github.com/scanorch/scanorch/internal/taskstore"
)

// Server is the API process's non-singleton root: every dependency is
// passed in by the caller (cmd/scanorchd), never reached for globally.
type Server struct {
	cfg      *config.Config
	store    *taskstore.Store
	queue    *queue.Queue
	registry *registry.Registry
	breakers *breaker.Manager
	idemp    *idempotency.Index

	rateLimitMu  sync.Mutex
	rateLimiters map[string]*rateLimiterEntry
}

type rateLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Option is a functional option for New.
type Option func(*Server)

// WithIdempotency attaches the idempotency index submit_scan consults.
// Omitted, idempotency_key is accepted but ignored.
func WithIdempotency(idx *idempotency.Index) Option {
	return func(s *Server) { s.idemp = idx }
}

func New(cfg *config.Config, store *taskstore.Store, q *queue.Queue, reg *registry.Registry, breakers *breaker.Manager, opts ...Option) *Server {
	s := &Server{
		cfg:          cfg,
		store:        store,
		queue:        q,
		registry:     reg,
		breakers:     breakers,
		rateLimiters: make(map[string]*rateLimiterEntry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Get("/healthz", s.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		if s.cfg.API.ServiceToken != "" {
			r.Use(s.authMiddleware)
		}

		r.With(s.rateLimitMiddleware).Post("/scans", s.handleSubmitScan)
		r.Get("/scans/{taskID}", s.handleGetScanStatus)
		r.Get("/scans/{taskID}/results", s.handleGetScanResults)
		r.Get("/tasks", s.handleListTasks)

		r.Get("/scanners", s.handleListScanners)
		r.Get("/pools", s.handleListPools)
		r.Get("/pools/status", s.handleGetPoolStatus)
		r.Get("/pools/queue", s.handleGetQueueStatus)
		r.Get("/pools/{pool}/status", s.handleGetPoolStatus)
		r.Get("/pools/{pool}/queue", s.handleGetQueueStatus)

		r.Get("/pools/{pool}/dlq", s.handleListDLQ)
		r.With(s.rateLimitMiddleware).Post("/pools/{pool}/dlq/{taskID}/retry", s.handleRetryDLQ)
		r.With(s.rateLimitMiddleware).Post("/breakers/{instanceKey}/reset", s.handleResetBreaker)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

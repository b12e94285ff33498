// Package server exposes health, status and Prometheus metrics over HTTP for
// the long-running serve mode.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/raphaelgruber/kbsync/internal/metrics"
	"github.com/raphaelgruber/kbsync/internal/reconcile"
	"github.com/raphaelgruber/kbsync/internal/scheduler"
)

const (
	requestTimeout  = 30 * time.Second
	shutdownTimeout = 10 * time.Second
)

// Scheduler is the part of scheduler.Scheduler the HTTP layer needs.
type Scheduler interface {
	Status() scheduler.Status
	RunOnce(ctx context.Context) (reconcile.Summary, error)
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Version   string            `json:"version"`
	Scheduler scheduler.Status  `json:"scheduler"`
	Latencies *metrics.Snapshot `json:"latencies,omitempty"`
}

// Server wraps the HTTP router with its dependencies and lifecycle.
type Server struct {
	version   string
	sched     Scheduler
	collector *metrics.Collector
	gatherer  prometheus.Gatherer
	logger    *slog.Logger
	router    chi.Router
}

// New builds the router. collector and gatherer may be nil.
func New(version string, sched Scheduler, collector *metrics.Collector, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	s := &Server{
		version:   version,
		sched:     sched,
		collector: collector,
		gatherer:  gatherer,
		logger:    logger,
	}

	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		LoggingMiddleware(logger),
		middleware.Recoverer,
	)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))
		r.Get("/health", s.handleHealth)
		r.Get("/status", s.handleStatus)
		if gatherer != nil {
			r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
		}
	})

	// A manual run is bounded by the scheduler's run timeout, not the request.
	r.Post("/run", s.handleRun)

	s.router = r
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run listens on addr and serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("listen on %s: %w", addr, err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown HTTP server: %w", err)
	}
	return <-errCh
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := StatusResponse{
		Version:   s.version,
		Scheduler: s.sched.Status(),
	}
	if s.collector != nil {
		snap := s.collector.Snapshot()
		resp.Latencies = &snap
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleRun triggers a reconciliation outside the schedule.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	// Detached so a client disconnect does not cut the run short.
	summary, err := s.sched.RunOnce(context.WithoutCancel(r.Context()))
	switch {
	case errors.Is(err, scheduler.ErrBusy):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, reconcile.ErrJobsUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, summary)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

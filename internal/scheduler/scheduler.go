// Package scheduler runs reconciliation periodically inside a long-lived
// process. Lambda deployments rely on EventBridge instead.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/raphaelgruber/kbsync/internal/reconcile"
)

// Defaults used when options are not given.
const (
	DefaultInterval   = 5 * time.Minute
	DefaultJitter     = 30 * time.Second
	DefaultRunTimeout = 5 * time.Minute
)

// ErrBusy is returned by RunOnce while another run is executing.
var ErrBusy = errors.New("reconciliation already running")

// Runner executes one reconciliation.
type Runner interface {
	Run(ctx context.Context) (reconcile.Summary, error)
}

// Status describes the scheduler's most recent activity.
type Status struct {
	Running     bool               `json:"running"`
	Runs        int                `json:"runs"`
	Skipped     int                `json:"skipped"`
	LastRunAt   *time.Time         `json:"lastRunAt,omitempty"`
	LastSummary *reconcile.Summary `json:"lastSummary,omitempty"`
	LastError   string             `json:"lastError,omitempty"`
}

// Scheduler triggers a Runner on a jittered interval. It never runs two of its
// own runs at once.
type Scheduler struct {
	runner     Runner
	interval   time.Duration
	jitter     time.Duration
	runTimeout time.Duration
	logger     *slog.Logger

	running atomic.Bool

	mu     sync.RWMutex
	status Status
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithJitter sets the maximum random offset applied to each interval.
func WithJitter(d time.Duration) Option {
	return func(s *Scheduler) {
		s.jitter = d
	}
}

// WithRunTimeout bounds a single run. Zero disables the bound.
func WithRunTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		s.runTimeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// New creates a scheduler for runner. A non-positive interval uses DefaultInterval.
func New(runner Runner, interval time.Duration, opts ...Option) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	s := &Scheduler{
		runner:     runner,
		interval:   interval,
		jitter:     DefaultJitter,
		runTimeout: DefaultRunTimeout,
		logger:     slog.Default(),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// nextInterval returns the base interval offset by a random value in
// [-jitter, +jitter). The result is never below half the base interval.
func (s *Scheduler) nextInterval() time.Duration {
	if s.jitter <= 0 {
		return s.interval
	}
	//nolint:gosec // G404: jitter does not need cryptographic randomness
	offset := time.Duration(rand.Int64N(int64(2*s.jitter))) - s.jitter
	return max(s.interval+offset, s.interval/2)
}

// Start runs once immediately and then on every tick until ctx is cancelled
// or Stop is called. It blocks.
func (s *Scheduler) Start(ctx context.Context) error {
	loopCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	defer func() {
		cancel()
		close(s.done)
		s.logger.Info("scheduler stopped")
	}()

	interval := s.nextInterval()
	s.logger.Info("scheduler started",
		"base_interval", s.interval,
		"interval", interval,
		"run_timeout", s.runTimeout)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.tick(loopCtx)

	for {
		select {
		case <-ticker.C:
			s.tick(loopCtx)
			ticker.Reset(s.nextInterval())
		case <-loopCtx.Done():
			return nil
		}
	}
}

// Stop cancels the loop started by Start and waits for it to return.
// Calling Stop before Start is a no-op.
func (s *Scheduler) Stop() error {
	s.mu.RLock()
	cancel := s.cancel
	s.mu.RUnlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-s.done
	return nil
}

func (s *Scheduler) tick(ctx context.Context) {
	if _, err := s.RunOnce(ctx); errors.Is(err, ErrBusy) {
		s.logger.Warn("previous reconciliation still running, skipping tick")
	}
}

// RunOnce executes a single run with the configured timeout and records the
// outcome. It returns ErrBusy without running if a run is in flight.
func (s *Scheduler) RunOnce(ctx context.Context) (reconcile.Summary, error) {
	if !s.running.CompareAndSwap(false, true) {
		s.mu.Lock()
		s.status.Skipped++
		s.mu.Unlock()
		return reconcile.Summary{}, ErrBusy
	}
	defer s.running.Store(false)

	if s.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.runTimeout)
		defer cancel()
	}

	startedAt := time.Now().UTC()
	summary, err := s.runner.Run(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.Runs++
	s.status.LastRunAt = &startedAt
	if err != nil {
		s.status.LastError = err.Error()
		s.logger.Error("scheduled reconciliation failed", "error", err)
		return summary, err
	}
	s.status.LastError = ""
	s.status.LastSummary = &summary
	return summary, nil
}

// Status returns a copy of the current status.
func (s *Scheduler) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.status
	st.Running = s.running.Load()
	return st
}

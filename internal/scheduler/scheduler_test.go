package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/kbsync/internal/reconcile"
)

type fakeRunner struct {
	calls atomic.Int32
	err   error
	// block, when set, holds each run until closed or the context ends.
	block chan struct{}
}

func (f *fakeRunner) Run(ctx context.Context) (reconcile.Summary, error) {
	n := f.calls.Add(1)
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return reconcile.Summary{}, ctx.Err()
		}
	}
	if f.err != nil {
		return reconcile.Summary{}, f.err
	}
	return reconcile.Summary{RunID: "run", DocumentsUpdated: int(n)}, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNextInterval(t *testing.T) {
	s := New(&fakeRunner{}, time.Minute, WithJitter(10*time.Second))
	for range 200 {
		d := s.nextInterval()
		assert.GreaterOrEqual(t, d, 50*time.Second)
		assert.Less(t, d, 70*time.Second)
	}

	noJitter := New(&fakeRunner{}, time.Minute, WithJitter(0))
	assert.Equal(t, time.Minute, noJitter.nextInterval())

	wide := New(&fakeRunner{}, time.Second, WithJitter(time.Hour))
	for range 50 {
		assert.GreaterOrEqual(t, wide.nextInterval(), 500*time.Millisecond)
	}
}

func TestNewDefaults(t *testing.T) {
	s := New(&fakeRunner{}, 0)
	assert.Equal(t, DefaultInterval, s.interval)
	assert.Equal(t, DefaultJitter, s.jitter)
	assert.Equal(t, DefaultRunTimeout, s.runTimeout)
}

func TestStopBeforeStart(t *testing.T) {
	s := New(&fakeRunner{}, time.Minute)
	assert.NoError(t, s.Stop())
}

func TestStartRunsImmediately(t *testing.T) {
	runner := &fakeRunner{}
	s := New(runner, time.Hour, WithLogger(quietLogger()))

	errCh := make(chan error, 1)
	go func() { errCh <- s.Start(context.Background()) }()

	require.Eventually(t, func() bool { return runner.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop())
	require.NoError(t, <-errCh)

	st := s.Status()
	assert.Equal(t, 1, st.Runs)
	require.NotNil(t, st.LastSummary)
	assert.Equal(t, "run", st.LastSummary.RunID)
	assert.NotNil(t, st.LastRunAt)
	assert.False(t, st.Running)
}

func TestStartTicks(t *testing.T) {
	runner := &fakeRunner{}
	s := New(runner, 10*time.Millisecond, WithJitter(0), WithLogger(quietLogger()))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start(ctx) }()

	require.Eventually(t, func() bool { return runner.calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-errCh)
}

func TestRunOnceSkipsWhileBusy(t *testing.T) {
	runner := &fakeRunner{block: make(chan struct{})}
	s := New(runner, time.Hour, WithLogger(quietLogger()))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := s.RunOnce(context.Background())
		assert.NoError(t, err)
	}()

	require.Eventually(t, func() bool { return s.Status().Running }, time.Second, 5*time.Millisecond)

	_, err := s.RunOnce(context.Background())
	assert.ErrorIs(t, err, ErrBusy)

	close(runner.block)
	wg.Wait()

	st := s.Status()
	assert.Equal(t, 1, st.Runs)
	assert.Equal(t, 1, st.Skipped)
	assert.EqualValues(t, 1, runner.calls.Load())
}

func TestRunOnceRecordsError(t *testing.T) {
	runner := &fakeRunner{err: errors.New("listing failed")}
	s := New(runner, time.Hour, WithLogger(quietLogger()))

	_, err := s.RunOnce(context.Background())
	require.Error(t, err)

	st := s.Status()
	assert.Equal(t, "listing failed", st.LastError)
	assert.Nil(t, st.LastSummary)

	runner.err = nil
	_, err = s.RunOnce(context.Background())
	require.NoError(t, err)
	st = s.Status()
	assert.Empty(t, st.LastError)
	assert.NotNil(t, st.LastSummary)
	assert.Equal(t, 2, st.Runs)
}

func TestRunOnceAppliesTimeout(t *testing.T) {
	runner := &fakeRunner{block: make(chan struct{})}
	s := New(runner, time.Hour, WithRunTimeout(20*time.Millisecond), WithLogger(quietLogger()))

	_, err := s.RunOnce(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, s.Status().LastError, "deadline exceeded")
}

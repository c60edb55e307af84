package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/safe-global/safe-transaction-service-sub001/internal/config"
	"github.com/safe-global/safe-transaction-service-sub001/internal/ports"
)

type noopLogger struct{}

func (noopLogger) Debugw(string, ...interface{}) {}
func (noopLogger) Infow(string, ...interface{})  {}
func (noopLogger) Warnw(string, ...interface{})  {}
func (noopLogger) Errorw(string, ...interface{}) {}
func (noopLogger) Fatalw(string, ...interface{}) {}

// fakeLock is an in-memory ports.LockManager, one mutex per name.
type fakeLock struct {
	mu    sync.Mutex
	held  map[string]bool
	token map[string]int
}

func newFakeLock() *fakeLock {
	return &fakeLock{held: make(map[string]bool), token: make(map[string]int)}
}

type fakeHeld struct {
	mgr  *fakeLock
	name string
}

func (h *fakeHeld) Release(ctx context.Context) error {
	h.mgr.mu.Lock()
	defer h.mgr.mu.Unlock()
	h.mgr.held[h.name] = false
	return nil
}

func (f *fakeLock) TryAcquire(ctx context.Context, name string, ttl time.Duration) (ports.Lock, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held[name] {
		return nil, false, nil
	}
	f.held[name] = true
	return &fakeHeld{mgr: f, name: name}, true, nil
}

func (f *fakeLock) Acquire(ctx context.Context, name string, ttl time.Duration) (ports.Lock, error) {
	for {
		if l, ok, _ := f.TryAcquire(ctx, name, ttl); ok {
			return l, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}

func testConfig() config.SchedulerConfig {
	return config.SchedulerConfig{
		PollIntervalSeconds: 0, // overridden per-test via a custom ticker is not supported; tests use short real durations instead
		SoftTimeoutSeconds:  1,
		HardTimeoutSeconds:  5,
		LockTTLSeconds:      5,
	}
}

func TestTick_RunsTaskWhenLockFree(t *testing.T) {
	s := New(testConfig(), newFakeLock(), noopLogger{})
	var calls int32
	task := task{name: "t", fn: func(ctx context.Context) (bool, error) {
		atomic.AddInt32(&calls, 1)
		return true, nil
	}}

	s.tick(context.Background(), task)
	require.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestTick_SkipsWhenLockHeld(t *testing.T) {
	locks := newFakeLock()
	_, ok, err := locks.TryAcquire(context.Background(), "scheduler:t", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	s := New(testConfig(), locks, noopLogger{})
	var calls int32
	task := task{name: "t", fn: func(ctx context.Context) (bool, error) {
		atomic.AddInt32(&calls, 1)
		return true, nil
	}}

	s.tick(context.Background(), task)
	require.EqualValues(t, 0, atomic.LoadInt32(&calls))
}

func TestTick_ReleasesLockOnCompletion(t *testing.T) {
	locks := newFakeLock()
	s := New(testConfig(), locks, noopLogger{})
	task := task{name: "t", fn: func(ctx context.Context) (bool, error) { return true, nil }}

	s.tick(context.Background(), task)

	locks.mu.Lock()
	held := locks.held["scheduler:t"]
	locks.mu.Unlock()
	require.False(t, held, "lock should be released after the task completes within its hard timeout")
}

func TestTick_HardTimeoutAbandonsLockWithoutReleasing(t *testing.T) {
	locks := newFakeLock()
	cfg := testConfig()
	cfg.SoftTimeoutSeconds = 10
	cfg.HardTimeoutSeconds = 0 // fires immediately
	s := New(cfg, locks, noopLogger{})

	blockUntil := make(chan struct{})
	task := task{name: "t", fn: func(ctx context.Context) (bool, error) {
		<-blockUntil
		return true, nil
	}}

	done := make(chan struct{})
	go func() {
		s.tick(context.Background(), task)
		close(done)
	}()

	// Give the watchdog time to fire its hard-timeout branch.
	time.Sleep(50 * time.Millisecond)
	locks.mu.Lock()
	held := locks.held["scheduler:t"]
	locks.mu.Unlock()
	require.True(t, held, "lock must still be held past the hard timeout, since the task goroutine cannot be killed")

	close(blockUntil)
	<-done
}

func TestRegister_AddsTasksRunByRun(t *testing.T) {
	s := New(config.SchedulerConfig{PollIntervalSeconds: 1, SoftTimeoutSeconds: 1, HardTimeoutSeconds: 1, LockTTLSeconds: 5}, newFakeLock(), noopLogger{})
	var calls int32
	s.Register("a", func(ctx context.Context) (bool, error) {
		atomic.AddInt32(&calls, 1)
		return true, nil
	})
	require.Len(t, s.tasks, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 1100*time.Millisecond)
	defer cancel()
	s.Run(ctx)
	require.GreaterOrEqual(t, atomic.LoadInt32(&calls), int32(1))
}

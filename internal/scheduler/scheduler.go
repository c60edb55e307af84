// Package scheduler implements the Scheduler (spec.md §4.7): one
// goroutine per registered task on a time.Ticker, guarded by a Redis
// named lock so only one scheduler instance runs a given task at a
// time, with soft and hard timeout tiers.
package scheduler

import (
	"context"
	"time"

	"github.com/safe-global/safe-transaction-service-sub001/internal/config"
	"github.com/safe-global/safe-transaction-service-sub001/internal/ports"
)

// TaskFunc is one scheduled unit of work. The bool return is ignored by
// the scheduler (indexers use it to report whether they made progress,
// which only matters to their own callers); the scheduler only cares
// whether it errored.
type TaskFunc func(ctx context.Context) (bool, error)

// task pairs a TaskFunc with its name, from which tick derives the lock
// name; every task shares the scheduler's poll interval.
type task struct {
	name string
	fn   TaskFunc
}

// Scheduler drives a fixed set of tasks, each on its own goroutine.
type Scheduler struct {
	cfg    config.SchedulerConfig
	locks  ports.LockManager
	logger ports.Logger
	tasks  []task
}

func New(cfg config.SchedulerConfig, locks ports.LockManager, logger ports.Logger) *Scheduler {
	return &Scheduler{cfg: cfg, locks: locks, logger: logger}
}

// Register adds a task to be ticked at the scheduler's configured poll
// interval once Run starts. Call before Run; Register is not safe to
// call concurrently with Run.
func (s *Scheduler) Register(name string, fn TaskFunc) {
	s.tasks = append(s.tasks, task{name: name, fn: fn})
}

// Run starts every registered task's ticker goroutine and blocks until
// ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	done := make(chan struct{}, len(s.tasks))
	for _, t := range s.tasks {
		t := t
		go func() {
			s.runTask(ctx, t)
			done <- struct{}{}
		}()
	}
	for range s.tasks {
		<-done
	}
}

func (s *Scheduler) runTask(ctx context.Context, t task) {
	ticker := time.NewTicker(s.cfg.PollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, t)
		}
	}
}

// tick runs one task invocation under the Redis named lock. A lock
// already held by another scheduler (this process or a peer) drops the
// tick entirely rather than queueing it — the next tick picks up where
// the holder leaves off.
func (s *Scheduler) tick(ctx context.Context, t task) {
	lockName := "scheduler:" + t.name
	lock, ok, err := s.locks.TryAcquire(ctx, lockName, s.cfg.LockTTL())
	if err != nil {
		s.logger.Errorw("scheduler: failed to acquire task lock", "task", t.name, "error", err)
		return
	}
	if !ok {
		return
	}

	finished := make(chan struct{})
	watchdogDone := make(chan struct{})
	go func() {
		defer close(watchdogDone)
		select {
		case <-finished:
			if err := lock.Release(context.Background()); err != nil {
				s.logger.Warnw("scheduler: failed to release task lock", "task", t.name, "error", err)
			}
		case <-time.After(s.cfg.HardTimeout()):
			// The task is still running past its hard deadline. We
			// cannot forcibly kill its goroutine, so we abandon the
			// lock here without releasing it: it expires on its own
			// TTL, never earlier, so a still-running task can never
			// race a fresh run of itself under a reacquired lock.
			s.logger.Warnw("scheduler: task exceeded hard timeout, abandoning lock to TTL expiry", "task", t.name)
		}
	}()

	softCtx, cancel := context.WithTimeout(ctx, s.cfg.SoftTimeout())
	_, runErr := t.fn(softCtx)
	cancel()
	close(finished)
	<-watchdogDone

	if runErr != nil {
		s.logger.Errorw("scheduler: task failed", "task", t.name, "error", runErr)
	}
}

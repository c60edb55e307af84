package ports

import (
	"context"
	"time"

	"github.com/safe-global/safe-transaction-service-sub001/internal/domain"
)

// Lock is a held named lock; Release is idempotent and safe to call
// after the lock's TTL has already expired (it becomes a no-op).
type Lock interface {
	Release(ctx context.Context) error
}

// LockManager grants named, TTL-bounded advisory locks used to serialize
// indexer cursor advancement, per-Safe replay, and the reorg controller's
// global write lock (spec.md section 5).
type LockManager interface {
	// Acquire blocks until the lock is free or ctx is cancelled, then
	// holds it for ttl unless refreshed or released first.
	Acquire(ctx context.Context, name string, ttl time.Duration) (Lock, error)
	// TryAcquire returns (nil, false) immediately if the lock is held by
	// someone else, matching the Scheduler's "drop the tick" behavior.
	TryAcquire(ctx context.Context, name string, ttl time.Duration) (Lock, bool, error)
}

// EventPublisher is the Webhook Dispatcher's outbound seam.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.WebhookEvent) error
	Close() error
}

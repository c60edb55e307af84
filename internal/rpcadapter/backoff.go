package rpcadapter

import (
	"context"
	"time"
)

// BackoffPolicy is a capped exponential backoff: each retry doubles the
// previous delay up to Max, starting from Base.
type BackoffPolicy struct {
	Base       time.Duration
	Max        time.Duration
	MaxRetries int
}

// DefaultBackoff mirrors the retry-count/backoff shape the teacher's
// Kafka producer configuration exposes (RetryMax), generalized here to
// an explicit duration sequence since RPC calls need the actual delay,
// not just a retry budget.
var DefaultBackoff = BackoffPolicy{
	Base:       200 * time.Millisecond,
	Max:        10 * time.Second,
	MaxRetries: 5,
}

// Delay returns the backoff delay before retry attempt n (0-indexed).
func (b BackoffPolicy) Delay(n int) time.Duration {
	d := b.Base
	for i := 0; i < n; i++ {
		d *= 2
		if d > b.Max {
			return b.Max
		}
	}
	return d
}

// Retry runs fn up to b.MaxRetries+1 times, sleeping with capped
// exponential backoff between attempts, but only while the error is
// classified as retryable (Retryable reports true). A PermanentError
// returns immediately.
func Retry(ctx context.Context, b BackoffPolicy, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= b.MaxRetries; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !Retryable(lastErr) {
			return lastErr
		}
		if attempt == b.MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.Delay(attempt)):
		}
	}
	return lastErr
}

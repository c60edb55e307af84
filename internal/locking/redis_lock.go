// Package locking implements ports.LockManager over Redis, grounded on
// the teacher's RedisClient wrapper (github.com/redis/go-redis/v9,
// Options-struct construction, key prefixing, a Ping at startup).
package locking

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/safe-global/safe-transaction-service-sub001/internal/config"
	"github.com/safe-global/safe-transaction-service-sub001/internal/ports"
)

// releaseScript deletes the lock key only if it still holds this
// holder's token, so a lock whose TTL has already expired and been
// re-acquired by someone else is never released out from under them.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`

// Manager is the production ports.LockManager implementation.
type Manager struct {
	client    *redis.Client
	keyPrefix string
}

// NewManager connects to cfg.Address() and verifies it with a Ping.
func NewManager(cfg config.RedisConfig, keyPrefix string) (*Manager, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return &Manager{client: client, keyPrefix: keyPrefix}, nil
}

func (m *Manager) Close() error { return m.client.Close() }

func (m *Manager) key(name string) string { return m.keyPrefix + "lock:" + name }

// held is the ports.Lock returned by Acquire/TryAcquire.
type held struct {
	client *redis.Client
	key    string
	token  string
}

func (h *held) Release(ctx context.Context) error {
	err := h.client.Eval(ctx, releaseScript, []string{h.key}, h.token).Err()
	if err != nil {
		return fmt.Errorf("failed to release lock %s: %w", h.key, err)
	}
	return nil
}

func newToken() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// TryAcquire issues a single SET NX PX and returns immediately.
func (m *Manager) TryAcquire(ctx context.Context, name string, ttl time.Duration) (ports.Lock, bool, error) {
	key := m.key(name)
	token := newToken()
	ok, err := m.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to try-acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	return &held{client: m.client, key: key, token: token}, true, nil
}

// Acquire polls TryAcquire with a short backoff until it succeeds or ctx
// is cancelled.
func (m *Manager) Acquire(ctx context.Context, name string, ttl time.Duration) (ports.Lock, error) {
	const pollInterval = 100 * time.Millisecond
	for {
		lock, ok, err := m.TryAcquire(ctx, name, ttl)
		if err != nil {
			return nil, err
		}
		if ok {
			return lock, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("failed to acquire lock %s: %w", m.key(name), ctx.Err())
		case <-time.After(pollInterval):
		}
	}
}

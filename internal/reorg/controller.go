// Package reorg implements the Reorg Controller (spec.md section 4.6):
// it compares stored block hashes against the canonical chain and,
// on divergence, cascades a rewind across every derived store.
package reorg

import (
	"context"
	"fmt"
	"time"

	"github.com/safe-global/safe-transaction-service-sub001/internal/domain"
	"github.com/safe-global/safe-transaction-service-sub001/internal/ports"
)

// globalLockName serializes reorg handling against every indexer tick
// and the replayer: a rewind must see a consistent snapshot of cursors
// and derived tables, not one indexer mid-tick against a half-rewound
// queue.
const globalLockName = "reorg-controller"

// globalLockTTL bounds how long a rewind may hold the global lock; a
// rewind that outlives it simply loses the lock to the next tick and
// resumes from whatever state it left behind.
const globalLockTTL = 5 * time.Minute

// Controller periodically checks every unconfirmed stored block
// against the canonical chain and rewinds on divergence.
type Controller struct {
	rpc       ports.RPCClient
	blocks    ports.BlockRepository
	cursors   ports.CursorRepository
	queue     ports.QueueRepository
	safes     ports.SafeRepository
	multi     ports.MultisigRepository
	transfers ports.TransferRepository
	locks     ports.LockManager
	events    ports.EventPublisher
	logger    ports.Logger

	reorgDepth   uint64
	rewindBlocks uint64
}

func NewController(rpc ports.RPCClient, blocks ports.BlockRepository, cursors ports.CursorRepository,
	queue ports.QueueRepository, safes ports.SafeRepository, multi ports.MultisigRepository,
	transfers ports.TransferRepository, locks ports.LockManager, events ports.EventPublisher,
	reorgDepth, rewindBlocks uint64, logger ports.Logger) *Controller {
	return &Controller{
		rpc: rpc, blocks: blocks, cursors: cursors, queue: queue, safes: safes, multi: multi,
		transfers: transfers, locks: locks, events: events,
		reorgDepth: reorgDepth, rewindBlocks: rewindBlocks, logger: logger,
	}
}

// Tick compares every unconfirmed block against the canonical chain,
// rewinding on the first divergence found. It returns true if a reorg
// was handled.
func (c *Controller) Tick(ctx context.Context) (bool, error) {
	lock, ok, err := c.locks.TryAcquire(ctx, globalLockName, globalLockTTL)
	if err != nil {
		return false, fmt.Errorf("reorg controller: failed to acquire global lock: %w", err)
	}
	if !ok {
		return false, nil
	}
	defer lock.Release(ctx)

	head, err := c.rpc.HeadBlockNumber(ctx)
	if err != nil {
		return false, fmt.Errorf("reorg controller: failed to read chain head: %w", err)
	}

	unconfirmed, err := c.blocks.UnconfirmedBlocks(ctx, head, c.reorgDepth)
	if err != nil {
		return false, fmt.Errorf("reorg controller: failed to list unconfirmed blocks: %w", err)
	}

	var divergedAt uint64
	found := false
	for _, b := range unconfirmed {
		canonical, _, err := c.rpc.BlockByNumber(ctx, b.Number)
		if err != nil {
			return false, fmt.Errorf("reorg controller: failed to fetch canonical block %d: %w", b.Number, err)
		}
		if canonical == nil {
			continue
		}
		if canonical.Hash != b.Hash {
			divergedAt = b.Number
			found = true
			break
		}
	}

	if !found {
		ceiling := uint64(0)
		if head > c.reorgDepth {
			ceiling = head - c.reorgDepth
		}
		if err := c.blocks.MarkConfirmed(ctx, ceiling); err != nil {
			return false, fmt.Errorf("reorg controller: failed to mark blocks confirmed: %w", err)
		}
		return false, nil
	}

	if err := c.rewindFrom(ctx, divergedAt); err != nil {
		return false, fmt.Errorf("reorg controller: failed to rewind from block %d: %w", divergedAt, err)
	}

	if c.events != nil {
		if err := c.events.Publish(ctx, domain.WebhookEvent{
			Type:        domain.EventReorgDetected,
			BlockNumber: divergedAt,
		}); err != nil {
			c.logger.Warnw("reorg controller: failed to publish reorg event", "block", divergedAt, "error", err)
		}
	}

	return true, nil
}

// rewindFrom cascades a rewind at divergence height H across every
// derived store (spec.md section 4.6).
func (c *Controller) rewindFrom(ctx context.Context, divergedAt uint64) error {
	ceiling := uint64(0)
	if divergedAt > c.rewindBlocks {
		ceiling = divergedAt - c.rewindBlocks
	}

	c.logger.Warnw("reorg controller: rewinding", "divergedAt", divergedAt, "ceiling", ceiling)

	// Un-execute multisig transactions and drop on-chain-derived
	// confirmations *before* blocks.DeleteFrom: both joins against
	// ethereum_txs rows that blocks.DeleteFrom's ON DELETE CASCADE would
	// otherwise remove first, leaving nothing for the join to match.
	clearedTxs, err := c.multi.ClearExecutionFrom(ctx, divergedAt)
	if err != nil {
		return fmt.Errorf("failed to clear rewound executions: %w", err)
	}
	c.logger.Infow("reorg controller: cleared executed transactions", "count", len(clearedTxs))

	if err := c.multi.ClearConfirmationsFrom(ctx, divergedAt); err != nil {
		return fmt.Errorf("failed to clear rewound confirmations: %w", err)
	}

	if err := c.blocks.DeleteFrom(ctx, divergedAt); err != nil {
		return fmt.Errorf("failed to delete blocks: %w", err)
	}
	if err := c.queue.DeleteFrom(ctx, divergedAt); err != nil {
		return fmt.Errorf("failed to delete queued decoded calls: %w", err)
	}
	if err := c.transfers.DeleteFrom(ctx, divergedAt); err != nil {
		return fmt.Errorf("failed to delete transfers: %w", err)
	}

	for _, kind := range []domain.IndexerKind{
		domain.IndexerProxyFactories, domain.IndexerSafeEvents,
		domain.IndexerInternalTxTraces, domain.IndexerERC20721Events,
	} {
		if err := c.cursors.RewindIfAbove(ctx, kind, ceiling); err != nil {
			return fmt.Errorf("failed to rewind cursor %s: %w", kind, err)
		}
	}

	affectedSafes, err := c.safes.SafesWithStatusFrom(ctx, ceiling)
	if err != nil {
		return fmt.Errorf("failed to list safes with rewound status: %w", err)
	}
	for _, safe := range affectedSafes {
		if err := c.safes.DeleteStatusFrom(ctx, safe, ceiling); err != nil {
			return fmt.Errorf("failed to delete safe status for %s: %w", safe, err)
		}
		remaining, err := c.safes.LastSafeStatus(ctx, safe)
		if err != nil {
			return fmt.Errorf("failed to load remaining safe status for %s: %w", safe, err)
		}
		if remaining != nil {
			if err := c.safes.UpsertLastStatus(ctx, domain.SafeLastStatus{Safe: safe, State: remaining.State}); err != nil {
				return fmt.Errorf("failed to reset last status for %s: %w", safe, err)
			}
			continue
		}
		if err := c.safes.DeleteAllStatus(ctx, safe); err != nil {
			return fmt.Errorf("failed to clear last status for %s: %w", safe, err)
		}
	}

	return nil
}

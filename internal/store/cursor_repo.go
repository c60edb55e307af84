package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/safe-global/safe-transaction-service-sub001/internal/domain"
)

// CursorRepo persists the per-indexer IndexingStatus singleton rows.
type CursorRepo struct{ *Postgres }

func NewCursorRepo(p *Postgres) *CursorRepo { return &CursorRepo{p} }

func (r *CursorRepo) Get(ctx context.Context, kind domain.IndexerKind) (uint64, error) {
	var n uint64
	err := r.db.QueryRowContext(ctx, `SELECT block_number FROM indexing_status WHERE kind = $1`, int(kind)).Scan(&n)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get cursor for %s: %w", kind, err)
	}
	return n, nil
}

func (r *CursorRepo) Advance(ctx context.Context, kind domain.IndexerKind, toBlock uint64) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO indexing_status (kind, block_number) VALUES ($1, $2)
		ON CONFLICT (kind) DO UPDATE SET block_number = EXCLUDED.block_number
		WHERE indexing_status.block_number < EXCLUDED.block_number
	`, int(kind), toBlock)
	if err != nil {
		return fmt.Errorf("failed to advance cursor for %s to %d: %w", kind, toBlock, err)
	}
	return nil
}

func (r *CursorRepo) RewindIfAbove(ctx context.Context, kind domain.IndexerKind, ceiling uint64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE indexing_status SET block_number = $2 WHERE kind = $1 AND block_number > $2
	`, int(kind), ceiling)
	if err != nil {
		return fmt.Errorf("failed to rewind cursor for %s to %d: %w", kind, ceiling, err)
	}
	return nil
}

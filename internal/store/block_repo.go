package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/safe-global/safe-transaction-service-sub001/internal/domain"
)

// BlockRepo persists domain.Block and domain.EthereumTx rows.
type BlockRepo struct{ *Postgres }

func NewBlockRepo(p *Postgres) *BlockRepo { return &BlockRepo{p} }

func (r *BlockRepo) UpsertBlock(ctx context.Context, block domain.Block) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO blocks (number, hash, parent_hash, "timestamp", confirmed)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (number) DO UPDATE
		SET hash = EXCLUDED.hash, parent_hash = EXCLUDED.parent_hash,
		    "timestamp" = EXCLUDED."timestamp", confirmed = EXCLUDED.confirmed
	`, block.Number, hashBytes(block.Hash), hashBytes(block.ParentHash), block.Timestamp, block.Confirmed)
	if err != nil {
		return fmt.Errorf("failed to upsert block %d: %w", block.Number, err)
	}
	return nil
}

func (r *BlockRepo) UpsertTransactions(ctx context.Context, txs []domain.EthereumTx) error {
	if len(txs) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO ethereum_txs (hash, block_number, transaction_index, "from", "to", value, input,
			nonce, status, gas_used, tx_type, gas_price, max_fee_per_gas, max_priority_fee)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (hash) DO UPDATE
		SET status = EXCLUDED.status, gas_used = EXCLUDED.gas_used
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare ethereum_txs insert: %w", err)
	}
	defer stmt.Close()

	for _, t := range txs {
		_, err := stmt.ExecContext(ctx, hashBytes(t.Hash), t.BlockNumber, t.TransactionIndex,
			addrBytes(t.From), optAddrBytes(t.To), bigText(t.Value), t.Input, t.Nonce, t.Status,
			t.GasUsed, t.Type, optBigText(t.GasPrice), optBigText(t.MaxFeePerGas), optBigText(t.MaxPriorityFee))
		if err != nil {
			return fmt.Errorf("failed to upsert ethereum_tx %s: %w", t.Hash, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit ethereum_txs upsert: %w", err)
	}
	return nil
}

func (r *BlockRepo) BlockByNumber(ctx context.Context, number uint64) (*domain.Block, error) {
	var b domain.Block
	var hash, parentHash []byte
	err := r.db.QueryRowContext(ctx, `
		SELECT number, hash, parent_hash, "timestamp", confirmed FROM blocks WHERE number = $1
	`, number).Scan(&b.Number, &hash, &parentHash, &b.Timestamp, &b.Confirmed)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get block %d: %w", number, err)
	}
	b.Hash = scanHash(hash)
	b.ParentHash = scanHash(parentHash)
	return &b, nil
}

// UnconfirmedBlocks returns every stored block still within reorgDepth
// of headBlock that hasn't been marked confirmed yet: the window the
// Reorg Controller must compare against the canonical chain on every
// tick. Blocks older than that window are assumed already confirmed by
// a prior MarkConfirmed call and are deliberately excluded.
func (r *BlockRepo) UnconfirmedBlocks(ctx context.Context, headBlock, reorgDepth uint64) ([]domain.Block, error) {
	ceiling := uint64(0)
	if headBlock > reorgDepth {
		ceiling = headBlock - reorgDepth
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT number, hash, parent_hash, "timestamp", confirmed
		FROM blocks WHERE NOT confirmed AND number > $1 AND number <= $2
		ORDER BY number ASC
	`, ceiling, headBlock)
	if err != nil {
		return nil, fmt.Errorf("failed to query unconfirmed blocks: %w", err)
	}
	defer rows.Close()

	var out []domain.Block
	for rows.Next() {
		var b domain.Block
		var hash, parentHash []byte
		if err := rows.Scan(&b.Number, &hash, &parentHash, &b.Timestamp, &b.Confirmed); err != nil {
			return nil, fmt.Errorf("failed to scan block: %w", err)
		}
		b.Hash = scanHash(hash)
		b.ParentHash = scanHash(parentHash)
		out = append(out, b)
	}
	return out, nil
}

func (r *BlockRepo) MarkConfirmed(ctx context.Context, upTo uint64) error {
	_, err := r.db.ExecContext(ctx, `UPDATE blocks SET confirmed = true WHERE number <= $1 AND NOT confirmed`, upTo)
	if err != nil {
		return fmt.Errorf("failed to mark blocks confirmed up to %d: %w", upTo, err)
	}
	return nil
}

func (r *BlockRepo) DeleteFrom(ctx context.Context, fromBlock uint64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM blocks WHERE number >= $1`, fromBlock)
	if err != nil {
		return fmt.Errorf("failed to delete blocks from %d: %w", fromBlock, err)
	}
	return nil
}

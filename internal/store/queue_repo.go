package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/safe-global/safe-transaction-service-sub001/internal/domain"
)

// QueueRepo persists the decoded-call queue: one row per trace
// recognized as targeting a known Safe, awaiting replay in trace order.
type QueueRepo struct{ *Postgres }

func NewQueueRepo(p *Postgres) *QueueRepo { return &QueueRepo{p} }

func (r *QueueRepo) Enqueue(ctx context.Context, calls []domain.InternalTxDecoded) error {
	if len(calls) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin queue enqueue transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO internal_tx_decoded (tx_hash, trace_address, block_number, tx_index, safe, function_name, arguments, caller, processed)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, false)
		ON CONFLICT (tx_hash, trace_address) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare queue insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range calls {
		argsJSON, err := json.Marshal(c.Arguments)
		if err != nil {
			return fmt.Errorf("failed to marshal decoded call arguments: %w", err)
		}
		_, err = stmt.ExecContext(ctx, hashBytes(c.TxHash), traceAddressKey(c.TraceAddress), c.BlockNumber,
			c.TxIndex, addrBytes(c.Safe), c.FunctionName, argsJSON, addrBytes(c.Caller))
		if err != nil {
			return fmt.Errorf("failed to enqueue decoded call %s/%s: %w", c.TxHash, traceAddressKey(c.TraceAddress), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit queue enqueue: %w", err)
	}
	return nil
}

func (r *QueueRepo) PendingSafes(ctx context.Context) ([]common.Address, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT safe FROM internal_tx_decoded WHERE NOT processed`)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending safes: %w", err)
	}
	defer rows.Close()

	var out []common.Address
	for rows.Next() {
		var b []byte
		if err := rows.Scan(&b); err != nil {
			return nil, fmt.Errorf("failed to scan pending safe: %w", err)
		}
		out = append(out, scanAddr(b))
	}
	return out, nil
}

func (r *QueueRepo) PendingFor(ctx context.Context, safe common.Address) ([]domain.InternalTxDecoded, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT tx_hash, trace_address, block_number, tx_index, safe, function_name, arguments, caller, processed
		FROM internal_tx_decoded
		WHERE safe = $1 AND NOT processed
		ORDER BY block_number ASC, tx_index ASC, trace_address ASC
	`, addrBytes(safe))
	if err != nil {
		return nil, fmt.Errorf("failed to query pending calls for safe %s: %w", safe, err)
	}
	defer rows.Close()

	var out []domain.InternalTxDecoded
	for rows.Next() {
		var c domain.InternalTxDecoded
		var txHash, safeBytes, caller []byte
		var traceKey string
		var argsJSON []byte
		if err := rows.Scan(&txHash, &traceKey, &c.BlockNumber, &c.TxIndex, &safeBytes, &c.FunctionName, &argsJSON, &caller, &c.Processed); err != nil {
			return nil, fmt.Errorf("failed to scan decoded call: %w", err)
		}
		c.TxHash = scanHash(txHash)
		c.Safe = scanAddr(safeBytes)
		c.Caller = scanAddr(caller)
		if err := json.Unmarshal(argsJSON, &c.Arguments); err != nil {
			return nil, fmt.Errorf("failed to unmarshal decoded call arguments: %w", err)
		}
		out = append(out, c)
	}
	return out, nil
}

func (r *QueueRepo) MarkProcessed(ctx context.Context, ids []domain.InternalTxRef) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin mark-processed transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		UPDATE internal_tx_decoded SET processed = true WHERE tx_hash = $1 AND trace_address = $2
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare mark-processed update: %w", err)
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, hashBytes(id.TxHash), traceAddressKey(id.TraceAddress)); err != nil {
			return fmt.Errorf("failed to mark call %s/%s processed: %w", id.TxHash, traceAddressKey(id.TraceAddress), err)
		}
	}
	return tx.Commit()
}

func (r *QueueRepo) DeleteFrom(ctx context.Context, fromBlock uint64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM internal_tx_decoded WHERE block_number >= $1`, fromBlock)
	if err != nil {
		return fmt.Errorf("failed to delete queued calls from block %d: %w", fromBlock, err)
	}
	return nil
}

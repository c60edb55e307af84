package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lib/pq"

	"github.com/safe-global/safe-transaction-service-sub001/internal/domain"
)

// SafeRepo persists SafeContract rows and the SafeStatus/SafeLastStatus
// history produced by replaying the decoded-call queue.
type SafeRepo struct{ *Postgres }

func NewSafeRepo(p *Postgres) *SafeRepo { return &SafeRepo{p} }

func (r *SafeRepo) UpsertSafeContract(ctx context.Context, safe domain.SafeContract) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO safe_contracts (address, deployment_tx, deployment_block, version, master_copy)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (address) DO NOTHING
	`, addrBytes(safe.Address), hashBytes(safe.DeploymentTx), safe.DeploymentBlock, safe.Version, optAddrBytes(&safe.MasterCopy))
	if err != nil {
		return fmt.Errorf("failed to upsert safe contract %s: %w", safe.Address, err)
	}
	return nil
}

func (r *SafeRepo) SafeContract(ctx context.Context, address common.Address) (*domain.SafeContract, error) {
	var s domain.SafeContract
	var addr, depTx []byte
	var masterCopy []byte
	err := r.db.QueryRowContext(ctx, `
		SELECT address, deployment_tx, deployment_block, version, master_copy FROM safe_contracts WHERE address = $1
	`, addrBytes(address)).Scan(&addr, &depTx, &s.DeploymentBlock, &s.Version, &masterCopy)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get safe contract %s: %w", address, err)
	}
	s.Address = scanAddr(addr)
	s.DeploymentTx = scanHash(depTx)
	if mc := optAddr(masterCopy); mc != nil {
		s.MasterCopy = *mc
	}
	return &s, nil
}

func (r *SafeRepo) InsertSafeStatus(ctx context.Context, status domain.SafeStatus) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO safe_status (safe, nonce, tx_hash, trace_address, block_number, owners, threshold,
			master_copy, fallback_handler, guard, enabled_modules)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (safe, tx_hash, trace_address) DO NOTHING
	`, addrBytes(status.Safe), status.Nonce, hashBytes(status.InternalTx.TxHash),
		traceAddressKey(status.InternalTx.TraceAddress), status.InternalTx.BlockNumber,
		addrArray(status.State.Owners), status.State.Threshold, addrBytes(status.State.MasterCopy),
		addrBytes(status.State.FallbackHandler), addrBytes(status.State.Guard), addrArray(status.State.EnabledModules))
	if err != nil {
		return fmt.Errorf("failed to insert safe status for %s: %w", status.Safe, err)
	}
	return nil
}

func (r *SafeRepo) LastSafeStatus(ctx context.Context, safe common.Address) (*domain.SafeStatus, error) {
	var s domain.SafeStatus
	var safeBytes, txHash, masterCopy, fallbackHandler, guard []byte
	var traceKey string
	var owners, modules pq.ByteaArray
	err := r.db.QueryRowContext(ctx, `
		SELECT safe, nonce, tx_hash, trace_address, block_number, owners, threshold,
			master_copy, fallback_handler, guard, enabled_modules
		FROM safe_status WHERE safe = $1
		ORDER BY block_number DESC, nonce DESC
		LIMIT 1
	`, addrBytes(safe)).Scan(&safeBytes, &s.Nonce, &txHash, &traceKey, &s.InternalTx.BlockNumber,
		&owners, &s.State.Threshold, &masterCopy, &fallbackHandler, &guard, &modules)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last safe status for %s: %w", safe, err)
	}
	s.Safe = scanAddr(safeBytes)
	s.InternalTx.TxHash = scanHash(txHash)
	s.State.Owners = scanAddrArray(owners)
	s.State.MasterCopy = scanAddr(masterCopy)
	s.State.FallbackHandler = scanAddr(fallbackHandler)
	s.State.Guard = scanAddr(guard)
	s.State.EnabledModules = scanAddrArray(modules)
	return &s, nil
}

func (r *SafeRepo) UpsertLastStatus(ctx context.Context, status domain.SafeLastStatus) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO safe_last_status (safe, owners, threshold, master_copy, fallback_handler, guard, enabled_modules, nonce)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (safe) DO UPDATE
		SET owners = EXCLUDED.owners, threshold = EXCLUDED.threshold, master_copy = EXCLUDED.master_copy,
		    fallback_handler = EXCLUDED.fallback_handler, guard = EXCLUDED.guard,
		    enabled_modules = EXCLUDED.enabled_modules, nonce = EXCLUDED.nonce
	`, addrBytes(status.Safe), addrArray(status.State.Owners), status.State.Threshold,
		addrBytes(status.State.MasterCopy), addrBytes(status.State.FallbackHandler), addrBytes(status.State.Guard),
		addrArray(status.State.EnabledModules), status.State.Nonce)
	if err != nil {
		return fmt.Errorf("failed to upsert last status for %s: %w", status.Safe, err)
	}
	return nil
}

func (r *SafeRepo) LastStatus(ctx context.Context, safe common.Address) (*domain.SafeLastStatus, error) {
	var s domain.SafeLastStatus
	var safeBytes, masterCopy, fallbackHandler, guard []byte
	var owners, modules pq.ByteaArray
	err := r.db.QueryRowContext(ctx, `
		SELECT safe, owners, threshold, master_copy, fallback_handler, guard, enabled_modules, nonce
		FROM safe_last_status WHERE safe = $1
	`, addrBytes(safe)).Scan(&safeBytes, &owners, &s.State.Threshold, &masterCopy, &fallbackHandler, &guard, &modules, &s.State.Nonce)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last status for %s: %w", safe, err)
	}
	s.Safe = scanAddr(safeBytes)
	s.State.Owners = scanAddrArray(owners)
	s.State.MasterCopy = scanAddr(masterCopy)
	s.State.FallbackHandler = scanAddr(fallbackHandler)
	s.State.Guard = scanAddr(guard)
	s.State.EnabledModules = scanAddrArray(modules)
	return &s, nil
}

func (r *SafeRepo) DeleteStatusFrom(ctx context.Context, safe common.Address, fromBlock uint64) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM safe_status WHERE safe = $1 AND block_number >= $2
	`, addrBytes(safe), fromBlock)
	if err != nil {
		return fmt.Errorf("failed to delete safe status for %s from block %d: %w", safe, fromBlock, err)
	}
	return nil
}

func (r *SafeRepo) SafesWithStatusFrom(ctx context.Context, fromBlock uint64) ([]common.Address, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT safe FROM safe_status WHERE block_number >= $1
	`, fromBlock)
	if err != nil {
		return nil, fmt.Errorf("failed to list safes with status from block %d: %w", fromBlock, err)
	}
	defer rows.Close()

	var out []common.Address
	for rows.Next() {
		var b []byte
		if err := rows.Scan(&b); err != nil {
			return nil, fmt.Errorf("failed to scan safe with rewound status: %w", err)
		}
		out = append(out, scanAddr(b))
	}
	return out, nil
}

func (r *SafeRepo) DeleteAllStatus(ctx context.Context, safe common.Address) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM safe_status WHERE safe = $1`, addrBytes(safe))
	if err != nil {
		return fmt.Errorf("failed to delete all safe status for %s: %w", safe, err)
	}
	_, err = r.db.ExecContext(ctx, `DELETE FROM safe_last_status WHERE safe = $1`, addrBytes(safe))
	if err != nil {
		return fmt.Errorf("failed to delete last status for %s: %w", safe, err)
	}
	return nil
}

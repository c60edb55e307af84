package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/safe-global/safe-transaction-service-sub001/internal/domain"
)

// DelegateRepo persists SafeContractDelegate rows, scoped either to one
// Safe or global (safe = NULL).
type DelegateRepo struct{ *Postgres }

func NewDelegateRepo(p *Postgres) *DelegateRepo { return &DelegateRepo{p} }

func (r *DelegateRepo) Upsert(ctx context.Context, d domain.SafeContractDelegate) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO safe_contract_delegates (safe, delegator, delegate, label, expiry)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (COALESCE(safe, '\x00'::bytea), delegator, delegate) DO UPDATE
		SET label = EXCLUDED.label, expiry = EXCLUDED.expiry
	`, optAddrBytes(d.Safe), addrBytes(d.Delegator), addrBytes(d.Delegate), d.Label, d.Expiry)
	// Postgres resolves ON CONFLICT against the unique index on this
	// same COALESCE expression defined in schema.sql.
	if err != nil {
		return fmt.Errorf("failed to upsert delegate %s for delegator %s: %w", d.Delegate, d.Delegator, err)
	}
	return nil
}

func (r *DelegateRepo) Remove(ctx context.Context, safe *common.Address, delegator, delegate common.Address) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM safe_contract_delegates
		WHERE COALESCE(safe, '\x00'::bytea) = COALESCE($1::bytea, '\x00'::bytea) AND delegator = $2 AND delegate = $3
	`, optAddrBytes(safe), addrBytes(delegator), addrBytes(delegate))
	if err != nil {
		return fmt.Errorf("failed to remove delegate %s for delegator %s: %w", delegate, delegator, err)
	}
	return nil
}

func (r *DelegateRepo) ForDelegator(ctx context.Context, safe *common.Address, delegator common.Address) ([]domain.SafeContractDelegate, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT safe, delegator, delegate, label, expiry FROM safe_contract_delegates
		WHERE delegator = $1 AND (safe IS NULL OR safe = $2)
	`, addrBytes(delegator), optAddrBytes(safe))
	if err != nil {
		return nil, fmt.Errorf("failed to query delegates for delegator %s: %w", delegator, err)
	}
	defer rows.Close()

	var out []domain.SafeContractDelegate
	for rows.Next() {
		var d domain.SafeContractDelegate
		var safeBytes, delegatorBytes, delegateBytes []byte
		if err := rows.Scan(&safeBytes, &delegatorBytes, &delegateBytes, &d.Label, &d.Expiry); err != nil {
			return nil, fmt.Errorf("failed to scan delegate: %w", err)
		}
		d.Safe = optAddr(safeBytes)
		d.Delegator = scanAddr(delegatorBytes)
		d.Delegate = scanAddr(delegateBytes)
		out = append(out, d)
	}
	return out, nil
}

func (r *DelegateRepo) IsDelegate(ctx context.Context, safe common.Address, delegator, candidate common.Address) (bool, error) {
	var expiry sql.NullTime
	err := r.db.QueryRowContext(ctx, `
		SELECT expiry FROM safe_contract_delegates
		WHERE delegator = $1 AND delegate = $2 AND (safe IS NULL OR safe = $3)
		ORDER BY expiry DESC NULLS FIRST
		LIMIT 1
	`, addrBytes(delegator), addrBytes(candidate), addrBytes(safe)).Scan(&expiry)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check delegate %s for delegator %s: %w", candidate, delegator, err)
	}
	if !expiry.Valid {
		return true, nil
	}
	return time.Now().Before(expiry.Time), nil
}

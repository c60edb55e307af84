package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/safe-global/safe-transaction-service-sub001/internal/domain"
)

// MultisigRepo persists proposed/executed Safe transactions, owner
// confirmations, and module transactions.
type MultisigRepo struct{ *Postgres }

func NewMultisigRepo(p *Postgres) *MultisigRepo { return &MultisigRepo{p} }

func (r *MultisigRepo) UpsertTransaction(ctx context.Context, tx domain.MultisigTransaction) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO multisig_transactions (safe_tx_hash, safe, "to", value, data, operation, safe_tx_gas,
			base_gas, gas_price, gas_token, refund_receiver, nonce, signatures, origin, trusted, ethereum_tx)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (safe_tx_hash) DO UPDATE
		SET signatures = COALESCE(EXCLUDED.signatures, multisig_transactions.signatures),
		    ethereum_tx = COALESCE(EXCLUDED.ethereum_tx, multisig_transactions.ethereum_tx),
		    trusted = multisig_transactions.trusted OR EXCLUDED.trusted
	`, hashBytes(tx.SafeTxHash), addrBytes(tx.Safe), addrBytes(tx.To), bigText(tx.Value), tx.Data,
		int(tx.Operation), optBigText(tx.SafeTxGas), optBigText(tx.BaseGas), optBigText(tx.GasPrice),
		addrBytes(tx.GasToken), addrBytes(tx.RefundReceiver), tx.Nonce, tx.Signatures, tx.Origin,
		tx.Trusted, optHashBytes(tx.EthereumTx))
	if err != nil {
		return fmt.Errorf("failed to upsert multisig transaction %s: %w", tx.SafeTxHash, err)
	}
	return nil
}

func (r *MultisigRepo) Transaction(ctx context.Context, safeTxHash common.Hash) (*domain.MultisigTransaction, error) {
	var t domain.MultisigTransaction
	var safeTxHashBytes, safeBytes, to, gasToken, refundReceiver, ethTx []byte
	var value, safeTxGas, baseGas, gasPrice sql.NullString
	var blockNumber sql.NullInt64
	err := r.db.QueryRowContext(ctx, `
		SELECT mt.safe_tx_hash, mt.safe, mt."to", mt.value, mt.data, mt.operation, mt.safe_tx_gas, mt.base_gas,
			mt.gas_price, mt.gas_token, mt.refund_receiver, mt.nonce, mt.signatures, mt.origin, mt.trusted,
			mt.ethereum_tx, et.block_number
		FROM multisig_transactions mt
		LEFT JOIN ethereum_txs et ON et.hash = mt.ethereum_tx
		WHERE mt.safe_tx_hash = $1
	`, hashBytes(safeTxHash)).Scan(&safeTxHashBytes, &safeBytes, &to, &value, &t.Data, &t.Operation,
		&safeTxGas, &baseGas, &gasPrice, &gasToken, &refundReceiver, &t.Nonce, &t.Signatures, &t.Origin,
		&t.Trusted, &ethTx, &blockNumber)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get multisig transaction %s: %w", safeTxHash, err)
	}
	t.SafeTxHash = scanHash(safeTxHashBytes)
	t.Safe = scanAddr(safeBytes)
	t.To = scanAddr(to)
	t.Value = scanBig(value.String)
	t.SafeTxGas = scanOptBig(safeTxGas)
	t.BaseGas = scanOptBig(baseGas)
	t.GasPrice = scanOptBig(gasPrice)
	t.GasToken = scanAddr(gasToken)
	t.RefundReceiver = scanAddr(refundReceiver)
	t.EthereumTx = optHash(ethTx)
	if blockNumber.Valid {
		t.BlockNumber = uint64(blockNumber.Int64)
	}
	return &t, nil
}

func (r *MultisigRepo) InsertConfirmation(ctx context.Context, c domain.MultisigConfirmation) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO multisig_confirmations (safe_tx_hash, owner, signature, signature_type, ethereum_tx, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (safe_tx_hash, owner) DO UPDATE
		SET ethereum_tx = COALESCE(EXCLUDED.ethereum_tx, multisig_confirmations.ethereum_tx)
	`, hashBytes(c.SafeTxHash), addrBytes(c.Owner), c.Signature, string(c.SignatureType),
		optHashBytes(c.EthereumTx), c.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert confirmation for %s by %s: %w", c.SafeTxHash, c.Owner, err)
	}
	return nil
}

func (r *MultisigRepo) HasConfirmation(ctx context.Context, safeTxHash common.Hash, owner common.Address) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM multisig_confirmations WHERE safe_tx_hash = $1 AND owner = $2)
	`, hashBytes(safeTxHash), addrBytes(owner)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check confirmation for %s by %s: %w", safeTxHash, owner, err)
	}
	return exists, nil
}

func (r *MultisigRepo) Confirmations(ctx context.Context, safeTxHash common.Hash) ([]domain.MultisigConfirmation, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT safe_tx_hash, owner, signature, signature_type, ethereum_tx, created_at
		FROM multisig_confirmations WHERE safe_tx_hash = $1
		ORDER BY created_at ASC
	`, hashBytes(safeTxHash))
	if err != nil {
		return nil, fmt.Errorf("failed to query confirmations for %s: %w", safeTxHash, err)
	}
	defer rows.Close()

	var out []domain.MultisigConfirmation
	for rows.Next() {
		var c domain.MultisigConfirmation
		var safeTxHashBytes, owner, ethTx []byte
		var sigType string
		if err := rows.Scan(&safeTxHashBytes, &owner, &c.Signature, &sigType, &ethTx, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan confirmation: %w", err)
		}
		c.SafeTxHash = scanHash(safeTxHashBytes)
		c.Owner = scanAddr(owner)
		c.SignatureType = domain.SignatureType(sigType)
		c.EthereumTx = optHash(ethTx)
		out = append(out, c)
	}
	return out, nil
}

func (r *MultisigRepo) InsertModuleTransaction(ctx context.Context, m domain.ModuleTransaction) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO module_transactions (tx_hash, safe, module, trace_address, block_number, "to", value, data, operation, success)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (tx_hash, trace_address) DO NOTHING
	`, hashBytes(m.TxHash), addrBytes(m.Safe), addrBytes(m.Module), traceAddressKey(m.TraceAddress),
		m.BlockNumber, addrBytes(m.To), bigText(m.Value), m.Data, int(m.Operation), m.Success)
	if err != nil {
		return fmt.Errorf("failed to insert module transaction %s: %w", m.TxHash, err)
	}
	return nil
}

// ClearExecutionFrom un-executes every multisig transaction whose
// ethereum_tx points at a rewound block, returning their safeTxHashes
// so the reorg controller can emit DELETED_MULTISIG_TRANSACTION events
// where appropriate. Must run before BlockRepository.DeleteFrom, whose
// ON DELETE CASCADE on ethereum_txs would otherwise remove the rows
// this join (and module_transactions' delete below) depend on.
func (r *MultisigRepo) ClearExecutionFrom(ctx context.Context, fromBlock uint64) ([]common.Hash, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT mt.safe_tx_hash FROM multisig_transactions mt
		JOIN ethereum_txs et ON et.hash = mt.ethereum_tx
		WHERE et.block_number >= $1
	`, fromBlock)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions from block %d: %w", fromBlock, err)
	}
	var affected []common.Hash
	for rows.Next() {
		var b []byte
		if err := rows.Scan(&b); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan affected safeTxHash: %w", err)
		}
		affected = append(affected, scanHash(b))
	}
	rows.Close()

	_, err = r.db.ExecContext(ctx, `
		UPDATE multisig_transactions SET ethereum_tx = NULL, signatures = NULL
		WHERE ethereum_tx IN (SELECT hash FROM ethereum_txs WHERE block_number >= $1)
	`, fromBlock)
	if err != nil {
		return nil, fmt.Errorf("failed to clear executions from block %d: %w", fromBlock, err)
	}

	if _, err := r.db.ExecContext(ctx, `
		DELETE FROM module_transactions mt USING ethereum_txs et
		WHERE mt.tx_hash = et.hash AND et.block_number >= $1
	`, fromBlock); err != nil {
		return nil, fmt.Errorf("failed to delete module transactions from block %d: %w", fromBlock, err)
	}

	return affected, nil
}

// ClearConfirmationsFrom removes confirmations that were derived only
// from on-chain data (an approveHash observed in a now-rewound block),
// leaving off-chain-proposed signatures (ethereum_tx IS NULL) intact.
// Must run before BlockRepository.DeleteFrom, whose ON DELETE CASCADE
// on ethereum_txs would otherwise remove the rows this join depends on.
func (r *MultisigRepo) ClearConfirmationsFrom(ctx context.Context, fromBlock uint64) error {
	if _, err := r.db.ExecContext(ctx, `
		DELETE FROM multisig_confirmations
		WHERE ethereum_tx IN (SELECT hash FROM ethereum_txs WHERE block_number >= $1)
	`, fromBlock); err != nil {
		return fmt.Errorf("failed to clear confirmations from block %d: %w", fromBlock, err)
	}
	return nil
}

func (r *MultisigRepo) ModuleTransactionsForSafe(ctx context.Context, safe common.Address) ([]domain.ModuleTransaction, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT tx_hash, safe, module, trace_address, block_number, "to", value, data, operation, success
		FROM module_transactions WHERE safe = $1
		ORDER BY block_number DESC
	`, addrBytes(safe))
	if err != nil {
		return nil, fmt.Errorf("failed to query module transactions for %s: %w", safe, err)
	}
	defer rows.Close()

	var out []domain.ModuleTransaction
	for rows.Next() {
		var m domain.ModuleTransaction
		var txHash, safeBytes, module, to []byte
		var value string
		var traceKey string
		if err := rows.Scan(&txHash, &safeBytes, &module, &traceKey, &m.BlockNumber, &to, &value, &m.Data, &m.Operation, &m.Success); err != nil {
			return nil, fmt.Errorf("failed to scan module transaction: %w", err)
		}
		m.TxHash = scanHash(txHash)
		m.Safe = scanAddr(safeBytes)
		m.Module = scanAddr(module)
		m.To = scanAddr(to)
		m.Value = scanBig(value)
		out = append(out, m)
	}
	return out, nil
}

func (r *MultisigRepo) TransactionsForSafe(ctx context.Context, safe common.Address) ([]domain.MultisigTransaction, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT mt.safe_tx_hash, mt.safe, mt."to", mt.value, mt.data, mt.operation, mt.safe_tx_gas, mt.base_gas,
			mt.gas_price, mt.gas_token, mt.refund_receiver, mt.nonce, mt.signatures, mt.origin, mt.trusted,
			mt.ethereum_tx, et.block_number
		FROM multisig_transactions mt
		LEFT JOIN ethereum_txs et ON et.hash = mt.ethereum_tx
		WHERE mt.safe = $1
		ORDER BY mt.nonce DESC
	`, addrBytes(safe))
	if err != nil {
		return nil, fmt.Errorf("failed to query multisig transactions for %s: %w", safe, err)
	}
	defer rows.Close()

	var out []domain.MultisigTransaction
	for rows.Next() {
		var t domain.MultisigTransaction
		var safeTxHashBytes, safeBytes, to, gasToken, refundReceiver, ethTx []byte
		var value, safeTxGas, baseGas, gasPrice sql.NullString
		var blockNumber sql.NullInt64
		if err := rows.Scan(&safeTxHashBytes, &safeBytes, &to, &value, &t.Data, &t.Operation,
			&safeTxGas, &baseGas, &gasPrice, &gasToken, &refundReceiver, &t.Nonce, &t.Signatures,
			&t.Origin, &t.Trusted, &ethTx, &blockNumber); err != nil {
			return nil, fmt.Errorf("failed to scan multisig transaction: %w", err)
		}
		t.SafeTxHash = scanHash(safeTxHashBytes)
		t.Safe = scanAddr(safeBytes)
		t.To = scanAddr(to)
		t.Value = scanBig(value.String)
		t.SafeTxGas = scanOptBig(safeTxGas)
		t.BaseGas = scanOptBig(baseGas)
		t.GasPrice = scanOptBig(gasPrice)
		t.GasToken = scanAddr(gasToken)
		t.RefundReceiver = scanAddr(refundReceiver)
		t.EthereumTx = optHash(ethTx)
		if blockNumber.Valid {
			t.BlockNumber = uint64(blockNumber.Int64)
		}
		out = append(out, t)
	}
	return out, nil
}

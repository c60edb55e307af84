package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/safe-global/safe-transaction-service-sub001/internal/domain"
)

// TransferRepo persists ERC-20/ERC-721 transfer rows and the TokenInfo
// classification table the reclassification operation consults.
type TransferRepo struct{ *Postgres }

func NewTransferRepo(p *Postgres) *TransferRepo { return &TransferRepo{p} }

func (r *TransferRepo) InsertERC20(ctx context.Context, transfers []domain.ERC20Transfer) error {
	if len(transfers) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin erc20 insert transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO erc20_transfers (tx_hash, log_index, block_number, token, "from", "to", value)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tx_hash, log_index) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare erc20 transfer insert: %w", err)
	}
	defer stmt.Close()

	for _, t := range transfers {
		if _, err := stmt.ExecContext(ctx, hashBytes(t.TxHash), t.LogIndex, t.BlockNumber,
			addrBytes(t.Token), addrBytes(t.From), addrBytes(t.To), bigText(t.Value)); err != nil {
			return fmt.Errorf("failed to insert erc20 transfer %s/%d: %w", t.TxHash, t.LogIndex, err)
		}
	}
	return tx.Commit()
}

func (r *TransferRepo) InsertERC721(ctx context.Context, transfers []domain.ERC721Transfer) error {
	if len(transfers) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin erc721 insert transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO erc721_transfers (tx_hash, log_index, block_number, token, "from", "to", token_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tx_hash, log_index) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare erc721 transfer insert: %w", err)
	}
	defer stmt.Close()

	for _, t := range transfers {
		if _, err := stmt.ExecContext(ctx, hashBytes(t.TxHash), t.LogIndex, t.BlockNumber,
			addrBytes(t.Token), addrBytes(t.From), addrBytes(t.To), bigText(t.TokenID)); err != nil {
			return fmt.Errorf("failed to insert erc721 transfer %s/%d: %w", t.TxHash, t.LogIndex, err)
		}
	}
	return tx.Commit()
}

func (r *TransferRepo) TokenInfo(ctx context.Context, token common.Address) (*domain.TokenInfo, error) {
	var info domain.TokenInfo
	var addr []byte
	var tokenType string
	err := r.db.QueryRowContext(ctx, `
		SELECT address, token_type, decimals FROM token_info WHERE address = $1
	`, addrBytes(token)).Scan(&addr, &tokenType, &info.Decimals)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get token info for %s: %w", token, err)
	}
	info.Address = scanAddr(addr)
	info.TokenType = domain.TokenType(tokenType)
	return &info, nil
}

func (r *TransferRepo) SetTokenType(ctx context.Context, token common.Address, t domain.TokenType) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO token_info (address, token_type, decimals)
		VALUES ($1, $2, 0)
		ON CONFLICT (address) DO UPDATE SET token_type = EXCLUDED.token_type
	`, addrBytes(token), string(t))
	if err != nil {
		return fmt.Errorf("failed to set token type for %s: %w", token, err)
	}
	return nil
}

// ReclassifyERC20ToERC721 moves every stored transfer for token from the
// erc20_transfers table to erc721_transfers, mapping value into tokenId,
// used when later evidence (e.g. an observed ownerOf call or a
// non-fungible Transfer signature collision) proves the token is ERC-721.
func (r *TransferRepo) ReclassifyERC20ToERC721(ctx context.Context, token common.Address) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin reclassify transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO erc721_transfers (tx_hash, log_index, block_number, token, "from", "to", token_id)
		SELECT tx_hash, log_index, block_number, token, "from", "to", value
		FROM erc20_transfers WHERE token = $1
		ON CONFLICT (tx_hash, log_index) DO NOTHING
	`, addrBytes(token))
	if err != nil {
		return 0, fmt.Errorf("failed to copy transfers to erc721 for %s: %w", token, err)
	}
	n, _ := result.RowsAffected()

	if _, err := tx.ExecContext(ctx, `DELETE FROM erc20_transfers WHERE token = $1`, addrBytes(token)); err != nil {
		return 0, fmt.Errorf("failed to delete erc20 transfers for %s: %w", token, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit reclassify to erc721 for %s: %w", token, err)
	}
	return int(n), nil
}

// ReclassifyERC721ToERC20 is the inverse of ReclassifyERC20ToERC721.
func (r *TransferRepo) ReclassifyERC721ToERC20(ctx context.Context, token common.Address) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin reclassify transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO erc20_transfers (tx_hash, log_index, block_number, token, "from", "to", value)
		SELECT tx_hash, log_index, block_number, token, "from", "to", token_id
		FROM erc721_transfers WHERE token = $1
		ON CONFLICT (tx_hash, log_index) DO NOTHING
	`, addrBytes(token))
	if err != nil {
		return 0, fmt.Errorf("failed to copy transfers to erc20 for %s: %w", token, err)
	}
	n, _ := result.RowsAffected()

	if _, err := tx.ExecContext(ctx, `DELETE FROM erc721_transfers WHERE token = $1`, addrBytes(token)); err != nil {
		return 0, fmt.Errorf("failed to delete erc721 transfers for %s: %w", token, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit reclassify to erc20 for %s: %w", token, err)
	}
	return int(n), nil
}

func (r *TransferRepo) ERC20TransfersForSafe(ctx context.Context, safe common.Address) ([]domain.ERC20Transfer, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT tx_hash, log_index, block_number, token, "from", "to", value
		FROM erc20_transfers WHERE "from" = $1 OR "to" = $1
		ORDER BY block_number DESC
	`, addrBytes(safe))
	if err != nil {
		return nil, fmt.Errorf("failed to query erc20 transfers for %s: %w", safe, err)
	}
	defer rows.Close()

	var out []domain.ERC20Transfer
	for rows.Next() {
		var t domain.ERC20Transfer
		var txHash, token, from, to []byte
		var value string
		if err := rows.Scan(&txHash, &t.LogIndex, &t.BlockNumber, &token, &from, &to, &value); err != nil {
			return nil, fmt.Errorf("failed to scan erc20 transfer: %w", err)
		}
		t.TxHash = scanHash(txHash)
		t.Token = scanAddr(token)
		t.From = scanAddr(from)
		t.To = scanAddr(to)
		t.Value = scanBig(value)
		out = append(out, t)
	}
	return out, nil
}

func (r *TransferRepo) ERC721TransfersForSafe(ctx context.Context, safe common.Address) ([]domain.ERC721Transfer, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT tx_hash, log_index, block_number, token, "from", "to", token_id
		FROM erc721_transfers WHERE "from" = $1 OR "to" = $1
		ORDER BY block_number DESC
	`, addrBytes(safe))
	if err != nil {
		return nil, fmt.Errorf("failed to query erc721 transfers for %s: %w", safe, err)
	}
	defer rows.Close()

	var out []domain.ERC721Transfer
	for rows.Next() {
		var t domain.ERC721Transfer
		var txHash, token, from, to []byte
		var tokenID string
		if err := rows.Scan(&txHash, &t.LogIndex, &t.BlockNumber, &token, &from, &to, &tokenID); err != nil {
			return nil, fmt.Errorf("failed to scan erc721 transfer: %w", err)
		}
		t.TxHash = scanHash(txHash)
		t.Token = scanAddr(token)
		t.From = scanAddr(from)
		t.To = scanAddr(to)
		t.TokenID = scanBig(tokenID)
		out = append(out, t)
	}
	return out, nil
}

func (r *TransferRepo) DeleteFrom(ctx context.Context, fromBlock uint64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM erc20_transfers WHERE block_number >= $1`, fromBlock); err != nil {
		return fmt.Errorf("failed to delete erc20 transfers from block %d: %w", fromBlock, err)
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM erc721_transfers WHERE block_number >= $1`, fromBlock); err != nil {
		return fmt.Errorf("failed to delete erc721 transfers from block %d: %w", fromBlock, err)
	}
	return nil
}

package ports

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/safe-global/safe-transaction-service-sub001/internal/domain"
)

// BlockRepository persists observed blocks and their EVM transactions.
type BlockRepository interface {
	UpsertBlock(ctx context.Context, block domain.Block) error
	UpsertTransactions(ctx context.Context, txs []domain.EthereumTx) error
	BlockByNumber(ctx context.Context, number uint64) (*domain.Block, error)
	UnconfirmedBlocks(ctx context.Context, headBlock, reorgDepth uint64) ([]domain.Block, error)
	MarkConfirmed(ctx context.Context, upTo uint64) error
	DeleteFrom(ctx context.Context, fromBlock uint64) error
}

// CursorRepository tracks per-indexer high-water marks.
type CursorRepository interface {
	Get(ctx context.Context, kind domain.IndexerKind) (uint64, error)
	Advance(ctx context.Context, kind domain.IndexerKind, toBlock uint64) error
	RewindIfAbove(ctx context.Context, kind domain.IndexerKind, ceiling uint64) error
}

// QueueRepository is the Decoded-Call Queue persistence seam.
type QueueRepository interface {
	Enqueue(ctx context.Context, calls []domain.InternalTxDecoded) error
	PendingSafes(ctx context.Context) ([]common.Address, error)
	PendingFor(ctx context.Context, safe common.Address) ([]domain.InternalTxDecoded, error)
	MarkProcessed(ctx context.Context, ids []domain.InternalTxRef) error
	DeleteFrom(ctx context.Context, fromBlock uint64) error
}

// SafeRepository persists Safe contracts and their replayed state.
type SafeRepository interface {
	UpsertSafeContract(ctx context.Context, safe domain.SafeContract) error
	SafeContract(ctx context.Context, address common.Address) (*domain.SafeContract, error)
	InsertSafeStatus(ctx context.Context, status domain.SafeStatus) error
	LastSafeStatus(ctx context.Context, safe common.Address) (*domain.SafeStatus, error)
	UpsertLastStatus(ctx context.Context, status domain.SafeLastStatus) error
	LastStatus(ctx context.Context, safe common.Address) (*domain.SafeLastStatus, error)
	DeleteStatusFrom(ctx context.Context, safe common.Address, fromBlock uint64) error
	DeleteAllStatus(ctx context.Context, safe common.Address) error
	// SafesWithStatusFrom lists every Safe with at least one SafeStatus
	// row at or above fromBlock, for the Reorg Controller's rewind pass
	// — it needs to know which Safes to re-replay, not just which
	// blocks to delete.
	SafesWithStatusFrom(ctx context.Context, fromBlock uint64) ([]common.Address, error)
}

// MultisigRepository persists MultisigTransaction, MultisigConfirmation,
// and ModuleTransaction rows.
type MultisigRepository interface {
	UpsertTransaction(ctx context.Context, tx domain.MultisigTransaction) error
	Transaction(ctx context.Context, safeTxHash common.Hash) (*domain.MultisigTransaction, error)
	InsertConfirmation(ctx context.Context, c domain.MultisigConfirmation) error
	HasConfirmation(ctx context.Context, safeTxHash common.Hash, owner common.Address) (bool, error)
	Confirmations(ctx context.Context, safeTxHash common.Hash) ([]domain.MultisigConfirmation, error)
	InsertModuleTransaction(ctx context.Context, m domain.ModuleTransaction) error
	ClearExecutionFrom(ctx context.Context, fromBlock uint64) ([]common.Hash, error)
	ClearConfirmationsFrom(ctx context.Context, fromBlock uint64) error
	ModuleTransactionsForSafe(ctx context.Context, safe common.Address) ([]domain.ModuleTransaction, error)
	TransactionsForSafe(ctx context.Context, safe common.Address) ([]domain.MultisigTransaction, error)
}

// DelegateRepository persists SafeContractDelegate rows.
type DelegateRepository interface {
	Upsert(ctx context.Context, d domain.SafeContractDelegate) error
	Remove(ctx context.Context, safe *common.Address, delegator, delegate common.Address) error
	ForDelegator(ctx context.Context, safe *common.Address, delegator common.Address) ([]domain.SafeContractDelegate, error)
	IsDelegate(ctx context.Context, safe common.Address, delegator, candidate common.Address) (bool, error)
}

// TransferRepository persists ERC-20/ERC-721 transfer rows and supports
// reclassification between the two tables.
type TransferRepository interface {
	InsertERC20(ctx context.Context, transfers []domain.ERC20Transfer) error
	InsertERC721(ctx context.Context, transfers []domain.ERC721Transfer) error
	TokenInfo(ctx context.Context, token common.Address) (*domain.TokenInfo, error)
	SetTokenType(ctx context.Context, token common.Address, t domain.TokenType) error
	ReclassifyERC20ToERC721(ctx context.Context, token common.Address) (int, error)
	ReclassifyERC721ToERC20(ctx context.Context, token common.Address) (int, error)
	ERC20TransfersForSafe(ctx context.Context, safe common.Address) ([]domain.ERC20Transfer, error)
	ERC721TransfersForSafe(ctx context.Context, safe common.Address) ([]domain.ERC721Transfer, error)
	DeleteFrom(ctx context.Context, fromBlock uint64) error
}

package ports

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/safe-global/safe-transaction-service-sub001/internal/domain"
)

// LogFilter narrows a getLogs call to a block range, a set of contract
// addresses, and a topic list (outer slice = topic position, inner slice
// = OR'd alternatives at that position, matching eth_getLogs semantics).
type LogFilter struct {
	FromBlock uint64
	ToBlock   uint64
	Addresses []common.Address
	Topics    [][]common.Hash
}

// RPCClient is the typed facade over the EVM JSON-RPC node that every
// indexer and the Safe state machine's corruption spot-check depend on.
// internal/rpcadapter is its only production implementation.
type RPCClient interface {
	HeadBlockNumber(ctx context.Context) (uint64, error)
	BlockByNumber(ctx context.Context, number uint64) (*domain.Block, []domain.EthereumTx, error)
	GetLogs(ctx context.Context, filter LogFilter) ([]domain.EthereumLog, error)
	TransactionReceipts(ctx context.Context, hashes []common.Hash) (map[common.Hash]domain.EthereumTx, error)
	TraceBlock(ctx context.Context, number uint64) ([]domain.InternalTx, error)
	TracesAvailable() bool
	Call(ctx context.Context, to common.Address, data []byte, block uint64) ([]byte, error)
	CodeAt(ctx context.Context, address common.Address, block uint64) ([]byte, error)
	// Balance returns address's native-token balance at block, for the
	// Query Layer's per-Safe balance aggregation.
	Balance(ctx context.Context, address common.Address, block uint64) (*big.Int, error)
}

// BigIntOrZero returns v, or a fresh zero-valued big.Int if v is nil —
// a small guard used throughout the adapter and reconciliation code,
// since RPC responses sometimes omit a quantity field entirely.
func BigIntOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

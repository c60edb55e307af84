package reorg

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/safe-global/safe-transaction-service-sub001/internal/domain"
	"github.com/safe-global/safe-transaction-service-sub001/internal/ports"
)

type noopLogger struct{}

func (noopLogger) Debugw(string, ...interface{}) {}
func (noopLogger) Infow(string, ...interface{})  {}
func (noopLogger) Warnw(string, ...interface{})  {}
func (noopLogger) Errorw(string, ...interface{}) {}
func (noopLogger) Fatalw(string, ...interface{}) {}

// fakeRPC serves a canonical chain keyed by block number.
type fakeRPC struct {
	head      uint64
	canonical map[uint64]domain.Block
}

func (f *fakeRPC) HeadBlockNumber(ctx context.Context) (uint64, error) { return f.head, nil }

func (f *fakeRPC) BlockByNumber(ctx context.Context, number uint64) (*domain.Block, []domain.EthereumTx, error) {
	b, ok := f.canonical[number]
	if !ok {
		return nil, nil, nil
	}
	return &b, nil, nil
}

func (f *fakeRPC) GetLogs(ctx context.Context, filter ports.LogFilter) ([]domain.EthereumLog, error) {
	return nil, nil
}
func (f *fakeRPC) TransactionReceipts(ctx context.Context, hashes []common.Hash) (map[common.Hash]domain.EthereumTx, error) {
	return nil, nil
}
func (f *fakeRPC) TraceBlock(ctx context.Context, number uint64) ([]domain.InternalTx, error) {
	return nil, nil
}
func (f *fakeRPC) TracesAvailable() bool { return false }
func (f *fakeRPC) Call(ctx context.Context, to common.Address, data []byte, block uint64) ([]byte, error) {
	return nil, nil
}
func (f *fakeRPC) CodeAt(ctx context.Context, address common.Address, block uint64) ([]byte, error) {
	return nil, nil
}
func (f *fakeRPC) Balance(ctx context.Context, address common.Address, block uint64) (*big.Int, error) {
	return new(big.Int), nil
}

// fakeLocks is an always-free ports.LockManager.
type fakeLocks struct{ heldNames map[string]bool }

type fakeLock struct{}

func (fakeLock) Release(ctx context.Context) error { return nil }

func (f *fakeLocks) TryAcquire(ctx context.Context, name string, ttl time.Duration) (ports.Lock, bool, error) {
	if f.heldNames != nil && f.heldNames[name] {
		return nil, false, nil
	}
	return fakeLock{}, true, nil
}
func (f *fakeLocks) Acquire(ctx context.Context, name string, ttl time.Duration) (ports.Lock, error) {
	return fakeLock{}, nil
}

// cascade models the one piece of real-Postgres behavior the other
// fakes can't: blocks.DeleteFrom's ON DELETE CASCADE wipes ethereum_txs
// rows before any later fake call runs, so a multisig fake consulted
// after cascade fires must behave as if its ethereum_txs join matched
// nothing — exactly like the real FK cascade would.
type cascade struct{ ethereumTxsGone bool }

type fakeBlocks struct {
	unconfirmed []domain.Block
	deletedFrom []uint64
	confirmedTo []uint64
	cascade     *cascade
}

func (f *fakeBlocks) UpsertBlock(ctx context.Context, block domain.Block) error { return nil }
func (f *fakeBlocks) UpsertTransactions(ctx context.Context, txs []domain.EthereumTx) error {
	return nil
}
func (f *fakeBlocks) BlockByNumber(ctx context.Context, number uint64) (*domain.Block, error) {
	return nil, nil
}
func (f *fakeBlocks) UnconfirmedBlocks(ctx context.Context, headBlock, reorgDepth uint64) ([]domain.Block, error) {
	return f.unconfirmed, nil
}
func (f *fakeBlocks) MarkConfirmed(ctx context.Context, upTo uint64) error {
	f.confirmedTo = append(f.confirmedTo, upTo)
	return nil
}
func (f *fakeBlocks) DeleteFrom(ctx context.Context, fromBlock uint64) error {
	f.deletedFrom = append(f.deletedFrom, fromBlock)
	if f.cascade != nil {
		f.cascade.ethereumTxsGone = true
	}
	return nil
}

type fakeCursors struct{ rewoundTo map[domain.IndexerKind]uint64 }

func (f *fakeCursors) Get(ctx context.Context, kind domain.IndexerKind) (uint64, error) { return 0, nil }
func (f *fakeCursors) Advance(ctx context.Context, kind domain.IndexerKind, toBlock uint64) error {
	return nil
}
func (f *fakeCursors) RewindIfAbove(ctx context.Context, kind domain.IndexerKind, ceiling uint64) error {
	if f.rewoundTo == nil {
		f.rewoundTo = make(map[domain.IndexerKind]uint64)
	}
	f.rewoundTo[kind] = ceiling
	return nil
}

type fakeQueue struct{ deletedFrom []uint64 }

func (f *fakeQueue) Enqueue(ctx context.Context, calls []domain.InternalTxDecoded) error { return nil }
func (f *fakeQueue) PendingSafes(ctx context.Context) ([]common.Address, error)          { return nil, nil }
func (f *fakeQueue) PendingFor(ctx context.Context, safe common.Address) ([]domain.InternalTxDecoded, error) {
	return nil, nil
}
func (f *fakeQueue) MarkProcessed(ctx context.Context, ids []domain.InternalTxRef) error { return nil }
func (f *fakeQueue) DeleteFrom(ctx context.Context, fromBlock uint64) error {
	f.deletedFrom = append(f.deletedFrom, fromBlock)
	return nil
}

type fakeTransfers struct{ deletedFrom []uint64 }

func (f *fakeTransfers) InsertERC20(ctx context.Context, transfers []domain.ERC20Transfer) error {
	return nil
}
func (f *fakeTransfers) InsertERC721(ctx context.Context, transfers []domain.ERC721Transfer) error {
	return nil
}
func (f *fakeTransfers) TokenInfo(ctx context.Context, token common.Address) (*domain.TokenInfo, error) {
	return nil, nil
}
func (f *fakeTransfers) SetTokenType(ctx context.Context, token common.Address, t domain.TokenType) error {
	return nil
}
func (f *fakeTransfers) ReclassifyERC20ToERC721(ctx context.Context, token common.Address) (int, error) {
	return 0, nil
}
func (f *fakeTransfers) ReclassifyERC721ToERC20(ctx context.Context, token common.Address) (int, error) {
	return 0, nil
}
func (f *fakeTransfers) ERC20TransfersForSafe(ctx context.Context, safe common.Address) ([]domain.ERC20Transfer, error) {
	return nil, nil
}
func (f *fakeTransfers) ERC721TransfersForSafe(ctx context.Context, safe common.Address) ([]domain.ERC721Transfer, error) {
	return nil, nil
}
func (f *fakeTransfers) DeleteFrom(ctx context.Context, fromBlock uint64) error {
	f.deletedFrom = append(f.deletedFrom, fromBlock)
	return nil
}

type fakeSafes struct {
	withStatus    []common.Address
	remaining     map[common.Address]*domain.SafeStatus
	deletedFrom   map[common.Address]uint64
	upsertedLast  map[common.Address]domain.SafeLastStatus
	deletedAll    map[common.Address]bool
}

func (f *fakeSafes) UpsertSafeContract(ctx context.Context, safe domain.SafeContract) error {
	return nil
}
func (f *fakeSafes) SafeContract(ctx context.Context, address common.Address) (*domain.SafeContract, error) {
	return nil, nil
}
func (f *fakeSafes) InsertSafeStatus(ctx context.Context, status domain.SafeStatus) error {
	return nil
}
func (f *fakeSafes) LastSafeStatus(ctx context.Context, safe common.Address) (*domain.SafeStatus, error) {
	if f.remaining == nil {
		return nil, nil
	}
	return f.remaining[safe], nil
}
func (f *fakeSafes) UpsertLastStatus(ctx context.Context, status domain.SafeLastStatus) error {
	if f.upsertedLast == nil {
		f.upsertedLast = make(map[common.Address]domain.SafeLastStatus)
	}
	f.upsertedLast[status.Safe] = status
	return nil
}
func (f *fakeSafes) LastStatus(ctx context.Context, safe common.Address) (*domain.SafeLastStatus, error) {
	return nil, nil
}
func (f *fakeSafes) DeleteStatusFrom(ctx context.Context, safe common.Address, fromBlock uint64) error {
	if f.deletedFrom == nil {
		f.deletedFrom = make(map[common.Address]uint64)
	}
	f.deletedFrom[safe] = fromBlock
	return nil
}
func (f *fakeSafes) DeleteAllStatus(ctx context.Context, safe common.Address) error {
	if f.deletedAll == nil {
		f.deletedAll = make(map[common.Address]bool)
	}
	f.deletedAll[safe] = true
	return nil
}
func (f *fakeSafes) SafesWithStatusFrom(ctx context.Context, fromBlock uint64) ([]common.Address, error) {
	return f.withStatus, nil
}

type fakeMultisig struct {
	clearedFrom              []uint64
	clearedConfirmationsFrom []uint64
	executedHashes           []common.Hash
	cascade                  *cascade
}

func (f *fakeMultisig) UpsertTransaction(ctx context.Context, tx domain.MultisigTransaction) error {
	return nil
}
func (f *fakeMultisig) Transaction(ctx context.Context, safeTxHash common.Hash) (*domain.MultisigTransaction, error) {
	return nil, nil
}
func (f *fakeMultisig) InsertConfirmation(ctx context.Context, c domain.MultisigConfirmation) error {
	return nil
}
func (f *fakeMultisig) HasConfirmation(ctx context.Context, safeTxHash common.Hash, owner common.Address) (bool, error) {
	return false, nil
}
func (f *fakeMultisig) Confirmations(ctx context.Context, safeTxHash common.Hash) ([]domain.MultisigConfirmation, error) {
	return nil, nil
}
func (f *fakeMultisig) InsertModuleTransaction(ctx context.Context, m domain.ModuleTransaction) error {
	return nil
}
func (f *fakeMultisig) ClearExecutionFrom(ctx context.Context, fromBlock uint64) ([]common.Hash, error) {
	if f.cascade != nil && f.cascade.ethereumTxsGone {
		// The ethereum_txs rows this join needed are already gone.
		return nil, nil
	}
	f.clearedFrom = append(f.clearedFrom, fromBlock)
	return f.executedHashes, nil
}
func (f *fakeMultisig) ClearConfirmationsFrom(ctx context.Context, fromBlock uint64) error {
	if f.cascade != nil && f.cascade.ethereumTxsGone {
		return nil
	}
	f.clearedConfirmationsFrom = append(f.clearedConfirmationsFrom, fromBlock)
	return nil
}
func (f *fakeMultisig) ModuleTransactionsForSafe(ctx context.Context, safe common.Address) ([]domain.ModuleTransaction, error) {
	return nil, nil
}
func (f *fakeMultisig) TransactionsForSafe(ctx context.Context, safe common.Address) ([]domain.MultisigTransaction, error) {
	return nil, nil
}

func TestTick_NoDivergence_MarksConfirmed(t *testing.T) {
	rpc := &fakeRPC{head: 100, canonical: map[uint64]domain.Block{
		90: {Number: 90, Hash: common.HexToHash("0xaa")},
	}}
	blocks := &fakeBlocks{unconfirmed: []domain.Block{{Number: 90, Hash: common.HexToHash("0xaa")}}}
	cursors := &fakeCursors{}
	queue := &fakeQueue{}
	safes := &fakeSafes{}
	multi := &fakeMultisig{}
	transfers := &fakeTransfers{}

	c := NewController(rpc, blocks, cursors, queue, safes, multi, transfers, &fakeLocks{}, nil, 10, 10, noopLogger{})

	handled, err := c.Tick(context.Background())
	require.NoError(t, err)
	require.False(t, handled)
	require.Equal(t, []uint64{90}, blocks.confirmedTo)
	require.Empty(t, blocks.deletedFrom)
}

func TestTick_Divergence_CascadesRewind(t *testing.T) {
	rpc := &fakeRPC{head: 100, canonical: map[uint64]domain.Block{
		90: {Number: 90, Hash: common.HexToHash("0xbb")}, // differs from stored 0xaa
	}}
	blocks := &fakeBlocks{unconfirmed: []domain.Block{{Number: 90, Hash: common.HexToHash("0xaa")}}}
	cursors := &fakeCursors{}
	queue := &fakeQueue{}
	safeAddr := common.HexToAddress("0x1111111111111111111111111111111111111111")
	safes := &fakeSafes{
		withStatus: []common.Address{safeAddr},
		remaining: map[common.Address]*domain.SafeStatus{
			safeAddr: {Safe: safeAddr, Nonce: 3, State: domain.SafeState{Threshold: 2}},
		},
	}
	multi := &fakeMultisig{}
	transfers := &fakeTransfers{}

	c := NewController(rpc, blocks, cursors, queue, safes, multi, transfers, &fakeLocks{}, nil, 10, 10, noopLogger{})

	handled, err := c.Tick(context.Background())
	require.NoError(t, err)
	require.True(t, handled)

	require.Equal(t, []uint64{90}, blocks.deletedFrom)
	require.Equal(t, []uint64{90}, queue.deletedFrom)
	require.Equal(t, []uint64{90}, transfers.deletedFrom)
	require.Equal(t, []uint64{90}, multi.clearedFrom)

	// ceiling = divergedAt(90) - rewindBlocks(10) = 80
	for _, kind := range []domain.IndexerKind{
		domain.IndexerProxyFactories, domain.IndexerSafeEvents,
		domain.IndexerInternalTxTraces, domain.IndexerERC20721Events,
	} {
		require.Equal(t, uint64(80), cursors.rewoundTo[kind])
	}

	require.Equal(t, uint64(80), safes.deletedFrom[safeAddr])
	require.Equal(t, domain.SafeState{Threshold: 2}, safes.upsertedLast[safeAddr].State)
}

// TestTick_Divergence_ClearsMultisigStateBeforeCascadingBlockDelete
// guards against running blocks.DeleteFrom before
// multi.ClearExecutionFrom/ClearConfirmationsFrom: in real Postgres,
// blocks.DeleteFrom cascades onto ethereum_txs (schema.sql's ON DELETE
// CASCADE), and both multisig clears join against ethereum_txs. Run in
// the wrong order, the joins match zero rows and rewound executions
// and on-chain confirmations are silently left in place.
func TestTick_Divergence_ClearsMultisigStateBeforeCascadingBlockDelete(t *testing.T) {
	rpc := &fakeRPC{head: 100, canonical: map[uint64]domain.Block{
		90: {Number: 90, Hash: common.HexToHash("0xbb")},
	}}
	shared := &cascade{}
	blocks := &fakeBlocks{unconfirmed: []domain.Block{{Number: 90, Hash: common.HexToHash("0xaa")}}, cascade: shared}
	executedHash := common.HexToHash("0xdeadbeef")
	multi := &fakeMultisig{cascade: shared, executedHashes: []common.Hash{executedHash}}

	c := NewController(rpc, blocks, &fakeCursors{}, &fakeQueue{}, &fakeSafes{}, multi, &fakeTransfers{},
		&fakeLocks{}, nil, 10, 10, noopLogger{})

	handled, err := c.Tick(context.Background())
	require.NoError(t, err)
	require.True(t, handled)

	require.Equal(t, []uint64{90}, multi.clearedFrom, "ClearExecutionFrom must run before the ethereum_txs cascade")
	require.Equal(t, []uint64{90}, multi.clearedConfirmationsFrom, "ClearConfirmationsFrom must run before the ethereum_txs cascade")
	require.Equal(t, []uint64{90}, blocks.deletedFrom)
}

func TestTick_Divergence_ClearsLastStatusWhenNoneRemains(t *testing.T) {
	rpc := &fakeRPC{head: 100, canonical: map[uint64]domain.Block{
		90: {Number: 90, Hash: common.HexToHash("0xbb")},
	}}
	blocks := &fakeBlocks{unconfirmed: []domain.Block{{Number: 90, Hash: common.HexToHash("0xaa")}}}
	safeAddr := common.HexToAddress("0x2222222222222222222222222222222222222222")
	safes := &fakeSafes{withStatus: []common.Address{safeAddr}}

	c := NewController(rpc, blocks, &fakeCursors{}, &fakeQueue{}, safes, &fakeMultisig{}, &fakeTransfers{},
		&fakeLocks{}, nil, 10, 10, noopLogger{})

	_, err := c.Tick(context.Background())
	require.NoError(t, err)
	require.True(t, safes.deletedAll[safeAddr])
}

func TestTick_LockHeld_DropsTick(t *testing.T) {
	rpc := &fakeRPC{head: 100}
	blocks := &fakeBlocks{}
	c := NewController(rpc, blocks, &fakeCursors{}, &fakeQueue{}, &fakeSafes{}, &fakeMultisig{}, &fakeTransfers{},
		&fakeLocks{heldNames: map[string]bool{globalLockName: true}}, nil, 10, 10, noopLogger{})

	handled, err := c.Tick(context.Background())
	require.NoError(t, err)
	require.False(t, handled)
	require.Empty(t, blocks.confirmedTo)
}

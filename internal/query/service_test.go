package query

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/safe-global/safe-transaction-service-sub001/internal/domain"
	"github.com/safe-global/safe-transaction-service-sub001/internal/ports"
)

type fakeRPC struct {
	head       uint64
	balance    *big.Int
	callResult map[common.Address]*big.Int
}

func (f *fakeRPC) HeadBlockNumber(ctx context.Context) (uint64, error) { return f.head, nil }
func (f *fakeRPC) BlockByNumber(ctx context.Context, number uint64) (*domain.Block, []domain.EthereumTx, error) {
	return nil, nil, nil
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
	v := f.callResult[to]
	if v == nil {
		return nil, nil
	}
	return common.LeftPadBytes(v.Bytes(), 32), nil
}
func (f *fakeRPC) CodeAt(ctx context.Context, address common.Address, block uint64) ([]byte, error) {
	return nil, nil
}
func (f *fakeRPC) Balance(ctx context.Context, address common.Address, block uint64) (*big.Int, error) {
	return f.balance, nil
}

type fakeTransfers struct {
	erc20  []domain.ERC20Transfer
	erc721 []domain.ERC721Transfer
	tokens map[common.Address]*domain.TokenInfo
}

func (f *fakeTransfers) InsertERC20(ctx context.Context, transfers []domain.ERC20Transfer) error {
	return nil
}
func (f *fakeTransfers) InsertERC721(ctx context.Context, transfers []domain.ERC721Transfer) error {
	return nil
}
func (f *fakeTransfers) TokenInfo(ctx context.Context, token common.Address) (*domain.TokenInfo, error) {
	if f.tokens == nil {
		return nil, nil
	}
	return f.tokens[token], nil
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
	return f.erc20, nil
}
func (f *fakeTransfers) ERC721TransfersForSafe(ctx context.Context, safe common.Address) ([]domain.ERC721Transfer, error) {
	return f.erc721, nil
}
func (f *fakeTransfers) DeleteFrom(ctx context.Context, fromBlock uint64) error { return nil }

type fakeMultisig struct {
	txs     []domain.MultisigTransaction
	modules []domain.ModuleTransaction
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
	return nil, nil
}
func (f *fakeMultisig) ClearConfirmationsFrom(ctx context.Context, fromBlock uint64) error {
	return nil
}
func (f *fakeMultisig) ModuleTransactionsForSafe(ctx context.Context, safe common.Address) ([]domain.ModuleTransaction, error) {
	return f.modules, nil
}
func (f *fakeMultisig) TransactionsForSafe(ctx context.Context, safe common.Address) ([]domain.MultisigTransaction, error) {
	return f.txs, nil
}

var safeAddr = common.HexToAddress("0x3333333333333333333333333333333333333333")

func TestBalances_ReturnsNativeAndERC20(t *testing.T) {
	token := common.HexToAddress("0x4444444444444444444444444444444444444444")
	rpc := &fakeRPC{head: 50, balance: big.NewInt(1000), callResult: map[common.Address]*big.Int{token: big.NewInt(42)}}
	transfers := &fakeTransfers{
		erc20:  []domain.ERC20Transfer{{Token: token, From: safeAddr, To: common.Address{}, Value: big.NewInt(1)}},
		tokens: map[common.Address]*domain.TokenInfo{token: {Address: token, TokenType: domain.TokenTypeERC20, Decimals: 18}},
	}
	svc := NewService(rpc, &fakeMultisig{}, transfers)

	balances, err := svc.Balances(context.Background(), safeAddr)
	require.NoError(t, err)
	require.Len(t, balances, 2)
	require.Equal(t, common.Address{}, balances[0].Token)
	require.Equal(t, big.NewInt(1000), balances[0].Balance)
	require.Equal(t, token, balances[1].Token)
	require.Equal(t, big.NewInt(42), balances[1].Balance)
	require.Equal(t, domain.TokenTypeERC20, balances[1].TokenType)
}

func TestAllTransactions_MergesAndOrdersDescending(t *testing.T) {
	hash1 := common.HexToHash("0x01")
	multisigExecuted := domain.MultisigTransaction{SafeTxHash: hash1, Safe: safeAddr, EthereumTx: &hash1, BlockNumber: 10}
	multisigPending := domain.MultisigTransaction{SafeTxHash: common.HexToHash("0x02"), Safe: safeAddr, BlockNumber: 0}
	module := domain.ModuleTransaction{TxHash: common.HexToHash("0x03"), Safe: safeAddr, BlockNumber: 20}

	// LogIndex tiebreak: erc20 (logIndex 5) outranks module (logIndex 0) at the same block.
	transfers := &fakeTransfers{
		erc20: []domain.ERC20Transfer{{TxHash: common.HexToHash("0x04"), BlockNumber: 20, LogIndex: 5, Token: common.Address{}}},
	}
	multi := &fakeMultisig{
		txs:     []domain.MultisigTransaction{multisigExecuted, multisigPending},
		modules: []domain.ModuleTransaction{module},
	}
	svc := NewService(&fakeRPC{}, multi, transfers)

	entries, err := svc.AllTransactions(context.Background(), safeAddr, 0, 10)
	require.NoError(t, err)
	require.Len(t, entries, 3, "the unexecuted multisig proposal must be excluded from the merge")

	// Expected order: erc20@20/logIndex5, module@20/logIndex0, multisig@10.
	require.Equal(t, entryERC20, entries[0].Kind)
	require.Equal(t, entryModule, entries[1].Kind)
	require.Equal(t, entryMultisig, entries[2].Kind)
}

func TestAllTransactions_Pagination(t *testing.T) {
	multi := &fakeMultisig{
		modules: []domain.ModuleTransaction{
			{TxHash: common.HexToHash("0x01"), BlockNumber: 30},
			{TxHash: common.HexToHash("0x02"), BlockNumber: 20},
			{TxHash: common.HexToHash("0x03"), BlockNumber: 10},
		},
	}
	svc := NewService(&fakeRPC{}, multi, &fakeTransfers{})

	page, err := svc.AllTransactions(context.Background(), safeAddr, 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, uint64(20), page[0].BlockNumber)

	page, err = svc.AllTransactions(context.Background(), safeAddr, 10, 1)
	require.NoError(t, err)
	require.Nil(t, page)
}

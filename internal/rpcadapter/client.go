// Package rpcadapter is the thin typed facade over the EVM JSON-RPC node
// described in spec.md section 4.1: it normalizes hex encodings,
// batches primitives, and classifies failures as transient, quota, or
// permanent so callers never branch on raw JSON-RPC error shapes.
package rpcadapter

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/safe-global/safe-transaction-service-sub001/internal/domain"
	"github.com/safe-global/safe-transaction-service-sub001/internal/ports"
)

// Adapter implements ports.RPCClient over go-ethereum's ethclient for
// the standard JSON-RPC surface and a raw rpc.Client for trace_block/
// trace_filter, which ethclient does not expose.
type Adapter struct {
	eth         *ethclient.Client
	raw         *rpc.Client
	tracingRaw  *rpc.Client
	backoff     BackoffPolicy
	hasTraces   bool
	logger      ports.Logger
}

// Dial connects to url (and, if non-empty, a separate tracingURL for
// trace_block/trace_filter) and probes trace availability once.
func Dial(ctx context.Context, url, tracingURL string, logger ports.Logger) (*Adapter, error) {
	raw, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, &PermanentError{Op: "dial", Err: err}
	}
	tracingRaw := raw
	if tracingURL != "" {
		tr, err := rpc.DialContext(ctx, tracingURL)
		if err != nil {
			return nil, &PermanentError{Op: "dial-tracing", Err: err}
		}
		tracingRaw = tr
	}

	a := &Adapter{
		eth:        ethclient.NewClient(raw),
		raw:        raw,
		tracingRaw: tracingRaw,
		backoff:    DefaultBackoff,
		logger:     logger,
	}
	a.hasTraces = a.probeTraces(ctx)
	return a, nil
}

// probeTraces issues a harmless trace_block(0) call and treats a method-
// not-found error as "traces unavailable" without failing startup —
// indexerMode=auto depends on this to fall back to events mode.
func (a *Adapter) probeTraces(ctx context.Context) bool {
	var result []interface{}
	err := a.tracingRaw.CallContext(ctx, &result, "trace_block", hexutil.EncodeUint64(0))
	if err == nil {
		return true
	}
	if isMethodNotFound(err) {
		a.logger.Warnw("trace_block unavailable, falling back to events mode", "error", err.Error())
		return false
	}
	// Any other error (including a transient one) is treated optimistically
	// as "traces exist but this probe call failed"; indexerMode=auto only
	// needs a firm "no" to fall back.
	return true
}

func isMethodNotFound(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "method not found") || strings.Contains(msg, "not supported") || strings.Contains(msg, "unknown method")
}

func (a *Adapter) TracesAvailable() bool { return a.hasTraces }

func (a *Adapter) HeadBlockNumber(ctx context.Context) (uint64, error) {
	var head uint64
	err := Retry(ctx, a.backoff, func() error {
		n, err := a.eth.BlockNumber(ctx)
		if err != nil {
			return classify("eth_blockNumber", err)
		}
		head = n
		return nil
	})
	return head, err
}

func (a *Adapter) BlockByNumber(ctx context.Context, number uint64) (*domain.Block, []domain.EthereumTx, error) {
	var block *types.Block
	err := Retry(ctx, a.backoff, func() error {
		b, err := a.eth.BlockByNumber(ctx, new(big.Int).SetUint64(number))
		if err != nil {
			return classify("eth_getBlockByNumber", err)
		}
		block = b
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	blk := &domain.Block{
		Number:     block.NumberU64(),
		Hash:       block.Hash(),
		ParentHash: block.ParentHash(),
		Timestamp:  time.Unix(int64(block.Time()), 0).UTC(),
	}

	txs := make([]domain.EthereumTx, 0, len(block.Transactions()))
	hashes := make([]common.Hash, 0, len(block.Transactions()))
	for _, tx := range block.Transactions() {
		hashes = append(hashes, tx.Hash())
	}
	receipts, err := a.TransactionReceipts(ctx, hashes)
	if err != nil {
		return nil, nil, err
	}
	signer := types.LatestSignerForChainID(block.Number())
	for i, tx := range block.Transactions() {
		from, _ := types.Sender(signer, tx)
		receipt := receipts[tx.Hash()]
		receipt.BlockNumber = blk.Number
		receipt.TransactionIndex = uint(i)
		receipt.From = from
		receipt.To = tx.To()
		receipt.Value = tx.Value()
		receipt.Input = tx.Data()
		receipt.Nonce = tx.Nonce()
		receipt.Type = tx.Type()
		receipt.GasPrice = tx.GasPrice()
		receipt.MaxFeePerGas = tx.GasFeeCap()
		receipt.MaxPriorityFee = tx.GasTipCap()
		receipt.Hash = tx.Hash()
		txs = append(txs, receipt)
	}
	return blk, txs, nil
}

func (a *Adapter) GetLogs(ctx context.Context, filter ports.LogFilter) ([]domain.EthereumLog, error) {
	q := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(filter.FromBlock),
		ToBlock:   new(big.Int).SetUint64(filter.ToBlock),
		Addresses: filter.Addresses,
		Topics:    filter.Topics,
	}
	var logs []types.Log
	err := Retry(ctx, a.backoff, func() error {
		l, err := a.eth.FilterLogs(ctx, q)
		if err != nil {
			if strings.Contains(strings.ToLower(err.Error()), "too many results") ||
				strings.Contains(strings.ToLower(err.Error()), "query returned more than") {
				return &PermanentError{Op: "eth_getLogs", Err: ErrTooManyResults}
			}
			return classify("eth_getLogs", err)
		}
		logs = l
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.EthereumLog, 0, len(logs))
	for _, lg := range logs {
		out = append(out, domain.EthereumLog{
			LogIndex:    lg.Index,
			Address:     lg.Address,
			Topics:      lg.Topics,
			Data:        lg.Data,
			BlockNumber: lg.BlockNumber,
			TxHash:      lg.TxHash,
			TxIndex:     lg.TxIndex,
		})
	}
	return out, nil
}

func (a *Adapter) TransactionReceipts(ctx context.Context, hashes []common.Hash) (map[common.Hash]domain.EthereumTx, error) {
	out := make(map[common.Hash]domain.EthereumTx, len(hashes))
	for _, h := range hashes {
		var receipt *types.Receipt
		err := Retry(ctx, a.backoff, func() error {
			r, err := a.eth.TransactionReceipt(ctx, h)
			if err != nil {
				return classify("eth_getTransactionReceipt", err)
			}
			receipt = r
			return nil
		})
		if err != nil {
			return nil, err
		}
		logs := make([]domain.EthereumLog, 0, len(receipt.Logs))
		for _, lg := range receipt.Logs {
			logs = append(logs, domain.EthereumLog{
				LogIndex: lg.Index,
				Address:  lg.Address,
				Topics:   lg.Topics,
				Data:     lg.Data,
			})
		}
		out[h] = domain.EthereumTx{
			Hash:    h,
			Status:  receipt.Status,
			GasUsed: receipt.GasUsed,
			Logs:    logs,
		}
	}
	return out, nil
}

// traceBlockResult mirrors the subset of the trace_block JSON response
// this adapter consumes.
type traceBlockResult struct {
	Action struct {
		From     common.Address  `json:"from"`
		To       *common.Address `json:"to"`
		Value    *hexutil.Big    `json:"value"`
		Input    hexutil.Bytes   `json:"input"`
		CallType string          `json:"callType"`
	} `json:"action"`
	Result *struct {
		Output hexutil.Bytes `json:"output"`
	} `json:"result"`
	Error        string `json:"error"`
	TraceAddress []int  `json:"traceAddress"`
	TransactionHash common.Hash `json:"transactionHash"`
	TransactionPosition int `json:"transactionPosition"`
	Type string `json:"type"`
}

func (a *Adapter) TraceBlock(ctx context.Context, number uint64) ([]domain.InternalTx, error) {
	if !a.hasTraces {
		return nil, &PermanentError{Op: "trace_block", Err: fmt.Errorf("tracing not available on this provider")}
	}
	var raw []traceBlockResult
	err := Retry(ctx, a.backoff, func() error {
		err := a.tracingRaw.CallContext(ctx, &raw, "trace_block", hexutil.EncodeUint64(number))
		if err != nil {
			return classify("trace_block", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]domain.InternalTx, 0, len(raw))
	for _, r := range raw {
		callType := mapCallType(r.Type, r.Action.CallType)
		itx := domain.InternalTx{
			TxHash:       r.TransactionHash,
			TraceAddress: domain.TraceAddress(r.TraceAddress),
			BlockNumber:  number,
			TxIndex:      uint(r.TransactionPosition),
			From:         r.Action.From,
			To:           r.Action.To,
			Value:        ports.BigIntOrZero((*big.Int)(r.Action.Value)),
			Input:        r.Action.Input,
			CallType:     callType,
			Error:        r.Error,
		}
		if r.Result != nil {
			itx.Output = r.Result.Output
		}
		out = append(out, itx)
	}
	return out, nil
}

func mapCallType(traceType, callType string) domain.CallType {
	switch strings.ToLower(traceType) {
	case "create":
		return domain.CallTypeCreate
	case "create2":
		return domain.CallTypeCreate2
	}
	switch strings.ToLower(callType) {
	case "delegatecall":
		return domain.CallTypeDelegateCall
	case "staticcall":
		return domain.CallTypeStaticCall
	default:
		return domain.CallTypeCall
	}
}

func (a *Adapter) Call(ctx context.Context, to common.Address, data []byte, block uint64) ([]byte, error) {
	var out []byte
	err := Retry(ctx, a.backoff, func() error {
		msg := ethereum.CallMsg{To: &to, Data: data}
		result, err := a.eth.CallContract(ctx, msg, new(big.Int).SetUint64(block))
		if err != nil {
			return classify("eth_call", err)
		}
		out = result
		return nil
	})
	return out, err
}

func (a *Adapter) CodeAt(ctx context.Context, address common.Address, block uint64) ([]byte, error) {
	var out []byte
	err := Retry(ctx, a.backoff, func() error {
		code, err := a.eth.CodeAt(ctx, address, new(big.Int).SetUint64(block))
		if err != nil {
			return classify("eth_getCode", err)
		}
		out = code
		return nil
	})
	return out, err
}

func (a *Adapter) Balance(ctx context.Context, address common.Address, block uint64) (*big.Int, error) {
	var out *big.Int
	err := Retry(ctx, a.backoff, func() error {
		bal, err := a.eth.BalanceAt(ctx, address, new(big.Int).SetUint64(block))
		if err != nil {
			return classify("eth_getBalance", err)
		}
		out = bal
		return nil
	})
	return out, err
}

// classify turns a raw ethclient/rpc error into the adapter's transient/
// quota/permanent taxonomy (spec.md section 4.1).
func classify(op string, err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests") || strings.Contains(msg, "429"):
		return &QuotaError{Op: op, Err: err}
	case strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "eof") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "i/o timeout") ||
		strings.Contains(msg, "502") || strings.Contains(msg, "503") || strings.Contains(msg, "504"):
		return &TransientError{Op: op, Err: err}
	default:
		return &PermanentError{Op: op, Err: err}
	}
}

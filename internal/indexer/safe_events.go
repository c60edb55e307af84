package indexer

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/safe-global/safe-transaction-service-sub001/internal/abidecoder"
	"github.com/safe-global/safe-transaction-service-sub001/internal/domain"
	"github.com/safe-global/safe-transaction-service-sub001/internal/ports"
	"github.com/safe-global/safe-transaction-service-sub001/internal/rpcadapter"
)

// SafeEventsIndexer is the events-mode counterpart to InternalTxIndexer
// (spec.md section 4.2.2): on chains with reliable Safe event emission,
// including most L2s, it converts SafeSetup/AddedOwner/.../SignMsg logs
// into synthetic InternalTxDecoded records without ever calling a trace
// API. A chain runs either this indexer or InternalTxIndexer, never both
// — selected by TracesAvailable() at wiring time in cmd/indexer.
type SafeEventsIndexer struct {
	rpc        ports.RPCClient
	safes      ports.SafeRepository
	queue      ports.QueueRepository
	cursors    ports.CursorRepository
	logger     ports.Logger
	rangeSizer *adaptiveRange
}

func NewSafeEventsIndexer(rpc ports.RPCClient, safes ports.SafeRepository, queue ports.QueueRepository,
	cursors ports.CursorRepository, initialRange, maxRange uint64, logger ports.Logger) *SafeEventsIndexer {
	return &SafeEventsIndexer{
		rpc: rpc, safes: safes, queue: queue, cursors: cursors,
		logger: logger, rangeSizer: newAdaptiveRange(initialRange, maxRange),
	}
}

func (x *SafeEventsIndexer) Tick(ctx context.Context) (bool, error) {
	head, err := x.rpc.HeadBlockNumber(ctx)
	if err != nil {
		return false, fmt.Errorf("safe events indexer: failed to read chain head: %w", err)
	}

	from, err := x.cursors.Get(ctx, domain.IndexerSafeEvents)
	if err != nil {
		return false, fmt.Errorf("safe events indexer: failed to read cursor: %w", err)
	}
	if from >= head {
		return false, nil
	}
	from++

	to := x.rangeSizer.NextTo(from, head)

	logs, err := x.rpc.GetLogs(ctx, ports.LogFilter{
		FromBlock: from,
		ToBlock:   to,
		Topics:    [][]common.Hash{abidecoder.EventTopics()},
	})
	if err != nil {
		if errors.Is(err, rpcadapter.ErrTooManyResults) {
			x.rangeSizer.OnOversized()
			return false, nil
		}
		return false, fmt.Errorf("safe events indexer: failed to fetch logs [%d,%d]: %w", from, to, err)
	}

	var decoded []domain.InternalTxDecoded
	for _, lg := range logs {
		call, ok, err := abidecoder.DecodeEvent(lg.Topics, lg.Data)
		if err != nil {
			x.logger.Warnw("safe events indexer: failed to decode event",
				"address", lg.Address.Hex(), "txHash", lg.TxHash.Hex(), "error", err)
			continue
		}
		if !ok {
			continue
		}

		known, err := x.safes.SafeContract(ctx, lg.Address)
		if err != nil {
			return false, fmt.Errorf("safe events indexer: failed to look up safe %s: %w", lg.Address, err)
		}
		if known == nil {
			if call.Name != "setup" {
				continue
			}
			if err := x.safes.UpsertSafeContract(ctx, domain.SafeContract{
				Address:         lg.Address,
				DeploymentTx:    lg.TxHash,
				DeploymentBlock: lg.BlockNumber,
			}); err != nil {
				return false, fmt.Errorf("safe events indexer: failed to register safe %s from setup event: %w", lg.Address, err)
			}
		}

		decoded = append(decoded, domain.InternalTxDecoded{
			TxHash:       lg.TxHash,
			TraceAddress: domain.TraceAddress{int(lg.LogIndex)},
			BlockNumber:  lg.BlockNumber,
			TxIndex:      lg.TxIndex,
			Safe:         lg.Address,
			FunctionName: call.Name,
			Arguments:    abidecoder.FlattenParams(call.Params),
			Success:      true,
		})
	}

	if len(decoded) > 0 {
		if err := x.queue.Enqueue(ctx, decoded); err != nil {
			return false, fmt.Errorf("safe events indexer: failed to enqueue decoded calls: %w", err)
		}
	}

	if err := x.cursors.Advance(ctx, domain.IndexerSafeEvents, to); err != nil {
		return false, fmt.Errorf("safe events indexer: failed to advance cursor: %w", err)
	}
	x.rangeSizer.OnSuccess()
	return true, nil
}

package indexer

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/safe-global/safe-transaction-service-sub001/internal/domain"
	"github.com/safe-global/safe-transaction-service-sub001/internal/ports"
	"github.com/safe-global/safe-transaction-service-sub001/internal/rpcadapter"
)

// transferTopic is keccak256("Transfer(address,address,uint256)"), shared
// by the ERC-20 and ERC-721 Transfer event signatures; the two are told
// apart by topic arity (spec.md section 4.2.4), not by address.
var transferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// Erc20721Indexer runs a single global cursor over every Transfer log on
// the chain, partitions each into ERC-20 or ERC-721 by indexed-topic
// arity, and records only the transfers that touch a known Safe address
// on either side.
type Erc20721Indexer struct {
	rpc        ports.RPCClient
	safes      ports.SafeRepository
	transfers  ports.TransferRepository
	cursors    ports.CursorRepository
	events     ports.EventPublisher
	logger     ports.Logger
	rangeSizer *adaptiveRange
}

func NewErc20721Indexer(rpc ports.RPCClient, safes ports.SafeRepository, transfers ports.TransferRepository,
	cursors ports.CursorRepository, events ports.EventPublisher, initialRange, maxRange uint64, logger ports.Logger) *Erc20721Indexer {
	return &Erc20721Indexer{
		rpc: rpc, safes: safes, transfers: transfers, cursors: cursors, events: events,
		logger: logger, rangeSizer: newAdaptiveRange(initialRange, maxRange),
	}
}

func (x *Erc20721Indexer) Tick(ctx context.Context) (bool, error) {
	head, err := x.rpc.HeadBlockNumber(ctx)
	if err != nil {
		return false, fmt.Errorf("erc20/721 indexer: failed to read chain head: %w", err)
	}

	from, err := x.cursors.Get(ctx, domain.IndexerERC20721Events)
	if err != nil {
		return false, fmt.Errorf("erc20/721 indexer: failed to read cursor: %w", err)
	}
	if from >= head {
		return false, nil
	}
	from++

	to := x.rangeSizer.NextTo(from, head)

	logs, err := x.rpc.GetLogs(ctx, ports.LogFilter{
		FromBlock: from,
		ToBlock:   to,
		Topics:    [][]common.Hash{{transferTopic}},
	})
	if err != nil {
		if errors.Is(err, rpcadapter.ErrTooManyResults) {
			x.rangeSizer.OnOversized()
			return false, nil
		}
		return false, fmt.Errorf("erc20/721 indexer: failed to fetch logs [%d,%d]: %w", from, to, err)
	}

	var erc20s []domain.ERC20Transfer
	var erc721s []domain.ERC721Transfer
	for _, lg := range logs {
		switch len(lg.Topics) {
		case 3:
			fromAddr, toAddr, ok := transferAddresses(lg)
			if !ok {
				continue
			}
			fromIsSafe, toIsSafe, err := x.knownSafeSides(ctx, fromAddr, toAddr)
			if err != nil {
				return false, err
			}
			if !fromIsSafe && !toIsSafe {
				continue
			}
			value := new(big.Int)
			if len(lg.Data) >= 32 {
				value.SetBytes(lg.Data[:32])
			}
			erc20s = append(erc20s, domain.ERC20Transfer{
				TxHash: lg.TxHash, LogIndex: lg.LogIndex, BlockNumber: lg.BlockNumber,
				Token: lg.Address, From: fromAddr, To: toAddr, Value: value,
			})
			x.publishTransferEvent(ctx, fromAddr, toAddr, fromIsSafe, toIsSafe, lg.BlockNumber, map[string]interface{}{
				"token": lg.Address.Hex(), "txHash": lg.TxHash.Hex(), "logIndex": lg.LogIndex,
				"value": value.String(),
			})
		case 4:
			fromAddr, toAddr, ok := transferAddresses(lg)
			if !ok {
				continue
			}
			fromIsSafe, toIsSafe, err := x.knownSafeSides(ctx, fromAddr, toAddr)
			if err != nil {
				return false, err
			}
			if !fromIsSafe && !toIsSafe {
				continue
			}
			tokenID := new(big.Int).SetBytes(lg.Topics[3].Bytes())
			erc721s = append(erc721s, domain.ERC721Transfer{
				TxHash: lg.TxHash, LogIndex: lg.LogIndex, BlockNumber: lg.BlockNumber,
				Token: lg.Address, From: fromAddr, To: toAddr, TokenID: tokenID,
			})
			x.publishTransferEvent(ctx, fromAddr, toAddr, fromIsSafe, toIsSafe, lg.BlockNumber, map[string]interface{}{
				"token": lg.Address.Hex(), "txHash": lg.TxHash.Hex(), "logIndex": lg.LogIndex,
				"tokenId": tokenID.String(),
			})
		default:
			continue
		}
	}

	if len(erc20s) > 0 {
		if err := x.transfers.InsertERC20(ctx, erc20s); err != nil {
			return false, fmt.Errorf("erc20/721 indexer: failed to insert erc20 transfers: %w", err)
		}
	}
	if len(erc721s) > 0 {
		if err := x.transfers.InsertERC721(ctx, erc721s); err != nil {
			return false, fmt.Errorf("erc20/721 indexer: failed to insert erc721 transfers: %w", err)
		}
	}

	if err := x.cursors.Advance(ctx, domain.IndexerERC20721Events, to); err != nil {
		return false, fmt.Errorf("erc20/721 indexer: failed to advance cursor: %w", err)
	}
	x.rangeSizer.OnSuccess()
	return true, nil
}

// knownSafeSides reports, independently, whether from and to are each a
// known Safe contract address, so the caller can tell an incoming
// transfer from an outgoing one (or both, for a Safe-to-Safe transfer).
func (x *Erc20721Indexer) knownSafeSides(ctx context.Context, from, to common.Address) (fromIsSafe, toIsSafe bool, err error) {
	f, err := x.safes.SafeContract(ctx, from)
	if err != nil {
		return false, false, fmt.Errorf("erc20/721 indexer: failed to look up safe %s: %w", from, err)
	}
	t, err := x.safes.SafeContract(ctx, to)
	if err != nil {
		return false, false, fmt.Errorf("erc20/721 indexer: failed to look up safe %s: %w", to, err)
	}
	return f != nil, t != nil, nil
}

// publishTransferEvent emits INCOMING_TOKEN/OUTGOING_TOKEN for each Safe
// side of a transfer touching it; a Safe-to-Safe transfer publishes both.
func (x *Erc20721Indexer) publishTransferEvent(ctx context.Context, from, to common.Address, fromIsSafe, toIsSafe bool, blockNumber uint64, payload map[string]interface{}) {
	if x.events == nil {
		return
	}
	if fromIsSafe {
		if err := x.events.Publish(ctx, domain.WebhookEvent{Type: domain.EventOutgoingToken, Safe: from, Payload: payload, BlockNumber: blockNumber}); err != nil {
			x.logger.Warnw("erc20/721 indexer: failed to publish outgoing token event", "safe", from.Hex(), "error", err)
		}
	}
	if toIsSafe {
		if err := x.events.Publish(ctx, domain.WebhookEvent{Type: domain.EventIncomingToken, Safe: to, Payload: payload, BlockNumber: blockNumber}); err != nil {
			x.logger.Warnw("erc20/721 indexer: failed to publish incoming token event", "safe", to.Hex(), "error", err)
		}
	}
}

func transferAddresses(lg domain.EthereumLog) (from, to common.Address, ok bool) {
	if len(lg.Topics) < 3 {
		return common.Address{}, common.Address{}, false
	}
	return common.BytesToAddress(lg.Topics[1].Bytes()), common.BytesToAddress(lg.Topics[2].Bytes()), true
}

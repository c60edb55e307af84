package indexer

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/safe-global/safe-transaction-service-sub001/internal/domain"
	"github.com/safe-global/safe-transaction-service-sub001/internal/ports"
	"github.com/safe-global/safe-transaction-service-sub001/internal/rpcadapter"
)

// proxyCreationTopic is keccak256("ProxyCreation(address,address)"), the
// v1.3+ GnosisSafeProxyFactory event (proxy, singleton). Older factories
// emit ProxyCreation(address) with only the proxy in the data word; this
// indexer matches either signature and only requires the proxy address.
var proxyCreationTopic = crypto.Keccak256Hash([]byte("ProxyCreation(address,address)"))
var proxyCreationTopicV1 = crypto.Keccak256Hash([]byte("ProxyCreation(address)"))

// ProxyFactoryIndexer watches the configured set of proxy-factory
// addresses for ProxyCreation events and records a new SafeContract for
// each deployed proxy (spec.md section 4.2).
type ProxyFactoryIndexer struct {
	rpc        ports.RPCClient
	safes      ports.SafeRepository
	cursors    ports.CursorRepository
	factories  []common.Address
	logger     ports.Logger
	rangeSizer *adaptiveRange
}

func NewProxyFactoryIndexer(rpc ports.RPCClient, safes ports.SafeRepository, cursors ports.CursorRepository,
	factories []common.Address, initialRange, maxRange uint64, logger ports.Logger) *ProxyFactoryIndexer {
	return &ProxyFactoryIndexer{
		rpc: rpc, safes: safes, cursors: cursors, factories: factories,
		logger: logger, rangeSizer: newAdaptiveRange(initialRange, maxRange),
	}
}

func (x *ProxyFactoryIndexer) Tick(ctx context.Context) (bool, error) {
	head, err := x.rpc.HeadBlockNumber(ctx)
	if err != nil {
		return false, fmt.Errorf("proxy factory indexer: failed to read chain head: %w", err)
	}

	from, err := x.cursors.Get(ctx, domain.IndexerProxyFactories)
	if err != nil {
		return false, fmt.Errorf("proxy factory indexer: failed to read cursor: %w", err)
	}
	if from >= head {
		return false, nil
	}
	from++

	to := x.rangeSizer.NextTo(from, head)

	logs, err := x.rpc.GetLogs(ctx, ports.LogFilter{
		FromBlock: from,
		ToBlock:   to,
		Addresses: x.factories,
		Topics:    [][]common.Hash{{proxyCreationTopic, proxyCreationTopicV1}},
	})
	if err != nil {
		if errors.Is(err, rpcadapter.ErrTooManyResults) {
			x.rangeSizer.OnOversized()
			return false, nil
		}
		return false, fmt.Errorf("proxy factory indexer: failed to fetch logs [%d,%d]: %w", from, to, err)
	}

	for _, lg := range logs {
		proxy, singleton := decodeProxyCreation(lg)
		if proxy == (common.Address{}) {
			continue
		}
		if err := x.safes.UpsertSafeContract(ctx, domain.SafeContract{
			Address:         proxy,
			DeploymentTx:    lg.TxHash,
			DeploymentBlock: lg.BlockNumber,
			MasterCopy:      singleton,
		}); err != nil {
			return false, fmt.Errorf("proxy factory indexer: failed to upsert safe contract %s: %w", proxy, err)
		}
	}

	if err := x.cursors.Advance(ctx, domain.IndexerProxyFactories, to); err != nil {
		return false, fmt.Errorf("proxy factory indexer: failed to advance cursor: %w", err)
	}
	x.rangeSizer.OnSuccess()
	return true, nil
}

// decodeProxyCreation reads the deployed proxy's address (and, for the
// v1.3+ two-argument event, the singleton it was deployed against) out
// of a ProxyCreation log. Neither GnosisSafeProxyFactory event indexes
// its arguments, so both are plain 32-byte data words in declaration
// order; which signature fired is told apart by topics[0].
func decodeProxyCreation(lg domain.EthereumLog) (proxy, singleton common.Address) {
	if len(lg.Topics) == 0 {
		return common.Address{}, common.Address{}
	}
	if len(lg.Data) >= 32 {
		proxy = common.BytesToAddress(lg.Data[:32])
	}
	if lg.Topics[0] == proxyCreationTopic && len(lg.Data) >= 64 {
		singleton = common.BytesToAddress(lg.Data[32:64])
	}
	return proxy, singleton
}

// Command indexer runs the Safe transaction indexer: the block/event
// indexers, the Safe State Machine replayer, Multisig Reconciliation,
// the Reorg Controller, and the Webhook Dispatcher, all driven by a
// single Scheduler, plus a Prometheus metrics endpoint.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/safe-global/safe-transaction-service-sub001/internal/config"
	"github.com/safe-global/safe-transaction-service-sub001/internal/indexer"
	"github.com/safe-global/safe-transaction-service-sub001/internal/locking"
	"github.com/safe-global/safe-transaction-service-sub001/internal/ports"
	"github.com/safe-global/safe-transaction-service-sub001/internal/reconciliation"
	"github.com/safe-global/safe-transaction-service-sub001/internal/reorg"
	"github.com/safe-global/safe-transaction-service-sub001/internal/rpcadapter"
	"github.com/safe-global/safe-transaction-service-sub001/internal/scheduler"
	"github.com/safe-global/safe-transaction-service-sub001/internal/statemachine"
	"github.com/safe-global/safe-transaction-service-sub001/internal/store"
	"github.com/safe-global/safe-transaction-service-sub001/internal/webhook"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	zapLogger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer zapLogger.Sync()
	logger := zapLogger.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(cfg.Database, zapLogger)
	if err != nil {
		logger.Fatalw("failed to connect to database", "error", err)
	}
	defer db.Close()
	if err := db.InitSchema(ctx); err != nil {
		logger.Fatalw("failed to initialize schema", "error", err)
	}

	locks, err := locking.NewManager(cfg.Redis, "safeidx:")
	if err != nil {
		logger.Fatalw("failed to connect to redis", "error", err)
	}
	defer locks.Close()

	events := webhook.NewPublisher(cfg.Kafka, logger)
	defer events.Close()

	rpc, err := rpcadapter.Dial(ctx, cfg.RPC.URL, cfg.RPC.TracingURL, logger)
	if err != nil {
		logger.Fatalw("failed to dial rpc node", "error", err)
	}

	blocks := store.NewBlockRepo(db)
	safes := store.NewSafeRepo(db)
	queue := store.NewQueueRepo(db)
	transfers := store.NewTransferRepo(db)
	cursors := store.NewCursorRepo(db)
	delegates := store.NewDelegateRepo(db)
	multisig := store.NewMultisigRepo(db)

	factories := make([]common.Address, 0, len(cfg.Indexer.FactoryAddresses))
	for _, addr := range cfg.Indexer.FactoryAddresses {
		factories = append(factories, common.HexToAddress(addr))
	}

	reconciler := reconciliation.NewReconciler(safes, multisig, delegates, events, cfg.RPC.ChainID, logger)
	replayer := statemachine.NewReplayer(rpc, safes, queue, multisig, locks, reconciler, logger)
	reorgController := reorg.NewController(rpc, blocks, cursors, queue, safes, multisig, transfers, locks,
		events, cfg.Reorg.Depth, cfg.Reorg.RewindBlocks, logger)
	// delegate.Service and query.Service have no caller here: per
	// SPEC_FULL.md this binary runs only the background indexing
	// pipeline, and the HTTP/REST surface that would drive them is an
	// explicit Non-goal. Both packages are built and tested standalone
	// for a future API process to import.

	proxyFactoryIndexer := indexer.NewProxyFactoryIndexer(rpc, safes, cursors, factories,
		cfg.Indexer.BlockProcessLimit, cfg.Indexer.BlockProcessLimitMax, logger)
	erc20721Indexer := indexer.NewErc20721Indexer(rpc, safes, transfers, cursors, events,
		cfg.Indexer.BlockProcessLimit, cfg.Indexer.BlockProcessLimitMax, logger)

	useTraces := cfg.Indexer.Mode == config.IndexerModeTraces ||
		(cfg.Indexer.Mode == config.IndexerModeAuto && rpc.TracesAvailable())

	sched := scheduler.New(cfg.Scheduler, locks, logger)
	sched.Register("proxy-factory-indexer", proxyFactoryIndexer.Tick)
	sched.Register("erc20-721-indexer", erc20721Indexer.Tick)
	if useTraces {
		internalTxIndexer := indexer.NewInternalTxIndexer(rpc, safes, queue, cursors,
			cfg.Indexer.BlockProcessLimit, cfg.Indexer.BlockProcessLimitMax, logger)
		sched.Register("internal-tx-indexer", internalTxIndexer.Tick)
		logger.Infow("indexing safe calls via traces", "mode", "traces")
	} else {
		safeEventsIndexer := indexer.NewSafeEventsIndexer(rpc, safes, queue, cursors,
			cfg.Indexer.BlockProcessLimit, cfg.Indexer.BlockProcessLimitMax, logger)
		sched.Register("safe-events-indexer", safeEventsIndexer.Tick)
		logger.Infow("indexing safe calls via events", "mode", "events")
	}
	sched.Register("replayer", func(ctx context.Context) (bool, error) {
		return true, replayer.ReplayAll(ctx)
	})
	sched.Register("reorg-controller", reorgController.Tick)

	if cfg.Metrics.Enabled {
		go serveMetrics(cfg.Metrics.Address, logger)
	}

	logger.Infow("safe transaction indexer starting",
		"rpc_url", cfg.RPC.URL, "chain_id", cfg.RPC.ChainID, "indexer_mode", cfg.Indexer.Mode)

	sched.Run(ctx)

	logger.Infow("safe transaction indexer stopped")
}

func serveMetrics(addr string, logger ports.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadTimeout: 10 * time.Second}
	logger.Infow("metrics server starting", "addr", addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Errorw("metrics server failed", "error", err)
	}
}

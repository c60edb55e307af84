package statemachine

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/safe-global/safe-transaction-service-sub001/internal/abidecoder"
	"github.com/safe-global/safe-transaction-service-sub001/internal/domain"
	"github.com/safe-global/safe-transaction-service-sub001/internal/ports"
	"github.com/safe-global/safe-transaction-service-sub001/internal/reconciliation"
)

// replayLockTTL bounds how long a single Safe's replay may hold its
// per-address advisory lock before another worker is allowed to steal
// it; a Safe with an unusually large pending queue simply re-acquires on
// its next scheduler tick.
const replayLockTTL = 2 * time.Minute

// Replayer drives the Safe State Machine: for each Safe with pending
// decoded calls, it loads SafeLastStatus, serializes replay behind a
// per-Safe lock, applies calls in queue order, and persists the
// resulting SafeStatus/SafeLastStatus rows (spec.md section 4.4).
type Replayer struct {
	rpc        ports.RPCClient
	safes      ports.SafeRepository
	queue      ports.QueueRepository
	multi      ports.MultisigRepository
	locks      ports.LockManager
	logger     ports.Logger
	reconciler *reconciliation.Reconciler
}

func NewReplayer(rpc ports.RPCClient, safes ports.SafeRepository, queue ports.QueueRepository,
	multi ports.MultisigRepository, locks ports.LockManager, reconciler *reconciliation.Reconciler,
	logger ports.Logger) *Replayer {
	return &Replayer{
		rpc: rpc, safes: safes, queue: queue, multi: multi, locks: locks,
		reconciler: reconciler, logger: logger,
	}
}

// ReplayAll drains every Safe with pending decoded calls, one at a time.
// A single Safe's failure (malformed arguments, corruption) does not
// stop the others from replaying.
func (r *Replayer) ReplayAll(ctx context.Context) error {
	safes, err := r.queue.PendingSafes(ctx)
	if err != nil {
		return fmt.Errorf("replayer: failed to list pending safes: %w", err)
	}
	for _, safe := range safes {
		if err := r.ReplaySafe(ctx, safe); err != nil {
			r.logger.Errorw("replayer: failed to replay safe", "safe", safe.Hex(), "error", err)
		}
	}
	return nil
}

// ReplaySafe applies every pending decoded call for one Safe, in queue
// order, under that Safe's advisory lock.
func (r *Replayer) ReplaySafe(ctx context.Context, safe common.Address) error {
	lock, err := r.locks.Acquire(ctx, "safe-replay:"+safe.Hex(), replayLockTTL)
	if err != nil {
		return fmt.Errorf("replayer: failed to acquire replay lock for %s: %w", safe, err)
	}
	defer lock.Release(ctx)

	state, err := r.loadState(ctx, safe)
	if err != nil {
		return err
	}

	pending, err := r.queue.PendingFor(ctx, safe)
	if err != nil {
		return fmt.Errorf("replayer: failed to load pending calls for %s: %w", safe, err)
	}

	asOf, err := r.lastKnownBlock(ctx, safe)
	if err != nil {
		return err
	}

	var processedIDs []domain.InternalTxRef
	for _, call := range pending {
		nonceBefore := state.Nonce

		result, err := Apply(state, call)
		if err != nil {
			// Malformed arguments halt replay for this Safe only;
			// already-applied calls remain committed and marked
			// processed (spec.md section 4.4's failure semantics).
			r.logger.Errorw("replayer: stopping replay, malformed call",
				"safe", safe.Hex(), "txHash", call.TxHash.Hex(), "function", call.FunctionName, "error", err)
			break
		}

		state = result.State
		asOf = call.BlockNumber

		if r.reconciler != nil {
			r.reconcile(ctx, call, nonceBefore)
		}

		if result.Confirmation != nil {
			if err := r.multi.InsertConfirmation(ctx, domain.MultisigConfirmation{
				SafeTxHash:    result.Confirmation.Hash,
				Owner:         result.Confirmation.Owner,
				SignatureType: domain.SignatureTypeApprovedHash,
				EthereumTx:    &call.TxHash,
				CreatedAt:     time.Time{},
			}); err != nil {
				r.logger.Errorw("replayer: failed to record approved-hash confirmation",
					"safe", safe.Hex(), "hash", result.Confirmation.Hash.Hex(), "error", err)
			}
		}

		if result.Mutated || result.NonceConsumed {
			status := domain.SafeStatus{
				Safe:  safe,
				Nonce: state.Nonce,
				InternalTx: domain.InternalTxRef{
					TxHash:       call.TxHash,
					TraceAddress: call.TraceAddress,
					BlockNumber:  call.BlockNumber,
				},
				State: state,
			}
			if err := r.safes.InsertSafeStatus(ctx, status); err != nil {
				return fmt.Errorf("replayer: failed to insert safe status for %s: %w", safe, err)
			}
		}

		processedIDs = append(processedIDs, domain.InternalTxRef{
			TxHash: call.TxHash, TraceAddress: call.TraceAddress, BlockNumber: call.BlockNumber,
		})
	}

	if err := r.safes.UpsertLastStatus(ctx, domain.SafeLastStatus{Safe: safe, State: state}); err != nil {
		return fmt.Errorf("replayer: failed to upsert last status for %s: %w", safe, err)
	}
	if len(processedIDs) > 0 {
		if err := r.queue.MarkProcessed(ctx, processedIDs); err != nil {
			return fmt.Errorf("replayer: failed to mark calls processed for %s: %w", safe, err)
		}
	}

	if asOf == 0 {
		// Nothing has ever been replayed for this Safe and nothing was
		// processed this round: there is no authoritative block to spot
		// check state against yet.
		return nil
	}
	return r.spotCheck(ctx, safe, state, asOf)
}

// lastKnownBlock returns the block height the Safe's current state was
// last confirmed as of, so spotCheck can read on-chain state at the
// same height the replay caught up to, rather than at the current
// chain head — which may already be ahead of calls this indexer
// hasn't processed yet.
func (r *Replayer) lastKnownBlock(ctx context.Context, safe common.Address) (uint64, error) {
	status, err := r.safes.LastSafeStatus(ctx, safe)
	if err != nil {
		return 0, fmt.Errorf("replayer: failed to load last known block for %s: %w", safe, err)
	}
	if status == nil {
		return 0, nil
	}
	return status.InternalTx.BlockNumber, nil
}

// reconcile hands an applied call to Multisig Reconciliation when it is
// one the reconciler cares about: execTransaction joins on-chain
// execution to its proposal, execTransactionFromModule[ReturnData]
// records a ModuleTransaction. Failures here are logged, not
// propagated — reconciliation is a secondary read model and must never
// abort a Safe's state replay.
func (r *Replayer) reconcile(ctx context.Context, call domain.InternalTxDecoded, nonceBefore uint64) {
	switch call.FunctionName {
	case "execTransaction":
		if err := r.reconciler.ReconcileExecution(ctx, call, nonceBefore); err != nil {
			r.logger.Errorw("replayer: failed to reconcile execution",
				"safe", call.Safe.Hex(), "txHash", call.TxHash.Hex(), "error", err)
		}
	case "execTransactionFromModule", "execTransactionFromModuleReturnData":
		if err := r.reconciler.ReconcileModuleTransaction(ctx, call, call.Success); err != nil {
			r.logger.Errorw("replayer: failed to reconcile module transaction",
				"safe", call.Safe.Hex(), "txHash", call.TxHash.Hex(), "error", err)
		}
	}
}

// loadState seeds replay from SafeLastStatus, or the highest prior
// SafeStatus if no last-status row exists yet, or, for a Safe with no
// setup call replayed yet, an empty state carrying the master copy its
// SafeContract row recorded (if any).
func (r *Replayer) loadState(ctx context.Context, safe common.Address) (domain.SafeState, error) {
	last, err := r.safes.LastStatus(ctx, safe)
	if err != nil {
		return domain.SafeState{}, fmt.Errorf("replayer: failed to load last status for %s: %w", safe, err)
	}
	if last != nil {
		return last.State, nil
	}

	status, err := r.safes.LastSafeStatus(ctx, safe)
	if err != nil {
		return domain.SafeState{}, fmt.Errorf("replayer: failed to load prior safe status for %s: %w", safe, err)
	}
	if status != nil {
		return status.State, nil
	}

	contract, err := r.safes.SafeContract(ctx, safe)
	if err != nil {
		return domain.SafeState{}, fmt.Errorf("replayer: failed to load safe contract %s: %w", safe, err)
	}
	if contract != nil {
		return domain.SafeState{MasterCopy: contract.MasterCopy}, nil
	}
	return domain.SafeState{}, nil
}

var (
	getOwnersOutput    = abi.Arguments{{Type: mustOutputType("address[]")}}
	getThresholdOutput = abi.Arguments{{Type: mustOutputType("uint256")}}
)

func mustOutputType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(fmt.Sprintf("statemachine: invalid output type %q: %v", t, err))
	}
	return typ
}

// spotCheck cross-checks replayed state against an authoritative
// eth_call read of getOwners/getThreshold/nonce, taken at asOf — the
// block height the replay actually caught up to, not the current chain
// head, which may already include on-chain Safe changes this indexer
// hasn't processed yet. A disagreement is returned as ErrSafeCorrupted;
// ReplayAll logs it and goes on to the next Safe. Nothing in this
// package deletes the Safe's derived state or rewinds indexer cursors
// in response.
func (r *Replayer) spotCheck(ctx context.Context, safe common.Address, state domain.SafeState, asOf uint64) error {
	ownersRaw, err := r.rpc.Call(ctx, safe, selectorCall("getOwners()"), asOf)
	if err != nil {
		return nil // node unreachable for this Safe; skip the check, don't fail replay
	}
	owners, err := unpackAddresses(ownersRaw)
	if err == nil && !sameOwnerSet(owners, state.Owners) {
		return fmt.Errorf("%w: getOwners() mismatch for %s", ErrSafeCorrupted, safe)
	}

	thresholdRaw, err := r.rpc.Call(ctx, safe, selectorCall("getThreshold()"), asOf)
	if err == nil {
		if threshold, err := unpackUint64(thresholdRaw); err == nil && threshold != state.Threshold {
			return fmt.Errorf("%w: getThreshold() mismatch for %s", ErrSafeCorrupted, safe)
		}
	}

	nonceRaw, err := r.rpc.Call(ctx, safe, selectorCall("nonce()"), asOf)
	if err == nil {
		if nonce, err := unpackUint64(nonceRaw); err == nil && nonce != state.Nonce {
			return fmt.Errorf("%w: nonce() mismatch for %s", ErrSafeCorrupted, safe)
		}
	}

	return nil
}

func selectorCall(signature string) []byte {
	sel := abidecoder.Selector(signature)
	return sel[:]
}

func unpackAddresses(data []byte) ([]common.Address, error) {
	values, err := getOwnersOutput.Unpack(data)
	if err != nil || len(values) == 0 {
		return nil, fmt.Errorf("failed to unpack getOwners output: %w", err)
	}
	owners, ok := values[0].([]common.Address)
	if !ok {
		return nil, fmt.Errorf("unexpected getOwners output type")
	}
	return owners, nil
}

func unpackUint64(data []byte) (uint64, error) {
	values, err := getThresholdOutput.Unpack(data)
	if err != nil || len(values) == 0 {
		return 0, fmt.Errorf("failed to unpack uint256 output: %w", err)
	}
	n, ok := values[0].(*big.Int)
	if !ok {
		return 0, fmt.Errorf("unexpected output type")
	}
	return n.Uint64(), nil
}

func sameOwnerSet(a, b []common.Address) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[common.Address]bool, len(a))
	for _, o := range a {
		seen[o] = true
	}
	for _, o := range b {
		if !seen[o] {
			return false
		}
	}
	return true
}

// Package statemachine implements the Safe State Machine (spec.md
// section 4.4): the pure transition function over SafeState plus the
// Replayer that drives it from the Decoded-Call Queue.
package statemachine

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/safe-global/safe-transaction-service-sub001/internal/domain"
)

// Result is what applying one decoded call produced.
type Result struct {
	State domain.SafeState
	// Mutated reports whether the call changed configuration state
	// (beyond nonce) and therefore warrants a new SafeStatus snapshot.
	Mutated bool
	// NonceConsumed reports whether this call is a top-level Safe
	// transaction that consumes a nonce (execTransaction calls only).
	NonceConsumed bool
	// Confirmation is set for approveHash calls, which never mutate
	// state but surface an on-chain APPROVED_HASH confirmation to
	// Multisig Reconciliation.
	Confirmation *ApprovedHash
}

// ApprovedHash is the on-chain evidence an approveHash() call produces:
// the owner is the call's sender, which Apply takes from the decoded
// call's Caller field (or from the event's "owner" argument in events
// mode).
type ApprovedHash struct {
	Hash  common.Hash
	Owner common.Address
}

// Apply runs the transition function for one decoded call against the
// current state. It is the caller's responsibility to have already
// checked Processed and ordering; Apply is pure and side-effect free.
func Apply(state domain.SafeState, call domain.InternalTxDecoded) (Result, error) {
	switch call.FunctionName {
	case "setup":
		return applySetup(state, call)
	case "addOwnerWithThreshold":
		return applyAddOwnerWithThreshold(state, call)
	case "removeOwner":
		return applyRemoveOwner(state, call)
	case "swapOwner":
		return applySwapOwner(state, call)
	case "changeThreshold":
		return applyChangeThreshold(state, call)
	case "changeMasterCopy":
		return applyChangeMasterCopy(state, call)
	case "setFallbackHandler":
		return applySetFallbackHandler(state, call)
	case "setGuard":
		return applySetGuard(state, call)
	case "enableModule":
		return applyEnableModule(state, call)
	case "disableModule":
		return applyDisableModule(state, call)
	case "execTransaction":
		return applyExecTransaction(state, call)
	case "approveHash":
		return applyApproveHash(state, call, call.Caller)
	default:
		// Function names with no transition here leave state unchanged;
		// the Replayer still marks them processed. Unknown selectors are
		// logged by the trace indexer and never reach the queue.
		return Result{State: state}, nil
	}
}

func applySetup(state domain.SafeState, call domain.InternalTxDecoded) (Result, error) {
	owners, err := argAddresses(call.Arguments, "owners")
	if err != nil {
		return Result{}, err
	}
	threshold, err := argUint64(call.Arguments, "threshold")
	if err != nil {
		return Result{}, err
	}
	fallbackHandler, err := argAddress(call.Arguments, "fallbackHandler")
	if err != nil {
		return Result{}, err
	}

	next := state.Clone()
	next.Owners = owners
	next.Threshold = threshold
	next.FallbackHandler = fallbackHandler
	next.Nonce = 0
	// masterCopy is populated separately from the ProxyCreation event's
	// singleton field (internal/indexer.ProxyFactoryIndexer), since the
	// setup() ABI itself carries no singleton argument; preserve
	// whatever the replayer seeded it with.
	return Result{State: next, Mutated: true}, nil
}

func applyAddOwnerWithThreshold(state domain.SafeState, call domain.InternalTxDecoded) (Result, error) {
	owner, err := argAddress(call.Arguments, "owner")
	if err != nil {
		return Result{}, err
	}
	threshold, err := argUint64(call.Arguments, "_threshold")
	if err != nil {
		return Result{}, err
	}

	next := state.Clone()
	if !next.HasOwner(owner) {
		next.Owners = append(next.Owners, owner)
	}
	next.Threshold = threshold
	return Result{State: next, Mutated: true}, nil
}

func applyRemoveOwner(state domain.SafeState, call domain.InternalTxDecoded) (Result, error) {
	prevOwner, err := argAddress(call.Arguments, "prevOwner")
	if err != nil {
		return Result{}, err
	}
	owner, err := argAddress(call.Arguments, "owner")
	if err != nil {
		return Result{}, err
	}
	threshold, err := argUint64(call.Arguments, "_threshold")
	if err != nil {
		return Result{}, err
	}

	idx, found := ownerIndex(state.Owners, owner)
	if !found {
		return Result{}, fmt.Errorf("%w: removeOwner target %s is not a current owner", ErrSafeCorrupted, owner)
	}
	if !precedesInLinkedList(state.Owners, idx, prevOwner) {
		return Result{}, fmt.Errorf("%w: removeOwner prevOwner %s does not precede %s in the owner linked list",
			ErrSafeCorrupted, prevOwner, owner)
	}

	next := state.Clone()
	next.Owners = append(next.Owners[:idx:idx], next.Owners[idx+1:]...)
	next.Threshold = threshold
	return Result{State: next, Mutated: true}, nil
}

func applySwapOwner(state domain.SafeState, call domain.InternalTxDecoded) (Result, error) {
	prevOwner, err := argAddress(call.Arguments, "prevOwner")
	if err != nil {
		return Result{}, err
	}
	oldOwner, err := argAddress(call.Arguments, "oldOwner")
	if err != nil {
		return Result{}, err
	}
	newOwner, err := argAddress(call.Arguments, "newOwner")
	if err != nil {
		return Result{}, err
	}

	idx, found := ownerIndex(state.Owners, oldOwner)
	if !found {
		return Result{}, fmt.Errorf("%w: swapOwner target %s is not a current owner", ErrSafeCorrupted, oldOwner)
	}
	if !precedesInLinkedList(state.Owners, idx, prevOwner) {
		return Result{}, fmt.Errorf("%w: swapOwner prevOwner %s does not precede %s in the owner linked list",
			ErrSafeCorrupted, prevOwner, oldOwner)
	}

	next := state.Clone()
	next.Owners[idx] = newOwner
	return Result{State: next, Mutated: true}, nil
}

func applyChangeThreshold(state domain.SafeState, call domain.InternalTxDecoded) (Result, error) {
	threshold, err := argUint64(call.Arguments, "_threshold")
	if err != nil {
		return Result{}, err
	}
	next := state.Clone()
	next.Threshold = threshold
	return Result{State: next, Mutated: true}, nil
}

func applyChangeMasterCopy(state domain.SafeState, call domain.InternalTxDecoded) (Result, error) {
	masterCopy, err := argAddress(call.Arguments, "_masterCopy")
	if err != nil {
		return Result{}, err
	}
	next := state.Clone()
	next.MasterCopy = masterCopy
	return Result{State: next, Mutated: true}, nil
}

func applySetFallbackHandler(state domain.SafeState, call domain.InternalTxDecoded) (Result, error) {
	handler, err := argAddress(call.Arguments, "handler")
	if err != nil {
		return Result{}, err
	}
	next := state.Clone()
	next.FallbackHandler = handler
	return Result{State: next, Mutated: true}, nil
}

func applySetGuard(state domain.SafeState, call domain.InternalTxDecoded) (Result, error) {
	guard, err := argAddress(call.Arguments, "guard")
	if err != nil {
		return Result{}, err
	}
	next := state.Clone()
	next.Guard = guard
	return Result{State: next, Mutated: true}, nil
}

func applyEnableModule(state domain.SafeState, call domain.InternalTxDecoded) (Result, error) {
	module, err := argAddress(call.Arguments, "module")
	if err != nil {
		return Result{}, err
	}
	next := state.Clone()
	found := false
	for _, m := range next.EnabledModules {
		if m == module {
			found = true
			break
		}
	}
	if !found {
		next.EnabledModules = append(next.EnabledModules, module)
	}
	return Result{State: next, Mutated: true}, nil
}

func applyDisableModule(state domain.SafeState, call domain.InternalTxDecoded) (Result, error) {
	module, err := argAddress(call.Arguments, "module")
	if err != nil {
		return Result{}, err
	}
	next := state.Clone()
	out := next.EnabledModules[:0]
	for _, m := range next.EnabledModules {
		if m != module {
			out = append(out, m)
		}
	}
	next.EnabledModules = out
	return Result{State: next, Mutated: true}, nil
}

// applyExecTransaction handles the outer execTransaction() call itself.
// Every execTransaction call is a top-level Safe transaction and always
// consumes a nonce, whether or not its inner call mutates configuration
// state — that inner call, if it targets the Safe directly (e.g. a
// MultiSend batch entry calling addOwnerWithThreshold on the Safe via
// delegatecall), arrives as its own, deeper InternalTxDecoded record and
// is applied separately in the same replay pass.
func applyExecTransaction(state domain.SafeState, call domain.InternalTxDecoded) (Result, error) {
	next := state.Clone()
	next.Nonce++
	return Result{State: next, NonceConsumed: true}, nil
}

func applyApproveHash(state domain.SafeState, call domain.InternalTxDecoded, owner common.Address) (Result, error) {
	hash, err := argBytes32(call.Arguments, "hashToApprove")
	if err != nil {
		return Result{}, err
	}
	// The events indexer's ApproveHash decode already carries "owner"
	// from the event's indexed topic; the trace indexer's approveHash()
	// calldata doesn't, so fall back to the trace's caller.
	if fromEvent, err := argAddress(call.Arguments, "owner"); err == nil {
		owner = fromEvent
	}
	return Result{State: state, Confirmation: &ApprovedHash{Hash: hash, Owner: owner}}, nil
}

func ownerIndex(owners []common.Address, owner common.Address) (int, bool) {
	for i, o := range owners {
		if o == owner {
			return i, true
		}
	}
	return 0, false
}

// precedesInLinkedList checks prevOwner against the Safe's internal
// SENTINEL_OWNERS-headed linked list, represented here by list position:
// the first owner's predecessor is the sentinel (address 0x1), and every
// other owner's predecessor is whoever sits immediately before it.
func precedesInLinkedList(owners []common.Address, idx int, prevOwner common.Address) bool {
	sentinelOwners := common.HexToAddress("0x0000000000000000000000000000000000000001")
	if idx == 0 {
		return prevOwner == sentinelOwners
	}
	return owners[idx-1] == prevOwner
}

// Package reconciliation implements Multisig Reconciliation (spec.md
// section 4.5): it binds client-proposed MultisigTransactions and their
// MultisigConfirmations to on-chain execTransaction/module-transaction
// calls, recomputing safeTxHash via EIP-712 as the join key.
package reconciliation

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/safe-global/safe-transaction-service-sub001/internal/domain"
	"github.com/safe-global/safe-transaction-service-sub001/internal/ports"
)

// Reconciler joins off-chain proposals and on-chain executions for Safe
// transactions, and records module-transaction executions.
type Reconciler struct {
	safes     ports.SafeRepository
	multisig  ports.MultisigRepository
	delegates ports.DelegateRepository
	events    ports.EventPublisher
	logger    ports.Logger
	chainID   uint64
}

// NewReconciler builds a Reconciler. events may be nil, in which case
// reconciliation proceeds without emitting webhook events (e.g. in
// tests exercising only the join logic).
func NewReconciler(safes ports.SafeRepository, multisig ports.MultisigRepository,
	delegates ports.DelegateRepository, events ports.EventPublisher, chainID uint64, logger ports.Logger) *Reconciler {
	return &Reconciler{safes: safes, multisig: multisig, delegates: delegates, events: events, chainID: chainID, logger: logger}
}

// publish emits a webhook event, logging (not propagating) failures:
// a dropped notification must never roll back a reconciliation that
// already committed its Postgres writes.
func (r *Reconciler) publish(ctx context.Context, event domain.WebhookEvent) {
	if r.events == nil {
		return
	}
	if err := r.events.Publish(ctx, event); err != nil {
		r.logger.Warnw("reconciliation: failed to publish webhook event", "type", event.Type, "safe", event.Safe.Hex(), "error", err)
	}
}

// ProposeTransaction records a client-submitted MultisigTransaction
// proposal. tx.SafeTxHash is the client's claimed hash; it must match
// the hash recomputed from tx's own fields, and proposer must be either
// a current owner of the Safe or an authorized delegate.
func (r *Reconciler) ProposeTransaction(ctx context.Context, tx domain.MultisigTransaction, proposer common.Address) error {
	last, err := r.safes.LastStatus(ctx, tx.Safe)
	if err != nil {
		return fmt.Errorf("reconciliation: failed to load safe state for %s: %w", tx.Safe, err)
	}
	if last == nil {
		return fmt.Errorf("%w: %s", ErrUnknownSafe, tx.Safe)
	}

	contract, err := r.safes.SafeContract(ctx, tx.Safe)
	if err != nil {
		return fmt.Errorf("reconciliation: failed to load safe contract for %s: %w", tx.Safe, err)
	}
	version := ""
	if contract != nil {
		version = contract.Version
	}

	recomputed := safeTxHash(r.chainID, tx.Safe, version, tx)
	if recomputed != tx.SafeTxHash {
		return fmt.Errorf("%w: submitted %s, recomputed %s", ErrHashMismatch, tx.SafeTxHash, recomputed)
	}

	authorized := last.State.HasOwner(proposer)
	for _, owner := range last.State.Owners {
		if authorized {
			break
		}
		isDelegate, err := r.delegates.IsDelegate(ctx, tx.Safe, owner, proposer)
		if err != nil {
			return fmt.Errorf("reconciliation: failed to check delegate authorization for %s: %w", proposer, err)
		}
		authorized = isDelegate
	}
	if !authorized {
		return fmt.Errorf("%w: %s is neither an owner nor a delegate of %s", ErrUnauthorizedProposer, proposer, tx.Safe)
	}

	tx.Trusted = false
	if err := r.multisig.UpsertTransaction(ctx, tx); err != nil {
		return fmt.Errorf("reconciliation: failed to insert proposal %s: %w", tx.SafeTxHash, err)
	}

	r.publish(ctx, domain.WebhookEvent{
		Type: domain.EventPendingMultisigTransaction,
		Safe: tx.Safe,
		Payload: map[string]interface{}{
			"safeTxHash": tx.SafeTxHash.Hex(),
			"nonce":      tx.Nonce,
		},
	})
	return nil
}

// SubmitConfirmation records a client-submitted signature against an
// existing proposal. The signature blob may carry one or more packed
// owner signatures; each recovered owner must currently own the Safe
// and must not already have a confirmation on file.
func (r *Reconciler) SubmitConfirmation(ctx context.Context, safeTxHash common.Hash, safe common.Address, signature []byte) error {
	last, err := r.safes.LastStatus(ctx, safe)
	if err != nil {
		return fmt.Errorf("reconciliation: failed to load safe state for %s: %w", safe, err)
	}
	if last == nil {
		return fmt.Errorf("%w: %s", ErrUnknownSafe, safe)
	}

	recovered, err := splitSignatures(safeTxHash, signature)
	if err != nil {
		return err
	}

	for _, sig := range recovered {
		if !last.State.HasOwner(sig.Owner) {
			return fmt.Errorf("%w: %s", ErrNotOwner, sig.Owner)
		}
		exists, err := r.multisig.HasConfirmation(ctx, safeTxHash, sig.Owner)
		if err != nil {
			return fmt.Errorf("reconciliation: failed to check existing confirmation: %w", err)
		}
		if exists {
			return fmt.Errorf("%w: %s on %s", ErrDuplicateConfirmation, sig.Owner, safeTxHash)
		}
		if err := r.multisig.InsertConfirmation(ctx, domain.MultisigConfirmation{
			SafeTxHash:    safeTxHash,
			Owner:         sig.Owner,
			Signature:     sig.Raw,
			SignatureType: sig.Type,
			CreatedAt:     time.Time{},
		}); err != nil {
			return fmt.Errorf("reconciliation: failed to insert confirmation for %s: %w", sig.Owner, err)
		}

		r.publish(ctx, domain.WebhookEvent{
			Type: domain.EventNewConfirmation,
			Safe: safe,
			Payload: map[string]interface{}{
				"safeTxHash": safeTxHash.Hex(),
				"owner":      sig.Owner.Hex(),
			},
		})
	}
	return nil
}

// execTransactionArgs is the flattened Arguments shape produced for an
// execTransaction decoded call (internal/abidecoder's registered
// signature for "execTransaction").
type execTransactionArgs struct {
	To             common.Address
	Value          *big.Int
	Data           []byte
	Operation      domain.Operation
	SafeTxGas      *big.Int
	BaseGas        *big.Int
	GasPrice       *big.Int
	GasToken       common.Address
	RefundReceiver common.Address
	Signatures     []byte
}

// ReconcileExecution joins a decoded execTransaction call to its
// proposal: it recomputes safeTxHash from the executed calldata,
// upserts the MultisigTransaction (creating one from on-chain data if
// no proposal existed), and splits the call's signatures into per-owner
// MultisigConfirmations.
func (r *Reconciler) ReconcileExecution(ctx context.Context, call domain.InternalTxDecoded, nonceAtExecution uint64) error {
	args, err := parseExecTransactionArgs(call.Arguments)
	if err != nil {
		return err
	}

	contract, err := r.safes.SafeContract(ctx, call.Safe)
	if err != nil {
		return fmt.Errorf("reconciliation: failed to load safe contract for %s: %w", call.Safe, err)
	}
	version := ""
	if contract != nil {
		version = contract.Version
	}

	tx := domain.MultisigTransaction{
		Safe:           call.Safe,
		To:             args.To,
		Value:          args.Value,
		Data:           args.Data,
		Operation:      args.Operation,
		SafeTxGas:      args.SafeTxGas,
		BaseGas:        args.BaseGas,
		GasPrice:       args.GasPrice,
		GasToken:       args.GasToken,
		RefundReceiver: args.RefundReceiver,
		Nonce:          nonceAtExecution,
		Signatures:     args.Signatures,
		Trusted:        false,
		EthereumTx:     &call.TxHash,
	}
	hash := safeTxHash(r.chainID, call.Safe, version, tx)
	tx.SafeTxHash = hash

	if err := r.multisig.UpsertTransaction(ctx, tx); err != nil {
		return fmt.Errorf("reconciliation: failed to upsert executed transaction %s: %w", hash, err)
	}

	r.publish(ctx, domain.WebhookEvent{
		Type: domain.EventExecutedMultisigTransaction,
		Safe: call.Safe,
		Payload: map[string]interface{}{
			"safeTxHash": hash.Hex(),
			"txHash":     call.TxHash.Hex(),
			"nonce":      nonceAtExecution,
		},
		BlockNumber: call.BlockNumber,
	})

	recovered, err := splitSignatures(hash, args.Signatures)
	if err != nil {
		r.logger.Warnw("reconciliation: failed to split executed signatures", "safeTxHash", hash.Hex(), "error", err)
		return nil
	}

	for _, sig := range recovered {
		if err := r.multisig.InsertConfirmation(ctx, domain.MultisigConfirmation{
			SafeTxHash:    hash,
			Owner:         sig.Owner,
			Signature:     sig.Raw,
			SignatureType: sig.Type,
			EthereumTx:    &call.TxHash,
			CreatedAt:     time.Time{},
		}); err != nil {
			return fmt.Errorf("reconciliation: failed to record execution confirmation for %s: %w", sig.Owner, err)
		}
	}
	return nil
}

func parseExecTransactionArgs(args map[string]interface{}) (execTransactionArgs, error) {
	to, err := argAddress(args, "to")
	if err != nil {
		return execTransactionArgs{}, err
	}
	value, err := argBigInt(args, "value")
	if err != nil {
		return execTransactionArgs{}, err
	}
	data, err := argBytes(args, "data")
	if err != nil {
		return execTransactionArgs{}, err
	}
	operation, err := argUint64(args, "operation")
	if err != nil {
		return execTransactionArgs{}, err
	}
	safeTxGas, err := argBigInt(args, "safeTxGas")
	if err != nil {
		return execTransactionArgs{}, err
	}
	baseGas, err := argBigInt(args, "baseGas")
	if err != nil {
		return execTransactionArgs{}, err
	}
	gasPrice, err := argBigInt(args, "gasPrice")
	if err != nil {
		return execTransactionArgs{}, err
	}
	gasToken, err := argAddress(args, "gasToken")
	if err != nil {
		return execTransactionArgs{}, err
	}
	refundReceiver, err := argAddress(args, "refundReceiver")
	if err != nil {
		return execTransactionArgs{}, err
	}
	signatures, err := argBytes(args, "signatures")
	if err != nil {
		return execTransactionArgs{}, err
	}

	return execTransactionArgs{
		To: to, Value: value, Data: data, Operation: domain.Operation(operation),
		SafeTxGas: safeTxGas, BaseGas: baseGas, GasPrice: gasPrice,
		GasToken: gasToken, RefundReceiver: refundReceiver, Signatures: signatures,
	}, nil
}

// ReconcileModuleTransaction records a decoded
// execTransactionFromModule[ReturnData] call as a ModuleTransaction.
func (r *Reconciler) ReconcileModuleTransaction(ctx context.Context, call domain.InternalTxDecoded, success bool) error {
	to, err := argAddress(call.Arguments, "to")
	if err != nil {
		return err
	}
	value, err := argBigInt(call.Arguments, "value")
	if err != nil {
		return err
	}
	data, err := argBytes(call.Arguments, "data")
	if err != nil {
		return err
	}
	operation, err := argUint64(call.Arguments, "operation")
	if err != nil {
		return err
	}

	m := domain.ModuleTransaction{
		TxHash:       call.TxHash,
		Safe:         call.Safe,
		Module:       call.Caller,
		TraceAddress: call.TraceAddress,
		BlockNumber:  call.BlockNumber,
		To:           to,
		Value:        value,
		Data:         data,
		Operation:    domain.Operation(operation),
		Success:      success,
	}
	if err := r.multisig.InsertModuleTransaction(ctx, m); err != nil {
		return fmt.Errorf("reconciliation: failed to insert module transaction %s: %w", call.TxHash, err)
	}

	r.publish(ctx, domain.WebhookEvent{
		Type: domain.EventModuleTransaction,
		Safe: call.Safe,
		Payload: map[string]interface{}{
			"txHash":       call.TxHash.Hex(),
			"traceAddress": call.TraceAddress,
			"module":       call.Caller.Hex(),
			"success":      success,
		},
		BlockNumber: call.BlockNumber,
	})
	return nil
}

// CheckInvariants verifies spec.md section 8's universal properties for
// an executed transaction: every recovered owner must currently (at
// execution time) be a Safe owner, and the confirming set's size must
// meet the Safe's threshold.
func CheckInvariants(state domain.SafeState, confirmations []domain.MultisigConfirmation) error {
	if uint64(len(confirmations)) < state.Threshold {
		return fmt.Errorf("reconciliation: %d confirmations below threshold %d", len(confirmations), state.Threshold)
	}
	for _, c := range confirmations {
		if !state.HasOwner(c.Owner) {
			return fmt.Errorf("reconciliation: confirming owner %s is not a current safe owner", c.Owner)
		}
	}
	return nil
}

// Package delegate implements the Delegate Registry (spec.md §3, §9;
// SPEC_FULL.md §4.8): CRUD over SafeContractDelegate, with signature-based
// authorization so a delegate can only be registered or removed by an
// address that controls the delegator or the delegate itself.
package delegate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/safe-global/safe-transaction-service-sub001/internal/domain"
	"github.com/safe-global/safe-transaction-service-sub001/internal/ports"
)

// ErrInvalidSignature is returned when a registration/removal signature
// does not recover to the claimed delegator or delegate address.
var ErrInvalidSignature = errors.New("delegate: signature does not recover to delegator or delegate")

// Service is a thin authorization layer over ports.DelegateRepository.
type Service struct {
	repo ports.DelegateRepository
}

func NewService(repo ports.DelegateRepository) *Service {
	return &Service{repo: repo}
}

// hashToSign is the EIP-191 personal-sign message a delegator or
// delegate signs to prove control when registering or removing an
// entry: keccak256(delegate ++ hour-bucket), the hour bucket bounding
// how long a captured signature remains replayable.
func hashToSign(delegate common.Address, now time.Time) common.Hash {
	bucket := now.Unix() / 3600
	msg := fmt.Sprintf("%s%d", delegate.Hex(), bucket)
	return crypto.Keccak256Hash([]byte(msg))
}

func recoverSigner(hash common.Hash, signature []byte) (common.Address, error) {
	if len(signature) != 65 {
		return common.Address{}, fmt.Errorf("delegate: signature must be 65 bytes, got %d", len(signature))
	}
	sig := make([]byte, 65)
	copy(sig, signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	signed := accounts.TextHash(hash.Bytes())
	pub, err := crypto.SigToPub(signed, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("delegate: failed to recover signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Register adds or updates a delegate. The signature must recover to
// either d.Delegator or d.Delegate, proving the request was authorized
// by one of the two parties it binds (spec.md §9's Delegate definition:
// authority to propose, granted by an owner).
func (s *Service) Register(ctx context.Context, d domain.SafeContractDelegate, signature []byte, now time.Time) error {
	signer, err := recoverSigner(hashToSign(d.Delegate, now), signature)
	if err != nil {
		return err
	}
	if signer != d.Delegator && signer != d.Delegate {
		return ErrInvalidSignature
	}
	if err := s.repo.Upsert(ctx, d); err != nil {
		return fmt.Errorf("delegate: failed to register %s for %s: %w", d.Delegate, d.Delegator, err)
	}
	return nil
}

// Remove revokes a delegate, same authorization rule as Register.
func (s *Service) Remove(ctx context.Context, safe *common.Address, delegator, delegateAddr common.Address, signature []byte, now time.Time) error {
	signer, err := recoverSigner(hashToSign(delegateAddr, now), signature)
	if err != nil {
		return err
	}
	if signer != delegator && signer != delegateAddr {
		return ErrInvalidSignature
	}
	if err := s.repo.Remove(ctx, safe, delegator, delegateAddr); err != nil {
		return fmt.Errorf("delegate: failed to remove %s for %s: %w", delegateAddr, delegator, err)
	}
	return nil
}

// ForDelegator lists every delegate (Safe-scoped and global) a delegator
// has granted authority to.
func (s *Service) ForDelegator(ctx context.Context, safe *common.Address, delegator common.Address) ([]domain.SafeContractDelegate, error) {
	out, err := s.repo.ForDelegator(ctx, safe, delegator)
	if err != nil {
		return nil, fmt.Errorf("delegate: failed to list delegates for %s: %w", delegator, err)
	}
	return out, nil
}

// IsAuthorized reports whether candidate may propose on safe for owner,
// either because candidate is owner itself or an unexpired delegate.
// This mirrors internal/reconciliation's own owner-or-delegate check so
// callers outside the reconciler (e.g. a future API layer) can reuse it.
func (s *Service) IsAuthorized(ctx context.Context, safe common.Address, owner, candidate common.Address) (bool, error) {
	if owner == candidate {
		return true, nil
	}
	ok, err := s.repo.IsDelegate(ctx, safe, owner, candidate)
	if err != nil {
		return false, fmt.Errorf("delegate: failed to check authorization for %s: %w", candidate, err)
	}
	return ok, nil
}

package delegate

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/safe-global/safe-transaction-service-sub001/internal/domain"
)

type fakeDelegateRepo struct {
	rows []domain.SafeContractDelegate
}

func (f *fakeDelegateRepo) Upsert(ctx context.Context, d domain.SafeContractDelegate) error {
	f.rows = append(f.rows, d)
	return nil
}

func (f *fakeDelegateRepo) Remove(ctx context.Context, safe *common.Address, delegator, delegate common.Address) error {
	out := f.rows[:0]
	for _, r := range f.rows {
		if r.Delegator == delegator && r.Delegate == delegate {
			continue
		}
		out = append(out, r)
	}
	f.rows = out
	return nil
}

func (f *fakeDelegateRepo) ForDelegator(ctx context.Context, safe *common.Address, delegator common.Address) ([]domain.SafeContractDelegate, error) {
	var out []domain.SafeContractDelegate
	for _, r := range f.rows {
		if r.Delegator == delegator {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeDelegateRepo) IsDelegate(ctx context.Context, safe common.Address, delegator, candidate common.Address) (bool, error) {
	for _, r := range f.rows {
		if r.Delegator == delegator && r.Delegate == candidate {
			return true, nil
		}
	}
	return false, nil
}

func sign(t *testing.T, key []byte, delegate common.Address, now time.Time) []byte {
	t.Helper()
	priv, err := crypto.ToECDSA(key)
	require.NoError(t, err)
	hash := hashToSign(delegate, now)
	signed := crypto.Keccak256Hash(append([]byte("\x19Ethereum Signed Message:\n32"), hash.Bytes()...))
	sig, err := crypto.Sign(signed.Bytes(), priv)
	require.NoError(t, err)
	sig[64] += 27
	return sig
}

func newKey(t *testing.T) ([]byte, common.Address) {
	t.Helper()
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)
	key := crypto.FromECDSA(priv)
	return key, crypto.PubkeyToAddress(priv.PublicKey)
}

func TestRegister_AcceptsDelegatorSignature(t *testing.T) {
	repo := &fakeDelegateRepo{}
	svc := NewService(repo)

	delegatorKey, delegator := newKey(t)
	_, delegateAddr := newKey(t)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	sig := sign(t, delegatorKey, delegateAddr, now)
	d := domain.SafeContractDelegate{Delegator: delegator, Delegate: delegateAddr, Label: "bot"}

	err := svc.Register(context.Background(), d, sig, now)
	require.NoError(t, err)
	require.Len(t, repo.rows, 1)
	require.Equal(t, delegator, repo.rows[0].Delegator)
}

func TestRegister_AcceptsDelegateSignature(t *testing.T) {
	repo := &fakeDelegateRepo{}
	svc := NewService(repo)

	_, delegator := newKey(t)
	delegateKey, delegateAddr := newKey(t)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	sig := sign(t, delegateKey, delegateAddr, now)
	d := domain.SafeContractDelegate{Delegator: delegator, Delegate: delegateAddr}

	err := svc.Register(context.Background(), d, sig, now)
	require.NoError(t, err)
	require.Len(t, repo.rows, 1)
}

func TestRegister_RejectsUnrelatedSignature(t *testing.T) {
	repo := &fakeDelegateRepo{}
	svc := NewService(repo)

	strangerKey, _ := newKey(t)
	_, delegator := newKey(t)
	_, delegateAddr := newKey(t)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	sig := sign(t, strangerKey, delegateAddr, now)
	d := domain.SafeContractDelegate{Delegator: delegator, Delegate: delegateAddr}

	err := svc.Register(context.Background(), d, sig, now)
	require.ErrorIs(t, err, ErrInvalidSignature)
	require.Empty(t, repo.rows)
}

func TestRegister_RejectsStaleHourBucket(t *testing.T) {
	repo := &fakeDelegateRepo{}
	svc := NewService(repo)

	delegatorKey, delegator := newKey(t)
	_, delegateAddr := newKey(t)
	signedAt := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	verifiedAt := signedAt.Add(2 * time.Hour)

	sig := sign(t, delegatorKey, delegateAddr, signedAt)
	d := domain.SafeContractDelegate{Delegator: delegator, Delegate: delegateAddr}

	err := svc.Register(context.Background(), d, sig, verifiedAt)
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestIsAuthorized_OwnerIsAlwaysAuthorized(t *testing.T) {
	repo := &fakeDelegateRepo{}
	svc := NewService(repo)

	_, owner := newKey(t)
	ok, err := svc.IsAuthorized(context.Background(), common.Address{}, owner, owner)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestIsAuthorized_DelegatesThroughRepo(t *testing.T) {
	_, safe := newKey(t)
	_, owner := newKey(t)
	_, candidate := newKey(t)
	repo := &fakeDelegateRepo{rows: []domain.SafeContractDelegate{
		{Safe: &safe, Delegator: owner, Delegate: candidate},
	}}
	svc := NewService(repo)

	ok, err := svc.IsAuthorized(context.Background(), safe, owner, candidate)
	require.NoError(t, err)
	require.True(t, ok)

	_, other := newKey(t)
	ok, err = svc.IsAuthorized(context.Background(), safe, owner, other)
	require.NoError(t, err)
	require.False(t, ok)
}

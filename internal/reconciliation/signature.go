package reconciliation

import (
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/safe-global/safe-transaction-service-sub001/internal/domain"
)

// signatureLength is the size of one owner's packed signature within a
// Safe transaction's concatenated signatures blob: 32 bytes r, 32 bytes
// s, 1 byte v.
const signatureLength = 65

// recoveredSignature is one owner's attestation, split out of a Safe
// transaction's concatenated signatures and classified by v byte per
// Gnosis Safe's packed-signature convention (GnosisSafe.sol
// checkNSignatures): v==0 is a contract signature, v==1 is an
// approved-hash marker, v>30 is an eth_sign-prefixed ECDSA signature,
// and v in {27,28} is a plain ECDSA signature over the safeTxHash
// itself.
type recoveredSignature struct {
	Owner common.Address
	Type  domain.SignatureType
	Raw   []byte
}

// splitSignatures breaks a Safe transaction's concatenated signatures
// blob into one recoveredSignature per owner, recovering EOA signers
// against hash where the signature type requires it.
func splitSignatures(hash common.Hash, data []byte) ([]recoveredSignature, error) {
	if len(data)%signatureLength != 0 {
		return nil, fmt.Errorf("%w: length %d is not a multiple of %d", ErrMalformedSignature, len(data), signatureLength)
	}
	count := len(data) / signatureLength
	out := make([]recoveredSignature, 0, count)
	for i := 0; i < count; i++ {
		chunk := data[i*signatureLength : (i+1)*signatureLength]
		sig, err := recoverOne(hash, chunk)
		if err != nil {
			return nil, err
		}
		out = append(out, sig)
	}
	return out, nil
}

func recoverOne(hash common.Hash, chunk []byte) (recoveredSignature, error) {
	r := chunk[0:32]
	s := chunk[32:64]
	v := chunk[64]

	switch {
	case v == 0:
		// Contract signature: r holds the verifying contract's address
		// (the owner, from this indexer's point of view); the dynamic
		// part of the signature (pointed to by s as an offset) is the
		// contract's own isValidSignature payload and isn't replayed
		// here — reconciliation records the confirmation's existence,
		// not its validity, which the Safe contract itself enforced
		// on-chain before this execTransaction could succeed.
		owner := common.BytesToAddress(r)
		return recoveredSignature{Owner: owner, Type: domain.SignatureTypeContractSig, Raw: append([]byte{}, chunk...)}, nil

	case v == 1:
		// Approved-hash marker: r holds the approving owner's address.
		owner := common.BytesToAddress(r)
		return recoveredSignature{Owner: owner, Type: domain.SignatureTypeApprovedHash, Raw: nil}, nil

	case v > 30:
		// eth_sign: the owner signed the EIP-191 personal-message hash
		// of safeTxHash, not safeTxHash directly.
		ethSignHash := accounts.TextHash(hash.Bytes())
		owner, err := recoverECDSA(ethSignHash, r, s, v-4)
		if err != nil {
			return recoveredSignature{}, err
		}
		return recoveredSignature{Owner: owner, Type: domain.SignatureTypeEthSign, Raw: append([]byte{}, chunk...)}, nil

	default:
		// Plain ECDSA signature over safeTxHash (v in {27,28}).
		owner, err := recoverECDSA(hash.Bytes(), r, s, v-27)
		if err != nil {
			return recoveredSignature{}, err
		}
		return recoveredSignature{Owner: owner, Type: domain.SignatureTypeEOA, Raw: append([]byte{}, chunk...)}, nil
	}
}

func recoverECDSA(digest []byte, r, s []byte, recoveryID byte) (common.Address, error) {
	sig := make([]byte, 65)
	copy(sig[0:32], r)
	copy(sig[32:64], s)
	sig[64] = recoveryID

	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: failed to recover signer: %v", ErrMalformedSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

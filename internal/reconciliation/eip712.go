package reconciliation

import (
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/safe-global/safe-transaction-service-sub001/internal/domain"
	"github.com/safe-global/safe-transaction-service-sub001/internal/ports"
)

// safeTxTypeHash is EIP-712's type hash for Gnosis Safe's SafeTx struct,
// unchanged across every Safe contract version.
var safeTxTypeHash = crypto.Keccak256Hash([]byte(
	"SafeTx(address to,uint256 value,bytes data,uint8 operation,uint256 safeTxGas,uint256 baseGas,uint256 gasPrice,address gasToken,address refundReceiver,uint256 nonce)",
))

// domainTypeHashWithChainID and domainTypeHashLegacy are the two
// EIP712Domain type hashes Safe contracts have used: v1.3.0 added
// chainId to the domain separator to prevent cross-chain signature
// replay; earlier versions omit it.
var (
	domainTypeHashWithChainID = crypto.Keccak256Hash([]byte("EIP712Domain(uint256 chainId,address verifyingContract)"))
	domainTypeHashLegacy      = crypto.Keccak256Hash([]byte("EIP712Domain(address verifyingContract)"))
)

// safeTxHash recomputes the EIP-712 digest Gnosis Safe's
// encodeTransactionData/getTransactionHash produces for tx, against the
// given Safe address, chain id and contract version. It is the
// authoritative identity a proposal's submitted safeTxHash must match,
// and what on-chain reconciliation recomputes from decoded
// execTransaction calldata.
func safeTxHash(chainID uint64, safe common.Address, version string, tx domain.MultisigTransaction) common.Hash {
	structHash := crypto.Keccak256(
		safeTxTypeHash.Bytes(),
		padAddress(tx.To),
		padUint(ports.BigIntOrZero(tx.Value)),
		crypto.Keccak256(tx.Data),
		padUint8(tx.Operation),
		padUint(ports.BigIntOrZero(tx.SafeTxGas)),
		padUint(ports.BigIntOrZero(tx.BaseGas)),
		padUint(ports.BigIntOrZero(tx.GasPrice)),
		padAddress(tx.GasToken),
		padAddress(tx.RefundReceiver),
		padUint(new(big.Int).SetUint64(tx.Nonce)),
	)

	domSep := domainSeparator(chainID, safe, version)

	digest := crypto.Keccak256(
		[]byte{0x19, 0x01},
		domSep,
		structHash,
	)
	return common.BytesToHash(digest)
}

func domainSeparator(chainID uint64, safe common.Address, version string) []byte {
	if usesChainIDDomain(version) {
		return crypto.Keccak256(
			domainTypeHashWithChainID.Bytes(),
			padUint(new(big.Int).SetUint64(chainID)),
			padAddress(safe),
		)
	}
	return crypto.Keccak256(domainTypeHashLegacy.Bytes(), padAddress(safe))
}

// usesChainIDDomain reports whether the given Safe contract version's
// EIP-712 domain includes chainId: true for 1.3.0 and later, false for
// earlier versions. An empty or unparseable version is treated as
// current and also returns true.
func usesChainIDDomain(version string) bool {
	if version == "" {
		return true
	}
	major, minor, ok := parseMajorMinor(version)
	if !ok {
		return true
	}
	if major > 1 {
		return true
	}
	return major == 1 && minor >= 3
}

func parseMajorMinor(version string) (major, minor int, ok bool) {
	parts := strings.SplitN(version, ".", 3)
	if len(parts) < 2 {
		return 0, 0, false
	}
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, false
	}
	minor, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, false
	}
	return major, minor, true
}

func padAddress(a common.Address) []byte {
	return common.LeftPadBytes(a.Bytes(), 32)
}

func padUint(n *big.Int) []byte {
	return common.LeftPadBytes(n.Bytes(), 32)
}

func padUint8(op domain.Operation) []byte {
	return common.LeftPadBytes(big.NewInt(int64(op)).Bytes(), 32)
}

// Package abidecoder decodes calldata for the fixed set of Safe
// singleton/proxy-factory methods this service understands, plus the
// MultiSend batch format. Unlike a general contract-ABI registry, this
// one is intentionally small and hand-maintained: spec.md's Non-goals
// exclude a dynamic-typing ABI registry for non-Safe contracts.
package abidecoder

import (
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/safe-global/safe-transaction-service-sub001/internal/domain"
)

// method describes one recognized Safe call: its human name and the
// go-ethereum abi.Arguments used to unpack its calldata tail.
type method struct {
	name string
	args abi.Arguments
}

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(fmt.Sprintf("abidecoder: invalid type %q: %v", t, err))
	}
	return typ
}

func arg(name, typ string) abi.Argument {
	return abi.Argument{Name: name, Type: mustType(typ)}
}

func selector(signature string) [4]byte {
	hash := crypto.Keccak256([]byte(signature))
	var sel [4]byte
	copy(sel[:], hash[:4])
	return sel
}

// registry maps a 4-byte selector to its decode method. Built once at
// package init from the signatures below.
var registry = map[[4]byte]method{}

func register(signature, name string, args ...abi.Argument) {
	registry[selector(signature)] = method{name: name, args: abi.Arguments(args)}
}

func init() {
	register("setup(address[],uint256,address,bytes,address,address,uint256,address)", "setup",
		arg("owners", "address[]"),
		arg("threshold", "uint256"),
		arg("to", "address"),
		arg("data", "bytes"),
		arg("fallbackHandler", "address"),
		arg("paymentToken", "address"),
		arg("payment", "uint256"),
		arg("paymentReceiver", "address"),
	)

	register("addOwnerWithThreshold(address,uint256)", "addOwnerWithThreshold",
		arg("owner", "address"),
		arg("_threshold", "uint256"),
	)

	register("removeOwner(address,address,uint256)", "removeOwner",
		arg("prevOwner", "address"),
		arg("owner", "address"),
		arg("_threshold", "uint256"),
	)

	register("swapOwner(address,address,address)", "swapOwner",
		arg("prevOwner", "address"),
		arg("oldOwner", "address"),
		arg("newOwner", "address"),
	)

	register("changeThreshold(uint256)", "changeThreshold",
		arg("_threshold", "uint256"),
	)

	register("changeMasterCopy(address)", "changeMasterCopy",
		arg("_masterCopy", "address"),
	)

	register("setFallbackHandler(address)", "setFallbackHandler",
		arg("handler", "address"),
	)

	register("setGuard(address)", "setGuard",
		arg("guard", "address"),
	)

	register("enableModule(address)", "enableModule",
		arg("module", "address"),
	)

	register("disableModule(address,address)", "disableModule",
		arg("prevModule", "address"),
		arg("module", "address"),
	)

	register("execTransaction(address,uint256,bytes,uint8,uint256,uint256,uint256,address,address,bytes)", "execTransaction",
		arg("to", "address"),
		arg("value", "uint256"),
		arg("data", "bytes"),
		arg("operation", "uint8"),
		arg("safeTxGas", "uint256"),
		arg("baseGas", "uint256"),
		arg("gasPrice", "uint256"),
		arg("gasToken", "address"),
		arg("refundReceiver", "address"),
		arg("signatures", "bytes"),
	)

	register("approveHash(bytes32)", "approveHash",
		arg("hashToApprove", "bytes32"),
	)

	register("execTransactionFromModule(address,uint256,bytes,uint8)", "execTransactionFromModule",
		arg("to", "address"),
		arg("value", "uint256"),
		arg("data", "bytes"),
		arg("operation", "uint8"),
	)

	register("execTransactionFromModuleReturnData(address,uint256,bytes,uint8)", "execTransactionFromModuleReturnData",
		arg("to", "address"),
		arg("value", "uint256"),
		arg("data", "bytes"),
		arg("operation", "uint8"),
	)

	register("multiSend(bytes)", "multiSend",
		arg("transactions", "bytes"),
	)

	register("createProxyWithNonce(address,bytes,uint256)", "createProxyWithNonce",
		arg("_singleton", "address"),
		arg("initializer", "bytes"),
		arg("saltNonce", "uint256"),
	)
}

// ErrUnknownSelector is returned by Decode when the calldata's 4-byte
// selector is not in the registry.
var ErrUnknownSelector = fmt.Errorf("unknown method selector")

// Decode unpacks input's arguments according to the registered method
// for its leading 4-byte selector. Known() on the result reports false,
// with ErrUnknownSelector, for calldata this registry doesn't recognize.
func Decode(input []byte) (domain.DecodedCall, error) {
	if len(input) < 4 {
		return domain.DecodedCall{}, ErrUnknownSelector
	}
	var sel [4]byte
	copy(sel[:], input[:4])

	m, ok := registry[sel]
	if !ok {
		return domain.DecodedCall{}, ErrUnknownSelector
	}

	values, err := m.args.Unpack(input[4:])
	if err != nil {
		return domain.DecodedCall{}, fmt.Errorf("failed to unpack %s calldata: %w", m.name, err)
	}

	params := make(map[string]interface{}, len(values))
	for i, v := range values {
		if i < len(m.args) {
			params[m.args[i].Name] = v
		}
	}

	return domain.DecodedCall{Name: m.name, Params: toValueMap(params)}, nil
}

// Selector computes the 4-byte selector for a Go-ethereum style function
// signature, exported for callers that need to filter logs/calls by
// method without going through the full registry (e.g. the corruption
// spot-check's getOwners()/getThreshold()/nonce() calls).
func Selector(signature string) [4]byte { return selector(signature) }

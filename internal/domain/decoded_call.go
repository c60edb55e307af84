package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ValueKind tags the Solidity primitive shape held by a Value.
type ValueKind int

const (
	ValueAddress ValueKind = iota
	ValueUint
	ValueInt
	ValueBool
	ValueBytes
	ValueString
	ValueTuple
	ValueArray
)

// Value is a tagged union over the Solidity primitives produced by the
// ABI decoder, plus Tuple/Array composites. Only one of the typed fields
// is meaningful, selected by Kind.
type Value struct {
	Kind    ValueKind
	Address common.Address
	Number  *big.Int
	Bool    bool
	Bytes   []byte
	String  string
	Items   []Value
}

// DecodedCall is the sum type UnknownSelector | KnownCall produced by the
// ABI decoder (internal/abidecoder). An empty Name means UnknownSelector.
type DecodedCall struct {
	Name   string
	Params map[string]Value
}

// Known reports whether the selector resolved to a recognized function.
func (d DecodedCall) Known() bool {
	return d.Name != ""
}

// MultiSendOperation is one entry of a decoded MultiSend batch.
type MultiSendOperation struct {
	To            common.Address
	Value         *big.Int
	Data          []byte
	Operation     Operation
	DataDecoded   *DecodedCall
}

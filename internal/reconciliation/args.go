package reconciliation

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ErrMalformedArguments mirrors statemachine's sentinel of the same
// name: the Decoded-Call Queue's Arguments failed to match the shape a
// registered function's decoded signature promises.
var ErrMalformedArguments = fmt.Errorf("malformed decoded call arguments")

func argAddress(args map[string]interface{}, name string) (common.Address, error) {
	v, ok := args[name]
	if !ok {
		return common.Address{}, fmt.Errorf("%w: missing %q", ErrMalformedArguments, name)
	}
	s, ok := v.(string)
	if !ok || !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %q is not an address", ErrMalformedArguments, name)
	}
	return common.HexToAddress(s), nil
}

func argUint64(args map[string]interface{}, name string) (uint64, error) {
	v, ok := args[name]
	if !ok {
		return 0, fmt.Errorf("%w: missing %q", ErrMalformedArguments, name)
	}
	s, ok := v.(string)
	if !ok {
		return 0, fmt.Errorf("%w: %q is not a number", ErrMalformedArguments, name)
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return 0, fmt.Errorf("%w: %q is not a valid integer", ErrMalformedArguments, name)
	}
	return n.Uint64(), nil
}

func argBigInt(args map[string]interface{}, name string) (*big.Int, error) {
	v, ok := args[name]
	if !ok {
		return nil, fmt.Errorf("%w: missing %q", ErrMalformedArguments, name)
	}
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("%w: %q is not a number", ErrMalformedArguments, name)
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %q is not a valid integer", ErrMalformedArguments, name)
	}
	return n, nil
}

func argBytes(args map[string]interface{}, name string) ([]byte, error) {
	v, ok := args[name]
	if !ok {
		return nil, fmt.Errorf("%w: missing %q", ErrMalformedArguments, name)
	}
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("%w: %q is not bytes", ErrMalformedArguments, name)
	}
	b, err := hexutil.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q is not valid hex: %v", ErrMalformedArguments, name, err)
	}
	return b, nil
}

package statemachine

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// The Decoded-Call Queue stores InternalTxDecoded.Arguments as the
// JSON-friendly shape abidecoder.FlattenParams produces: addresses and
// bytes as 0x-prefixed hex strings, big integers as decimal strings,
// everything else passed through. These helpers read that shape back
// out, wrapping any mismatch in ErrMalformedArguments.

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

func argAddresses(args map[string]interface{}, name string) ([]common.Address, error) {
	v, ok := args[name]
	if !ok {
		return nil, fmt.Errorf("%w: missing %q", ErrMalformedArguments, name)
	}
	items, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: %q is not a list", ErrMalformedArguments, name)
	}
	out := make([]common.Address, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok || !common.IsHexAddress(s) {
			return nil, fmt.Errorf("%w: %q element is not an address", ErrMalformedArguments, name)
		}
		out = append(out, common.HexToAddress(s))
	}
	return out, nil
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

func argBytes32(args map[string]interface{}, name string) (common.Hash, error) {
	v, ok := args[name]
	if !ok {
		return common.Hash{}, fmt.Errorf("%w: missing %q", ErrMalformedArguments, name)
	}
	s, ok := v.(string)
	if !ok {
		return common.Hash{}, fmt.Errorf("%w: %q is not bytes", ErrMalformedArguments, name)
	}
	return common.HexToHash(s), nil
}

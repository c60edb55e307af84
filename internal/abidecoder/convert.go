package abidecoder

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/safe-global/safe-transaction-service-sub001/internal/domain"
)

// toValueMap converts the interface{} values go-ethereum's abi.Arguments
// unpacks (common.Address, *big.Int, []byte, [32]byte, bool, string,
// uint8, and slices thereof) into the domain.Value representation the
// state machine and reconciliation operate on.
func toValueMap(raw map[string]interface{}) map[string]domain.Value {
	out := make(map[string]domain.Value, len(raw))
	for k, v := range raw {
		out[k] = toValue(v)
	}
	return out
}

func toValue(v interface{}) domain.Value {
	switch t := v.(type) {
	case common.Address:
		return domain.Value{Kind: domain.ValueAddress, Address: t}
	case *big.Int:
		return domain.Value{Kind: domain.ValueUint, Number: t}
	case []byte:
		return domain.Value{Kind: domain.ValueBytes, Bytes: t}
	case [32]byte:
		return domain.Value{Kind: domain.ValueBytes, Bytes: t[:]}
	case bool:
		return domain.Value{Kind: domain.ValueBool, Bool: t}
	case string:
		return domain.Value{Kind: domain.ValueString, String: t}
	case uint8:
		return domain.Value{Kind: domain.ValueUint, Number: new(big.Int).SetUint64(uint64(t))}
	case []common.Address:
		items := make([]domain.Value, len(t))
		for i, a := range t {
			items[i] = domain.Value{Kind: domain.ValueAddress, Address: a}
		}
		return domain.Value{Kind: domain.ValueArray, Items: items}
	case []*big.Int:
		items := make([]domain.Value, len(t))
		for i, n := range t {
			items[i] = domain.Value{Kind: domain.ValueUint, Number: n}
		}
		return domain.Value{Kind: domain.ValueArray, Items: items}
	default:
		return domain.Value{Kind: domain.ValueString, String: ""}
	}
}

// FlattenParams renders a DecodedCall's Params into the plain
// JSON-marshalable shape the Decoded-Call Queue stores arguments as:
// addresses and bytes as 0x-prefixed hex, big integers as decimal
// strings, everything else passed through.
func FlattenParams(params map[string]domain.Value) map[string]interface{} {
	out := make(map[string]interface{}, len(params))
	for k, v := range params {
		out[k] = flattenValue(v)
	}
	return out
}

func flattenValue(v domain.Value) interface{} {
	switch v.Kind {
	case domain.ValueAddress:
		return v.Address.Hex()
	case domain.ValueUint, domain.ValueInt:
		if v.Number == nil {
			return "0"
		}
		return v.Number.String()
	case domain.ValueBool:
		return v.Bool
	case domain.ValueBytes:
		return hexutil.Encode(v.Bytes)
	case domain.ValueString:
		return v.String
	case domain.ValueArray, domain.ValueTuple:
		items := make([]interface{}, len(v.Items))
		for i, it := range v.Items {
			items[i] = flattenValue(it)
		}
		return items
	default:
		return nil
	}
}


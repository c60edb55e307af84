package store

import (
	"database/sql"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lib/pq"
)

// addrBytes and hashBytes convert go-ethereum's fixed-size types to the
// []byte lib/pq expects for BYTEA columns.
func addrBytes(a common.Address) []byte { return a[:] }
func hashBytes(h common.Hash) []byte    { return h[:] }

func scanAddr(b []byte) common.Address {
	var a common.Address
	a.SetBytes(b)
	return a
}

func scanHash(b []byte) common.Hash {
	var h common.Hash
	h.SetBytes(b)
	return h
}

// optAddrBytes handles the nullable *common.Address columns (tx "to",
// delegate's per-Safe scoping).
func optAddrBytes(a *common.Address) []byte {
	if a == nil {
		return nil
	}
	return a[:]
}

func optAddr(b []byte) *common.Address {
	if b == nil {
		return nil
	}
	a := scanAddr(b)
	return &a
}

func optHashBytes(h *common.Hash) []byte {
	if h == nil {
		return nil
	}
	return h[:]
}

func optHash(b []byte) *common.Hash {
	if b == nil {
		return nil
	}
	h := scanHash(b)
	return &h
}

// bigText and scanBig round-trip *big.Int through the NUMERIC(78,0)
// columns as decimal text, since lib/pq has no native big.Int binding.
func bigText(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func optBigText(v *big.Int) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: v.String(), Valid: true}
}

func scanBig(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return new(big.Int)
	}
	return v
}

func scanOptBig(ns sql.NullString) *big.Int {
	if !ns.Valid {
		return nil
	}
	return scanBig(ns.String)
}

// addrArray and scanAddrArray round-trip []common.Address through a
// BYTEA[] column via pq.ByteaArray.
func addrArray(addrs []common.Address) pq.ByteaArray {
	out := make(pq.ByteaArray, len(addrs))
	for i, a := range addrs {
		cp := a
		out[i] = cp[:]
	}
	return out
}

func scanAddrArray(raw pq.ByteaArray) []common.Address {
	out := make([]common.Address, len(raw))
	for i, b := range raw {
		out[i] = scanAddr(b)
	}
	return out
}

// traceAddressKey encodes a TraceAddress as a fixed-width sortable
// string so composite primary keys order the same way a depth-first,
// parent-before-child trace walk does: each index is zero-padded and
// dot-joined, and the top-level call (empty path) encodes as "" so it
// sorts before any of its descendants — a plain numeric prefix like
// "000000" would otherwise lexically precede the unpadded sentinel used
// for root, inverting parent/child order.
func traceAddressKey(path []int) string {
	if len(path) == 0 {
		return ""
	}
	out := make([]byte, 0, len(path)*5)
	for i, p := range path {
		if i > 0 {
			out = append(out, '.')
		}
		out = append(out, []byte(padInt(p))...)
	}
	return string(out)
}

func padInt(n int) string {
	const width = 6
	s := big.NewInt(int64(n)).String()
	for len(s) < width {
		s = "0" + s
	}
	return s
}

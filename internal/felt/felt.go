// Package felt handles the ledger's field elements: parsing, u256 halves and
// event selector hashing.
package felt

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	// Prime is the field modulus, 2^251 + 17*2^192 + 1.
	Prime = func() *big.Int {
		p := new(big.Int).Lsh(big.NewInt(1), 251)
		p.Add(p, new(big.Int).Lsh(big.NewInt(17), 192))
		return p.Add(p, big.NewInt(1))
	}()

	two128      = new(big.Int).Lsh(big.NewInt(1), 128)
	two256      = new(big.Int).Lsh(big.NewInt(1), 256)
	selectorMax = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 250), big.NewInt(1))
)

// Parse decodes a felt from its 0x-prefixed hex form or a decimal string.
func Parse(input string) (*big.Int, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return nil, fmt.Errorf("empty felt")
	}

	value := new(big.Int)
	var ok bool
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		digits := s[2:]
		if digits == "" {
			return nil, fmt.Errorf("invalid felt: %s", input)
		}
		_, ok = value.SetString(digits, 16)
	} else {
		_, ok = value.SetString(s, 10)
	}
	if !ok {
		return nil, fmt.Errorf("invalid felt: %s", input)
	}
	if value.Sign() < 0 || value.Cmp(Prime) >= 0 {
		return nil, fmt.Errorf("felt out of range: %s", input)
	}
	return value, nil
}

// Hex formats a felt as lowercase 0x-prefixed hex without leading zeros.
func Hex(value *big.Int) string {
	if value == nil {
		return "0x0"
	}
	return hexutil.EncodeBig(value)
}

// Equal reports whether two felt strings encode the same value. Unparseable
// inputs are never equal.
func Equal(a, b string) bool {
	av, err := Parse(a)
	if err != nil {
		return false
	}
	bv, err := Parse(b)
	if err != nil {
		return false
	}
	return av.Cmp(bv) == 0
}

// U256 rebuilds a 256-bit integer from its low and high 128-bit halves:
// (high << 128) + low.
func U256(low, high *big.Int) (*big.Int, error) {
	if low == nil || high == nil {
		return nil, fmt.Errorf("u256 half is nil")
	}
	if low.Sign() < 0 || low.Cmp(two128) >= 0 {
		return nil, fmt.Errorf("u256 low half out of range: %s", low)
	}
	if high.Sign() < 0 || high.Cmp(two128) >= 0 {
		return nil, fmt.Errorf("u256 high half out of range: %s", high)
	}
	value := new(big.Int).Lsh(high, 128)
	return value.Add(value, low), nil
}

// ParseU256 parses two felt strings and combines them with U256.
func ParseU256(low, high string) (*big.Int, error) {
	lo, err := Parse(low)
	if err != nil {
		return nil, fmt.Errorf("low: %w", err)
	}
	hi, err := Parse(high)
	if err != nil {
		return nil, fmt.Errorf("high: %w", err)
	}
	return U256(lo, hi)
}

// SplitU256 is the inverse of U256.
func SplitU256(value *big.Int) (low, high *big.Int, err error) {
	if value == nil {
		return nil, nil, fmt.Errorf("u256 value is nil")
	}
	if value.Sign() < 0 || value.Cmp(two256) >= 0 {
		return nil, nil, fmt.Errorf("u256 out of range: %s", value)
	}
	high = new(big.Int).Rsh(value, 128)
	low = new(big.Int).Sub(value, new(big.Int).Lsh(high, 128))
	return low, high, nil
}

// Selector returns the starknet keccak of name: keccak256 truncated to 250 bits.
func Selector(name string) *big.Int {
	digest := new(big.Int).SetBytes(crypto.Keccak256([]byte(name)))
	return digest.And(digest, selectorMax)
}

package types

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
)

// ParseValue parses a decimal or 0x-prefixed hexadecimal string into a
// 256-bit unsigned value.
func ParseValue(s string) (*uint256.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty value")
	}
	b, ok := new(big.Int).SetString(s, 0)
	if !ok {
		return nil, fmt.Errorf("invalid value %q", s)
	}
	if b.Sign() < 0 {
		return nil, fmt.Errorf("negative value %q", s)
	}
	v, overflow := uint256.FromBig(b)
	if overflow {
		return nil, fmt.Errorf("value %q does not fit in 256 bits", s)
	}
	return v, nil
}

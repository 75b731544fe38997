// Package codec encodes the value exchanged with the proved program using the
// Solidity ABI layout of a single uint256 argument, which is also the layout
// the verifier contract reads.
package codec

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/holiman/uint256"
)

// EncodedSize is the fixed width of an encoded value.
const EncodedSize = 32

// ErrMalformedInput is returned when bytes do not hold exactly one canonically
// encoded uint256.
var ErrMalformedInput = errors.New("malformed input")

var uint256Args abi.Arguments

func init() {
	typ, err := abi.NewType("uint256", "", nil)
	if err != nil {
		panic(fmt.Sprintf("codec: cannot build uint256 abi type: %v", err))
	}
	uint256Args = abi.Arguments{{Type: typ}}
}

// Encode returns the 32-byte big-endian ABI encoding of v.
func Encode(v *uint256.Int) []byte {
	out, err := uint256Args.Pack(v.ToBig())
	if err != nil {
		// a uint256 always fits its own abi type
		panic(fmt.Sprintf("codec: pack uint256: %v", err))
	}
	return out
}

// Decode is the exact inverse of Encode. Any input that is not exactly
// EncodedSize bytes is rejected, so trailing or missing bytes never decode.
func Decode(b []byte) (*uint256.Int, error) {
	if len(b) != EncodedSize {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrMalformedInput, EncodedSize, len(b))
	}
	values, err := uint256Args.Unpack(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedInput, err)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("%w: expected 1 value, got %d", ErrMalformedInput, len(values))
	}
	bi, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected abi value %T", ErrMalformedInput, values[0])
	}
	v, overflow := uint256.FromBig(bi)
	if overflow {
		return nil, fmt.Errorf("%w: value overflows uint256", ErrMalformedInput)
	}
	// strict: re-encoding must reproduce the input byte for byte
	if !bytes.Equal(Encode(v), b) {
		return nil, fmt.Errorf("%w: non-canonical encoding", ErrMalformedInput)
	}
	return v, nil
}

// Package isodd defines the "is odd" program: it reads one ABI-encoded
// uint256, asserts that it is odd and commits the same encoding as its
// journal. The statement is expressed as a gnark circuit over BN254 whose
// public inputs are the two 128-bit limbs of the committed value.
package isodd

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/consensys/gnark/frontend"
	"github.com/holiman/uint256"
	"github.com/vocdoni/davinci-publisher/codec"
)

// Name identifies the program in a prover registry.
const Name = "is-odd/v1"

// LimbBits is the width of each public limb. Two limbs cover a uint256, which
// does not fit in a single BN254 scalar.
const LimbBits = 128

// ErrNotOdd is returned when the program is executed on an even number.
var ErrNotOdd = errors.New("number is not odd")

var limbMask = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), LimbBits), big.NewInt(1))

// Circuit proves that Hi·2^128 + Lo is odd, with both limbs range checked.
type Circuit struct {
	Hi frontend.Variable `gnark:",public"`
	Lo frontend.Variable `gnark:",public"`
}

// Define declares the circuit constraints.
func (c *Circuit) Define(api frontend.API) error {
	loBits := api.ToBinary(c.Lo, LimbBits)
	api.ToBinary(c.Hi, LimbBits)
	api.AssertIsEqual(loBits[0], 1)
	return nil
}

// Assignment returns the circuit assignment for v.
func Assignment(v *uint256.Int) *Circuit {
	b := v.ToBig()
	return &Circuit{
		Hi: new(big.Int).Rsh(b, LimbBits),
		Lo: new(big.Int).And(b, limbMask),
	}
}

// Program implements the prover's program contract for the is-odd statement.
type Program struct{}

// Name returns the registry name of the program.
func (Program) Name() string { return Name }

// Circuit returns an empty circuit used for compilation.
func (Program) Circuit() frontend.Circuit { return &Circuit{} }

// Execute runs the program natively on input. It returns the circuit
// assignment and the journal the program commits.
func (Program) Execute(input []byte) (frontend.Circuit, []byte, error) {
	v, err := codec.Decode(input)
	if err != nil {
		return nil, nil, fmt.Errorf("read input: %w", err)
	}
	if v.Uint64()&1 == 0 {
		return nil, nil, ErrNotOdd
	}
	return Assignment(v), codec.Encode(v), nil
}

// PublicAssignment rebuilds the public part of the assignment from a journal,
// which is what a verifier does to bind a proof to a claimed value.
func (Program) PublicAssignment(journal []byte) (frontend.Circuit, error) {
	v, err := codec.Decode(journal)
	if err != nil {
		return nil, err
	}
	return Assignment(v), nil
}

package solidity

import (
	"math/big"
	"testing"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
	qt "github.com/frankban/quicktest"
	"github.com/holiman/uint256"
	"github.com/vocdoni/davinci-publisher/circuits/isodd"
)

func TestProofConversion(t *testing.T) {
	c := qt.New(t)
	field := ecc.BN254.ScalarField()

	ccs, err := frontend.Compile(field, r1cs.NewBuilder, &isodd.Circuit{})
	c.Assert(err, qt.IsNil)
	pk, vk, err := groth16.Setup(ccs)
	c.Assert(err, qt.IsNil)

	assignment := isodd.Assignment(uint256.NewInt(10201))
	fullWitness, err := frontend.NewWitness(assignment, field)
	c.Assert(err, qt.IsNil)
	publicWitness, err := fullWitness.Public()
	c.Assert(err, qt.IsNil)
	proof, err := groth16.Prove(ccs, pk, fullWitness)
	c.Assert(err, qt.IsNil)

	var sp Groth16Proof
	c.Assert(sp.FromGnarkProof(proof), qt.IsNil)
	encoded, err := sp.ABIEncode()
	c.Assert(err, qt.IsNil)
	c.Assert(encoded, qt.HasLen, ProofSize)

	var decoded Groth16Proof
	c.Assert(decoded.ABIDecode(encoded), qt.IsNil)
	c.Assert(decoded.String(), qt.Equals, sp.String())

	back, err := decoded.ToGnarkProof()
	c.Assert(err, qt.IsNil)
	c.Assert(groth16.Verify(back, vk, publicWitness), qt.IsNil)

	c.Run("tampered coordinate", func(c *qt.C) {
		bad := decoded
		bad.Ar = [2]*big.Int{new(big.Int).Add(decoded.Ar[0], big.NewInt(1)), decoded.Ar[1]}
		_, err := bad.ToGnarkProof()
		c.Assert(err, qt.ErrorIs, ErrInvalidProof)
	})
}

func TestABIDecodeRejectsBadLength(t *testing.T) {
	c := qt.New(t)
	var p Groth16Proof
	c.Assert(p.ABIDecode(make([]byte, ProofSize-1)), qt.ErrorIs, ErrInvalidProof)
	c.Assert(p.ABIDecode(make([]byte, ProofSize+32)), qt.ErrorIs, ErrInvalidProof)
}

func TestToGnarkProofMissingCoordinate(t *testing.T) {
	c := qt.New(t)
	var p Groth16Proof
	_, err := p.ToGnarkProof()
	c.Assert(err, qt.ErrorIs, ErrInvalidProof)
}

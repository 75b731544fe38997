package isodd

import (
	"math/big"
	"testing"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/test"
	qt "github.com/frankban/quicktest"
	"github.com/holiman/uint256"
	"github.com/vocdoni/davinci-publisher/codec"
)

func TestCircuitSolving(t *testing.T) {
	c := qt.New(t)
	field := ecc.BN254.ScalarField()

	c.Run("odd", func(c *qt.C) {
		c.Assert(test.IsSolved(&Circuit{}, Assignment(uint256.NewInt(10201)), field), qt.IsNil)
	})

	c.Run("odd above the field", func(c *qt.C) {
		v := new(uint256.Int).SetAllOne()
		c.Assert(test.IsSolved(&Circuit{}, Assignment(v), field), qt.IsNil)
	})

	c.Run("even", func(c *qt.C) {
		c.Assert(test.IsSolved(&Circuit{}, Assignment(uint256.NewInt(12)), field), qt.Not(qt.IsNil))
	})

	c.Run("limb out of range", func(c *qt.C) {
		w := &Circuit{Hi: 0, Lo: new(big.Int).Add(limbMask, big.NewInt(2))}
		c.Assert(test.IsSolved(&Circuit{}, w, field), qt.Not(qt.IsNil))
	})
}

func TestAssignmentLimbs(t *testing.T) {
	c := qt.New(t)

	v := new(uint256.Int).Lsh(uint256.NewInt(3), 128)
	v.Add(v, uint256.NewInt(5))
	a := Assignment(v)
	c.Assert(a.Hi.(*big.Int).Int64(), qt.Equals, int64(3))
	c.Assert(a.Lo.(*big.Int).Int64(), qt.Equals, int64(5))
}

func TestProgramExecute(t *testing.T) {
	c := qt.New(t)
	p := Program{}

	c.Run("odd number commits its encoding", func(c *qt.C) {
		input := codec.Encode(uint256.NewInt(10201))
		assignment, journal, err := p.Execute(input)
		c.Assert(err, qt.IsNil)
		c.Assert(journal, qt.DeepEquals, input)

		public, err := p.PublicAssignment(journal)
		c.Assert(err, qt.IsNil)
		want, got := assignment.(*Circuit), public.(*Circuit)
		c.Assert(got.Hi.(*big.Int).Cmp(want.Hi.(*big.Int)), qt.Equals, 0)
		c.Assert(got.Lo.(*big.Int).Cmp(want.Lo.(*big.Int)), qt.Equals, 0)
	})

	c.Run("even number is rejected", func(c *qt.C) {
		_, _, err := p.Execute(codec.Encode(uint256.NewInt(12)))
		c.Assert(err, qt.ErrorIs, ErrNotOdd)
	})

	c.Run("malformed input", func(c *qt.C) {
		_, _, err := p.Execute([]byte{1, 2, 3})
		c.Assert(err, qt.ErrorIs, codec.ErrMalformedInput)
	})
}

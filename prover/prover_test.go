package prover

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/holiman/uint256"
	"github.com/vocdoni/davinci-publisher/circuits/isodd"
	"github.com/vocdoni/davinci-publisher/codec"
	"github.com/vocdoni/davinci-publisher/solidity"
)

var (
	sharedOnce  sync.Once
	sharedLocal *Local
	sharedErr   error
	isOddID     = ProgramIDFromName(isodd.Name)
)

// testLocal returns a prover shared by the tests of the package so the
// Groth16 setup runs once.
func testLocal(c *qt.C) *Local {
	sharedOnce.Do(func() {
		sharedLocal, sharedErr = NewLocal("", isodd.Program{})
	})
	c.Assert(sharedErr, qt.IsNil)
	return sharedLocal
}

func TestRequestGroth16(t *testing.T) {
	c := qt.New(t)
	l := testLocal(c)
	input := codec.Encode(uint256.NewInt(10201))

	receipt, err := Request(context.Background(), l, isOddID, input, Groth16Opts())
	c.Assert(err, qt.IsNil)
	c.Assert(receipt.Program, qt.Equals, isOddID)
	c.Assert(receipt.Journal, qt.DeepEquals, input)
	c.Assert(receipt.Inner.Kind, qt.Equals, ProofKindGroth16)
	c.Assert(receipt.Inner.Proof, qt.HasLen, solidity.ProofSize)

	_, digest, err := l.VerifyingKey(isOddID)
	c.Assert(err, qt.IsNil)
	c.Assert(receipt.Inner.VerifierDigest, qt.Equals, digest)

	var sp solidity.Groth16Proof
	c.Assert(sp.ABIDecode(receipt.Inner.Proof), qt.IsNil)
	_, err = sp.ToGnarkProof()
	c.Assert(err, qt.IsNil)
}

func TestRequestProofsAreRandomized(t *testing.T) {
	c := qt.New(t)
	l := testLocal(c)
	input := codec.Encode(uint256.NewInt(10201))

	first, err := Request(context.Background(), l, isOddID, input, Groth16Opts())
	c.Assert(err, qt.IsNil)
	second, err := Request(context.Background(), l, isOddID, input, Groth16Opts())
	c.Assert(err, qt.IsNil)
	c.Assert(bytes.Equal(first.Inner.Proof, second.Inner.Proof), qt.IsFalse)
	c.Assert(first.Journal, qt.DeepEquals, second.Journal)
}

func TestRequestFake(t *testing.T) {
	c := qt.New(t)
	l := testLocal(c)

	receipt, err := Request(context.Background(), l, isOddID, codec.Encode(uint256.NewInt(7)), FastOpts())
	c.Assert(err, qt.IsNil)
	c.Assert(receipt.Inner.Kind, qt.Equals, ProofKindFake)
	c.Assert(receipt.Inner.Proof, qt.HasLen, 0)
	c.Assert(receipt.Journal, qt.DeepEquals, codec.Encode(uint256.NewInt(7)))
}

func TestRequestFailures(t *testing.T) {
	c := qt.New(t)
	l := testLocal(c)

	c.Run("even input", func(c *qt.C) {
		_, err := Request(context.Background(), l, isOddID, codec.Encode(uint256.NewInt(12)), Groth16Opts())
		c.Assert(err, qt.ErrorIs, ErrExecutionFailed)
		c.Assert(err, qt.ErrorIs, isodd.ErrNotOdd)
	})

	c.Run("malformed input", func(c *qt.C) {
		_, err := Request(context.Background(), l, isOddID, []byte{0x01}, FastOpts())
		c.Assert(err, qt.ErrorIs, ErrExecutionFailed)
		c.Assert(err, qt.ErrorIs, codec.ErrMalformedInput)
	})

	c.Run("unknown program", func(c *qt.C) {
		_, err := Request(context.Background(), l, ProgramIDFromName("nope"), codec.Encode(uint256.NewInt(1)), FastOpts())
		c.Assert(err, qt.ErrorIs, ErrExecutionFailed)
		c.Assert(err, qt.ErrorIs, ErrUnknownProgram)
	})

	c.Run("cancelled context", func(c *qt.C) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := Request(ctx, l, isOddID, codec.Encode(uint256.NewInt(1)), Groth16Opts())
		c.Assert(err, qt.ErrorIs, ErrProverUnavailable)
		c.Assert(err, qt.ErrorIs, context.Canceled)
	})

	c.Run("no prover", func(c *qt.C) {
		_, err := Request(context.Background(), nil, isOddID, nil, FastOpts())
		c.Assert(err, qt.ErrorIs, ErrProverUnavailable)
	})
}

type stubProver struct {
	receipt *Receipt
	err     error
}

func (s stubProver) Prove(context.Context, ProgramID, *Env, Opts) (*Receipt, error) {
	return s.receipt, s.err
}

func TestRequestClassifiesProverResults(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()

	_, err := Request(ctx, stubProver{err: errors.New("connection refused")}, isOddID, nil, FastOpts())
	c.Assert(err, qt.ErrorIs, ErrProverUnavailable)

	_, err = Request(ctx, stubProver{err: ErrProofGenerationFailed}, isOddID, nil, FastOpts())
	c.Assert(err, qt.ErrorIs, ErrProofGenerationFailed)
	c.Assert(errors.Is(err, ErrProverUnavailable), qt.IsFalse)

	_, err = Request(ctx, stubProver{}, isOddID, nil, FastOpts())
	c.Assert(err, qt.ErrorIs, ErrProofGenerationFailed)

	fake := &Receipt{Program: isOddID, Inner: ReceiptInner{Kind: ProofKindFake}}
	_, err = Request(ctx, stubProver{receipt: fake}, isOddID, nil, Groth16Opts())
	c.Assert(err, qt.ErrorIs, ErrProofGenerationFailed)

	other := &Receipt{Program: ProgramIDFromName("other"), Inner: ReceiptInner{Kind: ProofKindFake}}
	_, err = Request(ctx, stubProver{receipt: other}, isOddID, nil, FastOpts())
	c.Assert(err, qt.ErrorIs, ErrProofGenerationFailed)
}

func TestKeysArePersisted(t *testing.T) {
	c := qt.New(t)
	dir := t.TempDir()

	first, err := NewLocal(dir, isodd.Program{})
	c.Assert(err, qt.IsNil)
	_, digest, err := first.VerifyingKey(isOddID)
	c.Assert(err, qt.IsNil)

	second, err := NewLocal(dir, isodd.Program{})
	c.Assert(err, qt.IsNil)
	_, loaded, err := second.VerifyingKey(isOddID)
	c.Assert(err, qt.IsNil)
	c.Assert(loaded, qt.Equals, digest)

	receipt, err := Request(context.Background(), second, isOddID, codec.Encode(uint256.NewInt(3)), Groth16Opts())
	c.Assert(err, qt.IsNil)
	c.Assert(receipt.Inner.VerifierDigest, qt.Equals, digest)
}

func TestNewLocalRejectsDuplicates(t *testing.T) {
	c := qt.New(t)
	_, err := NewLocal("", isodd.Program{}, isodd.Program{})
	c.Assert(err, qt.ErrorMatches, `program "is-odd/v1" registered twice`)
	_, err = NewLocal("")
	c.Assert(err, qt.Not(qt.IsNil))
}

func TestEnv(t *testing.T) {
	c := qt.New(t)
	b := NewEnvBuilder().WriteSlice([]byte{1, 2}).WriteSlice([]byte{3})
	env, err := b.Build()
	c.Assert(err, qt.IsNil)
	_, err = b.Build()
	c.Assert(err, qt.ErrorIs, ErrEnvBuilt)

	in, err := env.Take()
	c.Assert(err, qt.IsNil)
	c.Assert(in, qt.DeepEquals, []byte{1, 2, 3})
	_, err = env.Take()
	c.Assert(err, qt.ErrorIs, ErrEnvConsumed)
}

func TestProgramID(t *testing.T) {
	c := qt.New(t)
	c.Assert(ProgramIDFromName(isodd.Name), qt.Equals, isOddID)
	c.Assert(ProgramIDFromName("a"), qt.Not(qt.Equals), ProgramIDFromName("b"))
	c.Assert(isOddID.String(), qt.HasLen, 66)
	c.Assert(ProofKindGroth16.String(), qt.Equals, "groth16")
	c.Assert(ProofKind(9).String(), qt.Equals, "unknown(9)")
}

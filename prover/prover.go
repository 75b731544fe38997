// Package prover requests proofs of program execution. A Prover runs a
// registered program on an execution environment and returns a Receipt made
// of the program's journal (its public output) and the proof material.
package prover

import (
	"context"
	"errors"
	"fmt"

	"github.com/consensys/gnark/frontend"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	// ErrProverUnavailable means the prover backend could not be reached or
	// resourced. The request may be retried verbatim after a backoff.
	ErrProverUnavailable = errors.New("prover unavailable")
	// ErrExecutionFailed means the program itself rejected the input. Retrying
	// with the same input fails again.
	ErrExecutionFailed = errors.New("program execution failed")
	// ErrProofGenerationFailed means the program executed but no valid proof
	// could be produced.
	ErrProofGenerationFailed = errors.New("proof generation failed")

	// ErrUnknownProgram is returned for program identifiers not registered in
	// the prover.
	ErrUnknownProgram = errors.New("unknown program")
)

// ProgramID identifies a program, as the digest of its registry name.
type ProgramID common.Hash

// ProgramIDFromName returns the identifier of the program registered as name.
func ProgramIDFromName(name string) ProgramID {
	return ProgramID(crypto.Keccak256Hash([]byte(name)))
}

// String returns the 0x-prefixed hex representation of the identifier.
func (id ProgramID) String() string {
	return common.Hash(id).Hex()
}

// ProofKind is the strength of the proof attached to a receipt.
type ProofKind uint8

const (
	// ProofKindFake receipts carry no proof: the program is executed and its
	// journal returned. Only meaningful for tests and local development.
	ProofKindFake ProofKind = iota
	// ProofKindGroth16 receipts carry a succinct Groth16 proof over BN254
	// that an on-chain verifier can check.
	ProofKindGroth16
)

// String returns the human readable name of the proof kind.
func (k ProofKind) String() string {
	switch k {
	case ProofKindFake:
		return "fake"
	case ProofKindGroth16:
		return "groth16"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// Opts selects how a proof is produced.
type Opts struct {
	Kind ProofKind
}

// FastOpts executes without proving.
func FastOpts() Opts { return Opts{Kind: ProofKindFake} }

// Groth16Opts produces on-chain verifiable proofs.
func Groth16Opts() Opts { return Opts{Kind: ProofKindGroth16} }

// ReceiptInner holds the proof material of a receipt.
type ReceiptInner struct {
	Kind ProofKind
	// Proof is the ABI encoded uint256[8] Groth16 proof, empty for fake
	// receipts.
	Proof []byte
	// VerifierDigest is the keccak256 digest of the verifying key able to
	// check Proof.
	VerifierDigest common.Hash
}

// Receipt is the result of proving a program execution. It is never mutated
// once returned by a Prover.
type Receipt struct {
	Program ProgramID
	Journal []byte
	Inner   ReceiptInner
}

// Program is a statement the local prover knows how to execute and prove.
type Program interface {
	// Name is the registry name, hashed into the ProgramID.
	Name() string
	// Circuit returns an empty circuit used for compilation.
	Circuit() frontend.Circuit
	// Execute runs the program on input, returning the full assignment and
	// the journal it commits.
	Execute(input []byte) (frontend.Circuit, []byte, error)
	// PublicAssignment rebuilds the public assignment bound to a journal.
	PublicAssignment(journal []byte) (frontend.Circuit, error)
}

// Prover is the proving capability consumed by the publisher.
type Prover interface {
	Prove(ctx context.Context, program ProgramID, env *Env, opts Opts) (*Receipt, error)
}

// Request builds a fresh execution environment holding input, asks p to prove
// the program on it and checks that the returned receipt matches the
// requested options. Every error wraps exactly one of ErrProverUnavailable,
// ErrExecutionFailed or ErrProofGenerationFailed.
func Request(ctx context.Context, p Prover, program ProgramID, input []byte, opts Opts) (*Receipt, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: no prover configured", ErrProverUnavailable)
	}
	env, err := NewEnvBuilder().WriteSlice(input).Build()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExecutionFailed, err)
	}
	receipt, err := p.Prove(ctx, program, env, opts)
	if err != nil {
		return nil, classify(err)
	}
	if receipt == nil {
		return nil, fmt.Errorf("%w: prover returned no receipt", ErrProofGenerationFailed)
	}
	if receipt.Inner.Kind != opts.Kind {
		return nil, fmt.Errorf("%w: requested %s receipt, got %s",
			ErrProofGenerationFailed, opts.Kind, receipt.Inner.Kind)
	}
	if receipt.Program != program {
		return nil, fmt.Errorf("%w: receipt for program %s, requested %s",
			ErrProofGenerationFailed, receipt.Program, program)
	}
	return receipt, nil
}

// classify makes sure err carries one of the three prover sentinels. Errors
// of unknown origin, including context errors, are treated as unavailability.
func classify(err error) error {
	switch {
	case errors.Is(err, ErrProverUnavailable),
		errors.Is(err, ErrExecutionFailed),
		errors.Is(err, ErrProofGenerationFailed):
		return err
	default:
		return fmt.Errorf("%w: %w", ErrProverUnavailable, err)
	}
}

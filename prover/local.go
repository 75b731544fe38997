package prover

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/backend/witness"
	"github.com/consensys/gnark/frontend"
	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/vocdoni/davinci-publisher/log"
	"github.com/vocdoni/davinci-publisher/solidity"
)

// setupCacheSize bounds the number of compiled programs kept in memory.
const setupCacheSize = 8

// Local proves registered programs in-process with gnark.
type Local struct {
	keysDir  string
	programs map[ProgramID]Program

	mu     sync.Mutex
	setups *lru.Cache[ProgramID, *circuitSetup]
}

// NewLocal returns a prover for the given programs. Groth16 keys are read from
// and written to keysDir; an empty keysDir keeps them in memory only.
func NewLocal(keysDir string, programs ...Program) (*Local, error) {
	if len(programs) == 0 {
		return nil, fmt.Errorf("no programs registered")
	}
	cache, err := lru.New[ProgramID, *circuitSetup](setupCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create setup cache: %w", err)
	}
	l := &Local{
		keysDir:  keysDir,
		programs: make(map[ProgramID]Program, len(programs)),
		setups:   cache,
	}
	for _, p := range programs {
		id := ProgramIDFromName(p.Name())
		if _, ok := l.programs[id]; ok {
			return nil, fmt.Errorf("program %q registered twice", p.Name())
		}
		l.programs[id] = p
	}
	return l, nil
}

// Program returns the program registered under id.
func (l *Local) Program(id ProgramID) (Program, bool) {
	p, ok := l.programs[id]
	return p, ok
}

// VerifyingKey returns the verifying key of a program and its digest, running
// the setup if needed.
func (l *Local) VerifyingKey(id ProgramID) (groth16.VerifyingKey, common.Hash, error) {
	s, err := l.setup(id, true)
	if err != nil {
		return nil, common.Hash{}, err
	}
	return s.vk, s.digest, nil
}

func (l *Local) setup(id ProgramID, withKeys bool) (*circuitSetup, error) {
	p, ok := l.programs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProgram, id)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.setups.Get(id)
	if !ok {
		var err error
		if s, err = compile(p); err != nil {
			return nil, err
		}
		l.setups.Add(id, s)
	}
	if withKeys {
		if err := s.ensureKeys(l.keysDir, id); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Prove executes the program on the env input and, unless opts asks for a
// fake receipt, proves the execution with Groth16. The proof is verified
// against the journal before it is returned.
func (l *Local) Prove(ctx context.Context, id ProgramID, env *Env, opts Opts) (*Receipt, error) {
	program, ok := l.programs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %w: %s", ErrExecutionFailed, ErrUnknownProgram, id)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProverUnavailable, err)
	}
	input, err := env.Take()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExecutionFailed, err)
	}
	assignment, journal, err := program.Execute(input)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExecutionFailed, err)
	}

	s, err := l.setup(id, opts.Kind == ProofKindGroth16)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProverUnavailable, err)
	}
	fullWitness, err := frontend.NewWitness(assignment, Curve.ScalarField())
	if err != nil {
		return nil, fmt.Errorf("%w: build witness: %w", ErrExecutionFailed, err)
	}
	if err := s.ccs.IsSolved(fullWitness); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExecutionFailed, err)
	}

	receipt := &Receipt{
		Program: id,
		Journal: journal,
		Inner:   ReceiptInner{Kind: opts.Kind},
	}
	switch opts.Kind {
	case ProofKindFake:
		return receipt, nil
	case ProofKindGroth16:
	default:
		return nil, fmt.Errorf("%w: unsupported proof kind %s", ErrProofGenerationFailed, opts.Kind)
	}

	startTime := time.Now()
	proof, err := l.prove(ctx, s, fullWitness)
	if err != nil {
		return nil, err
	}
	if err := verify(s, proof, journal); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProofGenerationFailed, err)
	}
	var sp solidity.Groth16Proof
	if err := sp.FromGnarkProof(proof); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProofGenerationFailed, err)
	}
	encoded, err := sp.ABIEncode()
	if err != nil {
		return nil, fmt.Errorf("%w: encode proof: %w", ErrProofGenerationFailed, err)
	}
	receipt.Inner.Proof = encoded
	receipt.Inner.VerifierDigest = s.digest
	log.Debugw("proof generated",
		"program", program.Name(),
		"took", time.Since(startTime).String(),
		"verifier", s.digest.Hex())
	return receipt, nil
}

// prove runs groth16.Prove in its own goroutine so that a cancelled context
// releases the caller. The proving goroutine finishes in the background.
func (l *Local) prove(ctx context.Context, s *circuitSetup, w witness.Witness) (groth16.Proof, error) {
	type result struct {
		proof groth16.Proof
		err   error
	}
	done := make(chan result, 1)
	go func() {
		proof, err := groth16.Prove(s.ccs, s.pk, w)
		done <- result{proof, err}
	}()
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrProverUnavailable, ctx.Err())
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("%w: %w", ErrProofGenerationFailed, r.err)
		}
		return r.proof, nil
	}
}

// verify checks proof against the public assignment rebuilt from journal.
func verify(s *circuitSetup, proof groth16.Proof, journal []byte) error {
	public, err := s.program.PublicAssignment(journal)
	if err != nil {
		return fmt.Errorf("journal: %w", err)
	}
	publicWitness, err := frontend.NewWitness(public, Curve.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return fmt.Errorf("public witness: %w", err)
	}
	if err := groth16.Verify(proof, s.vk, publicWitness); err != nil {
		return errors.Join(errors.New("proof does not verify"), err)
	}
	return nil
}

// Package verifier checks seals against journals the way the on-chain
// verifier router does: the seal selector picks a verification routine, and
// the routine checks the Groth16 proof against the public inputs rebuilt from
// the journal.
package verifier

import (
	"errors"
	"fmt"
	"sync"

	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/frontend"
	"github.com/vocdoni/davinci-publisher/prover"
	"github.com/vocdoni/davinci-publisher/seal"
	"github.com/vocdoni/davinci-publisher/solidity"
)

var (
	// ErrUnknownSelector is returned for seals whose selector has no routine.
	ErrUnknownSelector = errors.New("unknown verifier selector")
	// ErrInvalidSeal is returned when the seal or the journal cannot be parsed.
	ErrInvalidSeal = errors.New("invalid seal")
	// ErrVerificationFailed is returned when a well formed proof does not
	// verify against the journal.
	ErrVerificationFailed = errors.New("verification failed")
)

// routine is one verification routine behind a selector.
type routine struct {
	entry   seal.Entry
	vk      groth16.VerifyingKey
	program prover.Program
}

// Router dispatches seals to their verification routine.
type Router struct {
	mu       sync.RWMutex
	routines map[seal.Selector]*routine
}

// NewRouter returns an empty router.
func NewRouter() *Router {
	return &Router{routines: make(map[seal.Selector]*routine)}
}

// Register adds the routine for entry. The verifying key must hash to the
// entry's verifier digest.
func (r *Router) Register(entry seal.Entry, vk groth16.VerifyingKey, program prover.Program) error {
	if vk == nil || program == nil {
		return fmt.Errorf("routine %s: missing verifying key or program", entry.Selector)
	}
	digest, err := prover.VerifyingKeyDigest(vk)
	if err != nil {
		return err
	}
	if digest != entry.VerifierDigest {
		return fmt.Errorf("routine %s: verifying key digest %s does not match %s",
			entry.Selector, digest.Hex(), entry.VerifierDigest.Hex())
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.routines[entry.Selector]; ok {
		return fmt.Errorf("routine %s already registered", entry.Selector)
	}
	r.routines[entry.Selector] = &routine{entry: entry, vk: vk, program: program}
	return nil
}

// Selectors returns the number of registered routines.
func (r *Router) Selectors() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.routines)
}

// Verify checks that s proves the execution that committed journal.
func (r *Router) Verify(s []byte, journal []byte) error {
	selector, proofBytes, err := seal.Parse(s)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSeal, err)
	}
	r.mu.RLock()
	rt, ok := r.routines[selector]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSelector, selector)
	}

	var sp solidity.Groth16Proof
	if err := sp.ABIDecode(proofBytes); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSeal, err)
	}
	proof, err := sp.ToGnarkProof()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSeal, err)
	}
	public, err := rt.program.PublicAssignment(journal)
	if err != nil {
		return fmt.Errorf("%w: journal: %w", ErrInvalidSeal, err)
	}
	publicWitness, err := frontend.NewWitness(public, prover.Curve.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return fmt.Errorf("%w: public witness: %w", ErrInvalidSeal, err)
	}
	if err := groth16.Verify(proof, rt.vk, publicWitness); err != nil {
		return fmt.Errorf("%w: %w", ErrVerificationFailed, err)
	}
	return nil
}

// FromLocal registers, for every given program of l, a routine at the given
// version. It returns the router together with the matching seal registry so
// that the publisher and its local verifier share one selector set.
func FromLocal(l *prover.Local, version uint32, ids ...prover.ProgramID) (*Router, *seal.Registry, error) {
	router := NewRouter()
	entries := make([]seal.Entry, 0, len(ids))
	for _, id := range ids {
		program, ok := l.Program(id)
		if !ok {
			return nil, nil, fmt.Errorf("%w: %s", prover.ErrUnknownProgram, id)
		}
		vk, digest, err := l.VerifyingKey(id)
		if err != nil {
			return nil, nil, fmt.Errorf("setup %s: %w", program.Name(), err)
		}
		entry := seal.NewEntry(prover.ProofKindGroth16, version, digest)
		if err := router.Register(entry, vk, program); err != nil {
			return nil, nil, err
		}
		entries = append(entries, entry)
	}
	registry, err := seal.NewRegistry(entries...)
	if err != nil {
		return nil, nil, err
	}
	return router, registry, nil
}

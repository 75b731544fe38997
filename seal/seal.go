// Package seal turns prover receipts into the byte strings verified on-chain.
// A seal is a 4-byte selector followed by the proof bytes; the selector tells
// the verifier contract which verification routine understands the proof.
package seal

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/vocdoni/davinci-publisher/prover"
	"github.com/vocdoni/davinci-publisher/solidity"
)

// SelectorSize is the length of the selector prefix of every seal.
const SelectorSize = 4

var (
	// ErrUnsupportedProofSystem is returned for receipts whose proof kind or
	// verifier has no registered selector. Fake receipts always fail with it.
	ErrUnsupportedProofSystem = errors.New("unsupported proof system")
	// ErrMalformedSeal is returned by Parse for seals shorter than a selector.
	ErrMalformedSeal = errors.New("malformed seal")
)

// Selector routes a seal to a verification routine.
type Selector [SelectorSize]byte

// SelectorFor derives the selector of a verifier: the first four bytes of
// keccak256(digest ++ uint32be(version)).
func SelectorFor(digest common.Hash, version uint32) Selector {
	var v [4]byte
	binary.BigEndian.PutUint32(v[:], version)
	var s Selector
	copy(s[:], crypto.Keccak256(digest[:], v[:]))
	return s
}

// String returns the 0x-prefixed hex form of the selector.
func (s Selector) String() string {
	return "0x" + hex.EncodeToString(s[:])
}

// Seal is selector ++ proof.
type Seal []byte

// Selector returns the selector prefix. The seal must be well formed.
func (s Seal) Selector() Selector {
	var sel Selector
	copy(sel[:], s)
	return sel
}

// Proof returns the proof bytes following the selector.
func (s Seal) Proof() []byte {
	if len(s) < SelectorSize {
		return nil
	}
	return s[SelectorSize:]
}

// Parse splits b into its selector and proof.
func Parse(b []byte) (Selector, []byte, error) {
	if len(b) < SelectorSize {
		return Selector{}, nil, fmt.Errorf("%w: %d bytes", ErrMalformedSeal, len(b))
	}
	s := Seal(b)
	return s.Selector(), s.Proof(), nil
}

// Entry is one verification routine known to both the publisher and the
// verifier contract.
type Entry struct {
	Selector       Selector
	Kind           prover.ProofKind
	Version        uint32
	VerifierDigest common.Hash
}

// NewEntry builds a registry entry, deriving its selector.
func NewEntry(kind prover.ProofKind, version uint32, digest common.Hash) Entry {
	return Entry{
		Selector:       SelectorFor(digest, version),
		Kind:           kind,
		Version:        version,
		VerifierDigest: digest,
	}
}

// Registry is the closed set of selectors a publisher may emit. It is
// immutable once built.
type Registry struct {
	entries []Entry
}

// NewRegistry validates and stores entries. Fake proofs cannot be registered
// and selectors must be unique.
func NewRegistry(entries ...Entry) (*Registry, error) {
	r := &Registry{}
	for _, e := range entries {
		if e.Kind != prover.ProofKindGroth16 {
			return nil, fmt.Errorf("%w: cannot register %s proofs", ErrUnsupportedProofSystem, e.Kind)
		}
		if e.Selector != SelectorFor(e.VerifierDigest, e.Version) {
			return nil, fmt.Errorf("selector %s does not match verifier %s version %d",
				e.Selector, e.VerifierDigest.Hex(), e.Version)
		}
		if _, ok := r.BySelector(e.Selector); ok {
			return nil, fmt.Errorf("selector %s registered twice", e.Selector)
		}
		r.entries = append(r.entries, e)
	}
	slices.SortFunc(r.entries, func(a, b Entry) int {
		return bytes.Compare(a.Selector[:], b.Selector[:])
	})
	return r, nil
}

// Entries returns a copy of the registered entries, sorted by selector.
func (r *Registry) Entries() []Entry {
	return slices.Clone(r.entries)
}

// Lookup returns the entry for a proof kind and verifier. When several
// versions of the same verifier are registered the highest wins.
func (r *Registry) Lookup(kind prover.ProofKind, digest common.Hash) (Entry, bool) {
	var (
		found Entry
		ok    bool
	)
	for _, e := range r.entries {
		if e.Kind == kind && e.VerifierDigest == digest && (!ok || e.Version > found.Version) {
			found, ok = e, true
		}
	}
	return found, ok
}

// BySelector returns the entry registered under s.
func (r *Registry) BySelector(s Selector) (Entry, bool) {
	for _, e := range r.entries {
		if e.Selector == s {
			return e, true
		}
	}
	return Entry{}, false
}

// Encoder builds seals from receipts.
type Encoder struct {
	registry *Registry
}

// NewEncoder returns an encoder bound to a registry.
func NewEncoder(r *Registry) *Encoder {
	return &Encoder{registry: r}
}

// Encode returns the seal of r. It does not modify r and returns the same seal
// for the same receipt.
func (e *Encoder) Encode(r *prover.Receipt) (Seal, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: nil receipt", ErrUnsupportedProofSystem)
	}
	if r.Inner.Kind == prover.ProofKindFake {
		return nil, fmt.Errorf("%w: fake receipts cannot be published", ErrUnsupportedProofSystem)
	}
	if e == nil || e.registry == nil {
		return nil, fmt.Errorf("%w: empty selector registry", ErrUnsupportedProofSystem)
	}
	entry, ok := e.registry.Lookup(r.Inner.Kind, r.Inner.VerifierDigest)
	if !ok {
		return nil, fmt.Errorf("%w: no selector for %s verifier %s",
			ErrUnsupportedProofSystem, r.Inner.Kind, r.Inner.VerifierDigest.Hex())
	}
	if len(r.Inner.Proof) != solidity.ProofSize {
		return nil, fmt.Errorf("%w: %s proof of %d bytes, expected %d",
			ErrUnsupportedProofSystem, r.Inner.Kind, len(r.Inner.Proof), solidity.ProofSize)
	}
	s := make(Seal, 0, SelectorSize+len(r.Inner.Proof))
	s = append(s, entry.Selector[:]...)
	return append(s, r.Inner.Proof...), nil
}

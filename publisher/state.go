package publisher

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vocdoni/davinci-publisher/journal"
	"github.com/vocdoni/davinci-publisher/prover"
	"github.com/vocdoni/davinci-publisher/seal"
	"github.com/vocdoni/davinci-publisher/web3"
)

// State is a step of the publish pipeline. A run only moves forward, one
// state at a time, or to StateFailed.
type State uint8

const (
	StateStart State = iota
	StateInputEncoded
	StateProofObtained
	// StateClaimDerived means the seal is built and the journal decoded.
	StateClaimDerived
	StateClaimAssembled
	StateTxSubmitted
	StateTxConfirmed
	StateFailed
)

var stateNames = [...]string{
	StateStart:          "Start",
	StateInputEncoded:   "InputEncoded",
	StateProofObtained:  "ProofObtained",
	StateClaimDerived:   "ClaimDerived",
	StateClaimAssembled: "ClaimAssembled",
	StateTxSubmitted:    "TxSubmitted",
	StateTxConfirmed:    "TxConfirmed",
	StateFailed:         "Failed",
}

// String returns the name of the state.
func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// ParseState is the inverse of State.String.
func ParseState(name string) (State, error) {
	for s, n := range stateNames {
		if n == name {
			return State(s), nil
		}
	}
	return 0, fmt.Errorf("unknown state %q", name)
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateTxConfirmed || s == StateFailed
}

// ErrTerminalState is returned by Transition when called on a terminal state.
var ErrTerminalState = errors.New("no transition from a terminal state")

// Next returns the state that follows s on success.
func Next(s State) (State, error) {
	if s.Terminal() || s > StateFailed {
		return s, fmt.Errorf("%w: %s", ErrTerminalState, s)
	}
	return s + 1, nil
}

// Transition is the pipeline transition function: the outcome of the stage
// leaving from decides the next state. It has no side effects.
func Transition(from State, stageErr error) (State, error) {
	to, err := Next(from)
	if err != nil {
		return from, err
	}
	if stageErr != nil {
		return StateFailed, nil
	}
	return to, nil
}

// Kind classifies why a run failed.
type Kind uint8

const (
	KindNone Kind = iota
	KindInput
	KindProverUnavailable
	KindExecutionFailed
	KindProofGenerationFailed
	KindUnsupportedProofSystem
	KindJournalDecode
	KindPreflightRejected
	KindSubmissionFailed
	KindConfirmationTimeout
	KindSubmittedButUnconfirmed
	KindTxReverted
)

var kindNames = [...]string{
	KindNone:                    "None",
	KindInput:                   "InputError",
	KindProverUnavailable:       "ProverUnavailable",
	KindExecutionFailed:         "ExecutionFailed",
	KindProofGenerationFailed:   "ProofGenerationFailed",
	KindUnsupportedProofSystem:  "UnsupportedProofSystem",
	KindJournalDecode:           "JournalDecodeError",
	KindPreflightRejected:       "PreflightRejected",
	KindSubmissionFailed:        "SubmissionFailed",
	KindConfirmationTimeout:     "ConfirmationTimeout",
	KindSubmittedButUnconfirmed: "SubmittedButUnconfirmed",
	KindTxReverted:              "TxReverted",
}

// String returns the name of the kind.
func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// RetrySafe reports whether repeating the whole publish with the same input
// cannot produce a second on-chain effect. Only failures that happened before
// anything reached the chain, and that may be transient, qualify.
func (k Kind) RetrySafe() bool {
	return k == KindProverUnavailable || k == KindSubmissionFailed
}

// OutcomeUnknown reports whether a transaction may or may not have landed.
// Such runs must be reconciled, never resubmitted.
func (k Kind) OutcomeUnknown() bool {
	return k == KindConfirmationTimeout || k == KindSubmittedButUnconfirmed
}

// Classify maps the error of the stage entering state stage to a failure
// kind. Errors the stage does not recognize get the stage's default kind.
func Classify(stage State, err error) Kind {
	if err == nil {
		return KindNone
	}
	switch stage {
	case StateStart, StateInputEncoded:
		return KindInput
	case StateProofObtained:
		switch {
		case errors.Is(err, prover.ErrExecutionFailed):
			return KindExecutionFailed
		case errors.Is(err, prover.ErrProofGenerationFailed):
			return KindProofGenerationFailed
		default:
			return KindProverUnavailable
		}
	case StateClaimDerived:
		if errors.Is(err, seal.ErrUnsupportedProofSystem) {
			return KindUnsupportedProofSystem
		}
		if errors.Is(err, journal.ErrJournalDecode) {
			return KindJournalDecode
		}
		return KindUnsupportedProofSystem
	case StateClaimAssembled:
		return KindPreflightRejected
	case StateTxSubmitted:
		if errors.Is(err, web3.ErrSubmittedButUnconfirmed) {
			return KindSubmittedButUnconfirmed
		}
		return KindSubmissionFailed
	case StateTxConfirmed:
		switch {
		case errors.Is(err, web3.ErrTxReverted):
			return KindTxReverted
		case errors.Is(err, web3.ErrConfirmationTimeout):
			return KindConfirmationTimeout
		default:
			return KindSubmittedButUnconfirmed
		}
	default:
		return KindNone
	}
}

// Failure is the error returned by a failed run.
type Failure struct {
	// Stage is the state the run was trying to reach.
	Stage State
	Kind  Kind
	Err   error
	// TxHash is set when a transaction was submitted before the failure.
	TxHash *common.Hash
}

func (f *Failure) Error() string {
	if f.TxHash != nil {
		return fmt.Sprintf("%s at %s (tx %s): %v", f.Kind, f.Stage, f.TxHash.Hex(), f.Err)
	}
	return fmt.Sprintf("%s at %s: %v", f.Kind, f.Stage, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// RetrySafe reports whether the run can be repeated verbatim.
func (f *Failure) RetrySafe() bool {
	return f.Kind.RetrySafe()
}

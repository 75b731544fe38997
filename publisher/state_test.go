package publisher

import (
	"errors"
	"fmt"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/vocdoni/davinci-publisher/journal"
	"github.com/vocdoni/davinci-publisher/prover"
	"github.com/vocdoni/davinci-publisher/seal"
	"github.com/vocdoni/davinci-publisher/web3"
)

func TestTransition(t *testing.T) {
	c := qt.New(t)
	boom := errors.New("boom")

	path := []State{
		StateStart,
		StateInputEncoded,
		StateProofObtained,
		StateClaimDerived,
		StateClaimAssembled,
		StateTxSubmitted,
		StateTxConfirmed,
	}
	for i, from := range path[:len(path)-1] {
		to, err := Transition(from, nil)
		c.Assert(err, qt.IsNil)
		c.Assert(to, qt.Equals, path[i+1])

		to, err = Transition(from, boom)
		c.Assert(err, qt.IsNil)
		c.Assert(to, qt.Equals, StateFailed)

		// same inputs, same output
		again, _ := Transition(from, boom)
		c.Assert(again, qt.Equals, to)
	}

	for _, s := range []State{StateTxConfirmed, StateFailed, State(42)} {
		to, err := Transition(s, nil)
		c.Assert(err, qt.ErrorIs, ErrTerminalState)
		c.Assert(to, qt.Equals, s)
	}
}

func TestStateNames(t *testing.T) {
	c := qt.New(t)
	for s := StateStart; s <= StateFailed; s++ {
		parsed, err := ParseState(s.String())
		c.Assert(err, qt.IsNil)
		c.Assert(parsed, qt.Equals, s)
	}
	_, err := ParseState("Mined")
	c.Assert(err, qt.ErrorMatches, `unknown state "Mined"`)
	c.Assert(State(99).String(), qt.Equals, "State(99)")
	c.Assert(StateClaimDerived.Terminal(), qt.IsFalse)
	c.Assert(StateFailed.Terminal(), qt.IsTrue)
}

func TestClassify(t *testing.T) {
	wrap := func(sentinel error) error { return fmt.Errorf("%w: detail", sentinel) }
	cases := []struct {
		stage State
		err   error
		kind  Kind
	}{
		{StateInputEncoded, errors.New("nil value"), KindInput},
		{StateProofObtained, wrap(prover.ErrProverUnavailable), KindProverUnavailable},
		{StateProofObtained, wrap(prover.ErrExecutionFailed), KindExecutionFailed},
		{StateProofObtained, wrap(prover.ErrProofGenerationFailed), KindProofGenerationFailed},
		{StateProofObtained, errors.New("connection refused"), KindProverUnavailable},
		{StateClaimDerived, wrap(seal.ErrUnsupportedProofSystem), KindUnsupportedProofSystem},
		{StateClaimDerived, wrap(journal.ErrJournalDecode), KindJournalDecode},
		{StateClaimDerived, errors.Join(wrap(seal.ErrUnsupportedProofSystem), wrap(journal.ErrJournalDecode)), KindUnsupportedProofSystem},
		{StateClaimAssembled, wrap(ErrPreflightRejected), KindPreflightRejected},
		{StateTxSubmitted, wrap(web3.ErrSubmissionFailed), KindSubmissionFailed},
		{StateTxSubmitted, wrap(web3.ErrSubmittedButUnconfirmed), KindSubmittedButUnconfirmed},
		{StateTxConfirmed, wrap(web3.ErrConfirmationTimeout), KindConfirmationTimeout},
		{StateTxConfirmed, wrap(web3.ErrSubmittedButUnconfirmed), KindSubmittedButUnconfirmed},
		{StateTxConfirmed, wrap(web3.ErrTxReverted), KindTxReverted},
		{StateTxConfirmed, errors.New("node went away"), KindSubmittedButUnconfirmed},
		{StateTxConfirmed, nil, KindNone},
	}
	c := qt.New(t)
	for _, tc := range cases {
		c.Run(fmt.Sprintf("%s/%v", tc.stage, tc.err), func(c *qt.C) {
			c.Assert(Classify(tc.stage, tc.err), qt.Equals, tc.kind)
		})
	}
}

func TestKindLabels(t *testing.T) {
	c := qt.New(t)
	retrySafe := map[Kind]bool{
		KindProverUnavailable: true,
		KindSubmissionFailed:  true,
	}
	outcomeUnknown := map[Kind]bool{
		KindConfirmationTimeout:     true,
		KindSubmittedButUnconfirmed: true,
	}
	for k := KindNone; k <= KindTxReverted; k++ {
		c.Assert(k.RetrySafe(), qt.Equals, retrySafe[k], qt.Commentf("kind %s", k))
		c.Assert(k.OutcomeUnknown(), qt.Equals, outcomeUnknown[k], qt.Commentf("kind %s", k))
		// a transaction that may have landed is never safe to resend
		if k.OutcomeUnknown() {
			c.Assert(k.RetrySafe(), qt.IsFalse)
		}
	}
	c.Assert(KindJournalDecode.String(), qt.Equals, "JournalDecodeError")
	c.Assert(Kind(200).String(), qt.Equals, "Kind(200)")
}

func TestFailure(t *testing.T) {
	c := qt.New(t)
	cause := fmt.Errorf("%w: even", prover.ErrExecutionFailed)
	f := &Failure{Stage: StateProofObtained, Kind: KindExecutionFailed, Err: cause}

	var err error = f
	c.Assert(err, qt.ErrorIs, prover.ErrExecutionFailed)
	c.Assert(err, qt.ErrorMatches, `ExecutionFailed at ProofObtained: program execution failed: even`)
	c.Assert(f.RetrySafe(), qt.IsFalse)

	var target *Failure
	c.Assert(errors.As(fmt.Errorf("publish: %w", err), &target), qt.IsTrue)
	c.Assert(target.Kind, qt.Equals, KindExecutionFailed)
}

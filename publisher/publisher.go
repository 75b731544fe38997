// Package publisher proves a value with a registered program and publishes
// it, together with the proof seal, to the value registry contract. Each call
// to Publish drives one run through a linear pipeline:
//
//	Start → InputEncoded → ProofObtained → ClaimDerived → ClaimAssembled
//	      → TxSubmitted → TxConfirmed
//
// and any stage may end the run in Failed. The published value is always the
// one committed by the program journal, never the caller's input. The
// publisher never retries: failures are labelled with a Kind whose RetrySafe
// method tells the caller whether repeating the run is safe.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/vocdoni/davinci-publisher/codec"
	"github.com/vocdoni/davinci-publisher/journal"
	"github.com/vocdoni/davinci-publisher/log"
	"github.com/vocdoni/davinci-publisher/prover"
	"github.com/vocdoni/davinci-publisher/seal"
	"github.com/vocdoni/davinci-publisher/storage"
	"github.com/vocdoni/davinci-publisher/types"
	"github.com/vocdoni/davinci-publisher/web3"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrInput is returned for values that cannot be encoded.
	ErrInput = errors.New("invalid input")
	// ErrPreflightRejected is returned when the local verifier rejects a
	// claim before submission.
	ErrPreflightRejected = errors.New("claim rejected by preflight verification")
)

// ChainClient submits claims and follows their transactions.
type ChainClient interface {
	// Update submits the claim and returns the transaction hash once the node
	// accepted it. A non-zero hash returned with an error means the
	// transaction may have reached the node.
	Update(ctx context.Context, value *uint256.Int, seal []byte) (common.Hash, error)
	// AwaitReceipt blocks until the transaction is confirmed or ctx is done.
	AwaitReceipt(ctx context.Context, txHash common.Hash) (*types.TxOutcome, error)
}

// Verifier checks a seal against a journal, as the on-chain verifier would.
type Verifier interface {
	Verify(seal []byte, journal []byte) error
}

// Recorder persists runs that reached the chain.
type Recorder interface {
	Save(r *storage.Record) error
}

// Options configure a Publisher. Program is required.
type Options struct {
	Program prover.ProgramID
	// ConfirmTimeout bounds the wait for the transaction receipt. Zero waits
	// until the Publish context is done.
	ConfirmTimeout time.Duration
	// Observer, if set, is notified of every state transition.
	Observer Observer
	// Preflight, if set, verifies every claim before it is submitted.
	Preflight Verifier
	// Recorder, if set, stores runs at submission and at their end.
	Recorder Recorder
}

// Claim is what gets published: the value decoded from the journal and the
// seal proving it.
type Claim struct {
	Value *uint256.Int
	Seal  seal.Seal
}

// Run is one publish attempt. A run is owned by the Publish call that
// created it until Publish returns.
type Run struct {
	ID        uuid.UUID
	Program   prover.ProgramID
	Requested *uint256.Int
	Input     []byte
	State     State
	History   []State
	Receipt   *prover.Receipt
	Claim     *Claim
	TxHash    *common.Hash
	Outcome   *types.TxOutcome
	Failure   *Failure
	StartedAt time.Time
}

// Record returns the ledger view of the run.
func (r *Run) Record() *storage.Record {
	rec := &storage.Record{
		ID:        r.ID.String(),
		Program:   common.Hash(r.Program),
		Input:     r.Input,
		State:     r.State.String(),
		Outcome:   r.Outcome,
		CreatedAt: r.StartedAt.Unix(),
	}
	if r.Receipt != nil {
		rec.Journal = r.Receipt.Journal
	}
	if r.Claim != nil {
		rec.Seal = types.HexBytes(r.Claim.Seal)
	}
	if r.TxHash != nil {
		rec.TxHash = *r.TxHash
	}
	switch {
	case r.Failure != nil:
		rec.Kind = r.Failure.Kind.String()
		rec.Error = r.Failure.Err.Error()
		rec.Pending = r.Failure.Kind.OutcomeUnknown()
	case r.State == StateTxSubmitted:
		rec.Pending = true
	}
	return rec
}

// Publisher runs the publish pipeline. It holds only read-only collaborators
// and can serve concurrent Publish calls.
type Publisher struct {
	prover  prover.Prover
	encoder *seal.Encoder
	chain   ChainClient
	opts    Options
}

// New returns a publisher.
func New(p prover.Prover, encoder *seal.Encoder, chain ChainClient, opts Options) (*Publisher, error) {
	if p == nil {
		return nil, fmt.Errorf("no prover")
	}
	if encoder == nil {
		return nil, fmt.Errorf("no seal encoder")
	}
	if chain == nil {
		return nil, fmt.Errorf("no chain client")
	}
	if opts.Program == (prover.ProgramID{}) {
		return nil, fmt.Errorf("no program")
	}
	if opts.ConfirmTimeout < 0 {
		return nil, fmt.Errorf("negative confirmation timeout")
	}
	return &Publisher{prover: p, encoder: encoder, chain: chain, opts: opts}, nil
}

// Publish proves value and publishes the proved claim. The returned run is
// never nil and reflects how far the pipeline got; on failure the error is
// the run's *Failure.
func (p *Publisher) Publish(ctx context.Context, value *uint256.Int) (*Run, error) {
	run := &Run{
		ID:        uuid.New(),
		Program:   p.opts.Program,
		State:     StateStart,
		History:   []State{StateStart},
		StartedAt: time.Now(),
	}
	if value != nil {
		run.Requested = value.Clone()
	}
	log.Infow("publish started", "run", run.ID.String(), "program", run.Program.String(), "value", valueString(value))

	// Start → InputEncoded
	if err := p.advance(run, p.encodeInput(run, value)); err != nil {
		return run, err
	}
	// InputEncoded → ProofObtained
	receipt, err := prover.Request(ctx, p.prover, run.Program, run.Input, prover.Groth16Opts())
	run.Receipt = receipt
	if err := p.advance(run, err); err != nil {
		return run, err
	}
	// ProofObtained → ClaimDerived
	s, decoded, err := p.deriveClaim(receipt)
	if err := p.advance(run, err); err != nil {
		return run, err
	}
	// ClaimDerived → ClaimAssembled
	if err := p.advance(run, p.assembleClaim(run, decoded, s)); err != nil {
		return run, err
	}
	// ClaimAssembled → TxSubmitted
	txHash, err := p.chain.Update(ctx, run.Claim.Value, run.Claim.Seal)
	if txHash != (common.Hash{}) {
		run.TxHash = &txHash
	}
	if err := p.advance(run, err); err != nil {
		return run, err
	}
	// TxSubmitted → TxConfirmed
	waitCtx, cancel := ctx, context.CancelFunc(func() {})
	if p.opts.ConfirmTimeout > 0 {
		waitCtx, cancel = context.WithTimeout(ctx, p.opts.ConfirmTimeout)
	}
	outcome, err := p.chain.AwaitReceipt(waitCtx, txHash)
	cancel()
	if err == nil && outcome == nil {
		err = fmt.Errorf("%w: no receipt for tx %s", web3.ErrSubmittedButUnconfirmed, txHash.Hex())
	}
	run.Outcome = outcome
	if err := p.advance(run, err); err != nil {
		return run, err
	}
	return run, nil
}

func (p *Publisher) encodeInput(run *Run, value *uint256.Int) error {
	if value == nil {
		return fmt.Errorf("%w: missing value", ErrInput)
	}
	run.Input = codec.Encode(value)
	return nil
}

// deriveClaim builds the seal and decodes the journal concurrently. Both are
// pure functions of the receipt.
func (p *Publisher) deriveClaim(receipt *prover.Receipt) (seal.Seal, *uint256.Int, error) {
	var (
		s                   seal.Seal
		decoded             *uint256.Int
		sealErr, journalErr error
		g                   errgroup.Group
	)
	g.Go(func() error {
		s, sealErr = p.encoder.Encode(receipt)
		return sealErr
	})
	g.Go(func() error {
		decoded, journalErr = journal.Decode(receipt)
		return journalErr
	})
	if err := g.Wait(); err != nil {
		return nil, nil, errors.Join(sealErr, journalErr)
	}
	return s, decoded, nil
}

func (p *Publisher) assembleClaim(run *Run, decoded *uint256.Int, s seal.Seal) error {
	if run.Requested != nil && !run.Requested.Eq(decoded) {
		log.Warnw("journal value differs from requested value, publishing journal value",
			"run", run.ID.String(),
			"requested", run.Requested.Dec(),
			"journal", decoded.Dec())
	}
	run.Claim = &Claim{Value: decoded, Seal: s}
	if p.opts.Preflight == nil {
		return nil
	}
	if err := p.opts.Preflight.Verify(s, run.Receipt.Journal); err != nil {
		return fmt.Errorf("%w: %w", ErrPreflightRejected, err)
	}
	return nil
}

// advance applies the outcome of a stage to the run. It is the only place
// where the run state changes, and where telemetry and recording happen.
func (p *Publisher) advance(run *Run, stageErr error) error {
	from := run.State
	to, err := Transition(from, stageErr)
	if err != nil {
		return err
	}
	if to == StateFailed {
		stage, _ := Next(from)
		run.Failure = &Failure{
			Stage:  stage,
			Kind:   Classify(stage, stageErr),
			Err:    stageErr,
			TxHash: run.TxHash,
		}
	}
	run.State = to
	run.History = append(run.History, to)

	switch to {
	case StateTxSubmitted:
		log.Infow("transaction submitted", "run", run.ID.String(), "tx", run.TxHash.Hex())
		p.record(run)
	case StateTxConfirmed:
		log.Infow("publish confirmed",
			"run", run.ID.String(),
			"tx", run.TxHash.Hex(),
			"block", run.Outcome.BlockNumber,
			"gasUsed", run.Outcome.GasUsed,
			"value", run.Claim.Value.Dec(),
			"took", time.Since(run.StartedAt).String())
		p.record(run)
	case StateFailed:
		log.Warnw("publish failed",
			"run", run.ID.String(),
			"stage", run.Failure.Stage.String(),
			"kind", run.Failure.Kind.String(),
			"retrySafe", run.Failure.Kind.RetrySafe(),
			"error", stageErr.Error())
		if run.TxHash != nil {
			p.record(run)
		}
	}
	if p.opts.Observer != nil {
		p.opts.Observer.OnTransition(run, from)
	}
	if run.Failure != nil {
		return run.Failure
	}
	return nil
}

// record stores the run. A ledger error never changes the run outcome: the
// transaction is already out.
func (p *Publisher) record(run *Run) {
	if p.opts.Recorder == nil {
		return
	}
	if err := p.opts.Recorder.Save(run.Record()); err != nil {
		log.Errorw(err, fmt.Sprintf("failed to record run %s", run.ID))
	}
}

func valueString(v *uint256.Int) string {
	if v == nil {
		return "<nil>"
	}
	return v.Dec()
}

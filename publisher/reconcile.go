package publisher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vocdoni/davinci-publisher/log"
	"github.com/vocdoni/davinci-publisher/storage"
	"github.com/vocdoni/davinci-publisher/web3"
)

// Ledger is the view of the run ledger used by Reconcile.
type Ledger interface {
	Pending() ([]*storage.Record, error)
	Save(r *storage.Record) error
}

// Reconcile waits again, up to timeout each, for the receipts of the recorded
// runs whose outcome is unknown, and stores what it learns. It only reads the
// chain: a transaction is never submitted again, whatever its outcome. The
// updated records are returned.
func Reconcile(ctx context.Context, chain ChainClient, ledger Ledger, timeout time.Duration) ([]*storage.Record, error) {
	pending, err := ledger.Pending()
	if err != nil {
		return nil, fmt.Errorf("list pending runs: %w", err)
	}
	updated := make([]*storage.Record, 0, len(pending))
	for _, rec := range pending {
		if err := ctx.Err(); err != nil {
			return updated, err
		}
		if rec.TxHash == (common.Hash{}) {
			log.Warnw("pending run without transaction", "run", rec.ID)
			continue
		}
		reconcileRecord(ctx, chain, rec, timeout)
		if err := ledger.Save(rec); err != nil {
			return updated, fmt.Errorf("save run %s: %w", rec.ID, err)
		}
		updated = append(updated, rec)
	}
	return updated, nil
}

func reconcileRecord(ctx context.Context, chain ChainClient, rec *storage.Record, timeout time.Duration) {
	waitCtx, cancel := ctx, context.CancelFunc(func() {})
	if timeout > 0 {
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	outcome, err := chain.AwaitReceipt(waitCtx, rec.TxHash)
	if err == nil && outcome == nil {
		err = fmt.Errorf("%w: no receipt for tx %s", web3.ErrSubmittedButUnconfirmed, rec.TxHash.Hex())
	}
	rec.Outcome = outcome
	switch {
	case err == nil:
		rec.State = StateTxConfirmed.String()
		rec.Kind, rec.Error, rec.Pending = "", "", false
		log.Infow("pending run confirmed", "run", rec.ID, "tx", rec.TxHash.Hex(), "block", outcome.BlockNumber)
	case errors.Is(err, web3.ErrTxReverted):
		rec.State = StateFailed.String()
		rec.Kind, rec.Error, rec.Pending = KindTxReverted.String(), err.Error(), false
		log.Warnw("pending run reverted", "run", rec.ID, "tx", rec.TxHash.Hex())
	default:
		kind := Classify(StateTxConfirmed, err)
		rec.State = StateFailed.String()
		rec.Kind, rec.Error, rec.Pending = kind.String(), err.Error(), true
		log.Infow("pending run still unconfirmed", "run", rec.ID, "tx", rec.TxHash.Hex(), "kind", kind.String())
	}
}

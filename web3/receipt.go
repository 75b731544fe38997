package web3

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/vocdoni/davinci-publisher/log"
	"github.com/vocdoni/davinci-publisher/types"
)

// AwaitReceipt polls the receipt of txHash until it is included with the
// configured number of confirmations. The wait is bounded by ctx only: a
// deadline maps to ErrConfirmationTimeout, any other cancellation to
// ErrSubmittedButUnconfirmed. A receipt with a failed status is returned
// along with ErrTxReverted.
func (c *Client) AwaitReceipt(ctx context.Context, txHash common.Hash) (*types.TxOutcome, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		receipt, err := c.confirmedReceipt(ctx, txHash)
		switch {
		case err != nil:
			log.Debugw("receipt not available", "tx", txHash.Hex(), "error", err.Error())
		case receipt != nil:
			outcome := types.TxOutcomeFromReceipt(receipt)
			if receipt.Status != gtypes.ReceiptStatusSuccessful {
				return outcome, fmt.Errorf("%w: tx %s in block %d", ErrTxReverted, txHash.Hex(), outcome.BlockNumber)
			}
			return outcome, nil
		}
		select {
		case <-ctx.Done():
			return nil, waitError(ctx, txHash)
		case <-ticker.C:
		}
	}
}

// confirmedReceipt returns the receipt of txHash once it has enough
// confirmations, or nil if it is not there yet.
func (c *Client) confirmedReceipt(ctx context.Context, txHash common.Hash) (*gtypes.Receipt, error) {
	receipt, err := c.backend.TransactionReceipt(ctx, txHash)
	if errors.Is(err, ethereum.NotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if receipt.BlockNumber == nil {
		return nil, fmt.Errorf("receipt of %s has no block number", txHash.Hex())
	}
	if c.confirmations <= 1 {
		return receipt, nil
	}
	head, err := c.backend.BlockNumber(ctx)
	if err != nil {
		return nil, err
	}
	included := receipt.BlockNumber.Uint64()
	if head+1 < included+c.confirmations {
		return nil, nil
	}
	return receipt, nil
}

// CheckTxStatus returns whether the transaction was included successfully.
func (c *Client) CheckTxStatus(ctx context.Context, txHash common.Hash) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, web3QueryTimeout)
	defer cancel()
	receipt, err := c.backend.TransactionReceipt(ctx, txHash)
	if err != nil {
		return false, fmt.Errorf("failed to get transaction receipt: %w", err)
	}
	return receipt.Status == gtypes.ReceiptStatusSuccessful, nil
}

func waitError(ctx context.Context, txHash common.Hash) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: tx %s", ErrConfirmationTimeout, txHash.Hex())
	}
	return fmt.Errorf("%w: tx %s: %w", ErrSubmittedButUnconfirmed, txHash.Hex(), ctx.Err())
}

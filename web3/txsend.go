package web3

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/vocdoni/davinci-publisher/log"
)

const (
	sendMaxAttempts     = 10
	cancelGasLimit      = 21000
	retryBackoff        = 300 * time.Millisecond
	cancelBackoff       = 200 * time.Millisecond
	replacementWaitHint = 400 * time.Millisecond
)

// buildAndSendFn must construct and SEND a tx using the provided nonce and
// fees, and return the tx (even if sending errored) along with the error.
type buildAndSendFn func(nonce uint64, fees FeeCaps) (*gtypes.Transaction, error)

// sendWithReplacement sends a transaction with nonce reconciliation and fee
// bumping. Gaps below the expected nonce are filled with cancel transactions.
// It returns the hash of the transaction accepted by the node. When a send
// fails without a reply from the node, the transaction may be in the pool:
// its hash is returned with ErrSubmittedButUnconfirmed.
func (c *Client) sendWithReplacement(ctx context.Context, buildAndSend buildAndSendFn) (common.Hash, error) {
	fees, err := c.SuggestInitialFees(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("initial fees: %w", err)
	}

	for attempt := 1; attempt <= sendMaxAttempts; attempt++ {
		// Always reconcile next expected nonce from provider (pending).
		nextNonce, err := c.backend.PendingNonceAt(ctx, c.address)
		if err != nil {
			return common.Hash{}, fmt.Errorf("pending nonce: %w", err)
		}

		tx, sendErr := buildAndSend(nextNonce, fees)
		if sendErr == nil {
			return tx.Hash(), nil
		}
		// the node already pooled this exact tx
		if tx != nil && isAlreadyKnown(sendErr) {
			return tx.Hash(), nil
		}
		log.Debugw("send attempt failed", "attempt", attempt, "nonce", nextNonce, "error", sendErr.Error())

		switch {
		case isNonceTooHigh(sendErr):
			expected, err := c.backend.PendingNonceAt(ctx, c.address)
			if err != nil {
				return common.Hash{}, fmt.Errorf("re-fetch pending nonce: %w", err)
			}
			if expected > nextNonce {
				if err := sleep(ctx, retryBackoff); err != nil {
					return common.Hash{}, err
				}
				continue
			}
			for n := expected; n < nextNonce; n++ {
				if fees, err = c.cancelNonce(ctx, n, fees); err != nil {
					return common.Hash{}, err
				}
				if err := sleep(ctx, cancelBackoff); err != nil {
					return common.Hash{}, err
				}
			}

		case isNonceTooLow(sendErr):
			if err := sleep(ctx, retryBackoff); err != nil {
				return common.Hash{}, err
			}

		case isUnderpriced(sendErr) || isFeeTooLow(sendErr):
			if fees, err = c.BumpFees(ctx, fees); err != nil {
				return common.Hash{}, fmt.Errorf("bump fees: %w", err)
			}
			if err := sleep(ctx, replacementWaitHint); err != nil {
				return common.Hash{}, err
			}

		case tx != nil && !isNodeRejection(sendErr):
			log.Warnw("send outcome unknown", "nonce", nextNonce, "tx", tx.Hash().Hex(), "error", sendErr.Error())
			return tx.Hash(), fmt.Errorf("%w: send tx %s: %w", ErrSubmittedButUnconfirmed, tx.Hash().Hex(), sendErr)

		default:
			return common.Hash{}, fmt.Errorf("send tx failed: %w", sendErr)
		}
	}
	return common.Hash{}, fmt.Errorf("exhausted attempts (%d) to send tx with replacement", sendMaxAttempts)
}

// cancelNonce replaces whatever is pending at nonce with a cancel tx, bumping
// the fees once if the node asks for it. It returns the fees in use.
func (c *Client) cancelNonce(ctx context.Context, nonce uint64, fees FeeCaps) (FeeCaps, error) {
	err := c.sendCancelTx(ctx, nonce, fees)
	if err == nil || isBenignSendErr(err) {
		return fees, nil
	}
	if !isUnderpriced(err) && !isFeeTooLow(err) {
		return fees, fmt.Errorf("cancel nonce %d failed: %w", nonce, err)
	}
	if fees, err = c.BumpFees(ctx, fees); err != nil {
		return fees, fmt.Errorf("bump fees for cancel: %w", err)
	}
	if err := c.sendCancelTx(ctx, nonce, fees); err != nil && !isBenignSendErr(err) {
		return fees, fmt.Errorf("cancel nonce %d failed: %w", nonce, err)
	}
	return fees, nil
}

// sendCancelTx sends a 0-value EIP-1559 tx to self with the given nonce and
// fees, replacing any pending tx at that nonce.
func (c *Client) sendCancelTx(ctx context.Context, nonce uint64, fees FeeCaps) error {
	to := c.address
	signed, err := c.sign(&gtypes.DynamicFeeTx{
		ChainID:   c.chainID,
		Nonce:     nonce,
		GasTipCap: fees.TipCap,
		GasFeeCap: fees.FeeCap,
		Gas:       cancelGasLimit,
		To:        &to,
		Value:     big.NewInt(0),
	})
	if err != nil {
		return fmt.Errorf("sign cancel tx: %w", err)
	}
	log.Infow("cancelling pending nonce", "nonce", nonce, "tx", signed.Hash().Hex())
	return c.backend.SendTransaction(ctx, signed)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Error classifiers
func isNonceTooHigh(err error) bool {
	return containsErr(err, "nonce too high")
}

func isNonceTooLow(err error) bool {
	return containsErr(err, "nonce too low")
}

func isUnderpriced(err error) bool {
	return containsErr(err, "replacement transaction underpriced") ||
		containsErr(err, "transaction underpriced") ||
		containsErr(err, "tip too low")
}

func isFeeTooLow(err error) bool {
	return containsErr(err, "fee cap too low") ||
		containsErr(err, "max priority fee per gas higher than max fee per gas") ||
		containsErr(err, "max fee per gas less than block base fee")
}

func isInsufficientFunds(err error) bool {
	return containsErr(err, "insufficient funds")
}

func isGasLimitRejected(err error) bool {
	return containsErr(err, "intrinsic gas too low") ||
		containsErr(err, "exceeds block gas limit")
}

// isNodeRejection reports whether err is an answer from the node refusing the
// transaction, as opposed to a transport or context error that leaves its
// fate unknown.
func isNodeRejection(err error) bool {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return true
	}
	return isNonceTooHigh(err) || isNonceTooLow(err) ||
		isUnderpriced(err) || isFeeTooLow(err) ||
		isInsufficientFunds(err) || isGasLimitRejected(err) ||
		isReverted(err)
}

func isAlreadyKnown(err error) bool {
	return containsErr(err, "already known")
}

func isBenignSendErr(err error) bool {
	return isAlreadyKnown(err) || isNonceTooLow(err)
}

func isReverted(err error) bool {
	return containsErr(err, "execution reverted")
}

func containsErr(err error, sub string) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), strings.ToLower(sub))
}

// Package testutil provides in-memory stand-ins for the chain and shared
// proving fixtures used across package tests.
package testutil

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/vocdoni/davinci-publisher/codec"
	"github.com/vocdoni/davinci-publisher/log"
	"github.com/vocdoni/davinci-publisher/types"
	"github.com/vocdoni/davinci-publisher/web3"
)

// Verifier checks a seal against the journal the contract rebuilds from the
// submitted value.
type Verifier interface {
	Verify(seal []byte, journal []byte) error
}

// Chain is an in-memory value registry. Update executes set(x, seal)
// immediately: the seal is verified against abi.encode(x) and the value is
// stored only if it verifies, otherwise the transaction reverts.
type Chain struct {
	mu        sync.Mutex
	verifier  Verifier
	value     *uint256.Int
	block     uint64
	nonce     uint64
	receipts  map[common.Hash]*types.TxOutcome
	held      map[common.Hash]*types.TxOutcome
	submitted []common.Hash
	mined     chan struct{}

	// UpdateErr, when set, makes Update fail without sending anything.
	UpdateErr error
	// BroadcastErr, when set, makes Update execute the transaction and then
	// fail as if the reply of the node was lost.
	BroadcastErr error
	// Hold keeps transactions pending until Mine is called.
	Hold bool
}

// NewChain returns a chain whose registry holds zero.
func NewChain(v Verifier) *Chain {
	return &Chain{
		verifier: v,
		value:    new(uint256.Int),
		block:    1,
		receipts: make(map[common.Hash]*types.TxOutcome),
		held:     make(map[common.Hash]*types.TxOutcome),
		mined:    make(chan struct{}),
	}
}

// Update executes set(value, seal).
func (c *Chain) Update(_ context.Context, value *uint256.Int, seal []byte) (common.Hash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.UpdateErr != nil {
		return common.Hash{}, fmt.Errorf("%w: %w", web3.ErrSubmissionFailed, c.UpdateErr)
	}
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], c.nonce)
	c.nonce++
	hash := crypto.Keccak256Hash(n[:], codec.Encode(value), seal)
	c.submitted = append(c.submitted, hash)

	c.block++
	outcome := &types.TxOutcome{
		TxHash:      hash,
		BlockNumber: c.block,
		BlockHash:   crypto.Keccak256Hash(new(big.Int).SetUint64(c.block).Bytes()),
		GasUsed:     21_000,
		Status:      1,
	}
	if err := c.verifier.Verify(seal, codec.Encode(value)); err != nil {
		log.Debugw("mock chain: set reverted", "tx", hash.Hex(), "error", err.Error())
		outcome.Status = 0
	} else {
		c.value = value.Clone()
		outcome.GasUsed = 250_000
	}
	if c.Hold {
		c.held[hash] = outcome
	} else {
		c.receipts[hash] = outcome
	}
	if c.BroadcastErr != nil {
		return hash, fmt.Errorf("%w: %w", web3.ErrSubmittedButUnconfirmed, c.BroadcastErr)
	}
	return hash, nil
}

// AwaitReceipt waits for the receipt of txHash, mapping ctx errors the way
// web3.Client does.
func (c *Chain) AwaitReceipt(ctx context.Context, txHash common.Hash) (*types.TxOutcome, error) {
	for {
		c.mu.Lock()
		outcome, ok := c.receipts[txHash]
		mined := c.mined
		c.mu.Unlock()
		if ok {
			o := *outcome
			if !o.Succeeded() {
				return &o, fmt.Errorf("%w: tx %s", web3.ErrTxReverted, txHash.Hex())
			}
			return &o, nil
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: tx %s", web3.ErrConfirmationTimeout, txHash.Hex())
			}
			return nil, fmt.Errorf("%w: %w", web3.ErrSubmittedButUnconfirmed, ctx.Err())
		case <-mined:
		}
	}
}

// Mine includes every held transaction.
func (c *Chain) Mine() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for h, o := range c.held {
		c.receipts[h] = o
		delete(c.held, h)
	}
	close(c.mined)
	c.mined = make(chan struct{})
}

// Value returns the value stored in the registry.
func (c *Chain) Value() *uint256.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value.Clone()
}

// Submitted returns the hashes of every accepted transaction.
func (c *Chain) Submitted() []common.Hash {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]common.Hash(nil), c.submitted...)
}

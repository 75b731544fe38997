package web3

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/vocdoni/davinci-publisher/log"
)

// GasEstimateOpts tunes gas estimation.
type GasEstimateOpts struct {
	MinGas    uint64        // minimum possible gas limit (default 21,000)
	MaxGas    uint64        // maximum possible gas limit (default 5,000,000)
	SafetyBps int           // safety margin in basis points (default +10%)
	Retries   int           // retry count for RPC errors (default 3)
	Backoff   time.Duration // delay between retries (default 250ms)
	Timeout   time.Duration // timeout for each estimation call (default 20s)
	Fallback  uint64        // gas used when every estimation fails (default 600,000)
}

// DefaultGasEstimateOpts holds the defaults applied to zero fields. Groth16
// verification costs around 250k gas, so the fallback is set well above it.
var DefaultGasEstimateOpts = GasEstimateOpts{
	MinGas:    21_000,
	MaxGas:    5_000_000,
	SafetyBps: 1000,
	Retries:   3,
	Backoff:   250 * time.Millisecond,
	Timeout:   20 * time.Second,
	Fallback:  600_000,
}

// withDefaults returns a copy of o with zero fields set to the defaults.
func (o GasEstimateOpts) withDefaults() GasEstimateOpts {
	d := DefaultGasEstimateOpts
	if o.MinGas == 0 {
		o.MinGas = d.MinGas
	}
	if o.MaxGas == 0 {
		o.MaxGas = d.MaxGas
	}
	if o.SafetyBps == 0 {
		o.SafetyBps = d.SafetyBps
	}
	if o.Retries == 0 {
		o.Retries = d.Retries
	}
	if o.Backoff == 0 {
		o.Backoff = d.Backoff
	}
	if o.Timeout == 0 {
		o.Timeout = d.Timeout
	}
	if o.Fallback == 0 {
		o.Fallback = d.Fallback
	}
	return o
}

// estimateGas estimates the gas limit of msg, retrying transient RPC errors
// and falling back to opts.Fallback if the node never answers. A revert is
// returned as an error since the transaction would fail on-chain too.
func (c *Client) estimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	opts := c.gasOpts
	internalCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	var err error
	for attempt := 0; attempt <= opts.Retries; attempt++ {
		if attempt > 0 {
			if serr := sleep(internalCtx, opts.Backoff); serr != nil {
				break
			}
		}
		var gas uint64
		gas, err = c.backend.EstimateGas(internalCtx, msg)
		if err == nil {
			return applySafetyMargin(gas, opts), nil
		}
		if isReverted(err) {
			return 0, fmt.Errorf("%w: %s", ErrCallReverted, decodeRevert(err))
		}
	}
	if ctx.Err() != nil {
		return 0, ctx.Err()
	}
	log.Warnw("gas estimation failed, using fallback", "error", err, "fallback", opts.Fallback)
	return opts.Fallback, nil
}

// applySafetyMargin adds a safety buffer and clamps to limits.
func applySafetyMargin(gas uint64, o GasEstimateOpts) uint64 {
	gas += (gas * uint64(o.SafetyBps)) / 10_000
	if gas < o.MinGas {
		gas = o.MinGas
	}
	if gas > o.MaxGas {
		gas = o.MaxGas
	}
	return gas
}

package web3

import (
	"context"
	"fmt"
	"time"

	"github.com/vocdoni/davinci-publisher/log"
)

const readyRetryInterval = 500 * time.Millisecond

// WaitReady waits until the endpoint answers a block number query or ctx is
// done. A fresh dev chain at block zero counts as ready.
func (c *Client) WaitReady(ctx context.Context) error {
	for {
		blockNumber, err := c.backend.BlockNumber(ctx)
		if err == nil {
			log.Debugw("RPC is ready", "blockNumber", blockNumber)
			return nil
		}
		log.Debugw("RPC not ready", "error", err.Error())
		if err := sleep(ctx, readyRetryInterval); err != nil {
			return fmt.Errorf("context canceled while waiting for RPC to be ready: %w", err)
		}
	}
}

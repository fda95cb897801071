package rest

import (
	"context"
	"fmt"
	"time"

	"cryptostream/logger"
)

const closeTimeout = 5 * time.Second

// KeepAlive refreshes listenKey every interval until ctx ends, then closes
// the key. A failed refresh is logged and retried on the next tick; the
// key stays valid for an hour on the exchange side.
func (c *Client) KeepAlive(ctx context.Context, listenKey string, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("keepalive interval must be positive, got %s", interval)
	}
	log := c.log.WithComponent("user_stream").WithFields(logger.Fields{
		"interval": interval.String(),
	})
	log.Info("starting listen key keepalive")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
			defer cancel()
			if err := c.CloseUserStream(closeCtx, listenKey); err != nil {
				log.WithError(err).Warn("failed to close listen key")
			}
			return nil
		case <-ticker.C:
			if err := c.KeepaliveUserStream(ctx, listenKey); err != nil {
				if ctx.Err() != nil {
					continue
				}
				failures++
				log.WithError(err).WithFields(logger.Fields{"consecutive_failures": failures}).Warn("listen key keepalive failed")
				continue
			}
			failures = 0
			log.Debug("listen key refreshed")
		}
	}
}

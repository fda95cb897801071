package stream

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	appconfig "cryptostream/config"
	"cryptostream/logger"
)

// SubscribeWithRetry calls m.Subscribe until it succeeds, the retry limits
// in cfg are spent or ctx ends. Zero values in cfg fall back to the backoff
// package defaults; MaxAttempts of zero retries until MaxElapsedTime.
func SubscribeWithRetry(ctx context.Context, m *Multiplexer, sub Subscription, cfg appconfig.RetryConfig) (*Handle, error) {
	log := logger.GetLogger().WithComponent("multiplexer").WithSubscription(sub)

	exp := backoff.NewExponentialBackOff()
	if cfg.InitialInterval > 0 {
		exp.InitialInterval = cfg.InitialInterval
	}
	if cfg.MaxInterval > 0 {
		exp.MaxInterval = cfg.MaxInterval
	}
	if cfg.MaxElapsedTime > 0 {
		exp.MaxElapsedTime = cfg.MaxElapsedTime
	}

	var policy backoff.BackOff = exp
	if cfg.MaxAttempts > 0 {
		policy = backoff.WithMaxRetries(exp, uint64(cfg.MaxAttempts-1))
	}
	policy = backoff.WithContext(policy, ctx)

	var handle *Handle
	operation := func() error {
		h, err := m.Subscribe(ctx, sub)
		if err != nil {
			if errors.Is(err, ErrClosed) || errors.Is(err, ErrInvalidSubscription) || ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		handle = h
		return nil
	}
	notify := func(err error, wait time.Duration) {
		log.WithError(err).WithFields(logger.Fields{"retry_in": wait.String()}).Warn("subscribe failed, retrying")
	}

	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		return nil, err
	}
	return handle, nil
}

package calendar_sync

import (
	"context"
	"errors"

	"github.com/cenkalti/backoff/v4"
	"github.com/kinsync/kinsync/pkg/google"
)

// call runs op with its own timeout. Rate limited calls are retried with exponential backoff up to MaxRetries times.
func (o *Orchestrator) call(ctx context.Context, op func(ctx context.Context) error) error {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = o.cfg.RetryInitialInterval
	exp.MaxInterval = o.cfg.RetryMaxInterval
	exp.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(o.cfg.MaxRetries)), ctx)

	return backoff.Retry(func() error {
		callCtx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
		defer cancel()
		err := op(callCtx)
		if err == nil {
			return nil
		}
		if errors.Is(err, google.ErrRateLimited) {
			rateLimitedTotal.Inc()
			return err
		}
		return backoff.Permanent(err)
	}, policy)
}

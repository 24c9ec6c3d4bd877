package engine

import (
	"context"
	"errors"

	"github.com/cenkalti/backoff/v4"

	"github.com/punchamoorthee/payrecon/internal/domain"
)

// withRetry runs op under exponential backoff with jitter. Only transient
// gateway failures are retried; rejections and every other error stop the
// loop immediately.
func (e *Engine) withRetry(ctx context.Context, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.cfg.RetryInitial
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(e.cfg.MaxAttempts-1)), ctx)

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := op()
		if err == nil {
			return nil
		}
		if errors.Is(err, domain.ErrGatewayUnavailable) {
			e.logger.Warn("transient gateway failure", "attempt", attempt, "err", err)
			return err
		}
		return backoff.Permanent(err)
	}, policy)
}

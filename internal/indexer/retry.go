package indexer

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const defaultRetryBackoff = 100 * time.Millisecond

// withRetry calls fn until it succeeds, maxRetries retries are spent or ctx
// is done. Delays start at baseDelay and double.
func withRetry(ctx context.Context, maxRetries int, baseDelay time.Duration, fn func(context.Context) error) error {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if baseDelay <= 0 {
		baseDelay = defaultRetryBackoff
	}

	bk := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(baseDelay),
		backoff.WithMultiplier(2),
		backoff.WithRandomizationFactor(0),
		backoff.WithMaxInterval(time.Minute),
		backoff.WithMaxElapsedTime(0),
	)
	policy := backoff.WithContext(backoff.WithMaxRetries(bk, uint64(maxRetries)), ctx)

	return backoff.Retry(func() error {
		return fn(ctx)
	}, policy)
}

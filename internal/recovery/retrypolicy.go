package recovery

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"
)

// BackoffPolicy is the default RetryPolicy: exponential backoff with a
// bounded number of retries.
type BackoffPolicy struct {
	MaxRetries   int
	InitialDelay time.Duration
}

// NewBackoffPolicy creates a policy with the given retry cap and base delay.
func NewBackoffPolicy(maxRetries int, initialDelay time.Duration) *BackoffPolicy {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if initialDelay <= 0 {
		initialDelay = 500 * time.Millisecond
	}
	return &BackoffPolicy{MaxRetries: maxRetries, InitialDelay: initialDelay}
}

// Do runs op with exponential backoff until it succeeds, the retry cap is
// reached, or the context is canceled.
func (p *BackoffPolicy) Do(ctx context.Context, op func(ctx context.Context) error) (int, error) {
	attempts := 0
	backoff := retry.WithMaxRetries(uint64(p.MaxRetries), retry.NewExponential(p.InitialDelay))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		if err := op(ctx); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	return attempts, err
}

package llm

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy bounds WithRetry. Zero values mean 3 attempts starting at 1s.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = time.Second
	}
	return p
}

// WithRetry runs op with doubling delays between attempts. Classified
// auth_error and payment_required failures, and anything that is not an
// *Error, are returned immediately.
func WithRetry[T any](ctx context.Context, policy RetryPolicy, logger *slog.Logger, op func() (T, error)) (T, error) {
	policy = policy.normalized()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = policy.InitialInterval
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = policy.InitialInterval << uint(policy.MaxAttempts)

	attempt := 0
	operation := func() (T, error) {
		attempt++
		res, err := op()
		if err == nil {
			return res, nil
		}

		var llmErr *Error
		if !errors.As(err, &llmErr) || !llmErr.Retryable() {
			return res, backoff.Permanent(err)
		}
		return res, err
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(policy.MaxAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			if logger == nil {
				return
			}
			logger.Warn("LLM request failed, retrying",
				slog.Int("attempt", attempt),
				slog.Int("max_attempts", policy.MaxAttempts),
				slog.Duration("retry_after", next),
				slog.String("kind", string(Classify(err))),
				slog.Any("error", err),
			)
		}),
	)
}

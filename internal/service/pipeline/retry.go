package pipeline

import (
	"context"
	"time"

	"github.com/Domenick1991/eventbooking/internal/domain"
	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy repeats a step only when domain.Retryable allows it. The wait
// starts at Backoff and doubles with each attempt.
type RetryPolicy struct {
	Retries int
	Backoff time.Duration
}

func (p RetryPolicy) Do(ctx context.Context, step domain.PipelineState, fn func(ctx context.Context) error) error {
	var last error
	operation := func() error {
		last = fn(ctx)
		if last != nil && !domain.Retryable(step, last) {
			return backoff.Permanent(last)
		}
		return last
	}

	if err := backoff.Retry(operation, backoff.WithContext(p.backOff(), ctx)); err != nil {
		// the step's own error, not the cancellation that ended the loop
		if last != nil {
			return last
		}
		return err
	}
	return nil
}

func (p RetryPolicy) backOff() backoff.BackOff {
	retries := p.Retries
	if retries < 0 {
		retries = 0
	}
	if p.Backoff <= 0 {
		return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, uint64(retries))
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Backoff
	b.Multiplier = 2
	b.RandomizationFactor = 0.2
	b.MaxElapsedTime = 0
	return backoff.WithMaxRetries(b, uint64(retries))
}

package pipeline

import (
	"context"
	"time"

	"stepwise/internal/solver"
)

// RetryPolicy retries engine timeouts. Other failures are returned at once.
type RetryPolicy struct {
	// Retries is the number of extra attempts after the first.
	Retries int
	// Backoff is the delay before the first retry; it doubles each time.
	Backoff time.Duration
}

// Do calls fn until it succeeds, fails with a non-timeout error, or the
// retries run out. attempt is 0 for the first call.
func (rp RetryPolicy) Do(ctx context.Context, fn func(attempt int) error) error {
	delay := rp.Backoff
	for attempt := 0; ; attempt++ {
		err := fn(attempt)
		if err == nil || !solver.IsTimeout(err) || attempt >= rp.Retries {
			return err
		}
		if delay > 0 {
			t := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
			delay *= 2
		} else if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

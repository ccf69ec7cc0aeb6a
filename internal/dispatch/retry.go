package dispatch

import (
	"context"
	"fmt"
	"time"
)

// Policy bounds how often a dispatch call is retried.
type Policy struct {
	Attempts int
	Backoff  time.Duration
}

// Retry calls d until it succeeds or the policy is spent, doubling the wait
// between attempts. The returned error wraps the last failure.
func Retry(ctx context.Context, d Dispatcher, req Request, p Policy) (Receipt, error) {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	delay := p.Backoff
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		receipt, err := d.Dispatch(ctx, req)
		if err == nil {
			return receipt, nil
		}
		lastErr = err
		if ctx.Err() != nil || attempt == attempts {
			break
		}
		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return Receipt{}, failed(fmt.Errorf("after %d attempts: %w", attempt, ctx.Err()))
			case <-timer.C:
			}
			delay *= 2
		}
	}
	return Receipt{}, failed(fmt.Errorf("after %d attempts: %w", attempts, lastErr))
}

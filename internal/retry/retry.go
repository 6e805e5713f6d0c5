// Package retry implements a small bounded exponential backoff helper
// for transient store failures: rather than looping forever, a failure
// is retried a bounded number of times with growing delay and then
// surfaced to the caller.
package retry

import (
	"context"
	"time"
)

// Policy configures a bounded exponential backoff run.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultPolicy makes up to 5 attempts, waiting 500ms before the first
// retry and doubling the wait up to a 30s ceiling.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 5, BaseDelay: 500 * time.Millisecond, MaxDelay: 30 * time.Second}
}

// Do calls fn until it succeeds, the policy's attempt budget is
// exhausted, or ctx is canceled, sleeping with exponential backoff
// between attempts. It returns the last error seen.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	var lastErr error
	delay := p.BaseDelay
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == p.MaxAttempts {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
		if delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
	return lastErr
}

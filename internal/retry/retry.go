// SPDX-License-Identifier: MPL-2.0

// Package retry runs operations with exponential backoff.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Policy bounds a retry loop.
type Policy struct {
	// MaxAttempts is the total number of attempts including the first one.
	// Values below 1 are treated as 1.
	MaxAttempts int
	// BaseDelay is the wait before the second attempt; it doubles after each
	// further failure.
	BaseDelay time.Duration
}

// Do calls op until it succeeds, op reports a permanent failure, attempts are
// exhausted, or ctx is cancelled. op returns whether a failure is worth
// retrying. On exhaustion the last error is returned unchanged.
func Do(ctx context.Context, p Policy, op func(attempt int) (retry bool, err error)) error {
	attempts := max(p.MaxAttempts, 1)

	var lastErr error
	for attempt := range attempts {
		if attempt > 0 {
			timer := time.NewTimer(p.BaseDelay << (attempt - 1))
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("retry aborted: %w", ctx.Err())
			case <-timer.C:
			}
		}

		retry, err := op(attempt)
		if err == nil {
			return nil
		}
		if !retry {
			return err
		}
		lastErr = err
	}
	return lastErr
}

// DoIf is Do with a classifier deciding which errors are retried.
func DoIf(ctx context.Context, p Policy, transient func(error) bool, op func(attempt int) error) error {
	return Do(ctx, p, func(attempt int) (bool, error) {
		err := op(attempt)
		return err != nil && transient(err), err
	})
}

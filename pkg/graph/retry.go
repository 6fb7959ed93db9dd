package graph

import (
	"context"
	"time"
)

// computeBackoff calculates the delay before the next completion-check
// retry attempt. Supports none, constant, linear, and exponential backoff
// with an optional cap.
func computeBackoff(policy *BackoffPolicy, attempt int) time.Duration {
	if policy == nil || policy.Delay <= 0 {
		return 0
	}

	var delay time.Duration
	switch policy.Kind {
	case "exponential":
		multiplier := time.Duration(1)
		for i := 0; i < attempt; i++ {
			multiplier *= 2
		}
		delay = policy.Delay * multiplier
	case "linear":
		delay = policy.Delay * time.Duration(attempt+1)
	case "constant":
		delay = policy.Delay
	default: // "none" or empty
		return 0
	}

	if policy.MaxDelay > 0 && delay > policy.MaxDelay {
		delay = policy.MaxDelay
	}
	return delay
}

// waitBackoff sleeps for the delay or returns early if the context is done.
func waitBackoff(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

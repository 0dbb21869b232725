package db

import (
	"context"
	"time"
)

// RetryPolicy bounds how many times a conflicting transaction is re-run.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// RunWithRetry runs attempt until it succeeds, fails with a non-retryable
// error, or the attempts are exhausted. Callers wrap their own transaction
// inside attempt. The last error is returned with the number of attempts made.
func RunWithRetry(ctx context.Context, policy RetryPolicy, attempt func(ctx context.Context) error) (int, error) {
	maxAttempts := policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var err error
	for i := 1; i <= maxAttempts; i++ {
		err = attempt(ctx)
		if err == nil || !IsRetryable(err) {
			return i, err
		}
		if i == maxAttempts {
			return i, err
		}
		wait := policy.Backoff * time.Duration(i)
		if wait <= 0 {
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return i, ctx.Err()
		case <-timer.C:
		}
	}
	return maxAttempts, err
}

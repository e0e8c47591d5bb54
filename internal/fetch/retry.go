package fetch

import (
	"context"
	"time"
)

// Retry runs fn up to maxAttempts times, sleeping the backoff delay
// between attempts. fn reports via retryable whether its error is worth
// another attempt; a non-retryable error returns immediately.
func Retry(ctx context.Context, maxAttempts int, base, jitterMax time.Duration,
	fn func(attempt int) error, retryable func(error) bool) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err = fn(attempt); err == nil {
			return nil
		}
		if !retryable(err) || attempt == maxAttempts {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(Backoff(attempt, base, jitterMax)):
		}
	}
	return err
}

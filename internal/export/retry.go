package export

import (
	"context"
	"time"
)

// withLinearRetry calls fn up to maxRetries+1 times. Attempt n (1-based)
// waits n*backoff before running again. Context cancellation stops the wait
// and returns ctx.Err().
func withLinearRetry(ctx context.Context, maxRetries int, backoff time.Duration, fn func(ctx context.Context) error) (attempts int, err error) {
	for attempt := range maxRetries + 1 {
		attempts = attempt + 1
		err = fn(ctx)
		if err == nil {
			return attempts, nil
		}
		if attempt == maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return attempts, ctx.Err()
		case <-time.After(time.Duration(attempt+1) * backoff):
		}
	}
	return attempts, err
}

// Package chainrpc wraps go-ethereum's ethclient with the retry policy
// shared by the chain indexer's backfill and live loops.
package chainrpc

import (
	"context"
	"fmt"
	"time"
)

const (
	initialBackoff = 500 * time.Millisecond
	maxBackoff     = 30 * time.Second
	maxRetries     = 5
)

// Retry runs fn with exponential backoff starting at 500ms, doubling,
// capped at 30s, up to five retries. The final attempt's error is
// propagated to the caller.
func Retry[T any](ctx context.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	backoff := initialBackoff
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
	}

	return zero, fmt.Errorf("rpc call failed after %d retries: %w", maxRetries, lastErr)
}

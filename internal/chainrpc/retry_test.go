package chainrpc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRetry_SucceedsImmediatelyWithoutBackoff(t *testing.T) {
	calls := 0
	v, err := Retry(context.Background(), func(ctx context.Context) (int, error) {
		calls++
		return 42, nil
	})
	require.NoError(t, err)
	require.Equal(t, 42, v)
	require.Equal(t, 1, calls)
}

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	v, err := Retry(context.Background(), func(ctx context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("transient")
		}
		return 7, nil
	})
	require.NoError(t, err)
	require.Equal(t, 7, v)
	require.Equal(t, 3, calls)
}

func TestRetry_ExhaustsAndPropagatesFinalError(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), func(ctx context.Context) (int, error) {
		calls++
		return 0, errors.New("permanent failure")
	})
	require.Error(t, err)
	require.Equal(t, maxRetries+1, calls)
	require.ErrorContains(t, err, "permanent failure")
	require.ErrorContains(t, err, "after 5 retries")
}

func TestRetry_StopsOnContextCancellationDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := Retry(ctx, func(ctx context.Context) (int, error) {
		calls++
		return 0, errors.New("always fails")
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, calls) // fails once, then cancellation fires during the first backoff wait
}

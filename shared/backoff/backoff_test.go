package backoff

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fast keeps the tests quick while exercising the full retry path.
var fast = Strategy{Delays: []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}}

func TestRetrySucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fast, func(ctx context.Context, attempt int) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryRecoversAfterFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fast, func(ctx context.Context, attempt int) error {
		calls++
		if attempt < 3 {
			return fmt.Errorf("attempt %d failed", attempt)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryExhaustsAttempts(t *testing.T) {
	boom := fmt.Errorf("boom")
	calls := 0
	err := Retry(context.Background(), fast, func(ctx context.Context, attempt int) error {
		calls++
		return boom
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, len(fast.Delays), calls)
}

func TestRetryStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	slow := Strategy{Delays: []time.Duration{time.Minute}}
	done := make(chan error, 1)
	go func() {
		done <- Retry(ctx, slow, func(ctx context.Context, attempt int) error {
			return fmt.Errorf("always failing")
		})
	}()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("retry did not observe cancellation")
	}
}

func TestRetryWithCallbackReportsEachFailure(t *testing.T) {
	var attempts []int
	var delays []time.Duration

	err := RetryWithCallback(context.Background(), fast,
		func(ctx context.Context, attempt int) error {
			if attempt < 3 {
				return fmt.Errorf("transient")
			}
			return nil
		},
		func(attempt int, err error, delay time.Duration) {
			attempts = append(attempts, attempt)
			delays = append(delays, delay)
		})

	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, attempts)
	assert.Equal(t, fast.Delays[:2], delays)
}

package embedder

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry() RetryConfig {
	return RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2}
}

func TestRetryWithBackoff(t *testing.T) {
	t.Run("succeeds after transient errors", func(t *testing.T) {
		calls := 0
		result, err := retryWithBackoff(context.Background(), fastRetry(), func() (string, error) {
			calls++
			if calls < 2 {
				return "", errors.New("transient")
			}
			return "ok", nil
		})
		require.NoError(t, err)
		assert.Equal(t, "ok", result)
		assert.Equal(t, 2, calls)
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		calls := 0
		_, err := retryWithBackoff(context.Background(), fastRetry(), func() (int, error) {
			calls++
			return 0, errors.New("still failing")
		})
		assert.EqualError(t, err, "still failing")
		assert.Equal(t, 3, calls)
	})

	t.Run("stops on permanent error", func(t *testing.T) {
		calls := 0
		cause := errors.New("bad request")
		_, err := retryWithBackoff(context.Background(), fastRetry(), func() (int, error) {
			calls++
			return 0, permanent(cause)
		})
		assert.ErrorIs(t, err, cause)
		assert.True(t, IsPermanent(err))
		assert.Equal(t, 1, calls)
	})

	t.Run("stops when context is cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		_, err := retryWithBackoff(ctx, fastRetry(), func() (int, error) {
			calls++
			cancel()
			return 0, errors.New("transient")
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	})
}

func TestDefaultRetryConfig(t *testing.T) {
	cfg := DefaultRetryConfig()
	assert.Equal(t, MaxRetries, cfg.MaxRetries)
	assert.Equal(t, 100*time.Millisecond, cfg.BaseDelay)
	assert.Equal(t, 5*time.Second, cfg.MaxDelay)
}

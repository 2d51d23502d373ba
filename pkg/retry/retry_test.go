package retry

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	var delays []time.Duration

	err := Do(context.Background(), Options{
		MaxRetries: 3,
		BaseDelay:  10 * time.Millisecond,
		OnRetry: func(_ int, delay time.Duration, _ error) {
			delays = append(delays, delay)
		},
	}, func(_ context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("request timeout")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, delays)
}

func TestDo_StopsAtFirstSuccess(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), Options{MaxRetries: 5, BaseDelay: time.Millisecond}, func(_ context.Context) error {
		attempts++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), Options{MaxRetries: 3, BaseDelay: time.Millisecond}, func(_ context.Context) error {
		attempts++
		return errors.New("429 too many requests")
	})
	require.Error(t, err)
	assert.Equal(t, 3, attempts)
	assert.Contains(t, err.Error(), "429")
}

func TestDo_DoesNotRetryPermanentErrors(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), Options{MaxRetries: 5, BaseDelay: time.Millisecond}, func(_ context.Context) error {
		attempts++
		return errors.New("invalid input")
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestDo_CustomPredicate(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), Options{
		MaxRetries:  4,
		BaseDelay:   time.Millisecond,
		ShouldRetry: func(error) bool { return true },
	}, func(_ context.Context) error {
		attempts++
		return errors.New("invalid input")
	})
	require.Error(t, err)
	assert.Equal(t, 4, attempts)
}

func TestDo_RespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0

	err := Do(ctx, Options{MaxRetries: 5, BaseDelay: time.Hour}, func(_ context.Context) error {
		attempts++
		cancel()
		return errors.New("network unreachable")
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}

func TestDoValue_ReturnsValue(t *testing.T) {
	attempts := 0
	v, err := DoValue(context.Background(), Options{MaxRetries: 3, BaseDelay: time.Millisecond}, func(_ context.Context) (string, error) {
		attempts++
		if attempts == 1 {
			return "", errors.New("ECONNRESET")
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 2, attempts)
}

func TestExponential(t *testing.T) {
	backoff := Exponential(2 * time.Second)

	d := backoff(1, 100*time.Millisecond)
	assert.GreaterOrEqual(t, d, 100*time.Millisecond)
	assert.Less(t, d, 125*time.Millisecond+time.Nanosecond)

	assert.Equal(t, 2*time.Second, backoff(10, 100*time.Millisecond))
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil", nil, false},
		{"rate limit", errors.New("Rate limit exceeded"), true},
		{"status 429", errors.New("API error: 429 - slow down"), true},
		{"timeout", errors.New("request Timeout"), true},
		{"connection reset", errors.New("read: ECONNRESET"), true},
		{"connection refused", errors.New("dial tcp: ECONNREFUSED"), true},
		{"dns", errors.New("getaddrinfo ENOTFOUND api.example.com"), true},
		{"socket hang up", errors.New("socket hang up"), true},
		{"context deadline", context.DeadlineExceeded, true},
		{"marked retryable", Retryable(errors.New("unexpected end of JSON input")), true},
		{"wrapped marked retryable", errors.Wrap(Retryable(errors.New("bad json")), "resolve names"), true},
		{"invalid input", errors.New("invalid input"), false},
		{"unique constraint", errors.New("UNIQUE constraint failed: authors.slug"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsRetryableError(tt.err))
		})
	}
}

// Package retry runs operations with a bounded number of attempts and a
// configurable backoff between them.
package retry

import (
	"context"
	"math/rand"
	"net"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Options controls how an operation is retried. MaxRetries is the total
// number of attempts, including the first one.
type Options struct {
	MaxRetries  int
	BaseDelay   time.Duration
	ShouldRetry func(err error) bool
	Backoff     func(attempt int, base time.Duration) time.Duration
	OnRetry     func(attempt int, delay time.Duration, err error)
}

// Linear waits base * attempt before the next attempt.
func Linear(attempt int, base time.Duration) time.Duration {
	return base * time.Duration(attempt)
}

// Exponential returns a backoff that doubles the delay on every attempt, adds
// up to 25% jitter and never waits longer than limit.
func Exponential(limit time.Duration) func(attempt int, base time.Duration) time.Duration {
	return func(attempt int, base time.Duration) time.Duration {
		delay := base * time.Duration(1<<(attempt-1))
		if q := int64(delay / 4); q > 0 {
			delay += time.Duration(rand.Int63n(q))
		}
		if delay > limit {
			delay = limit
		}
		return delay
	}
}

// Do calls fn until it succeeds, the error is not retryable, the attempts are
// exhausted or ctx is done. The last error from fn is returned unchanged.
func Do(ctx context.Context, opts Options, fn func(ctx context.Context) error) error {
	_, err := DoValue(ctx, opts, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoValue is Do for operations that produce a value.
func DoValue[T any](ctx context.Context, opts Options, fn func(ctx context.Context) (T, error)) (T, error) {
	maxRetries := opts.MaxRetries
	if maxRetries < 1 {
		maxRetries = 1
	}
	shouldRetry := opts.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = IsRetryableError
	}
	backoff := opts.Backoff
	if backoff == nil {
		backoff = Linear
	}

	var zero T
	for attempt := 1; ; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		if attempt >= maxRetries || !shouldRetry(err) {
			return zero, err
		}

		delay := backoff(attempt, opts.BaseDelay)
		if opts.OnRetry != nil {
			opts.OnRetry(attempt, delay, err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}
}

type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// Retryable marks err as transient so that IsRetryableError reports true for
// it regardless of its message.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &retryableError{err}
}

var retryablePatterns = []string{
	"rate limit",
	"429",
	"timeout",
	"econnreset",
	"econnrefused",
	"enotfound",
	"network",
	"socket hang up",
	"connection reset",
	"connection refused",
	"no such host",
	"deadline exceeded",
	"temporarily unavailable",
}

// IsRetryableError reports whether err looks like a transient transport
// failure such as a timeout, a rate limit or a dropped connection.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	var re *retryableError
	if errors.As(err, &re) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range retryablePatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// Package retry wraps an operation with exponential backoff and jitter,
// classifying errors by oracle.ErrorKind rather than transport-specific
// error types.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"forge.dev/forge/internal/oracle"
)

// Policy configures retry behavior for one operation.
type Policy struct {
	// MaxRetries is the number of retries after the initial attempt. A
	// value of 0 means a single attempt with no retries.
	MaxRetries int
	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration
	// MaxDelay caps the computed delay before jitter is applied.
	MaxDelay time.Duration
	// BackoffFactor multiplies the delay after each attempt.
	BackoffFactor float64
	// Jitter is the fractional jitter applied to each delay, in [0,1].
	Jitter float64
}

// DefaultPolicy returns sensible defaults: 3 retries, 1s initial delay,
// 30s max delay, factor 2, jitter 0.3.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:    3,
		InitialDelay:  time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2,
		Jitter:        0.3,
	}
}

// ExhaustedError is returned when every attempt, including retries, has
// failed.
type ExhaustedError struct {
	Attempts  int
	Elapsed   time.Duration
	LastError error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry: exhausted after %d attempts over %v: %v", e.Attempts, e.Elapsed, e.LastError)
}

// Unwrap returns the last underlying error.
func (e *ExhaustedError) Unwrap() error { return e.LastError }

// IsRetryable reports whether err should be retried: an *oracle.Error is
// retryable per its Kind; any other error is treated as non-retryable
// since the operation did not go through the oracle transport's error
// classification.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var oe *oracle.Error
	if errors.As(err, &oe) {
		return oe.Retryable()
	}
	return false
}

// Do runs fn, retrying per p while IsRetryable(err) is true and attempts
// remain. Retries stop on success, a non-retryable error, or exhaustion.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	maxAttempts := p.MaxRetries + 1
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	start := time.Now()
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return err
		}
		if attempt >= maxAttempts {
			break
		}

		delay := computeDelay(p, attempt)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return &ExhaustedError{Attempts: maxAttempts, Elapsed: time.Since(start), LastError: lastErr}
}

// computeDelay computes
// min(initialDelay * backoffFactor^n, maxDelay) * (1 + U[-jitter, +jitter]).
func computeDelay(p Policy, attempt int) time.Duration {
	delay := float64(p.InitialDelay) * math.Pow(p.BackoffFactor, float64(attempt-1))
	if maxDelay := float64(p.MaxDelay); delay > maxDelay {
		delay = maxDelay
	}
	if p.Jitter > 0 {
		// jitter doesn't need cryptographic randomness.
		jitter := delay * p.Jitter * (rand.Float64()*2 - 1)
		delay += jitter
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// Package retry retries transient failures with exponential backoff.
//
//	err := retry.WithRetry(ctx, func() error {
//		return store.Put(ctx, key, body, contentType)
//	}, retry.BackoffConfig{
//		InitialInterval: 200 * time.Millisecond,
//		MaxInterval:     2 * time.Second,
//		Multiplier:      2.0,
//		Jitter:          true,
//		MaxRetries:      3,
//	})
//
// Wrap an error with Stop to end the loop early for failures that will not
// go away on their own (missing objects, rejected input).
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

type BackoffConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	Jitter          bool
	MaxRetries      int

	// OnRetry, when set, is called before each retry with the attempt number
	// about to run (starting at 2) and the error that caused it.
	OnRetry func(attempt int, err error)
}

func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialInterval: 1 * time.Second,
		MaxInterval:     30 * time.Second,
		Multiplier:      2.0,
		Jitter:          true,
		MaxRetries:      5,
	}
}

// Delay returns the wait before retry number attempt (1-based). With jitter
// the result is in [d/2, d).
func (c BackoffConfig) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	interval := float64(c.InitialInterval) * math.Pow(c.Multiplier, float64(attempt-1))
	if c.MaxInterval > 0 && interval > float64(c.MaxInterval) {
		interval = float64(c.MaxInterval)
	}

	d := time.Duration(interval)
	if c.Jitter && d > 1 {
		d = d/2 + time.Duration(rand.Int63n(int64(d/2)))
	}
	return d
}

type RetryableFunc func() error

// StopError marks an error as permanent.
type StopError struct {
	Err error
}

func (s StopError) Error() string {
	return s.Err.Error()
}

func (s StopError) Unwrap() error {
	return s.Err
}

// Stop wraps err so that WithRetry returns it without further attempts.
func Stop(err error) error {
	if err == nil {
		return nil
	}
	return StopError{Err: err}
}

func IsStopError(err error) bool {
	var stopErr StopError
	return errors.As(err, &stopErr)
}

// WithRetry calls fn until it succeeds, returns a StopError, the context is
// done, or MaxRetries retries have been made. A StopError is unwrapped before
// it is returned.
func WithRetry(ctx context.Context, fn RetryableFunc, config BackoffConfig) error {
	var lastErr error
	attempts := 0

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		if attempt > 0 {
			if config.OnRetry != nil {
				config.OnRetry(attempt+1, lastErr)
			}
			select {
			case <-ctx.Done():
				return fmt.Errorf("retry cancelled by context: %w", ctx.Err())
			case <-time.After(config.Delay(attempt)):
			}
		}

		attempts++
		err := fn()
		if err == nil {
			return nil
		}

		var stopErr StopError
		if errors.As(err, &stopErr) {
			return stopErr.Err
		}
		lastErr = err
	}

	return fmt.Errorf("operation failed after %d attempts: %w", attempts, lastErr)
}

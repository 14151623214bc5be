// Package resilient wraps the object store with retries and per-operation
// circuit breakers.
package resilient

import (
	"context"
	"errors"
	"strings"

	"github.com/migadu/mailfeed/consts"
	"github.com/migadu/mailfeed/logger"
	"github.com/migadu/mailfeed/pkg/circuitbreaker"
	"github.com/migadu/mailfeed/pkg/metrics"
	"github.com/migadu/mailfeed/pkg/retry"
)

// ObjectStore is the keyed blob API shared by storage.S3Storage and the
// in-memory test store.
type ObjectStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte, contentType string) error
	DeleteMany(ctx context.Context, keys []string) error
}

type ResilientS3Storage struct {
	store         ObjectStore
	getBreaker    *circuitbreaker.CircuitBreaker
	putBreaker    *circuitbreaker.CircuitBreaker
	deleteBreaker *circuitbreaker.CircuitBreaker

	getRetry    retry.BackoffConfig
	putRetry    retry.BackoffConfig
	deleteRetry retry.BackoffConfig
}

func NewResilientS3Storage(store ObjectStore) *ResilientS3Storage {
	// A missing feed is the normal first-delivery case, not a storage fault.
	isSuccessful := func(err error) bool {
		return err == nil || errors.Is(err, consts.ErrObjectNotFound)
	}

	getSettings := circuitbreaker.DefaultSettings("s3_get")
	getSettings.IsSuccessful = isSuccessful
	getSettings.ReadyToTrip = func(counts circuitbreaker.Counts) bool {
		failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
		return counts.Requests >= 5 && failureRatio >= 0.6
	}

	putSettings := circuitbreaker.DefaultSettings("s3_put")
	putSettings.ReadyToTrip = func(counts circuitbreaker.Counts) bool {
		failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
		return counts.Requests >= 3 && failureRatio >= 0.5
	}

	deleteSettings := circuitbreaker.DefaultSettings("s3_delete")
	deleteSettings.IsSuccessful = isSuccessful
	deleteSettings.ReadyToTrip = putSettings.ReadyToTrip

	return &ResilientS3Storage{
		store:         store,
		getBreaker:    circuitbreaker.NewCircuitBreaker(getSettings),
		putBreaker:    circuitbreaker.NewCircuitBreaker(putSettings),
		deleteBreaker: circuitbreaker.NewCircuitBreaker(deleteSettings),
		getRetry:      withRetryMetric(getRetryConfig, "GET"),
		putRetry:      withRetryMetric(putRetryConfig, "PUT"),
		deleteRetry:   withRetryMetric(deleteRetryConfig, "DELETE"),
	}
}

func withRetryMetric(cfg retry.BackoffConfig, op string) retry.BackoffConfig {
	cfg.OnRetry = func(attempt int, err error) {
		metrics.StorageRetriesTotal.WithLabelValues(op).Inc()
		logger.Debug("STORAGE: Retrying operation", "operation", op, "attempt", attempt, "error", err)
	}
	return cfg
}

// SetRetryConfig replaces the backoff used for all three operations.
func (rs *ResilientS3Storage) SetRetryConfig(cfg retry.BackoffConfig) {
	rs.getRetry = withRetryMetric(cfg, "GET")
	rs.putRetry = withRetryMetric(cfg, "PUT")
	rs.deleteRetry = withRetryMetric(cfg, "DELETE")
}

func isRetryableError(err error) bool {
	if err == nil || errors.Is(err, consts.ErrObjectNotFound) || circuitbreaker.IsRejection(err) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	retryableErrors := []string{
		"connection refused",
		"connection reset",
		"i/o timeout",
		"network unreachable",
		"no such host",
		"temporary failure",
		"service unavailable",
		"internal server error",
		"internalerror",
		"bad gateway",
		"gateway timeout",
		"timeout",
		"slowdown",
		"throttling",
		"rate limit",
		"eof",
	}
	for _, retryable := range retryableErrors {
		if strings.Contains(errStr, retryable) {
			return true
		}
	}
	return false
}

// classify turns an error into a retry decision.
func classify(err error) error {
	if err == nil || isRetryableError(err) {
		return err
	}
	return retry.Stop(err)
}

func (rs *ResilientS3Storage) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := retry.WithRetry(ctx, func() error {
		result, err := circuitbreaker.Call(rs.getBreaker, func() ([]byte, error) {
			return rs.store.Get(ctx, key)
		})
		if err != nil {
			return classify(err)
		}
		data = result
		return nil
	}, rs.getRetry)
	return data, err
}

func (rs *ResilientS3Storage) Put(ctx context.Context, key string, data []byte, contentType string) error {
	return retry.WithRetry(ctx, func() error {
		return classify(rs.putBreaker.Execute(func() error {
			return rs.store.Put(ctx, key, data, contentType)
		}))
	}, rs.putRetry)
}

func (rs *ResilientS3Storage) DeleteMany(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	return retry.WithRetry(ctx, func() error {
		return classify(rs.deleteBreaker.Execute(func() error {
			return rs.store.DeleteMany(ctx, keys)
		}))
	}, rs.deleteRetry)
}

func (rs *ResilientS3Storage) GetBreakerState() circuitbreaker.State {
	return rs.getBreaker.State()
}

func (rs *ResilientS3Storage) PutBreakerState() circuitbreaker.State {
	return rs.putBreaker.State()
}

func (rs *ResilientS3Storage) DeleteBreakerState() circuitbreaker.State {
	return rs.deleteBreaker.State()
}

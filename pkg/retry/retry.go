// Package retry provides exponential backoff retry for the calls the
// pipeline (C6) makes into a source adapter, wrapped inside the adapter's
// circuit breaker (pkg/breaker). Adapted from the teacher's
// internal/core/resilience retry helper, generalized away from its
// LLM-specific metrics coupling.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"
)

// ErrorChecker decides whether an error is worth retrying. Permanent
// failures (bad input, auth failure, not found) should return false so
// the pipeline fails fast instead of burning the retry budget.
type ErrorChecker interface {
	IsRetryable(err error) bool
}

// Policy configures retry behavior.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	Jitter     bool

	ErrorChecker  ErrorChecker
	Logger        *slog.Logger
	OperationName string
}

// DefaultPolicy returns the teacher's production defaults: 3 retries,
// 100ms base delay doubling up to 5s, with 10% jitter.
func DefaultPolicy() *Policy {
	return &Policy{
		MaxRetries: 3,
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   5 * time.Second,
		Multiplier: 2.0,
		Jitter:     true,
	}
}

// Do executes operation under policy, retrying transient failures with
// exponential backoff. Context cancellation aborts the wait immediately.
func Do(ctx context.Context, policy *Policy, operation func(ctx context.Context) error) error {
	if policy == nil {
		policy = DefaultPolicy()
	}
	logger := policy.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var lastErr error
	delay := policy.BaseDelay

	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		err := operation(ctx)
		if err == nil {
			if attempt > 0 {
				logger.Info("operation succeeded after retry", "op", policy.OperationName, "attempt", attempt+1)
			}
			return nil
		}
		lastErr = err

		if !shouldRetry(err, policy.ErrorChecker) {
			return lastErr
		}
		if attempt >= policy.MaxRetries {
			logger.Error("operation failed after all retries", "op", policy.OperationName,
				"max_retries", policy.MaxRetries, "error", lastErr)
			break
		}

		logger.Warn("operation failed, retrying", "op", policy.OperationName,
			"attempt", attempt+1, "max_retries", policy.MaxRetries, "delay", delay, "error", err)

		if !wait(ctx, delay) {
			return ctx.Err()
		}
		delay = nextDelay(delay, policy)
	}

	return fmt.Errorf("operation %q failed after %d attempts: %w", policy.OperationName, policy.MaxRetries+1, lastErr)
}

// DoValue is Do for operations that produce a result.
func DoValue[T any](ctx context.Context, policy *Policy, operation func(ctx context.Context) (T, error)) (T, error) {
	if policy == nil {
		policy = DefaultPolicy()
	}
	logger := policy.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var lastResult T
	var lastErr error
	delay := policy.BaseDelay

	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		result, err := operation(ctx)
		if err == nil {
			if attempt > 0 {
				logger.Info("operation succeeded after retry", "op", policy.OperationName, "attempt", attempt+1)
			}
			return result, nil
		}
		lastResult, lastErr = result, err

		if !shouldRetry(err, policy.ErrorChecker) {
			return lastResult, lastErr
		}
		if attempt >= policy.MaxRetries {
			break
		}

		logger.Warn("operation failed, retrying", "op", policy.OperationName,
			"attempt", attempt+1, "max_retries", policy.MaxRetries, "delay", delay, "error", err)

		if !wait(ctx, delay) {
			var zero T
			return zero, ctx.Err()
		}
		delay = nextDelay(delay, policy)
	}

	return lastResult, fmt.Errorf("operation %q failed after %d attempts: %w", policy.OperationName, policy.MaxRetries+1, lastErr)
}

func shouldRetry(err error, checker ErrorChecker) bool {
	if err == nil {
		return false
	}
	if checker != nil {
		return checker.IsRetryable(err)
	}
	return true
}

func wait(ctx context.Context, delay time.Duration) bool {
	select {
	case <-time.After(delay):
		return true
	case <-ctx.Done():
		return false
	}
}

func nextDelay(current time.Duration, policy *Policy) time.Duration {
	next := time.Duration(float64(current) * policy.Multiplier)
	if next > policy.MaxDelay {
		next = policy.MaxDelay
	}
	if policy.Jitter {
		next += time.Duration(float64(next) * 0.1 * rand.Float64())
	}
	return next
}

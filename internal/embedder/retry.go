package embedder

import (
	"context"
	"errors"
	"math/rand/v2"
	"net"
	"time"
)

// RetryConfig configures exponential backoff with jitter.
type RetryConfig struct {
	MaxAttempts int           // total attempts including the first
	BaseDelay   time.Duration // delay before the second attempt
	MaxDelay    time.Duration // cap on a single delay
	Multiplier  float64
	Jitter      float64 // fraction of the delay added at random, 0..1
}

// DefaultRetryConfig keeps the worst case well under 30s of waiting.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 5,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    8 * time.Second,
		Multiplier:  2.0,
		Jitter:      0.25,
	}
}

// IsRetryable reports whether err is a 429/5xx status or a network
// timeout. Context cancellation is never retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return false
}

func (cfg RetryConfig) delay(attempt int) time.Duration {
	d := float64(cfg.BaseDelay)
	for i := 1; i < attempt; i++ {
		d *= cfg.Multiplier
	}
	if ceiling := float64(cfg.MaxDelay); cfg.MaxDelay > 0 && d > ceiling {
		d = ceiling
	}
	if cfg.Jitter > 0 {
		d += d * cfg.Jitter * rand.Float64()
	}
	return time.Duration(d)
}

// retryWithBackoff runs fn until it succeeds, returns a non-retryable
// error, or MaxAttempts is reached. onRetry is called before each wait.
func retryWithBackoff[T any](ctx context.Context, cfg RetryConfig, onRetry func(attempt int, err error), fn func() (T, error)) (T, error) {
	var zero T
	attempts := max(cfg.MaxAttempts, 1)

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if !IsRetryable(err) || attempt == attempts {
			break
		}

		if onRetry != nil {
			onRetry(attempt, err)
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(cfg.delay(attempt)):
		}
	}
	return zero, lastErr
}

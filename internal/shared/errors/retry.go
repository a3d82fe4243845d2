package errors

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/desduvauchelle/tamias-sub001/internal/shared/logging"
)

// RetryConfig configures retry behavior.
type RetryConfig struct {
	MaxAttempts  int           // retries after the first attempt
	BaseDelay    time.Duration // base delay for exponential backoff
	MaxDelay     time.Duration // cap between retries
	JitterFactor float64       // 0.25 = ±25%
}

// DefaultRetryConfig returns sensible defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  2,
		BaseDelay:    500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		JitterFactor: 0.25,
	}
}

// RetryWithResult runs fn until it succeeds, returns a non-transient error,
// or the attempts are exhausted.
func RetryWithResult[T any](ctx context.Context, config RetryConfig, fn func(ctx context.Context) (T, error), logger logging.Logger) (T, error) {
	logger = logging.OrNop(logger)

	var lastErr error
	var zero T

	for attempt := 0; attempt <= config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, fmt.Errorf("context cancelled: %w", err)
		}

		result, err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				logger.Info("Retry succeeded after %d attempts", attempt+1)
			}
			return result, nil
		}

		lastErr = err
		if !IsTransient(err) {
			return zero, err
		}
		if attempt == config.MaxAttempts {
			logger.Warn("Max retries (%d) exhausted: %v", config.MaxAttempts+1, err)
			break
		}

		delay := calculateBackoff(attempt, config)
		logger.Debug("Attempt %d failed (%v), waiting %v", attempt+1, err, delay)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return zero, fmt.Errorf("context cancelled during retry: %w", ctx.Err())
		}
	}

	return zero, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func calculateBackoff(attempt int, config RetryConfig) time.Duration {
	delay := time.Duration(float64(config.BaseDelay) * math.Pow(2, float64(attempt)))
	if config.MaxDelay > 0 && delay > config.MaxDelay {
		delay = config.MaxDelay
	}
	if config.JitterFactor > 0 {
		jitter := float64(delay) * config.JitterFactor
		delay = time.Duration(float64(delay) + (rand.Float64()*2-1)*jitter)
		if delay < 0 {
			delay = 0
		}
	}
	return delay
}

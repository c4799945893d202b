package retry

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

type RetryConfig struct {
	MaxAttempts int
	Delay       time.Duration
	Backoff     bool // Exponential backoff

	// ShouldRetry reports whether err is worth another attempt. Nil retries everything.
	ShouldRetry func(err error) bool
	// Logger receives one warning per retry. Nil uses slog.Default.
	Logger *slog.Logger
	// Name identifies the operation in retry logs.
	Name string
}

// Do runs fn until it succeeds, the attempts are exhausted, ShouldRetry rejects
// the error or ctx is done.
func Do[T any](ctx context.Context, config RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	attempts := config.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	log := config.Logger
	if log == nil {
		log = slog.Default()
	}

	for attempt := 1; ; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}

		if config.ShouldRetry != nil && !config.ShouldRetry(err) {
			return zero, err
		}
		if attempt >= attempts {
			if attempts == 1 {
				return zero, err
			}
			return zero, fmt.Errorf("failed after %d attempts: %w", attempts, err)
		}

		delay := Delay(config, attempt)
		log.Warn("retrying",
			"op", config.Name,
			"attempt", attempt,
			"max_attempts", attempts,
			"delay", delay,
			"error", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}
}

// WithRetry is Do for operations without a result.
func WithRetry(ctx context.Context, config RetryConfig, fn func() error) error {
	_, err := Do(ctx, config, func(context.Context) (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// Delay is the wait before the retry that follows the given failed attempt.
func Delay(config RetryConfig, attempt int) time.Duration {
	if !config.Backoff || attempt <= 1 {
		return config.Delay
	}
	return config.Delay * time.Duration(1<<(attempt-1))
}

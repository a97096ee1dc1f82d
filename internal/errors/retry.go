package errors

import (
	"context"
	"fmt"
	"time"
)

// RetryConfig configures retry behavior.
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts (not including
	// the initial attempt).
	MaxRetries int

	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration

	// MaxDelay is the maximum delay between retries.
	MaxDelay time.Duration

	// Multiplier is the factor by which delay increases after each retry.
	Multiplier float64
}

// DefaultRetryConfig returns the bounded exponential backoff spec §4.2
// and §7 call for: up to 3 retries, doubling from 100ms, capped at 2s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Multiplier:   2.0,
	}
}

// Retry executes fn with exponential backoff, retrying up to
// cfg.MaxRetries times. It stops early, without retrying, the first time
// fn returns an error for which IsRetryable is false, since such errors
// are not transient and another attempt cannot succeed. If ctx is
// canceled it returns ctx.Err() immediately.
func Retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	delay := cfg.InitialDelay
	var lastErr error
	retries := 0

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !IsRetryable(err) || attempt >= cfg.MaxRetries {
			break
		}
		retries++

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	return fmt.Errorf("failed after %d retries: %w", retries, lastErr)
}

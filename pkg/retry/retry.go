package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Config holds retry configuration
type Config struct {
	MaxAttempts  int           // total attempts, including the first
	InitialDelay time.Duration // delay before the first retry
	MaxDelay     time.Duration
	Multiplier   float64 // exponential backoff multiplier
	Jitter       bool    // spread delays by up to ±25%
}

// DefaultConfig returns a default retry configuration
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying. Do returns the wrapped error
// unchanged.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do calls fn until it succeeds, returns a Permanent error, the attempts
// run out or ctx is done.
func Do[T any](ctx context.Context, cfg Config, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(Delay(cfg, attempt-1))
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, fmt.Errorf("retry cancelled: %w", ctx.Err())
			case <-timer.C:
			}
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return zero, perm.err
		}
		lastErr = err
		if ctx.Err() != nil {
			return zero, fmt.Errorf("retry cancelled: %w", lastErr)
		}
	}

	return zero, fmt.Errorf("after %d attempts: %w", attempts, lastErr)
}

// Delay is the backoff before retry number attempt (0-based).
func Delay(cfg Config, attempt int) time.Duration {
	delay := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt))
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	if cfg.Jitter {
		delay *= 0.75 + rand.Float64()*0.5
	}
	return time.Duration(delay)
}

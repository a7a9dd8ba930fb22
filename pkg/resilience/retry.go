package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"
)

// RetryConfig controls attempts and backoff. Zero fields take the defaults
// noted on each.
type RetryConfig struct {
	MaxAttempts  int           // 3
	InitialDelay time.Duration // 100ms
	MaxDelay     time.Duration // 10s
	Multiplier   float64       // 2
	// JitterFraction spreads each delay by up to this share either way, so
	// parallel callers do not retry in lockstep. Defaults to 0.1.
	JitterFraction float64
	// Retryable rejects errors that another attempt cannot fix. Rejected
	// errors are returned as is.
	Retryable func(error) bool
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = 100 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 10 * time.Second
	}
	if c.MaxDelay < c.InitialDelay {
		c.MaxDelay = c.InitialDelay
	}
	if c.Multiplier < 1 {
		c.Multiplier = 2
	}
	if c.JitterFraction <= 0 || c.JitterFraction > 1 {
		c.JitterFraction = 0.1
	}
	return c
}

// Backoff returns the wait before attempt+1, attempt counting from 1.
func (c RetryConfig) Backoff(attempt int) time.Duration {
	c = c.withDefaults()
	d := float64(c.InitialDelay)
	for i := 1; i < attempt && d < float64(c.MaxDelay); i++ {
		d *= c.Multiplier
	}
	d += d * c.JitterFraction * (2*rand.Float64() - 1)
	return time.Duration(min(max(d, float64(c.InitialDelay)/2), float64(c.MaxDelay)))
}

// ExhaustedError reports that every attempt failed. It unwraps to the last
// attempt's error.
type ExhaustedError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Retry calls fn until it succeeds, Retryable rejects its error, ctx ends or
// MaxAttempts is used up.
func Retry(ctx context.Context, op string, cfg RetryConfig, fn func() error) error {
	cfg = cfg.withDefaults()
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for attempt := 1; ; attempt++ {
		err := fn()
		switch {
		case err == nil:
			if attempt > 1 {
				slog.Debug("retry succeeded", "op", op, "attempt", attempt)
			}
			return nil
		case cfg.Retryable != nil && !cfg.Retryable(err):
			return err
		case attempt >= cfg.MaxAttempts:
			return &ExhaustedError{Op: op, Attempts: attempt, Err: err}
		}

		wait := cfg.Backoff(attempt)
		slog.Warn("attempt failed, backing off", "op", op, "attempt", attempt, "of", cfg.MaxAttempts, "wait", wait, "error", err)
		if timer == nil {
			timer = time.NewTimer(wait)
		} else {
			timer.Reset(wait)
		}
		select {
		case <-timer.C:
		case <-ctx.Done():
			return fmt.Errorf("%s: gave up after attempt %d: %w", op, attempt, ctx.Err())
		}
	}
}

// Package utils provides shared utility functions.
package utils

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// BackoffConfig holds reconnect backoff configuration.
type BackoffConfig struct {
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	// Jitter spreads each delay by up to this fraction in either direction.
	Jitter float64
}

// DefaultBackoffConfig returns the default backoff configuration.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialDelay:  time.Second,
		MaxDelay:      2 * time.Minute,
		BackoffFactor: 2.0,
		Jitter:        0.2,
	}
}

// Delay returns the wait before the given zero-based attempt.
func (c BackoffConfig) Delay(attempt int) time.Duration {
	d := CalculateBackoff(attempt, c.InitialDelay, c.MaxDelay, c.BackoffFactor)
	if c.Jitter > 0 {
		d = time.Duration(float64(d) * (1 + c.Jitter*(2*rand.Float64()-1)))
	}
	return d
}

// CalculateBackoff calculates the backoff duration for a given attempt.
func CalculateBackoff(attempt int, initialDelay, maxDelay time.Duration, factor float64) time.Duration {
	delay := float64(initialDelay) * math.Pow(factor, float64(attempt))
	if delay > float64(maxDelay) {
		delay = float64(maxDelay)
	}
	return time.Duration(delay)
}

// Wait sleeps for d or until ctx is done, whichever comes first.
func Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

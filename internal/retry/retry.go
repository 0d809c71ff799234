// Package retry implements bounded attempts with exponential backoff.
package retry

import (
	"context"
	"time"
)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Policy controls how many times an operation runs and how long it waits in between.
type Policy struct {
	MaxAttempts int
	// Base is the delay after the first failure. It doubles on each later failure.
	Base time.Duration
	// Max caps a single delay. Zero means uncapped.
	Max         time.Duration
	ShouldRetry func(error) bool
	Sleep       SleepFunc
}

// Attempts returns the effective attempt count, never below one.
func (p Policy) Attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Delay returns the wait after the given zero-based failed attempt: Base × 2^attempt.
func (p Policy) Delay(attempt int) time.Duration {
	if p.Base <= 0 {
		return 0
	}
	d := p.Base << uint(attempt)
	if d <= 0 || (p.Max > 0 && d > p.Max) {
		return p.Max
	}
	return d
}

// Do calls fn until it succeeds, the policy refuses a retry, or attempts run out.
// fn receives the one-based attempt number. Do returns the number of calls made.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) (int, error) {
	attempts := p.Attempts()
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr == nil {
				lastErr = err
			}
			return attempt - 1, lastErr
		}
		err := fn(ctx, attempt)
		if err == nil {
			return attempt, nil
		}
		lastErr = err
		if attempt == attempts || !p.shouldRetry(ctx, err) {
			return attempt, lastErr
		}
		if err := p.wait(ctx, p.Delay(attempt-1)); err != nil {
			return attempt, lastErr
		}
	}
	return attempts, lastErr
}

// Wait sleeps with the policy's sleeper.
func (p Policy) Wait(ctx context.Context, d time.Duration) error {
	return p.wait(ctx, d)
}

func (p Policy) wait(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	return Sleep(ctx, d)
}

func (p Policy) shouldRetry(ctx context.Context, err error) bool {
	// A per-attempt deadline is retryable; only the caller's own cancellation stops the loop.
	if ctx.Err() != nil {
		return false
	}
	if p.ShouldRetry == nil {
		return true
	}
	return p.ShouldRetry(err)
}

// Sleep waits for d without blocking cancellation.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// NoSleep is a SleepFunc that returns immediately. Tests use it to skip backoff.
func NoSleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

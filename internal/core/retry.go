package core

import (
	"context"
	"errors"
	"time"
)

// RetryPolicy describes how often and how patiently an action is retried.
type RetryPolicy struct {
	// MaxAttempts is the total number of tries, including the first.
	MaxAttempts int

	// Backoff returns the wait after the n-th failed attempt (n starts at 1).
	Backoff func(failures int) time.Duration

	// MaxDelay caps every wait, including server-requested ones. 0 = no cap.
	MaxDelay time.Duration

	// Retryable reports whether err is worth another try. nil retries all.
	Retryable func(err error) bool
}

// retryDelayer is implemented by errors that carry a server-requested delay.
type retryDelayer interface {
	RetryDelay() time.Duration
}

// ExponentialBackoff returns base * 2^n after the n-th failure, capped at max
// when max > 0. With base 500ms this waits 1s, then 2s, then 4s.
func ExponentialBackoff(base, max time.Duration) func(int) time.Duration {
	return func(failures int) time.Duration {
		if failures < 0 {
			failures = 0
		}
		if failures > 30 {
			failures = 30
		}
		d := base * time.Duration(1<<uint(failures))
		if max > 0 && d > max {
			d = max
		}
		return d
	}
}

// Retry runs action until it succeeds, returns a non-retryable error, the
// attempts are exhausted, or ctx is done. It returns the number of attempts
// made and the last error. Cancellation is never retried: once ctx is done
// the current error (or ctx.Err() while waiting) is returned immediately.
func Retry(ctx context.Context, p RetryPolicy, action func(ctx context.Context, attempt int) error) (int, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	for attempt := 1; ; attempt++ {
		err := action(ctx, attempt)
		if err == nil {
			return attempt, nil
		}
		if ctx.Err() != nil {
			return attempt, err
		}
		if attempt >= maxAttempts {
			return attempt, err
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return attempt, err
		}

		timer := time.NewTimer(p.delay(attempt, err))
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempt, ctx.Err()
		case <-timer.C:
		}
	}
}

func (p RetryPolicy) delay(failures int, err error) time.Duration {
	var d time.Duration
	if p.Backoff != nil {
		d = p.Backoff(failures)
	}
	var rd retryDelayer
	if errors.As(err, &rd) && rd.RetryDelay() > 0 {
		d = rd.RetryDelay()
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

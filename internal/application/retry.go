package application

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// ErrAttemptsExhausted is returned by Retry when the condition never held.
var ErrAttemptsExhausted = errors.New("attempts exhausted")

// Condition is evaluated once per attempt. An error counts as "not yet".
type Condition func(ctx context.Context) (bool, error)

// WaitFunc blocks for d or until ctx is done.
type WaitFunc func(ctx context.Context, d time.Duration) error

// SleepWait waits on a timer.
func SleepWait(ctx context.Context, d time.Duration) error {
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

// RetryPolicy bounds a Retry loop.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
	Wait        WaitFunc     // default SleepWait
	Logger      *slog.Logger // optional
}

// Retry evaluates cond up to MaxAttempts times and waits Delay after every
// unsatisfied attempt, the last one included. It returns the number of
// attempts made.
func Retry(ctx context.Context, policy RetryPolicy, cond Condition) (int, error) {
	maxAttempts := policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	wait := policy.Wait
	if wait == nil {
		wait = SleepWait
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		ok, err := cond(ctx)
		if err != nil && policy.Logger != nil {
			policy.Logger.Debug("retry condition failed", "attempt", attempt, "error", err)
		}
		if ok && err == nil {
			return attempt, nil
		}

		if err := wait(ctx, policy.Delay); err != nil {
			return attempt, err
		}
	}

	return maxAttempts, ErrAttemptsExhausted
}

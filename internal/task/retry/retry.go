// Package retry runs an action again after transient failures.
//
// The worker itself never retries: a task's outcome is counted once. Actions
// that call flaky remote APIs wrap those calls with Do instead.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// NoRetry marks an error as permanent so Do returns it immediately.
//
//	return retry.NoRetry(fmt.Errorf("bad target: %w", err))
func NoRetry(err error) error {
	if err == nil {
		return nil
	}
	return noRetryError{err: err}
}

// IsNoRetry reports whether err is wrapped with NoRetry.
func IsNoRetry(err error) bool {
	var e noRetryError
	return errors.As(err, &e)
}

type noRetryError struct{ err error }

func (e noRetryError) Error() string { return fmt.Sprintf("no-retry: %v", e.err) }
func (e noRetryError) Unwrap() error { return e.err }

// After attaches a suggested delay before the next attempt, e.g. a throttling
// response's retry-after value. Do honours it, bounded by Policy.MaxDelay.
func After(err error, after time.Duration) error {
	if err == nil {
		return nil
	}
	if after < 0 {
		after = 0
	}
	return afterError{err: err, after: after}
}

// AfterError is implemented by errors that carry an explicit retry delay.
type AfterError interface {
	error
	RetryAfter() time.Duration
}

type afterError struct {
	err   error
	after time.Duration
}

func (e afterError) Error() string             { return fmt.Sprintf("retry-after(%s): %v", e.after, e.err) }
func (e afterError) Unwrap() error             { return e.err }
func (e afterError) RetryAfter() time.Duration { return e.after }

// Policy bounds retries. Max is the number of retries after the first attempt.
type Policy struct {
	Max      int
	Base     time.Duration
	MaxDelay time.Duration
	// Jitter is the +/- fraction applied to every delay. Zero means 0.2;
	// negative disables jitter.
	Jitter float64
}

func (p Policy) withDefaults() Policy {
	if p.Max < 0 {
		p.Max = 0
	}
	if p.Base <= 0 {
		p.Base = 500 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 15 * time.Second
	}
	if p.MaxDelay < p.Base {
		p.MaxDelay = p.Base
	}
	if p.Jitter == 0 {
		p.Jitter = 0.2
	}
	return p
}

// Do calls fn until it succeeds, returns a NoRetry error, the policy runs out,
// or ctx ends. The attempt number passed to fn starts at 1.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) error) error {
	p = p.withDefaults()
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	var err error
	for attempt := 1; ; attempt++ {
		if cerr := ctx.Err(); cerr != nil {
			if err != nil {
				return fmt.Errorf("%w (last error: %v)", cerr, err)
			}
			return cerr
		}
		err = fn(ctx, attempt)
		if err == nil || IsNoRetry(err) || attempt > p.Max {
			return err
		}

		tmr := time.NewTimer(p.delay(attempt, err, rng))
		select {
		case <-ctx.Done():
			tmr.Stop()
			return fmt.Errorf("%w (last error: %v)", ctx.Err(), err)
		case <-tmr.C:
		}
	}
}

// Delay returns the wait before retry number n (1-based) without jitter.
func (p Policy) Delay(n int, err error) time.Duration {
	return p.withDefaults().delay(n, err, nil)
}

func (p Policy) delay(retry int, err error, rng *rand.Rand) time.Duration {
	var d time.Duration
	var ae AfterError
	if err != nil && errors.As(err, &ae) {
		d = ae.RetryAfter()
	} else {
		d = p.Base
		for i := 1; i < retry; i++ {
			d *= 2
			if d > p.MaxDelay {
				break
			}
		}
	}
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	if p.Jitter > 0 && d > 0 && rng != nil {
		r := (rng.Float64()*2 - 1) * p.Jitter
		d = time.Duration(float64(d) * (1 + r))
		if d < 0 {
			d = 0
		}
		if d > p.MaxDelay {
			d = p.MaxDelay
		}
	}
	return d
}

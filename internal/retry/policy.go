// Package retry holds the bounded backoff policy shared by reconnection, the one-shot send
// retry and the relay's startup connects.
package retry

import (
	"context"
	"time"
)

// Policy is a bounded retry schedule: attempt n (1-based) waits BaseDelay*Multiplier^(n-1),
// capped at MaxDelay. MaxAttempts <= 0 means unbounded.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
}

// Reconnect is the default transport reconnection schedule: 1s, 2s, 4s, 5s, 5s.
var Reconnect = Policy{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: 5 * time.Second, Multiplier: 2}

// Once retries a single time after a fixed delay.
func Once(delay time.Duration) Policy {
	return Policy{MaxAttempts: 1, BaseDelay: delay, MaxDelay: delay, Multiplier: 1}
}

// Delay returns the wait before the given attempt and whether that attempt is allowed.
func (p Policy) Delay(attempt int) (time.Duration, bool) {
	if attempt < 1 || (p.MaxAttempts > 0 && attempt > p.MaxAttempts) {
		return 0, false
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * mult)
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay, true
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d, true
}

// Do calls fn until it succeeds, the policy is exhausted or ctx is done.
// onRetry, if set, is called before each wait with the failed attempt's error.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error, onRetry func(attempt int, wait time.Duration, err error)) error {
	err := fn(ctx)
	for attempt := 1; err != nil; attempt++ {
		wait, ok := p.Delay(attempt)
		if !ok {
			return err
		}
		if onRetry != nil {
			onRetry(attempt, wait, err)
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		err = fn(ctx)
	}
	return nil
}

// Package retry wraps network calls with bounded exponential backoff.
//
// Classification is opt-in: an error is retried only when it (or an error it
// wraps) implements Retryable() bool and returns true. Server hints are read
// through RetryAfter() (time.Duration, bool). Every other error is returned
// unchanged after the first attempt.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Options configures one retried call.
type Options struct {
	MaxRetries      int           // retries after the first attempt
	BaseDelay       time.Duration // exponential base
	MaxDelay        time.Duration // cap for any single delay, hints included
	MaxTotalElapsed time.Duration // cumulative budget, 0 means unbounded

	// OnRetry is called before each wait with the 1-based retry number.
	OnRetry func(retry int, err error, delay time.Duration)

	// Test hooks. Zero values use the wall clock, a real timer and math/rand.
	Now   func() time.Time
	Timer backoff.Timer
	Rand  func() float64
}

// DefaultOptions returns the production retry settings.
func DefaultOptions() Options {
	return Options{
		MaxRetries:      6,
		BaseDelay:       500 * time.Millisecond,
		MaxDelay:        30 * time.Second,
		MaxTotalElapsed: 120 * time.Second,
	}
}

type retryable interface {
	Retryable() bool
}

type retryHinter interface {
	RetryAfter() (time.Duration, bool)
}

// IsRetryable reports whether err asks to be retried.
func IsRetryable(err error) bool {
	var r retryable
	return errors.As(err, &r) && r.Retryable()
}

// hintOf returns the server-provided delay carried by err, if any.
func hintOf(err error) (time.Duration, bool) {
	var h retryHinter
	if errors.As(err, &h) {
		return h.RetryAfter()
	}
	return 0, false
}

// Do invokes op until it succeeds, returns a non-retryable error, exhausts
// MaxRetries or runs out of MaxTotalElapsed. The last error is returned as is.
func Do[T any](ctx context.Context, opts Options, op func(ctx context.Context) (T, error)) (T, error) {
	opts = opts.withDefaults()

	policy := &policy{opts: opts, start: opts.Now()}

	operation := func() (T, error) {
		v, err := op(ctx)
		if err != nil && !IsRetryable(err) {
			return v, backoff.Permanent(err)
		}
		policy.lastErr = err
		return v, err
	}

	notify := func(err error, delay time.Duration) {
		if opts.OnRetry != nil {
			opts.OnRetry(policy.retries, err, delay)
		}
	}

	return backoff.RetryNotifyWithTimerAndData(operation, backoff.WithContext(policy, ctx), notify, opts.Timer)
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = d.BaseDelay
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = d.MaxDelay
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Rand == nil {
		o.Rand = rand.Float64
	}
	return o
}

// policy is a backoff.BackOff that looks at the error of the attempt that
// just failed. backoff calls NextBackOff right after the operation returns,
// so lastErr always belongs to the current attempt.
type policy struct {
	opts    Options
	start   time.Time
	retries int
	lastErr error
}

func (p *policy) NextBackOff() time.Duration {
	if p.retries >= p.opts.MaxRetries {
		return backoff.Stop
	}

	delay := p.delayFor(p.retries)

	if p.opts.MaxTotalElapsed > 0 {
		remaining := p.opts.MaxTotalElapsed - p.opts.Now().Sub(p.start)
		if remaining <= 0 {
			return backoff.Stop
		}
		if delay > remaining {
			delay = remaining
		}
	}

	p.retries++
	return delay
}

func (p *policy) Reset() {
	p.retries = 0
	p.lastErr = nil
}

// delayFor returns the hint capped at MaxDelay, or full jitter in
// [0, min(MaxDelay, BaseDelay*2^attempt)].
func (p *policy) delayFor(attempt int) time.Duration {
	if hint, ok := hintOf(p.lastErr); ok && hint > 0 {
		if hint > p.opts.MaxDelay {
			return p.opts.MaxDelay
		}
		return hint
	}

	ceiling := float64(p.opts.BaseDelay) * math.Pow(2, float64(attempt))
	if ceiling > float64(p.opts.MaxDelay) {
		ceiling = float64(p.opts.MaxDelay)
	}
	return time.Duration(p.opts.Rand() * ceiling)
}

package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTimer fires immediately and records every requested delay.
type fakeTimer struct {
	c      chan time.Time
	delays []time.Duration
}

func newFakeTimer() *fakeTimer {
	return &fakeTimer{c: make(chan time.Time, 1)}
}

func (t *fakeTimer) Start(d time.Duration) {
	t.delays = append(t.delays, d)
	t.c <- time.Now()
}

func (t *fakeTimer) Stop() {}

func (t *fakeTimer) C() <-chan time.Time { return t.c }

func (t *fakeTimer) total() time.Duration {
	var sum time.Duration
	for _, d := range t.delays {
		sum += d
	}
	return sum
}

type statusErr struct {
	status    int
	retryable bool
	hint      time.Duration
}

func (e *statusErr) Error() string { return fmt.Sprintf("status %d", e.status) }

func (e *statusErr) Retryable() bool { return e.retryable }

func (e *statusErr) RetryAfter() (time.Duration, bool) { return e.hint, e.hint > 0 }

func testOptions(timer *fakeTimer) Options {
	opts := DefaultOptions()
	opts.Timer = timer
	opts.Rand = func() float64 { return 1 }
	return opts
}

func TestDo_RateLimitedWithHint(t *testing.T) {
	timer := newFakeTimer()
	opts := testOptions(timer)

	var retries []int
	opts.OnRetry = func(retry int, err error, delay time.Duration) {
		retries = append(retries, retry)
	}

	calls := 0
	got, err := Do(context.Background(), opts, func(ctx context.Context) (string, error) {
		calls++
		if calls <= 2 {
			return "", &statusErr{status: 429, retryable: true, hint: 2 * time.Second}
		}
		return "ok", nil
	})
	require.NoError(t, err)

	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retries)
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, timer.delays)
	assert.GreaterOrEqual(t, timer.total(), 2*time.Second)
	assert.LessOrEqual(t, timer.delays[0], opts.MaxDelay)
}

func TestDo_NonRetryableReturnsImmediately(t *testing.T) {
	timer := newFakeTimer()
	want := &statusErr{status: 401}

	calls := 0
	_, err := Do(context.Background(), testOptions(timer), func(ctx context.Context) (int, error) {
		calls++
		return 0, want
	})

	assert.Equal(t, 1, calls)
	assert.Same(t, want, err)
	assert.Empty(t, timer.delays)
}

func TestDo_PlainErrorIsNotRetried(t *testing.T) {
	timer := newFakeTimer()
	want := errors.New("boom")

	calls := 0
	_, err := Do(context.Background(), testOptions(timer), func(ctx context.Context) (int, error) {
		calls++
		return 0, want
	})

	assert.Equal(t, 1, calls)
	assert.Equal(t, want, err)
}

func TestDo_ExhaustionReturnsLastError(t *testing.T) {
	timer := newFakeTimer()
	opts := testOptions(timer)
	opts.MaxRetries = 3

	calls := 0
	var last error
	_, err := Do(context.Background(), opts, func(ctx context.Context) (int, error) {
		calls++
		last = &statusErr{status: 500 + calls, retryable: true}
		return 0, last
	})

	assert.Equal(t, 4, calls)
	assert.Same(t, last, err)
	assert.Len(t, timer.delays, 3)
}

func TestDo_FullJitterCeiling(t *testing.T) {
	timer := newFakeTimer()
	opts := testOptions(timer)
	opts.MaxRetries = 8
	opts.BaseDelay = 100 * time.Millisecond
	opts.MaxDelay = time.Second
	opts.MaxTotalElapsed = 0

	_, _ = Do(context.Background(), opts, func(ctx context.Context) (int, error) {
		return 0, &statusErr{status: 503, retryable: true}
	})

	// Rand returns 1, so each delay sits on its ceiling.
	assert.Equal(t, []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		time.Second,
		time.Second,
		time.Second,
		time.Second,
	}, timer.delays)
}

func TestDo_JitterIsScaledByRand(t *testing.T) {
	timer := newFakeTimer()
	opts := testOptions(timer)
	opts.MaxRetries = 1
	opts.Rand = func() float64 { return 0.25 }

	_, _ = Do(context.Background(), opts, func(ctx context.Context) (int, error) {
		return 0, &statusErr{status: 503, retryable: true}
	})

	assert.Equal(t, []time.Duration{125 * time.Millisecond}, timer.delays)
}

func TestDo_HintCappedAtMaxDelay(t *testing.T) {
	timer := newFakeTimer()
	opts := testOptions(timer)
	opts.MaxRetries = 1

	_, _ = Do(context.Background(), opts, func(ctx context.Context) (int, error) {
		return 0, &statusErr{status: 429, retryable: true, hint: 10 * time.Minute}
	})

	assert.Equal(t, []time.Duration{opts.MaxDelay}, timer.delays)
}

func TestDo_TotalElapsedBudget(t *testing.T) {
	timer := newFakeTimer()
	opts := testOptions(timer)
	opts.MaxRetries = 10
	opts.MaxTotalElapsed = 5 * time.Second

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	opts.Now = func() time.Time { return now }

	calls := 0
	_, err := Do(context.Background(), opts, func(ctx context.Context) (int, error) {
		calls++
		// Each attempt costs three seconds of simulated time.
		now = now.Add(3 * time.Second)
		return 0, &statusErr{status: 429, retryable: true, hint: 2 * time.Second}
	})
	require.Error(t, err)

	// 3s elapsed leaves 2s; 6s elapsed exhausts the budget.
	assert.Equal(t, 2, calls)
	assert.Equal(t, []time.Duration{2 * time.Second}, timer.delays)
}

func TestDo_DelayTrimmedToRemainingBudget(t *testing.T) {
	timer := newFakeTimer()
	opts := testOptions(timer)
	opts.MaxRetries = 1
	opts.MaxTotalElapsed = 4 * time.Second

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	opts.Now = func() time.Time { return now }

	_, _ = Do(context.Background(), opts, func(ctx context.Context) (int, error) {
		now = now.Add(3 * time.Second)
		return 0, &statusErr{status: 429, retryable: true, hint: 2 * time.Second}
	})

	assert.Equal(t, []time.Duration{time.Second}, timer.delays)
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	timer := newFakeTimer()

	calls := 0
	_, err := Do(ctx, testOptions(timer), func(ctx context.Context) (int, error) {
		calls++
		cancel()
		return 0, &statusErr{status: 503, retryable: true}
	})

	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIsRetryable_Wrapped(t *testing.T) {
	err := fmt.Errorf("call failed: %w", &statusErr{status: 429, retryable: true})
	assert.True(t, IsRetryable(err))
	assert.False(t, IsRetryable(errors.New("x")))
	assert.False(t, IsRetryable(nil))
}

package retry

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTimer fires immediately and records every requested sleep.
type fakeTimer struct {
	c      chan time.Time
	sleeps []time.Duration
}

func newFakeTimer() *fakeTimer {
	return &fakeTimer{c: make(chan time.Time, 1)}
}

func (t *fakeTimer) Start(d time.Duration) {
	t.sleeps = append(t.sleeps, d)
	t.c <- time.Now()
}

func (t *fakeTimer) Stop() {}

func (t *fakeTimer) C() <-chan time.Time { return t.c }

func TestUntilBounds(t *testing.T) {
	for _, maxRetry := range []int{0, 1, 2, 5, 10} {
		t.Run(fmt.Sprintf("max_retry=%d", maxRetry), func(t *testing.T) {
			timer := newFakeTimer()
			calls := 0
			notified := 0
			_, err := Until(context.Background(), Options{
				MaxRetry: maxRetry,
				Delay:    time.Second,
				Timer:    timer,
				OnRetry:  func(int, error, time.Duration) { notified++ },
			}, func(context.Context) (int, error) {
				calls++
				return 0, errors.New("device not ready")
			}, nil)
			require.Error(t, err)

			expectedCalls := maxRetry
			if expectedCalls < 1 {
				expectedCalls = 1
			}
			assert.Equal(t, expectedCalls, calls)
			assert.Len(t, timer.sleeps, expectedCalls-1)
			assert.Equal(t, expectedCalls-1, notified)
		})
	}
}

func TestUntilStopsOnAccept(t *testing.T) {
	timer := newFakeTimer()
	calls := 0
	result, err := Until(context.Background(), Options{MaxRetry: 10, Delay: time.Second, Timer: timer},
		func(context.Context) (string, error) {
			calls++
			if calls < 3 {
				return "booting", nil
			}
			return "ready", nil
		},
		func(state string) bool { return state == "ready" },
	)
	require.NoError(t, err)
	assert.Equal(t, "ready", result)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Second, time.Second}, timer.sleeps)
}

func TestUntilExhaustedPredicate(t *testing.T) {
	opts := Options{MaxRetry: 3, Delay: time.Second, Timer: newFakeTimer()}
	never := func(bool) bool { return false }
	fn := func(context.Context) (bool, error) { return false, nil }

	result, err := Until(context.Background(), opts, fn, never)
	assert.False(t, result)
	assert.ErrorIs(t, err, ErrNotAccepted)

	opts.Timer = newFakeTimer()
	opts.NotRaiseError = true
	result, err = Until(context.Background(), opts, fn, never)
	assert.False(t, result)
	assert.NoError(t, err)
}

func TestUntilExhaustedError(t *testing.T) {
	boom := errors.New("boom")
	opts := Options{MaxRetry: 2, Timer: newFakeTimer()}
	_, err := Until(context.Background(), opts, func(context.Context) (int, error) { return 7, boom }, nil)
	assert.Equal(t, boom, err)

	opts.Timer = newFakeTimer()
	opts.NotRaiseError = true
	result, err := Until(context.Background(), opts, func(context.Context) (int, error) { return 7, boom }, nil)
	assert.NoError(t, err)
	assert.Equal(t, 7, result)
}

func TestUntilRetryIf(t *testing.T) {
	fatal := errors.New("permission denied")
	calls := 0
	timer := newFakeTimer()
	_, err := Until(context.Background(), Options{
		MaxRetry:      5,
		Timer:         timer,
		NotRaiseError: true,
		RetryIf:       func(err error) bool { return err != fatal },
	}, func(context.Context) (int, error) {
		calls++
		return 0, fatal
	}, nil)
	assert.Equal(t, fatal, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, timer.sleeps)
}

func TestUntilBackoffGrowsDelay(t *testing.T) {
	timer := newFakeTimer()
	_ = Do(context.Background(), Options{
		MaxRetry:   4,
		Delay:      time.Second,
		Multiplier: 2,
		MaxDelay:   3 * time.Second,
		Timer:      timer,
	}, func(context.Context) error { return errors.New("again") })
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}, timer.sleeps)
}

func TestUntilContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := Do(ctx, Options{MaxRetry: 5, Delay: time.Hour, NotRaiseError: true}, func(context.Context) error {
		calls++
		return errors.New("offline")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestPoll(t *testing.T) {
	calls := 0
	err := Poll(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("not mounted")
		}
		return nil
	}, &PollOptions{Timeout: 5 * time.Second, Interval: time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestPollTimeoutReturnsLastError(t *testing.T) {
	err := Poll(context.Background(), func(context.Context) error {
		return errors.New("led still blinking")
	}, &PollOptions{Timeout: 20 * time.Millisecond, Interval: 5 * time.Millisecond})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "led still blinking")
	assert.Contains(t, err.Error(), "timed out")
}

func TestPollBreak(t *testing.T) {
	calls := 0
	err := Poll(context.Background(), func(context.Context) error {
		calls++
		return Break(errors.New("unsupported platform"))
	}, &PollOptions{Timeout: time.Second, Interval: time.Millisecond})
	assert.EqualError(t, err, "unsupported platform")
	assert.Equal(t, 1, calls)
}

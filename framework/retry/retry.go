package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
)

// ErrNotAccepted is reported when every attempt returned a result the
// predicate rejected.
var ErrNotAccepted = errors.New("retry: result not accepted")

const (
	DefaultMaxRetry = 10
	DefaultDelay    = 10 * time.Second
	DefaultMaxDelay = 10 * time.Minute
)

// Notify is called after every failed attempt that will be retried.
type Notify func(attempt int, err error, next time.Duration)

// Options bounds a retry loop.
type Options struct {
	// MaxRetry is the maximum number of calls. Values below 1 mean one call.
	MaxRetry int
	// Delay is the sleep between attempts.
	Delay time.Duration
	// Multiplier grows Delay after every attempt when greater than 1.
	Multiplier float64
	// MaxDelay caps the grown delay.
	MaxDelay time.Duration
	// NotRaiseError makes an exhausted loop return the last result with a
	// nil error.
	NotRaiseError bool
	// RetryIf limits retries to matching errors. Other errors end the loop
	// immediately and are always returned.
	RetryIf func(error) bool
	// OnRetry is invoked before every sleep.
	OnRetry Notify
	// Timer replaces the sleep timer.
	Timer backoff.Timer
}

// DefaultOptions returns ten attempts ten seconds apart.
func DefaultOptions() Options {
	return Options{MaxRetry: DefaultMaxRetry, Delay: DefaultDelay}
}

// Until calls fn until accept approves its result, or maxRetry calls have
// been made. A nil accept approves any result returned without error. It
// sleeps at most MaxRetry-1 times.
//
// On exhaustion the last result is returned together with the last error
// (ErrNotAccepted when the last call succeeded but was rejected), unless
// NotRaiseError was set.
func Until[T any](ctx context.Context, opts Options, fn func(ctx context.Context) (T, error), accept func(T) bool) (T, error) {
	if opts.MaxRetry < 1 {
		opts.MaxRetry = 1
	}

	attempt := 0
	permanent := false
	operation := func() (T, error) {
		attempt++
		result, err := fn(ctx)
		if err != nil {
			if opts.RetryIf != nil && !opts.RetryIf(err) {
				permanent = true
				return result, backoff.Permanent(err)
			}
			return result, err
		}
		if accept != nil && !accept(result) {
			return result, ErrNotAccepted
		}
		return result, nil
	}
	notify := func(err error, next time.Duration) {
		if opts.OnRetry != nil {
			opts.OnRetry(attempt, err, next)
		}
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(opts.policy(), uint64(opts.MaxRetry-1)), ctx)
	var (
		result T
		err    error
	)
	if opts.Timer != nil {
		result, err = backoff.RetryNotifyWithTimerAndData(operation, policy, notify, opts.Timer)
	} else {
		result, err = backoff.RetryNotifyWithData(operation, policy, notify)
	}
	if err == nil {
		return result, nil
	}
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return result, err
	}
	if opts.NotRaiseError && !permanent {
		return result, nil
	}
	if errors.Is(err, ErrNotAccepted) {
		return result, errors.Wrapf(err, "gave up after %d attempts", attempt)
	}
	return result, err
}

// Do is Until for functions that only report an error.
func Do(ctx context.Context, opts Options, fn func(ctx context.Context) error) error {
	_, err := Until(ctx, opts, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	}, nil)
	return err
}

func (o Options) policy() backoff.BackOff {
	if o.Multiplier <= 1 {
		return backoff.NewConstantBackOff(o.Delay)
	}
	maxDelay := o.MaxDelay
	if maxDelay <= 0 {
		maxDelay = DefaultMaxDelay
	}
	policy := &backoff.ExponentialBackOff{
		InitialInterval:     o.Delay,
		RandomizationFactor: 0,
		Multiplier:          o.Multiplier,
		MaxInterval:         maxDelay,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	policy.Reset()
	return policy
}

package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
)

const (
	defaultPollTimeout  = time.Minute
	defaultPollInterval = 100 * time.Millisecond
)

// PollOptions bounds a Poll loop by wall-clock time rather than attempts.
type PollOptions struct {
	Timeout  time.Duration
	Interval time.Duration
}

// Break wraps err so that Poll returns it immediately.
func Break(err error) error {
	return backoff.Permanent(err)
}

// Poll calls fn until it returns nil, returns an error wrapped with Break,
// or the timeout elapses. On timeout the last error from fn is returned.
// fn is never interrupted; a call in flight when the deadline passes runs
// to completion before Poll returns.
func Poll(ctx context.Context, fn func(ctx context.Context) error, opts *PollOptions) error {
	timeout := defaultPollTimeout
	interval := defaultPollInterval
	if opts != nil {
		if opts.Timeout > 0 {
			timeout = opts.Timeout
		}
		if opts.Interval > 0 {
			interval = opts.Interval
		}
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var lastErr error
	operation := func() error {
		err := fn(ctx)
		if err != nil {
			lastErr = err
		}
		return err
	}
	err := backoff.Retry(operation, backoff.WithContext(backoff.NewConstantBackOff(interval), ctx))
	if err == nil {
		return nil
	}
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		if lastErr == nil {
			return errors.Wrapf(err, "poll did not complete within %v", timeout)
		}
		return errors.Wrapf(lastErr, "poll timed out after %v", timeout)
	}
	return err
}

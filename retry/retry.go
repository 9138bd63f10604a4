package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrExhausted is wrapped by the error Do returns once every retry failed.
var ErrExhausted = errors.New("retries exhausted")

// Notify is called before sleeping for a retry.
type Notify func(retry int, err error, wait time.Duration)

type doConfig struct {
	retryIf func(error) bool
	notify  Notify
}

// Option configures Do.
type Option func(*doConfig)

// WithRetryIf limits retries to errors for which fn returns true.
func WithRetryIf(fn func(error) bool) Option {
	return func(cfg *doConfig) {
		cfg.retryIf = fn
	}
}

// WithNotify registers a callback invoked on every retry.
func WithNotify(fn Notify) Option {
	return func(cfg *doConfig) {
		cfg.notify = fn
	}
}

// retryAll retries every error. Cancellation is detected on ctx, since an
// operation's own timeout also matches context.DeadlineExceeded.
func retryAll(error) bool {
	return true
}

// Do runs op until it succeeds, returns a non-retryable error, the policy
// runs out of retries or ctx is done.
func Do[T any](ctx context.Context, p Policy, op func(context.Context) (T, error), opts ...Option) (T, error) {
	cfg := doConfig{retryIf: retryAll}
	for _, opt := range opts {
		opt(&cfg)
	}

	attempts := 0
	permanent := false
	res, err := backoff.RetryNotifyWithData(func() (T, error) {
		attempts++
		res, err := op(ctx)
		if err != nil && (ctx.Err() != nil || !cfg.retryIf(err)) {
			permanent = true
			return res, backoff.Permanent(err)
		}
		return res, err
	}, p.BackOff(ctx), func(err error, wait time.Duration) {
		if cfg.notify != nil {
			cfg.notify(attempts, err, wait)
		}
	})

	var zero T
	switch {
	case err == nil:
		return res, nil
	case ctx.Err() != nil:
		return zero, ctx.Err()
	case permanent:
		return zero, err
	default:
		return zero, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempts, err)
	}
}

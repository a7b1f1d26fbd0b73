package driver

import (
	"context"
	"time"

	"github.com/otaviosnow/clipeiroai-sub000/internal/platform"
)

// CheckFunc reports whether the awaited condition holds. A non-nil error
// stops the wait immediately.
type CheckFunc func(ctx context.Context) (done bool, err error)

// WaitFor polls check every interval until it reports done, it errors, ctx
// ends, or timeout elapses. Expiry yields a platform error of kind.
func WaitFor(ctx context.Context, timeout, interval time.Duration, kind platform.Kind, op string, check CheckFunc) error {
	if timeout <= 0 {
		timeout = DefaultOptions().PublishTimeout
	}
	if interval <= 0 {
		interval = DefaultOptions().PollInterval
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		done, err := check(waitCtx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if waitCtx.Err() != nil {
				return platform.Errorf(kind, op, "not ready after %s", timeout)
			}
			return err
		}
		if done {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-waitCtx.Done():
			return platform.Errorf(kind, op, "not ready after %s", timeout)
		case <-ticker.C:
		}
	}
}

// Bounded runs fn with a deadline of timeout. If the deadline, and not the
// parent context, ends the call, the error becomes a platform error of kind.
func Bounded(ctx context.Context, timeout time.Duration, kind platform.Kind, op string, fn func(ctx context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := fn(callCtx)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if callCtx.Err() != nil {
		return platform.NewError(kind, op, err)
	}
	return err
}

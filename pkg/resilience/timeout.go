package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type result[T any] struct {
	val T
	err error
}

// Call runs fn with a context that expires after timeout and returns its
// value. When the deadline passes first, Call returns at once with an error
// wrapping context.DeadlineExceeded; fn keeps running on its own goroutine
// and its late result is discarded. A non-positive timeout calls fn directly.
func Call[T any](ctx context.Context, timeout time.Duration, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan result[T], 1)
	go func() {
		v, err := fn(tctx)
		done <- result[T]{val: v, err: err}
	}()

	var zero T
	select {
	case r := <-done:
		return r.val, r.err
	case <-tctx.Done():
		if ctx.Err() != nil {
			return zero, fmt.Errorf("%s: caller gave up: %w", name, ctx.Err())
		}
		return zero, fmt.Errorf("%s: %w (limit: %v)", name, context.DeadlineExceeded, timeout)
	}
}

// WithTimeout is Call for functions without a result.
func WithTimeout(ctx context.Context, timeout time.Duration, name string, fn func(ctx context.Context) error) error {
	_, err := Call(ctx, timeout, name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// TimedOut reports whether err came from a deadline or a cancelled caller.
func TimedOut(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}

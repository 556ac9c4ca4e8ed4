package bus

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// call runs fn under an optional timeout and converts a panic into an error.
// When the deadline passes first, fn keeps running in the background and its
// result is discarded.
func call[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) T) (T, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type outcome struct {
		v   T
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome{err: fmt.Errorf("adapter panic: %v", r)}
			}
		}()
		ch <- outcome{v: fn(ctx)}
	}()

	select {
	case o := <-ch:
		return o.v, o.err
	case <-ctx.Done():
		var zero T
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, ErrTimeout
		}
		return zero, ctx.Err()
	}
}

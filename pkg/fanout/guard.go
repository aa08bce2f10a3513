package fanout

import (
	"context"
	"errors"
	"time"
)

type opResult[V any] struct {
	value V
	err   error
}

// RunWithDeadline runs op and races it against a deadline of d.
//
// op receives a context that is cancelled when the deadline fires. If the
// deadline wins, op keeps running in the background and its result is
// discarded; the returned status is StatusTimedOut with ErrTimeout.
// If ctx ends before either, the status is StatusFailure with ctx's error.
func RunWithDeadline[V any](ctx context.Context, d time.Duration, op func(context.Context) (V, error)) (V, Status, error) {
	var zero V

	opCtx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	// Buffered so an abandoned op can always deliver and exit.
	done := make(chan opResult[V], 1)
	go func() {
		v, err := op(opCtx)
		done <- opResult[V]{value: v, err: err}
	}()

	select {
	case r := <-done:
		if r.err == nil {
			return r.value, StatusSuccess, nil
		}
		// An op that gave up because of our own deadline is a timeout, not a failure.
		if errors.Is(r.err, context.DeadlineExceeded) && ctx.Err() == nil && opCtx.Err() == context.DeadlineExceeded {
			return zero, StatusTimedOut, ErrTimeout
		}
		return zero, StatusFailure, r.err
	case <-opCtx.Done():
		if err := ctx.Err(); err != nil {
			return zero, StatusFailure, err
		}
		return zero, StatusTimedOut, ErrTimeout
	}
}

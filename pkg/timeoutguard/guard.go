// Package timeoutguard implements the Timeout Guard: wraps one
// step attempt with a deadline drawn from Task.TimeoutMillis and surfaces a
// distinct TimeoutError on expiry, without waiting for the underlying call
// to return.
package timeoutguard

import (
	"context"
	"time"

	"taskengine/pkg/engerrors"
)

// Attempt runs fn with a context deadline of timeoutMillis. If fn has not
// returned by the deadline, Attempt returns a *engerrors.TimeoutError
// immediately and cancels the context passed to fn; fn keeps running in the
// background until it returns (a tool that ignores its context is not
// stopped, only abandoned).
func Attempt(ctx context.Context, stepID string, timeoutMillis int64, fn func(ctx context.Context) (interface{}, error)) (interface{}, error, time.Duration) {
	start := time.Now()
	deadlineCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutMillis)*time.Millisecond)
	defer cancel()

	type result struct {
		value interface{}
		err   error
	}
	done := make(chan result, 1)

	go func() {
		v, err := fn(deadlineCtx)
		done <- result{value: v, err: err}
	}()

	select {
	case r := <-done:
		return r.value, r.err, time.Since(start)
	case <-deadlineCtx.Done():
		elapsed := time.Since(start)
		return nil, &engerrors.TimeoutError{StepID: stepID, Elapsed: elapsed.Milliseconds()}, elapsed
	}
}

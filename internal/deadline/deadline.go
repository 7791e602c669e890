// Package deadline bounds the wall-clock time of a blocking call.
package deadline

import (
	"errors"
	"time"
)

// ErrTimeout is returned when the function did not finish within the limit.
var ErrTimeout = errors.New("operation timed out")

// Run executes fn in its own goroutine and waits at most d for it to
// finish. On timeout the goroutine is abandoned; its result is dropped when
// it eventually returns. Callers must only pass functions whose leaked
// execution is harmless (driver pings, catalog reads).
func Run[T any](d time.Duration, fn func() (T, error)) (T, error) {
	type outcome struct {
		value T
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := fn()
		done <- outcome{value: v, err: err}
	}()

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case o := <-done:
		return o.value, o.err
	case <-timer.C:
		var zero T
		return zero, ErrTimeout
	}
}

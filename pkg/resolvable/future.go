// Package resolvable provides a single-assignment value that any number of
// goroutines can wait on.
package resolvable

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrTimeout is returned by Wait when the future's timeout elapsed before it
// was resolved.
var ErrTimeout = errors.New("resolvable: timed out waiting for value")

// Future holds a value that is set exactly once.
// The zero value is not usable; create futures with New.
type Future[T any] struct {
	done      chan struct{}
	once      sync.Once
	value     T
	err       error
	createdAt time.Time
	timer     *time.Timer
}

// New creates an unresolved future. When timeout is positive the future is
// rejected with ErrTimeout once timeout has elapsed since creation, so every
// waiter shares the same deadline regardless of when it started waiting.
func New[T any](timeout time.Duration) *Future[T] {
	f := &Future[T]{
		done:      make(chan struct{}),
		createdAt: time.Now(),
	}
	if timeout > 0 {
		f.timer = time.AfterFunc(timeout, func() {
			f.settle(*new(T), ErrTimeout)
		})
	}
	return f
}

// Resolve sets the value. Only the first Resolve or Reject takes effect;
// it reports whether this call settled the future.
func (f *Future[T]) Resolve(v T) bool {
	return f.settle(v, nil)
}

// Reject settles the future with an error. A nil error is replaced with
// context.Canceled so that waiters can always tell rejection from resolution.
func (f *Future[T]) Reject(err error) bool {
	if err == nil {
		err = context.Canceled
	}
	return f.settle(*new(T), err)
}

func (f *Future[T]) settle(v T, err error) bool {
	settled := false
	f.once.Do(func() {
		f.value = v
		f.err = err
		if f.timer != nil {
			f.timer.Stop()
		}
		close(f.done)
		settled = true
	})
	return settled
}

// Wait blocks until the future is settled or ctx is done.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		// Prefer an already-settled value over a racing cancellation.
		select {
		case <-f.done:
			return f.value, f.err
		default:
		}
		var zero T
		return zero, ctx.Err()
	}
}

// Done returns a channel that is closed once the future is settled.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// IsSettled reports whether the future was resolved or rejected.
func (f *Future[T]) IsSettled() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// IsResolved reports whether the future was resolved with a value.
func (f *Future[T]) IsResolved() bool {
	return f.IsSettled() && f.err == nil
}

// Peek returns the settled value and error without blocking.
// settled is false while the future is still pending.
func (f *Future[T]) Peek() (value T, settled bool, err error) {
	if !f.IsSettled() {
		return value, false, nil
	}
	return f.value, true, f.err
}

// Age returns how long ago the future was created.
func (f *Future[T]) Age() time.Duration {
	return time.Since(f.createdAt)
}

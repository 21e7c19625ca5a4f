package bridge

import (
	"context"
)

// Future is the loop-side handle for the eventual outcome of a scheduled
// callable. It settles exactly once, on the loop goroutine. Continuations
// registered with OnSettled, Then and Catch always run on the loop.
type Future[T any] struct {
	loop    *Loop
	done    chan struct{}
	value   T
	err     error
	settled bool
	waiters []func(*Turn, T, error)
}

func newFuture[T any](l *Loop) *Future[T] {
	return &Future[T]{loop: l, done: make(chan struct{})}
}

// settle records the outcome and runs pending continuations in registration
// order. A second call is an internal error.
func (f *Future[T]) settle(t *Turn, value T, err error) {
	if f.settled {
		panic("bridge: internal error: future settled twice")
	}
	f.value, f.err, f.settled = value, err, true
	close(f.done)

	waiters := f.waiters
	f.waiters = nil
	for _, w := range waiters {
		t.loop.protect(t, func(t *Turn) { w(t, value, err) })
	}
}

// OnSettled registers cb to run with the outcome. If the future has already
// settled, cb runs on a later turn rather than synchronously.
func (f *Future[T]) OnSettled(t *Turn, cb func(t *Turn, value T, err error)) {
	if cb == nil {
		panic("bridge: nil continuation")
	}
	if f.settled {
		value, err := f.value, f.err
		t.loop.push(func(t *Turn) { cb(t, value, err) })
		return
	}
	f.waiters = append(f.waiters, cb)
}

// Then registers onValue to run if the future resolves.
func (f *Future[T]) Then(t *Turn, onValue func(t *Turn, value T)) {
	f.OnSettled(t, func(t *Turn, value T, err error) {
		if err == nil {
			onValue(t, value)
		}
	})
}

// Catch registers onError to run if the future rejects.
func (f *Future[T]) Catch(t *Turn, onError func(t *Turn, err error)) {
	f.OnSettled(t, func(t *Turn, _ T, err error) {
		if err != nil {
			onError(t, err)
		}
	})
}

// Settled reports whether the outcome is available. Only valid on the loop.
func (f *Future[T]) Settled(t *Turn) bool {
	return f.settled
}

// Done is closed once the future settles.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Await blocks until the future settles or ctx is done. It must not be called
// from the loop goroutine, which would deadlock waiting on itself.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

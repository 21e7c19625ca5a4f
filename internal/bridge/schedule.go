package bridge

import (
	"context"
	"fmt"
)

// Schedule runs fn on the worker pool and returns a pending future that the
// loop settles once fn returns. A non-nil error or a panic in fn rejects the
// future with a *TaskError; otherwise it resolves with fn's value.
//
// Schedule never blocks the loop. If the pool refuses the work, the future
// rejects on a later turn.
func Schedule[T any](t *Turn, fn func() (T, error)) *Future[T] {
	if fn == nil {
		panic("bridge: nil callable")
	}
	l := t.loop
	f := newFuture[T](l)
	tk := newTask(fn, f)
	tasksScheduled.Inc()

	if err := l.pool.Submit(l, tk.run, tk.settle); err != nil {
		rejection := newTaskError(fmt.Errorf("schedule: %w", err))
		l.push(func(t *Turn) {
			var zero T
			f.settle(t, zero, rejection)
			tasksSettled.WithLabelValues(outcomeRejected).Inc()
		})
	}
	return f
}

// ScheduleText schedules a callable producing encoded text. The conversion to
// a Go string happens on the loop after the worker returns; a conversion
// failure rejects the future.
func ScheduleText(t *Turn, fn func() (Text, error)) *Future[string] {
	inner := Schedule(t, fn)
	outer := newFuture[string](t.loop)
	inner.OnSettled(t, func(t *Turn, txt Text, err error) {
		if err != nil {
			outer.settle(t, "", err)
			return
		}
		s, err := txt.String()
		if err != nil {
			outer.settle(t, "", newTaskError(err))
			return
		}
		outer.settle(t, s, nil)
	})
	return outer
}

// Go schedules fn from outside the loop. It posts a turn that calls Schedule
// and hands the resulting future back to the caller, who may Await it.
func Go[T any](ctx context.Context, l *Loop, fn func() (T, error)) (*Future[T], error) {
	ch := make(chan *Future[T], 1)
	if err := l.Post(func(t *Turn) {
		ch <- Schedule(t, fn)
	}); err != nil {
		return nil, err
	}

	select {
	case f := <-ch:
		return f, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

package bridge

import (
	"sync/atomic"
	"time"
)

// TaskState is the lifecycle position of a scheduled task. Transitions are
// strictly forward: Pending, Running, Completed or Failed, then Settled.
type TaskState int32

const (
	TaskPending TaskState = iota
	TaskRunning
	TaskCompleted
	TaskFailed
	TaskSettled
)

func (s TaskState) String() string {
	switch s {
	case TaskPending:
		return "pending"
	case TaskRunning:
		return "running"
	case TaskCompleted:
		return "completed"
	case TaskFailed:
		return "failed"
	case TaskSettled:
		return "settled"
	default:
		return "unknown"
	}
}

// task binds a callable to its result slot and the future it settles.
// The pool owns it while run executes; the loop owns it from settle onward.
type task[T any] struct {
	fn     func() (T, error)
	res    result[T]
	future *Future[T]
	state  atomic.Int32

	scheduledAt time.Time
}

func newTask[T any](fn func() (T, error), f *Future[T]) *task[T] {
	return &task[T]{
		fn:          fn,
		res:         newResult[T](),
		future:      f,
		scheduledAt: time.Now(),
	}
}

func (tk *task[T]) State() TaskState {
	return TaskState(tk.state.Load())
}

func (tk *task[T]) advance(s TaskState) {
	tk.state.Store(int32(s))
}

// run is the worker half. It never panics and always writes the result,
// including when the callable exits its goroutine with runtime.Goexit.
func (tk *task[T]) run() {
	taskQueueWait.Observe(time.Since(tk.scheduledAt).Seconds())
	tk.advance(TaskRunning)

	var o outcome[T]
	returned := false
	defer func() {
		if !returned {
			o = outcome[T]{err: errGoexit}
		}
		if o.err != nil {
			tk.advance(TaskFailed)
		} else {
			tk.advance(TaskCompleted)
		}
		tk.res.put(o)
	}()

	o.value, o.err = tk.call()
	returned = true
}

func (tk *task[T]) call() (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = newPanicError(r)
		}
	}()
	return tk.fn()
}

// settle is the loop half. It reads the outcome exactly once, settles the
// future and drops every reference the task holds.
func (tk *task[T]) settle(t *Turn) {
	o := tk.res.take()
	f := tk.future
	tk.fn = nil
	tk.future = nil

	if o.err != nil {
		var zero T
		f.settle(t, zero, newTaskError(o.err))
		tasksSettled.WithLabelValues(outcomeRejected).Inc()
	} else {
		f.settle(t, o.value, nil)
		tasksSettled.WithLabelValues(outcomeResolved).Inc()
	}
	tk.advance(TaskSettled)
	taskDuration.Observe(time.Since(tk.scheduledAt).Seconds())
}

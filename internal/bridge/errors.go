package bridge

import (
	"errors"
	"fmt"
	"runtime/debug"
)

var (
	// ErrLoopClosed is returned by Post once the loop is terminating.
	ErrLoopClosed = errors.New("bridge: loop is closed")

	// ErrLoopRunning is returned when Run is called on a loop that already ran.
	ErrLoopRunning = errors.New("bridge: loop is already running")

	// ErrPoolClosed is returned by Submit after Close, and is the rejection
	// cause of futures scheduled on a closed pool.
	ErrPoolClosed = errors.New("bridge: pool is closed")

	errGoexit = errors.New("bridge: callable called runtime.Goexit")
)

// TaskError is the rejection value of a Future whose callable failed.
// Message is the failure description; Unwrap exposes the original error.
type TaskError struct {
	Message string
	cause   error
}

func (e *TaskError) Error() string { return e.Message }

func (e *TaskError) Unwrap() error { return e.cause }

func newTaskError(err error) *TaskError {
	if te, ok := err.(*TaskError); ok {
		return te
	}
	return &TaskError{Message: Describe(err), cause: err}
}

// Describe returns the plain message carried by err.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// panicError wraps a value recovered from a panicking callable.
type panicError struct {
	value any
	stack []byte
}

func newPanicError(v any) *panicError {
	return &panicError{value: v, stack: debug.Stack()}
}

func (p *panicError) Error() string { return describePanic(p.value) }

func (p *panicError) Unwrap() error {
	if err, ok := p.value.(error); ok {
		return err
	}
	return nil
}

func describePanic(v any) string {
	switch v := v.(type) {
	case error:
		return "panic: " + v.Error()
	case string:
		return "panic: " + v
	default:
		return fmt.Sprintf("panic: %v", v)
	}
}

package bridge

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

type loopState int

const (
	loopIdle loopState = iota
	loopRunning
	loopTerminating
	loopStopped
)

func (s loopState) String() string {
	switch s {
	case loopIdle:
		return "idle"
	case loopRunning:
		return "running"
	case loopTerminating:
		return "terminating"
	default:
		return "stopped"
	}
}

// Turn is the capability handed to code running on the loop goroutine.
// Schedule and Future continuations require one, which keeps every future
// confined to the loop.
type Turn struct {
	loop *Loop
}

// Loop returns the loop this turn belongs to.
func (t *Turn) Loop() *Loop {
	return t.loop
}

// Loop is a single-goroutine event loop. Callbacks posted to it run one at a
// time, in FIFO order, on the goroutine that called Run.
type Loop struct {
	pool   *Pool
	logger *slog.Logger

	mu    sync.Mutex
	queue []func(*Turn)
	state loopState

	wake     chan struct{}
	done     chan struct{}
	inflight atomic.Int64
}

// NewLoop creates a loop that schedules blocking work on pool.
func NewLoop(pool *Pool, logger *slog.Logger) *Loop {
	return &Loop{
		pool:   pool,
		logger: logger,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Pool returns the worker pool used by Schedule.
func (l *Loop) Pool() *Pool {
	return l.pool
}

// Run processes posted callbacks until ctx is canceled. Cancellation stops
// intake from Post, but Run keeps turning until every in-flight task has
// settled and the queue is empty, so no future is left pending.
func (l *Loop) Run(ctx context.Context) error {
	l.mu.Lock()
	if l.state != loopIdle {
		l.mu.Unlock()
		return ErrLoopRunning
	}
	l.state = loopRunning
	l.mu.Unlock()
	defer close(l.done)

	l.logger.Info("bridge loop running")

	turn := &Turn{loop: l}
	ctxDone := ctx.Done()
	for {
		batch := l.swap()
		for i, fn := range batch {
			l.protect(turn, fn)
			batch[i] = nil
		}
		if len(batch) > 0 {
			continue
		}

		if l.finished() {
			l.logger.Info("bridge loop stopped")
			return nil
		}

		select {
		case <-l.wake:
		case <-ctxDone:
			ctxDone = nil
			l.terminate()
		}
	}
}

// Done is closed when Run returns.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// State reports the loop lifecycle state: idle, running, terminating or
// stopped.
func (l *Loop) State() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.String()
}

// InFlight returns the number of tasks submitted to the pool whose completion
// has not yet run on the loop.
func (l *Loop) InFlight() int64 {
	return l.inflight.Load()
}

// Post queues fn to run on the loop goroutine. It is safe for concurrent use
// and returns ErrLoopClosed once the loop is terminating.
func (l *Loop) Post(fn func(*Turn)) error {
	if fn == nil {
		panic("bridge: nil callback")
	}

	l.mu.Lock()
	if l.state == loopTerminating || l.state == loopStopped {
		l.mu.Unlock()
		return ErrLoopClosed
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	l.signal()
	return nil
}

// push queues fn regardless of termination. It is used for completions and
// continuations that belong to work accepted before termination began.
func (l *Loop) push(fn func(*Turn)) {
	l.mu.Lock()
	if l.state == loopStopped {
		l.mu.Unlock()
		l.logger.Error("bridge loop dropped callback after stop")
		return
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	l.signal()
}

// complete posts the loop half of a pool work item.
func (l *Loop) complete(after func(*Turn)) {
	l.push(func(t *Turn) {
		defer l.release()
		after(t)
	})
}

func (l *Loop) acquire() {
	l.inflight.Add(1)
	tasksInFlight.Inc()
}

func (l *Loop) release() {
	l.inflight.Add(-1)
	tasksInFlight.Dec()
}

func (l *Loop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *Loop) swap() []func(*Turn) {
	l.mu.Lock()
	defer l.mu.Unlock()

	batch := l.queue
	l.queue = nil
	return batch
}

func (l *Loop) terminate() {
	l.mu.Lock()
	if l.state == loopRunning {
		l.state = loopTerminating
	}
	l.mu.Unlock()

	l.logger.Info("bridge loop terminating", "in_flight", l.inflight.Load())
}

func (l *Loop) finished() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != loopTerminating || len(l.queue) != 0 || l.inflight.Load() != 0 {
		return false
	}
	l.state = loopStopped
	return true
}

// protect runs one callback; a panicking callback is logged and the loop
// moves on to the next one.
func (l *Loop) protect(t *Turn, fn func(*Turn)) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("bridge loop callback panicked", "panic", describePanic(r))
		}
	}()
	fn(t)
}

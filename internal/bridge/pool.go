package bridge

import (
	"log/slog"
	"runtime"
	"sync"
	"time"
)

// DefaultPoolSize caps the worker count chosen when none is configured.
const DefaultPoolSize = 4

type workItem struct {
	loop       *Loop
	work       func()
	after      func(*Turn)
	enqueuedAt time.Time
}

// Pool is a bounded set of worker goroutines that run blocking work items.
// Its pending queue is unbounded so that Submit never blocks the loop.
type Pool struct {
	size   int
	logger *slog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []workItem
	started bool
	closed  bool
	wg      sync.WaitGroup
}

// NewPool creates a pool with size workers. A non-positive size selects
// GOMAXPROCS, capped at DefaultPoolSize.
func NewPool(size int, logger *slog.Logger) *Pool {
	if size <= 0 {
		size = min(runtime.GOMAXPROCS(0), DefaultPoolSize)
	}
	p := &Pool{
		size:   size,
		logger: logger,
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return p.size
}

// Start launches the workers. Calling Start more than once has no effect.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started || p.closed {
		return
	}
	p.started = true

	p.logger.Info("bridge pool starting", "workers", p.size)
	for i := range p.size {
		p.wg.Add(1)
		go p.worker(i + 1)
	}
}

// Submit queues work to run on a worker goroutine. When work returns, after
// is posted to l and runs on the loop goroutine. after runs exactly once per
// accepted item, even if work panics.
func (p *Pool) Submit(l *Loop, work func(), after func(*Turn)) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPoolClosed
	}

	l.acquire()
	p.queue = append(p.queue, workItem{
		loop:       l,
		work:       work,
		after:      after,
		enqueuedAt: time.Now(),
	})
	poolQueueDepth.Inc()
	p.cond.Signal()
	return nil
}

// Pending returns the number of queued items not yet picked by a worker.
func (p *Pool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Close stops accepting work, lets the workers drain the queue and waits for
// them to exit. Items queued on a pool that was never started run on the
// calling goroutine.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.wg.Wait()
		return
	}
	p.closed = true
	started := p.started
	p.cond.Broadcast()
	p.mu.Unlock()

	if !started {
		for {
			item, ok := p.next()
			if !ok {
				break
			}
			p.exec(0, item)
		}
	}

	p.wg.Wait()
	p.logger.Info("bridge pool stopped")
}

// next blocks until an item is available. It reports false once the pool is
// closed and the queue is empty.
func (p *Pool) next() (workItem, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.queue) == 0 {
		if p.closed {
			return workItem{}, false
		}
		p.cond.Wait()
	}

	item := p.queue[0]
	p.queue[0] = workItem{}
	p.queue = p.queue[1:]
	poolQueueDepth.Dec()
	return item, true
}

func (p *Pool) worker(id int) {
	exited := false
	defer func() {
		if !exited {
			// A work item called runtime.Goexit; keep the pool at full size.
			p.logger.Warn("bridge worker exited abnormally, replacing", "worker", id)
			p.wg.Add(1)
			go p.worker(id)
		}
		p.wg.Done()
	}()

	for {
		item, ok := p.next()
		if !ok {
			exited = true
			return
		}
		p.exec(id, item)
	}
}

// exec runs one item and always hands its completion to the loop.
func (p *Pool) exec(id int, item workItem) {
	defer item.loop.complete(item.after)
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("bridge work item panicked", "worker", id, "panic", describePanic(r))
		}
	}()

	item.work()
}

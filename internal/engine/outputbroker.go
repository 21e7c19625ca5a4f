package engine

import "sync"

// subscriberBufferSize is the channel buffer for each output subscriber.
// Lines are dropped if a subscriber falls this far behind.
const subscriberBufferSize = 64

// OutputBroker fans solver output lines out to per-job subscribers.
// It is safe for concurrent use.
//
// Closed topics are retained as markers, together with the job's final
// status, so that late subscribers receive a closed channel instead of
// blocking forever. Forget drops a marker once the store holds the status.
type OutputBroker struct {
	mu     sync.Mutex
	topics map[string]*outputTopic
}

type outputTopic struct {
	subs   map[int]chan string
	nextID int
	closed bool
	status string
}

// NewOutputBroker creates a new output broker.
func NewOutputBroker() *OutputBroker {
	return &OutputBroker{
		topics: make(map[string]*outputTopic),
	}
}

func (b *OutputBroker) topic(jobID string) *outputTopic {
	t, ok := b.topics[jobID]
	if !ok {
		t = &outputTopic{subs: make(map[int]chan string)}
		b.topics[jobID] = t
	}
	return t
}

// Subscribe returns a channel that receives output lines for the given job
// and an unsubscribe function. If the job has already finished (Close was
// called), the returned channel is immediately closed.
func (b *OutputBroker) Subscribe(jobID string) (<-chan string, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t := b.topic(jobID)
	ch := make(chan string, subscriberBufferSize)
	if t.closed {
		close(ch)
		return ch, func() {}
	}

	id := t.nextID
	t.nextID++
	t.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(t.subs, id)
		if !t.closed && len(t.subs) == 0 && b.topics[jobID] == t {
			delete(b.topics, jobID)
		}
	}
}

// Publish sends an output line to all subscribers of the given job.
// Lines are dropped for subscribers whose buffers are full.
func (b *OutputBroker) Publish(jobID string, line string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[jobID]
	if !ok || t.closed {
		return
	}

	for _, ch := range t.subs {
		select {
		case ch <- line:
		default:
			// Drop line for slow subscribers to avoid blocking the solver.
		}
	}
}

// Close records the job's final status and signals that no more output will
// be published. All subscriber channels are closed and future Subscribe calls
// return a closed channel. Closing twice keeps the first status.
func (b *OutputBroker) Close(jobID, status string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t := b.topic(jobID)
	if t.closed {
		return
	}
	t.closed = true
	t.status = status
	for id, ch := range t.subs {
		close(ch)
		delete(t.subs, id)
	}
}

// Outcome returns the status recorded by Close, and false while the job's
// stream is still open.
func (b *OutputBroker) Outcome(jobID string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[jobID]
	if !ok || !t.closed {
		return "", false
	}
	return t.status, true
}

// Forget drops the job's topic. Subscribers still attached are closed as if
// the stream had ended.
func (b *OutputBroker) Forget(jobID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[jobID]
	if !ok {
		return
	}
	for id, ch := range t.subs {
		close(ch)
		delete(t.subs, id)
	}
	delete(b.topics, jobID)
}

// Len returns the number of topics held, open or closed.
func (b *OutputBroker) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topics)
}

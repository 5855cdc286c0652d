package feed

import (
	"sync"

	"github.com/cumba2321/classsync/internal/remote"
)

type eventType int

const (
	// eventSnapshot carries a remote snapshot from a subscription callback.
	eventSnapshot eventType = iota + 1
	// eventPushResult carries the outcome of one mutation push.
	eventPushResult
)

type event struct {
	typ eventType

	snapshot remote.Snapshot

	mutationID string
	ack        remote.Ack
	err        error
}

// eventQueue is an unbounded FIFO. Subscription callbacks and push
// goroutines enqueue; only the Run loop dequeues.
//
// The signal channel wakes the loop; it is closed by Close so a waiting
// loop returns.
type eventQueue struct {
	mu     sync.Mutex
	events []event
	closed bool
	signal chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		events: make([]event, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue returns false once the queue is closed.
func (q *eventQueue) Enqueue(e event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.events = append(q.events, e)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

func (q *eventQueue) TryDequeue() (event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return event{}, false
	}
	e := q.events[0]
	// Clear the slot so the snapshot it holds can be collected.
	q.events[0] = event{}
	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}
	return e, true
}

// Wait signals that events may be available. A receive that reports !ok
// means the queue was closed.
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}

package progress

import (
	"sync"
	"sync/atomic"
)

// Queue is a bounded FIFO of progress events for one job. When full, the
// oldest pending event is discarded so the newest state always gets
// through and the producer never blocks.
type Queue struct {
	mu      sync.Mutex
	events  chan Event
	closed  bool
	dropped atomic.Int64
}

// NewQueue allocates a queue holding at most size events.
func NewQueue(size int) *Queue {
	if size <= 0 {
		size = 1
	}
	return &Queue{events: make(chan Event, size)}
}

// Push enqueues evt and reports whether it was accepted. Pushes after
// Close are ignored.
func (q *Queue) Push(evt Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	for {
		select {
		case q.events <- evt:
			return true
		default:
		}
		select {
		case <-q.events:
			q.dropped.Add(1)
		default:
		}
	}
}

// Close stops accepting events. Events already queued remain readable.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.events)
	}
}

// Events is drained by the single consumer until Close.
func (q *Queue) Events() <-chan Event {
	return q.events
}

// Dropped reports how many events were superseded.
func (q *Queue) Dropped() int64 {
	return q.dropped.Load()
}

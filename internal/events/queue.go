package events

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrQueueClosed accompanies the terminal set returned once a queue is
	// closed and drained.
	ErrQueueClosed = errors.New("events: queue closed")
	ErrTimeout     = errors.New("events: remove timed out")
)

// Queue is one consumer's FIFO of event sets. Sets keep arrival order.
type Queue struct {
	hub      *Hub
	internal bool

	mu     sync.Mutex
	items  []*Set
	closed bool

	wake     chan struct{}
	done     chan struct{}
	doneOnce sync.Once
}

func newQueue(h *Hub, internal bool) *Queue {
	return &Queue{
		hub:      h,
		internal: internal,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// push appends s and returns the new depth. Closed queues drop it.
func (q *Queue) push(s *Set) int {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return 0
	}
	q.items = append(q.items, s)
	depth := len(q.items)
	q.mu.Unlock()
	q.signal()
	return depth
}

// Depth returns the number of sets not yet removed.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Internal reports whether the queue sees the engine's own view.
func (q *Queue) Internal() bool {
	return q.internal
}

// Remove blocks until a set with at least one event for this queue's side
// is available, the queue is closed and drained, or timeout elapses. A zero
// timeout waits indefinitely. Sets with nothing for this side are consumed
// silently. After close it returns the terminal set and ErrQueueClosed.
func (q *Queue) Remove(timeout time.Duration) (EventSet, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			s := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			more := len(q.items) > 0
			q.mu.Unlock()
			if more {
				q.signal()
			}
			q.hub.depthChanged()

			view := s.view(q.internal)
			if view.Len() > 0 {
				return view, nil
			}
			continue
		}
		if q.closed {
			q.mu.Unlock()
			return EventSet{terminal: true}, ErrQueueClosed
		}
		q.mu.Unlock()

		select {
		case <-q.wake:
		case <-q.done:
		case <-expired:
			return EventSet{}, ErrTimeout
		}
	}
}

// Close stops delivery to q and wakes every waiting consumer. Sets already
// queued are still returned before the terminal set.
func (q *Queue) Close() {
	q.shutdown()
	q.hub.unsubscribe(q)
}

func (q *Queue) shutdown() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.doneOnce.Do(func() { close(q.done) })
}

package session

import (
	"context"
	"sync"
)

// finalQueue is the unbounded path for final utterances. Push never blocks
// and never drops.
type finalQueue struct {
	mu     sync.Mutex
	items  []Utterance
	closed bool
	notify chan struct{}
}

func newFinalQueue() *finalQueue {
	return &finalQueue{notify: make(chan struct{}, 1)}
}

func (q *finalQueue) Push(u Utterance) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, u)
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
	return true
}

// Next blocks until an utterance is available. ok is false once the queue is
// closed and drained or ctx is done.
func (q *finalQueue) Next(ctx context.Context) (Utterance, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			u := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return u, true
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return Utterance{}, false
		}
		select {
		case <-q.notify:
		case <-ctx.Done():
			return Utterance{}, false
		}
	}
}

func (q *finalQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

package session

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	ErrOutboxClosed = errors.New("outbox is closed")
	ErrTakeTimeout  = errors.New("outbox take timed out")
)

// Outbox is the bounded multi-producer single-consumer queue between the
// recognition callbacks and the dispatcher. Push never blocks. When full,
// the oldest queued interim is evicted; an incoming interim is dropped if
// nothing can be evicted. Non-interim messages are always accepted.
type Outbox struct {
	capacity  int
	onDropped func()

	mu     sync.Mutex
	queue  []OutboundMessage
	closed bool
	notify chan struct{}
}

func NewOutbox(capacity int, onDropped func()) *Outbox {
	if capacity < 1 {
		capacity = 1
	}
	if onDropped == nil {
		onDropped = func() {}
	}
	return &Outbox{
		capacity:  capacity,
		onDropped: onDropped,
		queue:     make([]OutboundMessage, 0, capacity),
		notify:    make(chan struct{}, 1),
	}
}

// Push enqueues msg and reports whether it was accepted.
func (o *Outbox) Push(msg OutboundMessage) bool {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return false
	}
	if len(o.queue) >= o.capacity {
		if !o.evictOldestInterimLocked() {
			if msg.IsInterim() {
				o.mu.Unlock()
				o.onDropped()
				return false
			}
		} else {
			defer o.onDropped()
		}
	}
	o.queue = append(o.queue, msg)
	o.mu.Unlock()

	select {
	case o.notify <- struct{}{}:
	default:
	}
	return true
}

func (o *Outbox) evictOldestInterimLocked() bool {
	for i, m := range o.queue {
		if m.IsInterim() {
			o.queue = append(o.queue[:i], o.queue[i+1:]...)
			return true
		}
	}
	return false
}

// Take returns the oldest message, waiting at most wait. It returns
// ErrTakeTimeout when nothing arrived in time and ErrOutboxClosed once the
// outbox is closed and drained.
func (o *Outbox) Take(ctx context.Context, wait time.Duration) (OutboundMessage, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	for {
		o.mu.Lock()
		if len(o.queue) > 0 {
			msg := o.queue[0]
			o.queue[0] = OutboundMessage{}
			o.queue = o.queue[1:]
			o.mu.Unlock()
			return msg, nil
		}
		closed := o.closed
		o.mu.Unlock()
		if closed {
			return OutboundMessage{}, ErrOutboxClosed
		}

		select {
		case <-o.notify:
		case <-timer.C:
			return OutboundMessage{}, ErrTakeTimeout
		case <-ctx.Done():
			return OutboundMessage{}, ctx.Err()
		}
	}
}

// Close rejects further pushes. Queued messages stay available to Take.
func (o *Outbox) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.mu.Unlock()
	select {
	case o.notify <- struct{}{}:
	default:
	}
}

func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.queue)
}

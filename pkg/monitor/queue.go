package monitor

import (
	"context"
	"sync"
)

// eventQueue is an unbounded FIFO between the chromedp listener and the
// event loop. push never blocks: the listener runs on chromedp's reader
// goroutine, and blocking it would stall the responses the loop waits on.
type eventQueue struct {
	mu     sync.Mutex
	items  []interface{}
	closed bool
	notify chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{notify: make(chan struct{}, 1)}
}

// push appends ev and reports false once the queue is closed.
func (q *eventQueue) push(ev interface{}) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, ev)
	q.mu.Unlock()

	q.wake()
	return true
}

// pop blocks until an event is available, the queue is closed or ctx ends.
func (q *eventQueue) pop(ctx context.Context) (interface{}, bool) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, false
		}
		if len(q.items) > 0 {
			ev := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			q.mu.Unlock()
			return ev, true
		}
		q.mu.Unlock()

		select {
		case <-q.notify:
		case <-ctx.Done():
			return nil, false
		}
	}
}

// close drops pending events and releases pop.
func (q *eventQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.items = nil
	q.mu.Unlock()

	q.wake()
}

func (q *eventQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *eventQueue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

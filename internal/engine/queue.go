package engine

import (
	"sync"

	"github.com/roach88/statefold/internal/ir"
)

// feedItem is one delivery from a live feed: either an event or the feed's
// terminal error.
type feedItem struct {
	source int // 0 is the main source, 1..n are externals
	event  ir.Event
	err    error
}

// eventQueue is a thread-safe FIFO queue of feed deliveries.
//
// The queue is unbounded so live feeds never block while the projection is
// still replaying; everything they deliver is held here until Live.
//
// The queue uses a channel for signaling to enable context-aware waiting
// in the fold loop.
type eventQueue struct {
	mu     sync.Mutex
	items  []feedItem
	closed bool
	signal chan struct{} // buffered, size 1
}

// newEventQueue creates an empty event queue.
func newEventQueue() *eventQueue {
	return &eventQueue{
		items:  make([]feedItem, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds an item to the back of the queue.
// Thread-safe: may be called from any goroutine.
// Returns false if the queue is closed.
func (q *eventQueue) Enqueue(item feedItem) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.items = append(q.items, item)

	// Non-blocking: a buffer of 1 coalesces multiple signals
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue attempts to dequeue without blocking.
// Returns (feedItem{}, false) if the queue is empty.
func (q *eventQueue) TryDequeue() (feedItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return feedItem{}, false
	}

	item := q.items[0]

	// Clear the slot so the payload can be collected.
	q.items[0] = feedItem{}

	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}

	return item, true
}

// Wait returns a channel that signals when items may be available.
// Use with select for context-aware waiting:
//
//	select {
//	case <-ctx.Done():
//	    return ctx.Err()
//	case <-q.Wait():
//	    // Try TryDequeue
//	}
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close signals that no more items will be enqueued.
// Wakes any blocked waiters by closing the signal channel.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}

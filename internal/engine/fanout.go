package engine

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// fanout delivers snapshots to subscribers without ever blocking the fold.
//
// Each subscriber has a bounded buffer. When it is full the oldest
// undelivered snapshot is dropped, so a slow subscriber skips intermediate
// states but never receives an older state after a newer one.
type fanout[S any] struct {
	mu      sync.Mutex
	subs    map[uuid.UUID]chan Snapshot[S]
	latest  *Snapshot[S]
	buffer  int
	closed  bool
	done    chan struct{}
	metrics *boundMetrics
}

func newFanout[S any](buffer int, metrics *boundMetrics) *fanout[S] {
	return &fanout[S]{
		subs:    make(map[uuid.UUID]chan Snapshot[S]),
		buffer:  buffer,
		done:    make(chan struct{}),
		metrics: metrics,
	}
}

// subscribe registers a subscriber. The latest snapshot, if any, is
// delivered first.
func (f *fanout[S]) subscribe(ctx context.Context) <-chan Snapshot[S] {
	ch := make(chan Snapshot[S], f.buffer)

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		close(ch)
		return ch
	}
	if f.latest != nil {
		ch <- *f.latest
	}
	id := uuid.New()
	f.subs[id] = ch
	f.mu.Unlock()

	f.metrics.addSubscribers(1)

	go func() {
		select {
		case <-ctx.Done():
			f.unsubscribe(id)
		case <-f.done:
		}
	}()

	return ch
}

func (f *fanout[S]) unsubscribe(id uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch, ok := f.subs[id]
	if !ok {
		return
	}
	delete(f.subs, id)
	close(ch)
	f.metrics.addSubscribers(-1)
}

func (f *fanout[S]) publish(s Snapshot[S]) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	f.latest = &s
	for _, ch := range f.subs {
		offer(ch, s)
	}
}

func (f *fanout[S]) last() (Snapshot[S], bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.latest == nil {
		return Snapshot[S]{}, false
	}
	return *f.latest, true
}

func (f *fanout[S]) close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	f.closed = true
	f.metrics.addSubscribers(-len(f.subs))
	for id, ch := range f.subs {
		close(ch)
		delete(f.subs, id)
	}
	close(f.done)
}

// offer sends v on ch without blocking, dropping the oldest buffered value
// when ch is full. The caller must be the only sender on ch.
func offer[T any](ch chan T, v T) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

package rpc

import "sync"

// inbox is an unbounded FIFO of responses for one request. The read loop
// never blocks on a slow consumer.
type inbox struct {
	mu    sync.Mutex
	items []Response
	ready chan struct{}
}

func newInbox() *inbox {
	return &inbox{ready: make(chan struct{}, 1)}
}

func (b *inbox) put(r Response) {
	b.mu.Lock()
	b.items = append(b.items, r)
	b.mu.Unlock()

	select {
	case b.ready <- struct{}{}:
	default:
	}
}

func (b *inbox) take() (Response, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.items) == 0 {
		return Response{}, false
	}
	r := b.items[0]
	b.items[0] = Response{}
	b.items = b.items[1:]
	return r, true
}

func (b *inbox) pending() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items) > 0
}

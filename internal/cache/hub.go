package cache

import (
	"context"
	"sync"
)

// Hub fans value updates out to per-key observers. Backends without a native
// change feed embed a Hub and call Publish after every successful write.
type Hub struct {
	mu       sync.Mutex
	watchers map[string]map[chan []byte]struct{}
	closed   bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{watchers: make(map[string]map[chan []byte]struct{})}
}

// Watch registers an observer for key. If found is true, initial is
// delivered first. The returned channel closes when ctx is done or the hub
// is closed.
func (h *Hub) Watch(ctx context.Context, key string, initial []byte, found bool) <-chan []byte {
	ch := make(chan []byte, 1)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch
	}
	if found {
		ch <- initial
	}
	if h.watchers[key] == nil {
		h.watchers[key] = make(map[chan []byte]struct{})
	}
	h.watchers[key][ch] = struct{}{}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.unwatch(key, ch)
	}()

	return ch
}

// Publish delivers value to every observer of key.
func (h *Hub) Publish(key string, value []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.watchers[key] {
		Deliver(ch, value)
	}
}

// Close closes every observer channel. Later Watch calls return closed channels.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for key, set := range h.watchers {
		for ch := range set {
			close(ch)
		}
		delete(h.watchers, key)
	}
}

func (h *Hub) unwatch(key string, ch chan []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.watchers[key]
	if !ok {
		return
	}
	if _, ok := set[ch]; !ok {
		return
	}
	delete(set, ch)
	close(ch)
	if len(set) == 0 {
		delete(h.watchers, key)
	}
}

// Deliver sends value on ch without blocking, replacing an undelivered older
// value if the buffer is full. The caller must be the only sender on ch.
func Deliver(ch chan []byte, value []byte) {
	for {
		select {
		case ch <- value:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

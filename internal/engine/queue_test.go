package engine

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/statefold/internal/ir"
)

func item(name string, block uint64) feedItem {
	return feedItem{event: ir.Event{Name: name, BlockNumber: block}}
}

func TestEventQueue_EnqueueDequeue(t *testing.T) {
	q := newEventQueue()

	ok := q.Enqueue(feedItem{source: 2, event: ir.Event{Name: "Add", BlockNumber: 7}})
	require.True(t, ok, "enqueue should succeed")

	got, ok := q.TryDequeue()
	require.True(t, ok, "dequeue should succeed")
	assert.Equal(t, 2, got.source)
	assert.Equal(t, "Add", got.event.Name)
	assert.Equal(t, uint64(7), got.event.BlockNumber)
}

func TestEventQueue_FIFO(t *testing.T) {
	q := newEventQueue()

	for i := uint64(1); i <= 3; i++ {
		q.Enqueue(item("Add", i))
	}

	for i := uint64(1); i <= 3; i++ {
		got, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, i, got.event.BlockNumber)
	}
}

func TestEventQueue_CarriesErrors(t *testing.T) {
	q := newEventQueue()
	boom := errors.New("boom")

	q.Enqueue(feedItem{source: 1, err: boom})

	got, ok := q.TryDequeue()
	require.True(t, ok)
	assert.ErrorIs(t, got.err, boom)
	assert.Equal(t, 1, got.source)
}

func TestEventQueue_TryDequeue_Empty(t *testing.T) {
	q := newEventQueue()

	_, ok := q.TryDequeue()
	assert.False(t, ok, "dequeue from empty queue should return false")
}

func TestEventQueue_WaitSignals(t *testing.T) {
	q := newEventQueue()

	go func() {
		time.Sleep(10 * time.Millisecond)
		q.Enqueue(item("Add", 1))
	}()

	select {
	case <-q.Wait():
	case <-time.After(time.Second):
		t.Fatal("wait did not signal")
	}

	_, ok := q.TryDequeue()
	assert.True(t, ok)
}

func TestEventQueue_Close_UnblocksWait(t *testing.T) {
	q := newEventQueue()
	q.Close()

	select {
	case _, ok := <-q.Wait():
		assert.False(t, ok, "signal channel should be closed")
	case <-time.After(100 * time.Millisecond):
		t.Fatal("wait did not unblock after close")
	}

	// Idempotent.
	q.Close()
}

func TestEventQueue_Enqueue_AfterClose(t *testing.T) {
	q := newEventQueue()
	q.Close()

	ok := q.Enqueue(item("Add", 1))
	assert.False(t, ok, "enqueue after close should return false")
}

func TestEventQueue_Len(t *testing.T) {
	q := newEventQueue()

	assert.Equal(t, 0, q.Len())

	q.Enqueue(item("Add", 1))
	assert.Equal(t, 1, q.Len())

	q.Enqueue(item("Add", 2))
	assert.Equal(t, 2, q.Len())

	q.TryDequeue()
	assert.Equal(t, 1, q.Len())

	q.TryDequeue()
	assert.Equal(t, 0, q.Len())
}

func TestEventQueue_ThreadSafe(t *testing.T) {
	q := newEventQueue()

	const producers = 10
	const eventsPerProducer = 100

	var wg sync.WaitGroup

	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(source int) {
			defer wg.Done()
			for i := 0; i < eventsPerProducer; i++ {
				q.Enqueue(feedItem{source: source, event: ir.Event{BlockNumber: uint64(i)}})
			}
		}(p)
	}

	received := make([]feedItem, 0, producers*eventsPerProducer)
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		for len(received) < producers*eventsPerProducer {
			it, ok := q.TryDequeue()
			if !ok {
				<-q.Wait()
				continue
			}
			received = append(received, it)
		}
	}()

	wg.Wait()

	select {
	case <-consumerDone:
	case <-time.After(5 * time.Second):
		t.Fatal("consumer timeout")
	}

	assert.Len(t, received, producers*eventsPerProducer)

	// Per producer, order is preserved.
	last := make(map[int]int)
	for _, it := range received {
		b := int(it.event.BlockNumber)
		if prev, ok := last[it.source]; ok {
			assert.Greater(t, b, prev)
		}
		last[it.source] = b
	}
}

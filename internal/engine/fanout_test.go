package engine

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counterState struct {
	Counter int `json:"counter"`
}

func snap(seq int64, n int) Snapshot[counterState] {
	return Snapshot[counterState]{Seq: seq, BlockNumber: uint64(seq), State: &counterState{Counter: n}}
}

func TestFanout_NewSubscriberGetsLatestFirst(t *testing.T) {
	f := newFanout[counterState](4, nil)
	f.publish(snap(1, 1))
	f.publish(snap(2, 2))

	ch := f.subscribe(context.Background())
	got := <-ch
	assert.Equal(t, int64(2), got.Seq)
	assert.Equal(t, 2, got.State.Counter)
}

func TestFanout_SlowSubscriberDropsOldest(t *testing.T) {
	f := newFanout[counterState](2, nil)
	ch := f.subscribe(context.Background())

	for i := 1; i <= 5; i++ {
		f.publish(snap(int64(i), i))
	}

	first := <-ch
	second := <-ch
	assert.Equal(t, int64(4), first.Seq)
	assert.Equal(t, int64(5), second.Seq)
}

func TestFanout_OrderNeverRegresses(t *testing.T) {
	f := newFanout[counterState](3, nil)
	ch := f.subscribe(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 1; i <= 1000; i++ {
			f.publish(snap(int64(i), i))
		}
		f.close()
	}()

	var last int64
	for s := range ch {
		assert.Greater(t, s.Seq, last)
		last = s.Seq
	}
	<-done
	assert.Equal(t, int64(1000), last, "subscriber converges on the newest snapshot")
}

func TestFanout_UnsubscribeOnContextDone(t *testing.T) {
	m := NewMetrics("test")
	f := newFanout[counterState](1, m.bind("p"))

	ctx, cancel := context.WithCancel(context.Background())
	ch := f.subscribe(ctx)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.subscribers.WithLabelValues("p")))

	cancel()
	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscriber not closed on cancel")
	}
	assert.Equal(t, 0.0, testutil.ToFloat64(m.subscribers.WithLabelValues("p")))
}

func TestFanout_CloseClosesSubscribers(t *testing.T) {
	m := NewMetrics("test")
	f := newFanout[counterState](1, m.bind("p"))
	a := f.subscribe(context.Background())
	b := f.subscribe(context.Background())

	f.close()
	_, ok := <-a
	assert.False(t, ok)
	_, ok = <-b
	assert.False(t, ok)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.subscribers.WithLabelValues("p")))

	// Publishing and closing again are no-ops.
	f.publish(snap(1, 1))
	f.close()
}

func TestFanout_SubscribeAfterCloseIsClosed(t *testing.T) {
	f := newFanout[counterState](1, nil)
	f.publish(snap(1, 1))
	f.close()

	ch := f.subscribe(context.Background())
	_, ok := <-ch
	assert.False(t, ok)

	latest, ok := f.last()
	require.True(t, ok)
	assert.Equal(t, int64(1), latest.Seq)
}

func TestOffer_NeverBlocks(t *testing.T) {
	ch := make(chan int, 1)
	offer(ch, 1)
	offer(ch, 2)
	assert.Equal(t, 2, <-ch)
}

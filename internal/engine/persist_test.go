package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/statefold/internal/ir"
)

// writeLog is a cache that records writes in order.
type writeLog struct {
	mu      sync.Mutex
	data    map[string][]byte
	writes  []ir.Checkpoint
	failSet error
	written chan struct{}
}

func newWriteLog() *writeLog {
	return &writeLog{
		data:    make(map[string][]byte),
		written: make(chan struct{}, 64),
	}
}

func (w *writeLog) Get(_ context.Context, key string) ([]byte, bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	v, ok := w.data[key]
	return v, ok, nil
}

func (w *writeLog) Set(_ context.Context, key string, value []byte) error {
	w.mu.Lock()
	defer func() {
		w.mu.Unlock()
		w.written <- struct{}{}
	}()
	cp, err := ir.DecodeCheckpoint(value)
	if err != nil {
		return err
	}
	w.writes = append(w.writes, cp)
	if w.failSet != nil {
		return w.failSet
	}
	w.data[key] = value
	return nil
}

func (w *writeLog) Observe(context.Context, string) (<-chan []byte, error) {
	return nil, errors.New("not supported")
}

func (w *writeLog) all() []ir.Checkpoint {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]ir.Checkpoint(nil), w.writes...)
}

func (w *writeLog) wait(t *testing.T) {
	t.Helper()
	select {
	case <-w.written:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for checkpoint write")
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testPersister(c *writeLog, debounce, maxWait time.Duration) *persister {
	return newPersister(c, "state", &options{
		debounce:     debounce,
		maxWait:      maxWait,
		writeTimeout: time.Second,
		logger:       quietLogger(),
	}, nil)
}

func TestPersister_DebounceCoalescesBurst(t *testing.T) {
	c := newWriteLog()
	p := testPersister(c, 100*time.Millisecond, 0)
	defer p.close(false)

	require.NoError(t, p.schedule(1, []byte(`{"n":1}`)))
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, p.schedule(2, []byte(`{"n":2}`)))
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, p.schedule(3, []byte(`{"n":3}`)))

	c.wait(t)
	time.Sleep(150 * time.Millisecond)

	writes := c.all()
	require.Len(t, writes, 1, "one write per burst")
	assert.Equal(t, uint64(3), writes[0].BlockNumber)
	assert.JSONEq(t, `{"n":3}`, string(writes[0].State))
}

func TestPersister_ZeroDebounceWritesImmediately(t *testing.T) {
	c := newWriteLog()
	p := testPersister(c, 0, 0)
	defer p.close(false)

	require.NoError(t, p.schedule(7, []byte(`1`)))
	c.wait(t)

	writes := c.all()
	require.Len(t, writes, 1)
	assert.Equal(t, uint64(7), writes[0].BlockNumber)
}

func TestPersister_MaxWaitBoundsBurst(t *testing.T) {
	c := newWriteLog()
	p := testPersister(c, 200*time.Millisecond, 100*time.Millisecond)
	defer p.close(false)

	start := time.Now()
	stop := time.After(400 * time.Millisecond)
	block := uint64(0)

loop:
	for {
		select {
		case <-stop:
			break loop
		case <-time.After(20 * time.Millisecond):
			block++
			require.NoError(t, p.schedule(block, []byte(`1`)))
		}
	}

	writes := c.all()
	require.NotEmpty(t, writes, "a continuous burst must still be written within maxWait")
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestPersister_SkipsOlderThanLastWritten(t *testing.T) {
	c := newWriteLog()
	p := testPersister(c, 0, 0)
	defer p.close(false)

	require.NoError(t, p.schedule(5, []byte(`5`)))
	c.wait(t)

	require.NoError(t, p.schedule(4, []byte(`4`)))
	require.NoError(t, p.schedule(5, []byte(`5`)))
	c.wait(t)

	for _, w := range c.all() {
		assert.GreaterOrEqual(t, w.BlockNumber, uint64(5))
	}
}

func TestPersister_CloseFlushesPending(t *testing.T) {
	c := newWriteLog()
	p := testPersister(c, time.Hour, 0)

	require.NoError(t, p.schedule(9, []byte(`{"n":9}`)))
	p.close(true)

	writes := c.all()
	require.Len(t, writes, 1)
	assert.Equal(t, uint64(9), writes[0].BlockNumber)

	// Idempotent.
	p.close(true)
	assert.Len(t, c.all(), 1)
}

func TestPersister_CloseWithoutFlushDiscards(t *testing.T) {
	c := newWriteLog()
	p := testPersister(c, time.Hour, 0)

	require.NoError(t, p.schedule(9, []byte(`1`)))
	p.close(false)

	assert.Empty(t, c.all())
}

func TestPersister_WriteFailureIsNotRetried(t *testing.T) {
	c := newWriteLog()
	c.failSet = errors.New("disk full")
	p := testPersister(c, 0, 0)

	require.NoError(t, p.schedule(1, []byte(`1`)))
	c.wait(t)
	p.close(true)

	assert.Len(t, c.all(), 1, "a failed write is dropped, not retried")
}

func TestPersister_PendingHoldsEncodedBytes(t *testing.T) {
	c := newWriteLog()
	p := testPersister(c, time.Hour, 0)

	state := []byte(`{"n":1}`)
	require.NoError(t, p.schedule(1, state))
	copy(state, []byte(`{"n":2}`))
	p.close(true)

	writes := c.all()
	require.Len(t, writes, 1)
	assert.JSONEq(t, `{"n":1}`, string(writes[0].State))
}

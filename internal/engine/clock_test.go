package engine

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClock_StampsFromOne(t *testing.T) {
	c := NewClock()
	assert.Equal(t, int64(0), c.Current())

	assert.Equal(t, int64(1), c.Next())
	assert.Equal(t, int64(2), c.Next())
	assert.Equal(t, int64(2), c.Current(), "Current must not advance the clock")
}

func TestClock_ConcurrentStampsAreDistinct(t *testing.T) {
	c := NewClock()
	const workers, perWorker = 16, 250

	var (
		mu   sync.Mutex
		seen = make(map[int64]struct{}, workers*perWorker)
		wg   sync.WaitGroup
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perWorker {
				stamp := c.Next()
				mu.Lock()
				seen[stamp] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, workers*perWorker)
	assert.Equal(t, int64(workers*perWorker), c.Current())
}

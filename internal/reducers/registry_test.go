package reducers

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/statefold/internal/engine"
	"github.com/roach88/statefold/internal/ir"
	"github.com/roach88/statefold/internal/testutil"
)

func TestLookup(t *testing.T) {
	d, err := Lookup("counter")
	require.NoError(t, err)
	assert.Equal(t, "counter", d.Name)

	_, err = Lookup("nope")
	assert.ErrorIs(t, err, ErrUnknownReducer)
	assert.Contains(t, err.Error(), "counter, tally")
}

func TestNames(t *testing.T) {
	assert.Equal(t, []string{"counter", "tally"}, Names())
}

func TestDefinition_Fold(t *testing.T) {
	d, err := Lookup("counter")
	require.NoError(t, err)

	events := []ir.Event{
		testutil.Event("Add", 10, 2, 0),
		testutil.Event("Add", 2, 1, 0),
		testutil.Event("Add", 2, 1, 0),
	}

	state, err := d.Fold(nil, events)
	require.NoError(t, err)

	var c Counter
	require.NoError(t, json.Unmarshal(state, &c))
	assert.Equal(t, int64(12), c.Counter)
	assert.Len(t, c.ActionHistory, 2)

	resumed, err := d.Fold(json.RawMessage(`{"counter":5,"actionHistory":[]}`), events[:1])
	require.NoError(t, err)
	assert.JSONEq(t, `{"counter":15,"actionHistory":[{"event":"Add","payload":10}]}`, string(resumed))
}

func TestDefinition_FoldError(t *testing.T) {
	d, err := Lookup("counter")
	require.NoError(t, err)

	_, err = d.Fold(nil, []ir.Event{testutil.Event("Add", "x", 1, 0)})
	assert.True(t, engine.IsReducerError(err))
}

func TestDefinition_Open(t *testing.T) {
	d, err := Lookup("counter")
	require.NoError(t, err)

	src := testutil.NewSource(3, testutil.Event("Add", 4, 2, 0))
	c := testutil.NewCache()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	v, err := d.Open(ctx, engine.Deps{Cache: c, Events: src, Height: src}, engine.WithDebounce(0))
	require.NoError(t, err)
	defer v.Close()

	require.NoError(t, v.WaitLive(ctx))
	assert.Equal(t, engine.PhaseLive, v.Phase())

	latest, ok := v.Latest()
	require.True(t, ok)
	assert.Equal(t, uint64(3), latest.BlockNumber)
	assert.JSONEq(t, `{"counter":4,"actionHistory":[{"event":"Add","payload":4}]}`, string(latest.State))

	sub := v.Subscribe(ctx)
	first := <-sub
	assert.Equal(t, latest.Seq, first.Seq)

	require.NoError(t, src.WaitSubscribed(ctx, 1))
	src.Push(testutil.Event("Subtract", 1, 4, 0))

	select {
	case snap := <-sub:
		assert.Equal(t, uint64(4), snap.BlockNumber)
		assert.Contains(t, string(snap.State), `"counter":3`)
	case <-ctx.Done():
		t.Fatal("timed out waiting for snapshot")
	}

	require.NoError(t, v.Close())
	assert.NoError(t, v.Err())
	<-v.Done()
}

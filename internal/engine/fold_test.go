package engine

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/statefold/internal/ir"
)

func addReducer(state *counterState, ev ir.Event) (*counterState, error) {
	if state == nil {
		state = &counterState{}
	}
	var n int
	if err := json.Unmarshal(ev.Payload, &n); err != nil {
		return nil, err
	}
	state.Counter += n
	return state, nil
}

func addEvent(n int, block, logIndex uint64) ir.Event {
	return ir.Event{
		Name:            "Add",
		Payload:         json.RawMessage(fmtInt(n)),
		BlockNumber:     block,
		LogIndex:        logIndex,
		TransactionHash: "0x1",
	}
}

func fmtInt(n int) string {
	data, _ := json.Marshal(n)
	return string(data)
}

func TestFold_SortsAndDeduplicates(t *testing.T) {
	events := []ir.Event{
		addEvent(10, 2, 0),
		addEvent(1, 1, 0),
		addEvent(1, 1, 0),
		addEvent(100, 1, 1),
	}

	s, err := Fold[counterState](nil, events, addReducer)
	require.NoError(t, err)
	assert.Equal(t, 111, s.Counter)
}

func TestFold_OrderIndependentOfInput(t *testing.T) {
	var history []int
	record := func(state *counterState, ev ir.Event) (*counterState, error) {
		history = append(history, int(ev.BlockNumber))
		return addReducer(state, ev)
	}

	_, err := Fold[counterState](nil, []ir.Event{addEvent(1, 3, 0), addEvent(1, 1, 0), addEvent(1, 2, 0)}, record)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, history)
}

func TestFold_StopsAtReducerError(t *testing.T) {
	calls := 0
	failing := func(state *counterState, ev ir.Event) (*counterState, error) {
		calls++
		if ev.BlockNumber == 2 {
			return nil, errors.New("boom")
		}
		return addReducer(state, ev)
	}

	s, err := Fold[counterState](nil, []ir.Event{addEvent(1, 1, 0), addEvent(1, 2, 0), addEvent(1, 3, 0)}, failing)
	require.Error(t, err)
	assert.True(t, IsReducerError(err))
	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, s.Counter, "the last good state is returned")
}

func TestApplyReducer_PanicAndNil(t *testing.T) {
	panicky := func(*counterState, ir.Event) (*counterState, error) {
		panic("kaboom")
	}
	_, err := applyReducer[counterState](panicky, nil, addEvent(1, 1, 0))
	require.Error(t, err)
	assert.True(t, IsReducerError(err))
	assert.Contains(t, err.Error(), "kaboom")

	nilResult := func(*counterState, ir.Event) (*counterState, error) {
		return nil, nil
	}
	_, err = applyReducer[counterState](nilResult, nil, addEvent(1, 1, 0))
	require.Error(t, err)
	assert.True(t, IsInvalidStateError(err))
	assert.ErrorIs(t, err, ErrInvalidState)
}

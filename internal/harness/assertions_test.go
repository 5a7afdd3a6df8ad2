package harness

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func block(n uint64) *uint64 { return &n }

// sampleResult is a cold start followed by two live folds and a checkpoint.
func sampleResult() *Result {
	r := NewResult()
	r.AddFetch(0, 10)
	r.AddSnapshot(1, 11, json.RawMessage(`{"counter":2,"actionHistory":[{"event":"Add","payload":2}]}`))
	r.AddSnapshot(2, 12, json.RawMessage(`{"counter":5,"actionHistory":[{"event":"Add","payload":2},{"event":"Add","payload":3}]}`))
	r.AddCheckpoint(12, json.RawMessage(`{"counter":5,"actionHistory":[{"event":"Add","payload":2},{"event":"Add","payload":3}]}`))
	return r
}

func TestAssertFinalState(t *testing.T) {
	r := sampleResult()

	assert.NoError(t, assertFinalState(r, Assertion{Expect: map[string]any{"counter": 5}}))
	assert.NoError(t, assertFinalState(r, Assertion{Expect: map[string]any{"counter": 5.0}}))

	err := assertFinalState(r, Assertion{Expect: map[string]any{"counter": 2}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `field "counter" = 5, want 2`)

	err = assertFinalState(r, Assertion{Expect: map[string]any{"total": 5}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `field "total" missing`)

	err = assertFinalState(NewResult(), Assertion{Expect: map[string]any{"counter": 5}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no snapshots in trace")
}

func TestAssertFinalState_NestedValues(t *testing.T) {
	r := sampleResult()

	history := []any{
		map[string]any{"event": "Add", "payload": 2},
		map[string]any{"payload": 3, "event": "Add"},
	}
	assert.NoError(t, assertFinalState(r, Assertion{Expect: map[string]any{"actionHistory": history}}))

	err := assertFinalState(r, Assertion{Expect: map[string]any{"actionHistory": history[:1]}})
	assert.Error(t, err)
}

func TestAssertCheckpoint(t *testing.T) {
	r := sampleResult()

	assert.NoError(t, assertCheckpoint(r, Assertion{Block: block(12)}))
	assert.NoError(t, assertCheckpoint(r, Assertion{Block: block(12), Expect: map[string]any{"counter": 5}}))

	err := assertCheckpoint(r, Assertion{Block: block(11)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checkpoint at block 11")

	err = assertCheckpoint(NewResult(), Assertion{Block: block(12)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no checkpoint written")
}

func TestAssertTraceContains(t *testing.T) {
	r := sampleResult()

	assert.NoError(t, assertTraceContains(r, Assertion{Event: EventFetch}))
	assert.NoError(t, assertTraceContains(r, Assertion{Event: EventSnapshot, Block: block(11)}))
	assert.NoError(t, assertTraceContains(r, Assertion{
		Event:  EventSnapshot,
		Expect: map[string]any{"counter": 2},
	}))

	err := assertTraceContains(r, Assertion{Event: EventSnapshot, Block: block(11), Expect: map[string]any{"counter": 5}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "snapshot at block 11 with counter=5")

	assert.Error(t, assertTraceContains(r, Assertion{Event: EventFailure}))
}

func TestAssertTraceCount(t *testing.T) {
	r := sampleResult()

	assert.NoError(t, assertTraceCount(r, Assertion{Event: EventSnapshot, Count: 2}))
	assert.NoError(t, assertTraceCount(r, Assertion{Event: EventFailure, Count: 0}))

	err := assertTraceCount(r, Assertion{Event: EventCheckpoint, Count: 2})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Expected: 2 checkpoint events")
	assert.Contains(t, err.Error(), "Actual: 1 events")
}

func TestAssertFailure(t *testing.T) {
	r := sampleResult()

	err := assertFailure(r, Assertion{Code: "REDUCER_FAILED"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "projection did not fail")
	assert.NoError(t, assertClean(r))

	r.AddFailure("OUT_OF_ORDER", 9)
	assert.NoError(t, assertFailure(r, Assertion{Code: "OUT_OF_ORDER"}))
	assert.Error(t, assertFailure(r, Assertion{Code: "REDUCER_FAILED"}))

	err = assertClean(r)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failure OUT_OF_ORDER at block 9")
}

func TestAssertMonotonic(t *testing.T) {
	assert.NoError(t, assertMonotonic(sampleResult()))

	r := sampleResult()
	r.AddSnapshot(3, 11, json.RawMessage(`{}`))
	err := assertMonotonic(r)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "#3 at 11 after #2 at 12")

	r = sampleResult()
	r.AddSnapshot(2, 13, json.RawMessage(`{}`))
	assert.Error(t, assertMonotonic(r))
}

func TestEvaluateAssertions_AllPass(t *testing.T) {
	errs := EvaluateAssertions(sampleResult(), []Assertion{
		{Type: AssertFinalState, Expect: map[string]any{"counter": 5}},
		{Type: AssertCheckpoint, Block: block(12)},
		{Type: AssertTraceContains, Event: EventFetch},
		{Type: AssertTraceCount, Event: EventSnapshot, Count: 2},
		{Type: AssertClean},
		{Type: AssertMonotonic},
	})
	assert.Empty(t, errs)
}

func TestEvaluateAssertions_SomeFail(t *testing.T) {
	errs := EvaluateAssertions(sampleResult(), []Assertion{
		{Type: AssertFinalState, Expect: map[string]any{"counter": 5}},
		{Type: AssertFailure, Code: "FEED_FAILED"},
		{Type: AssertTraceCount, Event: EventSnapshot, Count: 3},
	})
	assert.Len(t, errs, 2)
}

func TestEvaluateAssertions_UnknownType(t *testing.T) {
	errs := EvaluateAssertions(sampleResult(), []Assertion{{Type: "trace_order"}})
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], `unknown assertion type "trace_order"`)
}

func TestAssertionError_ErrorFormat(t *testing.T) {
	err := &AssertionError{
		Type:     AssertTraceCount,
		Expected: "2 checkpoint events",
		Actual:   "1 events",
		Trace:    sampleResult().Trace,
	}

	msg := err.Error()
	assert.Contains(t, msg, "Assertion failed: trace_count")
	assert.Contains(t, msg, "Expected: 2 checkpoint events")
	assert.Contains(t, msg, "Full trace:")
	assert.Contains(t, msg, "[1] fetch [0 10]")
	assert.Contains(t, msg, "[2] snapshot #1 at 11")
}

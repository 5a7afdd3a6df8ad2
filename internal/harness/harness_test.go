package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/statefold/internal/engine"
)

func loadTestScenario(t *testing.T, name string) *Scenario {
	t.Helper()
	scenario, err := LoadScenario(filepath.Join("testdata", "scenarios", name+".yaml"))
	require.NoError(t, err)
	return scenario
}

func TestRun_Scenarios(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)

	for _, path := range paths {
		scenario, err := LoadScenario(path)
		require.NoError(t, err)

		t.Run(scenario.Name, func(t *testing.T) {
			result, err := Run(scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestRun_ColdStartTrace(t *testing.T) {
	result, err := Run(loadTestScenario(t, "cold_start"))
	require.NoError(t, err)
	require.True(t, result.Pass, "errors: %v", result.Errors)

	require.Len(t, result.Trace, 4)
	assert.Equal(t, EventFetch, result.Trace[0].Type)
	assert.Equal(t, []uint64{0, 4385398}, result.Trace[0].Range)
	assert.Equal(t, int64(1), result.Trace[1].Seq)
	assert.Equal(t, uint64(4385399), result.Trace[1].Block)
	assert.Equal(t, int64(2), result.Trace[2].Seq)
	assert.Equal(t, EventCheckpoint, result.Trace[3].Type)
	assert.Equal(t, uint64(4385400), result.Trace[3].Block)
}

func TestRun_FailedAssertion(t *testing.T) {
	scenario := loadTestScenario(t, "cold_start")
	scenario.Assertions = []Assertion{
		{Type: AssertFinalState, Expect: map[string]any{"counter": 13}},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], `field "counter" = 12, want 13`)
}

func TestRun_UnexpectedFailure(t *testing.T) {
	scenario := &Scenario{
		Name:    "unexpected",
		Reducer: "counter",
		Head:    5,
		Flow: []FlowStep{
			{Push: &EventSpec{Event: "Add", Payload: "nope", Block: 6}},
		},
		Assertions: []Assertion{{Type: AssertClean}},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)

	failure, ok := result.last(EventFailure)
	require.True(t, ok)
	assert.Equal(t, string(engine.ErrCodeReducerFailed), failure.Code)
	assert.Equal(t, uint64(6), failure.Block)
}

func TestRun_ExpectedFailureThatNeverHappens(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for the step timeout")
	}
	scenario := &Scenario{
		Name:    "never_fails",
		Reducer: "counter",
		Head:    5,
		Flow: []FlowStep{
			{Push: &EventSpec{Event: "Add", Payload: 1, Block: 6}, Expect: ExpectFail},
		},
		Assertions: []Assertion{{Type: AssertClean}},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Contains(t, result.Errors[0], "expected the projection to fail")
}

func TestRun_BootstrapFailure(t *testing.T) {
	scenario := &Scenario{
		Name:    "bad_past",
		Reducer: "counter",
		Head:    5,
		Past: []EventSpec{
			{Event: "Subtract", Payload: []int{1}, Block: 2},
		},
		Flow:       []FlowStep{{Close: true}},
		Assertions: []Assertion{{Type: AssertFailure, Code: "REDUCER_FAILED"}},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, EventFetch, result.Trace[0].Type)
	assert.Len(t, result.Trace, 2)
}

func TestRun_UnknownReducer(t *testing.T) {
	_, err := Run(&Scenario{Name: "x", Reducer: "ledger"})
	require.Error(t, err)
}

func TestRun_Deterministic(t *testing.T) {
	first, err := Run(loadTestScenario(t, "replay_with_externals"))
	require.NoError(t, err)
	second, err := Run(loadTestScenario(t, "replay_with_externals"))
	require.NoError(t, err)

	a, err := TraceSnapshot{Scenario: "x", Trace: first.Trace}.Marshal()
	require.NoError(t, err)
	b, err := TraceSnapshot{Scenario: "x", Trace: second.Trace}.Marshal()
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

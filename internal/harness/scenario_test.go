package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadScenario_ValidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.yaml")
	content := `
name: test_scenario
description: "Test scenario for validation"
reducer: counter
head: 10
checkpoint:
  blockNumber: 4
  state: {counter: 1, actionHistory: []}
past:
  - {event: Add, payload: 2, block: 6, log_index: 1}
flow:
  - push: {event: Add, payload: "3", block: 11, tx: "0xabc"}
assertions:
  - type: final_state
    expect:
      counter: 6
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	scenario, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "test_scenario", scenario.Name)
	assert.Equal(t, "counter", scenario.Reducer)
	assert.Equal(t, uint64(10), scenario.Head)
	require.NotNil(t, scenario.Checkpoint)
	assert.Equal(t, uint64(4), scenario.Checkpoint.BlockNumber)
	require.Len(t, scenario.Past, 1)
	assert.Equal(t, uint64(1), scenario.Past[0].LogIndex)
	require.Len(t, scenario.Flow, 1)
	assert.Equal(t, "0xabc", scenario.Flow[0].Push.Tx)
	assert.Equal(t, ExpectApply, scenario.Flow[0].outcome())
	assert.Equal(t, 6, scenario.Assertions[0].Expect["counter"])
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario("/nonexistent/scenario.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_Testdata(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			_, err := LoadScenario(path)
			require.NoError(t, err)
		})
	}
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name: "unknown field",
			content: `
name: s
description: d
reducer: counter
flow: [{push: {event: Add, payload: 1, block: 1}}]
assertion: []
`,
			wantErr: "field assertion not found",
		},
		{
			name: "missing name",
			content: `
description: d
reducer: counter
flow: [{push: {event: Add, payload: 1, block: 1}}]
assertions: [{type: clean}]
`,
			wantErr: "name is required",
		},
		{
			name: "unknown reducer",
			content: `
name: s
description: d
reducer: ledger
flow: [{push: {event: Add, payload: 1, block: 1}}]
assertions: [{type: clean}]
`,
			wantErr: "unknown reducer",
		},
		{
			name: "empty flow",
			content: `
name: s
description: d
reducer: counter
flow: []
assertions: [{type: clean}]
`,
			wantErr: "flow list is required",
		},
		{
			name: "two actions in one step",
			content: `
name: s
description: d
reducer: counter
flow: [{push: {event: Add, payload: 1, block: 1}, close: true}]
assertions: [{type: clean}]
`,
			wantErr: "exactly one of push, fail and close",
		},
		{
			name: "missing external",
			content: `
name: s
description: d
reducer: counter
flow: [{push: {event: Add, payload: 1, block: 1}, source: 1}]
assertions: [{type: clean}]
`,
			wantErr: "source 1 does not exist",
		},
		{
			name: "close expecting apply",
			content: `
name: s
description: d
reducer: counter
flow: [{close: true, expect: apply}]
assertions: [{type: clean}]
`,
			wantErr: "can only expect fail",
		},
		{
			name: "failure without code",
			content: `
name: s
description: d
reducer: counter
flow: [{fail: boom}]
assertions: [{type: failure}]
`,
			wantErr: "code is required for failure",
		},
		{
			name: "unknown assertion",
			content: `
name: s
description: d
reducer: counter
flow: [{fail: boom}]
assertions: [{type: trace_order}]
`,
			wantErr: `unknown assertion type "trace_order"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestFlowStep_Outcome(t *testing.T) {
	push := &EventSpec{Event: "Add", Block: 1}

	assert.Equal(t, ExpectApply, FlowStep{Push: push}.outcome())
	assert.Equal(t, ExpectSkip, FlowStep{Push: push, Expect: ExpectSkip}.outcome())
	assert.Equal(t, ExpectFail, FlowStep{Fail: "boom"}.outcome())
	assert.Equal(t, ExpectFail, FlowStep{Close: true}.outcome())
}

func TestEventSpec_ToEvent(t *testing.T) {
	ev := EventSpec{Event: "Add", Payload: 2, Block: 7, LogIndex: 3}.toEvent()
	assert.Equal(t, "Add", ev.Name)
	assert.JSONEq(t, `2`, string(ev.Payload))
	assert.Equal(t, uint64(7), ev.BlockNumber)
	assert.Equal(t, uint64(3), ev.LogIndex)
	assert.Equal(t, "0x70003", ev.TransactionHash)

	ev = EventSpec{Event: "Add", Payload: 2, Block: 7, Tx: "0xfeed"}.toEvent()
	assert.Equal(t, "0xfeed", ev.TransactionHash)
}

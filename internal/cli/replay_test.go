package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/statefold/internal/store"
)

func TestReplayMissingDatabaseFlag(t *testing.T) {
	_, err := execute(t, NewReplayCommand(&RootOptions{Format: "text"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
}

func TestReplayEmptyDatabase(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "chain.db")
	st, err := store.Open(dbPath)
	require.NoError(t, err)
	st.Close()

	out, err := execute(t, NewReplayCommand(&RootOptions{Format: "text"}), "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Replay Summary: 0 event(s)")
	assert.Contains(t, out, "✓ Replay verified idempotent")
}

func TestReplayIdempotent(t *testing.T) {
	dbPath := chainDB(t, "1", "2", `"3"`, "4", "5")

	out, err := execute(t, NewReplayCommand(&RootOptions{Format: "json"}), "--db", dbPath)
	require.NoError(t, err)

	var resp struct {
		Status string       `json:"status"`
		Data   ReplayResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Idempotent)
	assert.Equal(t, 5, resp.Data.Events)
	assert.Equal(t, uint64(5), resp.Data.Head)
	assert.Equal(t, uint64(2), resp.Data.CheckpointBlock)

	require.Len(t, resp.Data.Runs, 3)
	for _, run := range resp.Data.Runs {
		var state struct {
			Counter int `json:"counter"`
		}
		require.NoError(t, json.Unmarshal(run.State, &state), run.Name)
		assert.Equal(t, 15, state.Counter, run.Name)
		assert.Equal(t, resp.Data.Runs[0].Digest, run.Digest, run.Name)
	}
}

func TestReplayAt(t *testing.T) {
	dbPath := chainDB(t, "1", "2", "3")

	out, err := execute(t, NewReplayCommand(&RootOptions{Format: "text", Verbose: true}),
		"--db", dbPath, "--reducer", "tally", "--at", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "Reducer: tally, resumed at block 3")
	assert.Contains(t, out, `"total":3`)
}

func TestReplayReducerFailure(t *testing.T) {
	dbPath := chainDB(t, "1", `"x"`)

	_, err := execute(t, NewReplayCommand(&RootOptions{Format: "text"}), "--db", dbPath)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "fold from genesis failed")
}

func TestReplayUnknownReducer(t *testing.T) {
	dbPath := chainDB(t, "1")

	_, err := execute(t, NewReplayCommand(&RootOptions{Format: "text"}), "--db", dbPath, "--reducer", "ledger")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/statefold/internal/cache"
	"github.com/roach88/statefold/internal/engine"
	"github.com/roach88/statefold/internal/ir"
	"github.com/roach88/statefold/internal/reducers"
	"github.com/roach88/statefold/internal/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database string
	Reducer  string
	Address  string
	At       int64 // checkpoint block for the resumed fold, -1 for the middle of the log
}

// ReplayRun is one way of arriving at the final state.
type ReplayRun struct {
	Name   string          `json:"name"`
	Digest string          `json:"digest"`
	State  json.RawMessage `json:"state"`
}

// ReplayResult holds the outcome of the replay check.
type ReplayResult struct {
	Reducer         string      `json:"reducer"`
	Head            uint64      `json:"head"`
	Events          int         `json:"events"`
	FirstBlock      uint64      `json:"first_block"`
	LastBlock       uint64      `json:"last_block"`
	Addresses       []string    `json:"addresses"`
	CheckpointBlock uint64      `json:"checkpoint_block"`
	Runs            []ReplayRun `json:"runs"`
	Idempotent      bool        `json:"idempotent"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay the event log and verify idempotence",
		Long: `Fold the whole event log with a reducer in three ways and compare the results:

  genesis      every event from block 0
  resumed      a projection started from a checkpoint in the middle of the log
  redelivered  every event delivered twice

All three must produce the same state for the reducer to be safe to resume
from checkpoints and to receive overlapping batches.

Exit codes:
  0 - All runs agree
  1 - The runs disagree
  2 - Command error (database not found, unknown reducer, etc.)

Examples:
  statefold replay --db chain.db --reducer counter
  statefold replay --db chain.db --reducer tally --at 120
  statefold replay --db chain.db --reducer counter --address 0xapp --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Reducer, "reducer", "counter", "reducer to fold with")
	cmd.Flags().StringVar(&opts.Address, "address", "", "only fold events of this contract")
	cmd.Flags().Int64Var(&opts.At, "at", -1, "checkpoint block for the resumed run (default: middle of the log)")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	def, err := reducers.Lookup(opts.Reducer)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load reducer", err)
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	formatter := newFormatter(opts.RootOptions, cmd)

	summary, err := st.Summary(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read event log", err)
	}
	events, err := st.ReadRange(ctx, 0, summary.Head, opts.Address)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read event log", err)
	}

	at := summary.Head / 2
	if opts.At >= 0 {
		at = uint64(opts.At)
	}
	formatter.VerboseLog("Folding %d event(s) up to block %d, resuming at %d", len(events), summary.Head, at)

	result := ReplayResult{
		Reducer:         def.Name,
		Head:            summary.Head,
		Events:          len(events),
		FirstBlock:      summary.FirstBlock,
		LastBlock:       summary.LastBlock,
		Addresses:       summary.Addresses,
		CheckpointBlock: at,
	}

	genesis, err := def.Fold(nil, events)
	if err != nil {
		return WrapExitError(ExitFailure, "fold from genesis failed", err)
	}
	resumed, err := resumeFrom(ctx, def, st, opts.Address, at, events, formatter.GetErrWriter(), opts.Verbose)
	if err != nil {
		return WrapExitError(ExitFailure, "resumed fold failed", err)
	}
	redelivered, err := def.Fold(nil, append(append([]ir.Event{}, events...), events...))
	if err != nil {
		return WrapExitError(ExitFailure, "redelivered fold failed", err)
	}

	result.Idempotent = true
	for _, run := range []struct {
		name  string
		state json.RawMessage
	}{
		{"genesis", genesis},
		{"resumed", resumed},
		{"redelivered", redelivered},
	} {
		digest, err := ir.StateDigest(run.state)
		if err != nil {
			return WrapExitError(ExitFailure, fmt.Sprintf("%s state is not valid JSON", run.name), err)
		}
		result.Runs = append(result.Runs, ReplayRun{Name: run.name, Digest: digest, State: run.state})
		if digest != result.Runs[0].Digest {
			result.Idempotent = false
		}
	}

	if opts.Format == "json" {
		return outputReplayJSON(cmd, result)
	}
	return outputReplayText(cmd, result, opts.Verbose)
}

// resumeFrom folds the events up to block at into a checkpoint, then opens a
// projection over the log from that checkpoint and returns the state it
// reaches after replay.
func resumeFrom(ctx context.Context, def reducers.Definition, st *store.Store, address string, at uint64, events []ir.Event, logOut io.Writer, verbose bool) (json.RawMessage, error) {
	var prefix []ir.Event
	for _, ev := range events {
		if ev.BlockNumber <= at {
			prefix = append(prefix, ev)
		}
	}
	state, err := def.Fold(nil, prefix)
	if err != nil {
		return nil, fmt.Errorf("fold to checkpoint: %w", err)
	}
	data, err := ir.EncodeCheckpoint(ir.Checkpoint{State: state, BlockNumber: at})
	if err != nil {
		return nil, err
	}

	mem := cache.NewMemory()
	defer mem.Close()
	if err := mem.Set(ctx, engine.DefaultCacheKey, data); err != nil {
		return nil, err
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if verbose {
		logger = newLogger(logOut, true, "debug", "text")
	}

	src := st.Source(store.WithAddress(address))
	view, err := def.Open(ctx, engine.Deps{Cache: mem, Events: src, Height: src},
		engine.WithName("replay"),
		engine.WithLogger(logger),
		engine.WithDebounce(time.Hour),
	)
	if err != nil {
		return nil, err
	}
	defer view.Close()

	if err := view.WaitLive(ctx); err != nil {
		return nil, err
	}
	snap, ok := view.Latest()
	if !ok {
		return json.RawMessage("null"), nil
	}
	return snap.State, nil
}

// outputReplayJSON outputs the replay result as JSON.
func outputReplayJSON(cmd *cobra.Command, result ReplayResult) error {
	response := CLIResponse{
		Status: "ok",
		Data:   result,
	}

	if !result.Idempotent {
		response.Status = "error"
		response.Error = &CLIError{
			Code:    ErrCodeMismatch,
			Message: "replay runs disagree",
		}
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(response); err != nil {
		return err
	}

	if !result.Idempotent {
		return NewExitError(ExitFailure, "replay runs disagree")
	}
	return nil
}

// outputReplayText outputs the replay result as text.
func outputReplayText(cmd *cobra.Command, result ReplayResult, verbose bool) error {
	w := cmd.OutOrStdout()

	fmt.Fprintf(w, "Replay Summary: %d event(s), blocks %d-%d, head %d\n",
		result.Events, result.FirstBlock, result.LastBlock, result.Head)
	fmt.Fprintf(w, "Reducer: %s, resumed at block %d\n", result.Reducer, result.CheckpointBlock)
	fmt.Fprintln(w)

	for _, run := range result.Runs {
		status := "✓"
		if run.Digest != result.Runs[0].Digest {
			status = "✗"
		}
		fmt.Fprintf(w, "%s %-12s %s\n", status, run.Name, run.Digest[:16])
		if verbose {
			fmt.Fprintf(w, "  State: %s\n", run.State)
		}
	}
	fmt.Fprintln(w)

	if result.Idempotent {
		fmt.Fprintln(w, "✓ Replay verified idempotent")
		return nil
	}

	fmt.Fprintln(w, "✗ Replay runs disagree")
	return NewExitError(ExitFailure, "replay runs disagree")
}

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/statefold/internal/cache"
	"github.com/roach88/statefold/internal/engine"
	"github.com/roach88/statefold/internal/ir"
	"github.com/roach88/statefold/internal/store"
)

// CheckpointOptions holds flags for the checkpoint command.
type CheckpointOptions struct {
	*RootOptions
	Database string
	App      string
	Key      string
	Follow   bool
}

// CheckpointView is a decoded checkpoint as printed by the command.
type CheckpointView struct {
	Key         string          `json:"key"`
	BlockNumber uint64          `json:"blockNumber"`
	State       json.RawMessage `json:"state"`
	Digest      string          `json:"digest"`
}

// NewCheckpointCommand creates the checkpoint command.
func NewCheckpointCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CheckpointOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Print the persisted checkpoint",
		Long: `Print the checkpoint a projection persisted to a SQLite cache.

With --follow the command keeps running and prints every checkpoint
written afterwards, including writes by other processes, until interrupted.

Exit codes:
  0 - Checkpoint printed
  1 - No checkpoint stored under the key
  2 - Command error (database not found, unreadable checkpoint, etc.)

Examples:
  statefold checkpoint --db cache.db --app counter
  statefold checkpoint --db cache.db --app counter --follow --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheckpoint(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite cache database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.App, "app", "", "application namespace of the key")
	cmd.Flags().StringVar(&opts.Key, "key", engine.DefaultCacheKey, "cache key of the checkpoint")
	cmd.Flags().BoolVarP(&opts.Follow, "follow", "f", false, "print every later checkpoint")

	return cmd
}

func runCheckpoint(opts *CheckpointOptions, cmd *cobra.Command) error {
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	c := cache.Namespace(st, opts.App)
	formatter := newFormatter(opts.RootOptions, cmd)
	key := opts.Key
	if opts.App != "" {
		key = cache.Key(opts.App, opts.Key)
	}

	if !opts.Follow {
		data, found, err := c.Get(parentCtx, opts.Key)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read checkpoint", err)
		}
		if !found {
			_ = formatter.Error(ErrCodeNotFound, fmt.Sprintf("no checkpoint under %s", key), nil)
			return NewExitError(ExitFailure, "no checkpoint")
		}
		view, err := decodeCheckpointView(key, data)
		if err != nil {
			return WrapExitError(ExitCommandError, "unreadable checkpoint", err)
		}
		if opts.Format == "json" {
			return formatter.Success(view)
		}
		return formatter.Success(formatCheckpoint(view))
	}

	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	updates, err := c.Observe(ctx, opts.Key)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to observe checkpoint", err)
	}
	formatter.VerboseLog("Following %s", key)

	for data := range updates {
		view, err := decodeCheckpointView(key, data)
		if err != nil {
			formatter.VerboseLog("skipping unreadable checkpoint: %v", err)
			continue
		}
		if err := formatter.Line(view, formatCheckpoint(view)); err != nil {
			return err
		}
	}
	return nil
}

func decodeCheckpointView(key string, data []byte) (CheckpointView, error) {
	cp, err := ir.DecodeCheckpoint(data)
	if err != nil {
		return CheckpointView{}, err
	}
	state := cp.State
	if !cp.HasState() {
		state = json.RawMessage("null")
	}
	digest, err := ir.StateDigest(state)
	if err != nil {
		return CheckpointView{}, err
	}
	return CheckpointView{Key: key, BlockNumber: cp.BlockNumber, State: state, Digest: digest}, nil
}

func formatCheckpoint(v CheckpointView) string {
	return fmt.Sprintf("block %d %s", v.BlockNumber, v.State)
}

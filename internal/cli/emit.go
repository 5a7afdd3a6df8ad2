package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/statefold/internal/ir"
	"github.com/roach88/statefold/internal/store"
)

// EmitOptions holds flags for the emit command.
type EmitOptions struct {
	*RootOptions
	Database string
	Payload  string
	Address  string
	Mine     uint64 // empty blocks to mine after the event block
}

// EmitResult describes the block written by emit.
type EmitResult struct {
	Block  uint64     `json:"block"`
	Head   uint64     `json:"head"`
	Events []ir.Event `json:"events"`
}

// NewEmitCommand creates the emit command.
func NewEmitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EmitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "emit <event> [<event>...]",
		Short: "Append events to a local chain log",
		Long: `Append events to the local SQLite chain log as the next block.

All events named on the command line share one block and the same payload,
in order of their log index. Running projections over the same database
receive them on their live feed.

Examples:
  statefold emit --db chain.db Add --payload 2
  statefold emit --db chain.db Add Subtract --payload '"5"' --address 0xapp
  statefold emit --db chain.db Transfer --payload '{"to":"0xbob"}' --mine 3`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEmit(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Payload, "payload", "null", "event payload as JSON")
	cmd.Flags().StringVar(&opts.Address, "address", "", "contract address the events are emitted by")
	cmd.Flags().Uint64Var(&opts.Mine, "mine", 0, "empty blocks to mine after the event block")

	return cmd
}

func runEmit(opts *EmitOptions, names []string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	payload := json.RawMessage(opts.Payload)
	if !json.Valid(payload) {
		return NewExitError(ExitCommandError, fmt.Sprintf("payload is not valid JSON: %s", opts.Payload))
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	drafts := make([]store.Draft, len(names))
	for i, name := range names {
		drafts[i] = store.Draft{Name: name, Payload: payload, Address: opts.Address}
	}

	events, err := st.Emit(ctx, drafts...)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to emit events", err)
	}
	head := events[0].BlockNumber
	if opts.Mine > 0 {
		if head, err = st.AdvanceHead(ctx, opts.Mine); err != nil {
			return WrapExitError(ExitCommandError, "failed to mine blocks", err)
		}
	}

	result := EmitResult{Block: events[0].BlockNumber, Head: head, Events: events}
	formatter := newFormatter(opts.RootOptions, cmd)
	if opts.Format == "json" {
		return formatter.Success(result)
	}

	lines := make([]string, 0, len(events)+1)
	for _, ev := range events {
		lines = append(lines, fmt.Sprintf("%s block %d log %d tx %s", ev.Name, ev.BlockNumber, ev.LogIndex, ev.TransactionHash))
	}
	lines = append(lines, fmt.Sprintf("head %d", head))
	return formatter.Success(strings.Join(lines, "\n"))
}

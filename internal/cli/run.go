package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/statefold/internal/config"
	"github.com/roach88/statefold/internal/engine"
	"github.com/roach88/statefold/internal/reducers"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Config      string
	MetricsAddr string // overrides metrics.addr from the config
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a projection",
		Long: `Run the configured reducer over the configured event source.

The cached checkpoint is resumed, missed events are replayed, and live
events are folded as they arrive. Every snapshot is printed to stdout.
The pending checkpoint is flushed on SIGINT or SIGTERM.

Exit codes:
  0 - Stopped by a signal
  1 - The projection failed
  2 - Command error (invalid config, unreachable backend, etc.)

Examples:
  statefold run --config statefold.yaml
  statefold run --config statefold.yaml --metrics-addr :9102
  statefold run --config statefold.yaml --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProjection(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Config, "config", "c", "statefold.yaml", "path to the run configuration")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	return cmd
}

func runProjection(opts *RunOptions, cmd *cobra.Command) error {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	def, err := reducers.Lookup(cfg.Reducer)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	logger := newLogger(cmd.ErrOrStderr(), opts.Verbose, cfg.Log.Level, cfg.Log.Format)

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := openBackends(ctx, cfg, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open backends", err)
	}
	defer func() {
		if closeErr := b.Close(); closeErr != nil {
			logger.Error("error closing backends", "error", closeErr)
		}
	}()

	metrics := engine.NewMetrics("")
	addr := cfg.Metrics.Addr
	if opts.MetricsAddr != "" {
		addr = opts.MetricsAddr
	}
	if addr != "" {
		srv := serveMetrics(addr, metrics, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	view, err := def.Open(ctx, b.deps,
		engine.WithName(cfg.Name),
		engine.WithLogger(logger),
		engine.WithMetrics(metrics),
		engine.WithDebounce(cfg.Persist.Debounce.Std()),
		engine.WithMaxWait(cfg.Persist.MaxWait.Std()),
		engine.WithWriteTimeout(cfg.Persist.WriteTimeout.Std()),
		engine.WithExternals(b.externals...),
		engine.WithEventOptions(engine.EventOptions{
			FromBlock: cfg.Events.FromBlock,
			Filter:    cfg.Events.Filter,
		}),
	)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open projection", err)
	}

	logger.Info("projection started", "name", cfg.Name, "reducer", def.Name, "source", cfg.Source.Kind, "cache", cfg.Cache.Backend)

	formatter := newFormatter(opts.RootOptions, cmd)
	for snap := range view.Subscribe(ctx) {
		if err := formatter.Line(snap, formatSnapshot(snap)); err != nil {
			logger.Warn("failed to print snapshot", "seq", snap.Seq, "error", err)
		}
	}

	if err := view.Close(); err != nil {
		return WrapExitError(ExitFailure, "failed to stop projection", err)
	}
	if err := view.Err(); err != nil {
		return WrapExitError(ExitFailure, "projection failed", err)
	}

	logger.Info("projection stopped gracefully")
	return nil
}

// serveMetrics exposes metrics on addr until the returned server is shut down.
func serveMetrics(addr string, metrics *engine.Metrics, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "addr", addr, "error", err)
		}
	}()
	return srv
}

func formatSnapshot(snap reducers.Snapshot) string {
	return fmt.Sprintf("#%d block %d %s", snap.Seq, snap.BlockNumber, snap.State)
}

package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/statefold/internal/config"
	"github.com/roach88/statefold/internal/reducers"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool           `json:"valid"`
	Config *config.Config `json:"config,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <config>",
		Short: "Validate a run configuration",
		Long: `Validate a run configuration without connecting to anything.

Checks the file against the configuration schema, fills in defaults and
resolves the reducer. With --format json the resolved configuration is
printed.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	cfg, err := config.Load(path)
	if err != nil {
		code := ErrCodeGeneric
		if errors.Is(err, config.ErrInvalid) {
			code = ErrCodeConfig
		}
		return outputValidateError(formatter, code, err)
	}

	def, err := reducers.Lookup(cfg.Reducer)
	if err != nil {
		return outputValidateError(formatter, ErrCodeConfig, err)
	}
	formatter.VerboseLog("Reducer %s: %s", def.Name, def.Description)

	if opts.Format == "json" {
		return formatter.Success(ValidationResult{Valid: true, Config: cfg})
	}

	var b strings.Builder
	fmt.Fprintf(&b, "✓ %s is valid\n", path)
	fmt.Fprintf(&b, "  name: %s, reducer: %s\n", cfg.Name, cfg.Reducer)
	fmt.Fprintf(&b, "  source: %s, cache: %s, externals: %d", cfg.Source.Kind, cfg.Cache.Backend, len(cfg.Externals))
	return formatter.Success(b.String())
}

func outputValidateError(formatter *OutputFormatter, code string, err error) error {
	if outErr := formatter.Error(code, err.Error(), nil); outErr != nil {
		return outErr
	}
	return WrapExitError(ExitFailure, "validation failed", err)
}

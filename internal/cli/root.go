// Package cli implements the specmut command line interface: submitting
// mutations, deciding approvals, running an executor loop, and watching
// the event stream.
package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/specmut/internal/config"
	"github.com/roach88/specmut/internal/engine"
	"github.com/roach88/specmut/internal/policy"
	"github.com/roach88/specmut/internal/store"
)

// RootOptions holds global flags shared by all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string
	StorePath  string // overrides the configured store path
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the specmut CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "specmut",
		Short: "Mutation orchestration engine",
		Long: `specmut drives specification mutations through risk assessment,
approval gating, queued execution, and event propagation.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to config file")
	cmd.PersistentFlags().StringVar(&opts.StorePath, "store", "", "path to the record store database")

	cmd.AddCommand(NewSubmitCommand(opts))
	cmd.AddCommand(NewApproveCommand(opts))
	cmd.AddCommand(NewRejectCommand(opts))
	cmd.AddCommand(NewCancelCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewApprovalsCommand(opts))
	cmd.AddCommand(NewShowCommand(opts))
	cmd.AddCommand(NewClaimCommand(opts))
	cmd.AddCommand(NewProgressCommand(opts))
	cmd.AddCommand(NewReportCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))
	cmd.AddCommand(NewPruneCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// loadConfig resolves the effective configuration from flags.
func loadConfig(opts *RootOptions) (config.Config, error) {
	cfg := config.Default()
	if opts.ConfigPath != "" {
		loaded, err := config.Load(opts.ConfigPath)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}
	if opts.StorePath != "" {
		cfg.Store.Path = opts.StorePath
	}
	return cfg, nil
}

// openEngine opens the record store and builds an engine over it.
// The caller must Close the returned store.
func openEngine(opts *RootOptions, cmd *cobra.Command) (*engine.Engine, *store.Store, config.Config, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, nil, config.Config{}, err
	}

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, nil, config.Config{}, err
	}

	logger := slog.Default()
	if opts.Verbose {
		logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
	}

	eng := engine.New(st,
		engine.Config{
			Thresholds:  policy.Thresholds{HighRiskResourceCount: cfg.Risk.HighResourceThreshold},
			ApprovalTTL: cfg.Approval.TTL.Std(),
		},
		engine.WithLogger(logger),
	)
	return eng, st, cfg, nil
}

// newFormatter builds the output formatter for a command invocation.
func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

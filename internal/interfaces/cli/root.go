// Package cli defines the lorekeeper command tree. Every command builds an
// app.Service from the shared configuration and drives it directly; the
// serve command additionally exposes the same service over HTTP.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/storyweave/lorekeeper/internal/config"
	"github.com/storyweave/lorekeeper/internal/infrastructure/logging"
)

// Build-time variables injected via ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// RootOptions holds the global flags shared by every subcommand.
type RootOptions struct {
	ConfigPath string
	LogLevel   string
}

// NewRootCommand creates the root command with global flags and all
// subcommands attached.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:     "lorekeeper",
		Short:   "Lorekeeper — entity recognition and knowledge registry for story worlds",
		Long:    "Lorekeeper scans narrative documents for characters, locations, factions\nand other story entities, maintains a canonical registry with aliases and\nrelationships, and promotes recurring unknown names automatically.",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildDate),

		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&opts.ConfigPath, "config", "c", "", "config file path (default: environment only)")
	pf.StringVar(&opts.LogLevel, "log-level", "", "override the configured log level")

	cmd.AddCommand(
		newServeCommand(opts),
		newScanCommand(opts),
		newWatchCommand(opts),
		newEntitiesCommand(opts),
		newExportCommand(opts),
		newImportCommand(opts),
		newIntegrityCommand(opts),
		newFlushCommand(opts),
	)

	return cmd
}

// loadConfig resolves the configuration from the --config flag or, absent
// one, from environment variables alone.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if opts.ConfigPath != "" {
		cfg, err = config.Load(opts.ConfigPath)
	} else {
		cfg, err = config.LoadFromEnv()
	}
	if err != nil {
		return nil, err
	}
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}
	return cfg, nil
}

// newLogger builds the process logger from the log section. The config
// format "text" maps to the console encoder.
func newLogger(cfg *config.Config) (logging.Logger, error) {
	format := cfg.Log.Format
	if format == "text" {
		format = "console"
	}
	logCfg := logging.Config{
		Level:  cfg.Log.Level,
		Format: format,
	}
	if cfg.Log.Output != "" {
		logCfg.OutputPaths = []string{cfg.Log.Output}
	}
	return logging.NewLogger(logCfg)
}

// Execute runs the root command.
func Execute() error {
	return NewRootCommand().Execute()
}

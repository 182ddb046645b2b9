// Package cmd provides the CLI commands for Scriptorium.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/scriptorium/scriptorium/internal/logging"
	"github.com/scriptorium/scriptorium/pkg/version"
)

// Debug logging flag
var (
	debugMode      bool
	loggingCleanup func()
)

// NewRootCmd creates the root command for the scriptorium CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scriptorium",
		Short: "Hybrid retrieval over a multi-tradition text library",
		Long: `Scriptorium retrieves passages from an indexed library of sacred and
scholarly texts, ranked by blended lexical relevance, semantic
similarity, and editorial authority tiers.

Run 'scriptorium index corpus.yaml' to build the indexes, then
'scriptorium search "your query"' to retrieve passages.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.SetVersionTemplate("scriptorium version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to ~/.scriptorium/logs/")
	cmd.PersistentPreRunE = startLogging
	cmd.PersistentPostRun = stopLogging

	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newRetierCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// startLogging installs the default logger. Debug mode logs to the file
// sink at debug level; otherwise logs go to stderr at warn so command
// output stays clean.
func startLogging(_ *cobra.Command, _ []string) error {
	cfg := logging.DefaultConfig()
	cfg.WriteToStderr = false
	if debugMode {
		cfg.Level = "debug"
	} else {
		cfg.Level = "warn"
		cfg.FilePath = ""
	}

	cleanup, err := logging.SetupDefault(cfg)
	if err != nil {
		return err
	}
	loggingCleanup = cleanup
	return nil
}

func stopLogging(_ *cobra.Command, _ []string) {
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
}

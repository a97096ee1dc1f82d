// Package cmd provides the CLI commands for memcore.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/memcore/memcore/internal/logging"
	"github.com/memcore/memcore/pkg/version"
)

var (
	debugMode      bool
	configPath     string
	loggingCleanup func()
)

// NewRootCmd creates the root command for the memcore CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "memcore",
		Short: "Personal memory MCP server",
		Long: `memcore is a local-first memory server for AI assistants.

It indexes a markdown vault into a hybrid vector/graph/Bayesian
retrieval index (the Nexus pipeline) and serves it over the Model
Context Protocol, so an assistant can recall, store, and reason over
a user's notes across sessions.

Run 'memcore serve' to start the MCP server over stdio.`,
		Version: version.Version,
		SilenceUsage: true,
	}

	root.SetVersionTemplate("memcore version {{.Version}}\n")

	root.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to ~/.memcore/logs/")
	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to config.yaml (default: "+"~/.memcore/config.yaml)")

	root.PersistentPreRunE = startLogging
	root.PersistentPostRunE = stopLogging

	root.AddCommand(newServeCmd())
	root.AddCommand(newIngestCmd())
	root.AddCommand(newLifecycleCmd())
	root.AddCommand(newReplayCmd())
	root.AddCommand(newDebugCmd())
	root.AddCommand(newDoctorCmd())
	root.AddCommand(newVersionCmd())
	root.AddCommand(newInspectCmd())

	return root
}

func startLogging(_ *cobra.Command, _ []string) error {
	cfg := logging.DefaultConfig()
	if debugMode {
		cfg.Level = "debug"
	}
	logger, cleanup, err := logging.Setup(cfg)
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	loggingCleanup = cleanup
	slog.SetDefault(logger)
	return nil
}

func stopLogging(_ *cobra.Command, _ []string) error {
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return nil
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// Package cmd provides the CLI commands for amandocs.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/aman-cerp/amandocs/internal/logging"
	"github.com/aman-cerp/amandocs/pkg/version"
)

var (
	debugMode      bool
	loggingCleanup func()
)

// NewRootCmd creates the root command for the amandocs CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "amandocs",
		Short: "Local per-repository documentation index and retrieval server",
		Long: `amandocs indexes a repository's authored documentation and serves
retrieval over a line-delimited JSON-RPC channel on stdio, for use by
an orchestrating coding assistant.

Run 'amandocs serve' inside a project to start the server, or
'amandocs doctor' to check the embedding sidecar and local environment.`,
		Version: version.Version,
	}

	cmd.SetVersionTemplate("amandocs version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to ~/.amandocs/logs/")
	cmd.PersistentPreRunE = startLogging
	cmd.PersistentPostRunE = stopLogging

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newReconcileCmd())
	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func startLogging(_ *cobra.Command, _ []string) error {
	if !debugMode {
		return nil
	}
	logger, cleanup, err := logging.Setup(logging.DebugConfig())
	if err != nil {
		return fmt.Errorf("failed to setup debug logging: %w", err)
	}
	loggingCleanup = cleanup
	slog.SetDefault(logger)
	slog.Info("debug logging enabled", slog.String("log_file", logging.DefaultLogPath()))
	return nil
}

func stopLogging(_ *cobra.Command, _ []string) error {
	if loggingCleanup != nil {
		slog.Info("debug logging stopped")
		loggingCleanup()
		loggingCleanup = nil
	}
	return nil
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

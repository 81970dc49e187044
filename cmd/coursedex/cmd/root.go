// Package cmd provides the CLI commands for coursedex.
package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/coursedex/coursedex/internal/logging"
	"github.com/coursedex/coursedex/pkg/version"
)

var (
	configPath string
	logLevel   string
	logFile    string

	loggingCleanup func()
)

// NewRootCmd creates the root command for the coursedex CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "coursedex",
		Short: "Course catalog ingestion and hybrid search",
		Long: `Coursedex ingests scraped course listings from edX, Coursera and
Udemy into a primary store, keeps a vector index in sync with it, and
serves semantic search over the catalog.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.SetVersionTemplate("coursedex version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: $COURSEDEX_DATA_DIR/config.yaml)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	cmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Log file path (JSON, size-rotated)")

	cmd.PersistentPreRunE = setupLogging
	cmd.PersistentPostRun = func(_ *cobra.Command, _ []string) {
		if loggingCleanup != nil {
			loggingCleanup()
		}
	}

	cmd.AddCommand(newIngestCmd())
	cmd.AddCommand(newBackfillCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newAuditCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the CLI with signal-aware cancellation.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return NewRootCmd().ExecuteContext(ctx)
}

func setupLogging(_ *cobra.Command, _ []string) error {
	logCfg := logging.DefaultConfig()
	if logLevel != "" {
		logCfg.Level = logLevel
	}
	if logFile != "" {
		logCfg.FilePath = logFile
	}

	cleanup, err := logging.SetupDefault(logCfg)
	if err != nil {
		return err
	}
	loggingCleanup = cleanup
	return nil
}

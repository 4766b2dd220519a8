// Package cmd defines the CLI commands for the ragharvest executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/ragharvest/internal/config"
	"github.com/JakeFAU/ragharvest/internal/logging"
)

var (
	cfgFile string

	// Populated by the root PersistentPreRunE before any subcommand
	// runs.
	cfg    config.Config
	logger *zap.Logger
)

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ragharvest",
		Short: "A crash-safe crawler that turns web pages into retrieval-ready chunks.",
		Long: `ragharvest walks a set of seed sites, extracts the readable text from
each page, and segments it into token-bounded, heading-aware chunks
suitable for embedding. Crawl state lives in a durable frontier so an
interrupted run picks up where it left off.`,

		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			var err error
			cfg, err = config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			logger, err = logging.New(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("initialize logger: %w", err)
			}
			return nil
		},

		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			if logger != nil {
				_ = logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: built-in defaults plus RAGHARVEST_* env)")

	cmd.AddCommand(newCrawlCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

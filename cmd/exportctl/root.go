package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Benevox/rapidpro/internal/config"
	"github.com/Benevox/rapidpro/internal/infrastructure"
	"github.com/Benevox/rapidpro/pkg/contracts"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exportctl",
		Short: "Run and inspect data exports",
		Long: `exportctl runs exports locally and inspects the jobs recorded by exportd.

It reads the same configuration as the server: the file given with --config
(or EXPORT_CONFIG), then EXPORT_* environment variables.`,
		Version:       contracts.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(newRunCmd(), newJobsCmd(), newVersionCmd())
	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration the same way exportd does
func loadConfig() (*config.Config, error) {
	if cfgFile != "" {
		return config.LoadFile(cfgFile)
	}
	return config.Load()
}

// newLogger logs to w, at debug level when --verbose is set
func newLogger(cfg *config.Config, w io.Writer) (*slog.Logger, error) {
	logging := cfg.Logging
	logging.Output = "console"
	if verbose {
		logging.Level = "debug"
	} else {
		logging.Level = "warn"
	}
	logger, _, err := infrastructure.NewLogger(logging, w)
	return logger, err
}

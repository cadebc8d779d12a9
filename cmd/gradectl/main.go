// Command gradectl is the operator CLI of the gradebook. It applies schema
// migrations, writes and imports scores, rebuilds rankings and prints
// cohort reports.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mhieu102/N3-CCPTPM-S4/config"
	"github.com/mhieu102/N3-CCPTPM-S4/pkg/logger"
)

var (
	// Global flags
	envFile  string
	logLevel string
	output   string
	timeout  time.Duration

	cfg *config.Config
	log = logger.Discard()
)

var rootCmd = &cobra.Command{
	Use:   "gradectl",
	Short: "Operate the gradebook aggregation engine",
	Long: `gradectl talks to the gradebook database directly.

Score writes run the aggregation chain inline, so averages, tiers and ranks
are up to date when a command returns. Reports read the persisted ranks.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if envFile != "" {
			if err := os.Setenv("APP_ENV_FILE", envFile); err != nil {
				return err
			}
		}
		loaded, err := config.Load()
		if err != nil {
			return err
		}
		cfg = loaded

		level := cfg.Observability.LogLevel
		if logLevel != "" {
			level = logLevel
		}
		log = logger.New(logger.Options{
			Level:   level,
			Format:  logger.FormatText,
			Output:  cmd.ErrOrStderr(),
			Service: "gradectl",
		})
		slog.SetDefault(log)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file to load (default: .env)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override LOG_LEVEL (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", outputTable, "output format: table or json")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Minute, "operation timeout")

	rootCmd.AddCommand(migrateCmd, scoreCmd, importCmd, recomputeCmd, rebuildCmd, rankingsCmd, performanceCmd)
}

// commandContext bounds a command by --timeout.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

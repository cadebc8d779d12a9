package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mhieu102/N3-CCPTPM-S4/internal/application/aggregation"
	"github.com/mhieu102/N3-CCPTPM-S4/pkg/logger"
)

var (
	recomputeStudent string
	recomputeExam    string
)

// recomputeCmd reruns one chain
var recomputeCmd = &cobra.Command{
	Use:   "recompute",
	Short: "Rerun the aggregation chain of one stored score",
	Long: `Rerun every stage of the chain for the score of a student on an exam,
without changing the score. Use it to repair a chain that failed midway.`,
	Args: cobra.NoArgs,
	RunE: runRecompute,
}

// rebuildCmd re-ranks whole periods
var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Re-rank every cohort of a term, a school year or everything",
	Long: `Re-rank every classroom and grade cohort from the persisted averages.

Available subcommands:
  term CODE - one term
  year CODE - one school year, its terms first
  all       - every school year`,
}

var rebuildTermCmd = &cobra.Command{
	Use:   "term CODE",
	Short: "Re-rank every cohort for one term",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRebuild(cmd, func(b *backend) ([]aggregation.RebuildStats, error) {
			st, err := b.engine.RebuildTerm(cmd.Context(), args[0])
			if err != nil {
				return nil, err
			}
			return []aggregation.RebuildStats{st}, nil
		})
	},
}

var rebuildYearCmd = &cobra.Command{
	Use:   "year CODE",
	Short: "Re-rank every cohort for a school year and its terms",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRebuild(cmd, func(b *backend) ([]aggregation.RebuildStats, error) {
			return b.engine.RebuildSchoolYear(cmd.Context(), args[0])
		})
	},
}

var rebuildAllCmd = &cobra.Command{
	Use:   "all",
	Short: "Re-rank every cohort of every school year",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runRebuild(cmd, func(b *backend) ([]aggregation.RebuildStats, error) {
			return b.engine.RebuildAll(cmd.Context())
		})
	},
}

func init() {
	recomputeCmd.Flags().StringVar(&recomputeStudent, "student", "", "student code (required)")
	recomputeCmd.Flags().StringVar(&recomputeExam, "exam", "", "exam code (required)")
	_ = recomputeCmd.MarkFlagRequired("student")
	_ = recomputeCmd.MarkFlagRequired("exam")

	rebuildCmd.AddCommand(rebuildTermCmd, rebuildYearCmd, rebuildAllCmd)
}

func runRecompute(cmd *cobra.Command, _ []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	return withBackend(ctx, func(b *backend) error {
		start := time.Now()
		err := b.engine.Recompute(ctx, recomputeStudent, recomputeExam)
		attrs := []any{
			logger.StudentCode(recomputeStudent),
			logger.ExamCode(recomputeExam),
			logger.Latency(time.Since(start)),
		}
		if err != nil {
			if stage := aggregation.FailedStage(err); stage != "" {
				attrs = append(attrs, "stage", stage)
			}
			log.Error("recompute failed", append(attrs, logger.Err(err))...)
			return err
		}
		log.Info("recompute finished", attrs...)
		fmt.Fprintf(cmd.OutOrStdout(), "recomputed %s/%s\n", recomputeStudent, recomputeExam)
		return nil
	})
}

// runRebuild opens the backend, runs fn under --timeout and prints the
// per-period stats. Stats are printed even when fn also returned an error.
func runRebuild(cmd *cobra.Command, fn func(*backend) ([]aggregation.RebuildStats, error)) error {
	if err := checkOutput(); err != nil {
		return err
	}
	ctx, cancel := commandContext(cmd)
	defer cancel()
	cmd.SetContext(ctx)

	return withBackend(ctx, func(b *backend) error {
		stats, err := fn(b)
		if len(stats) == 0 && err != nil {
			return err
		}
		if perr := printRebuildStats(cmd, stats); perr != nil {
			return errors.Join(err, perr)
		}
		return err
	})
}

func printRebuildStats(cmd *cobra.Command, stats []aggregation.RebuildStats) error {
	if output == outputJSON {
		type row struct {
			Period   string `json:"period"`
			Cohorts  int    `json:"cohorts"`
			Ranked   int    `json:"ranked"`
			Skipped  int    `json:"skipped"`
			Students int    `json:"students"`
			Millis   int64  `json:"duration_ms"`
		}
		rows := make([]row, 0, len(stats))
		for _, s := range stats {
			rows = append(rows, row{s.Period.String(), s.Cohorts, s.Ranked, s.Skipped, s.Students, s.Duration.Milliseconds()})
		}
		return printJSON(cmd.OutOrStdout(), rows)
	}

	t := newTable(cmd.OutOrStdout(), "PERIOD", "COHORTS", "RANKED", "SKIPPED", "STUDENTS", "DURATION")
	for _, s := range stats {
		t.row(s.Period.String(),
			fmt.Sprint(s.Cohorts),
			fmt.Sprint(s.Ranked),
			fmt.Sprint(s.Skipped),
			fmt.Sprint(s.Students),
			s.Duration.Round(time.Millisecond).String(),
		)
	}
	return t.flush()
}

package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mhieu102/N3-CCPTPM-S4/internal/application/query"
	"github.com/mhieu102/N3-CCPTPM-S4/internal/domain/ranking"
	"github.com/mhieu102/N3-CCPTPM-S4/internal/domain/shared"
)

var (
	reportTerm string
	reportTier string
)

// rankingsCmd prints a ranked cohort
var rankingsCmd = &cobra.Command{
	Use:   "rankings (classroom|grade) CODE",
	Short: "Print the ranking of a classroom or grade",
	Long: `Print the persisted ranking of a classroom or grade.

With --term the term ranking is printed; without it the yearly ranking of
the school year the cohort belongs to.`,
	Example: `  gradectl rankings classroom 10A1 --term HK1-2024
  gradectl rankings grade K10 -o json`,
	Args: cobra.ExactArgs(2),
	RunE: runRankings,
}

// performanceCmd lists one tier of a cohort
var performanceCmd = &cobra.Command{
	Use:   "performance (classroom|grade) CODE --tier TIER",
	Short: "List the students of a cohort in one performance tier",
	Long: `List the students of a classroom or grade whose average falls in a
performance tier. The tier is a name (Excellent, Good, Average, Weak) or its
report label (Giỏi, Khá, Trung bình, Yếu).`,
	Example: `  gradectl performance classroom 10A1 --tier Good --term HK1-2024
  gradectl performance grade K10 --tier "Giỏi"`,
	Args: cobra.ExactArgs(2),
	RunE: runPerformance,
}

func init() {
	for _, c := range []*cobra.Command{rankingsCmd, performanceCmd} {
		c.Flags().StringVar(&reportTerm, "term", "", "term code (default: the yearly report)")
	}
	performanceCmd.Flags().StringVar(&reportTier, "tier", "", "performance tier (required)")
	_ = performanceCmd.MarkFlagRequired("tier")
}

// parseSelector reads "(classroom|grade) CODE" and --term.
func parseSelector(args []string) (query.CohortSelector, error) {
	scope := ranking.Scope(strings.ToLower(strings.TrimSpace(args[0])))
	if !scope.IsValid() {
		return query.CohortSelector{}, shared.NewDomainError("cli", "parseSelector", shared.ErrInvalidInput,
			fmt.Sprintf("unknown cohort scope %q (want %s or %s)", args[0], ranking.ScopeClassroom, ranking.ScopeGrade))
	}
	return query.CohortSelector{
		Scope:    scope,
		Code:     strings.TrimSpace(args[1]),
		TermCode: strings.TrimSpace(reportTerm),
	}, nil
}

func runRankings(cmd *cobra.Command, args []string) error {
	if err := checkOutput(); err != nil {
		return err
	}
	sel, err := parseSelector(args)
	if err != nil {
		return err
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()

	return withBackend(ctx, func(b *backend) error {
		res, err := b.rankings.Rankings(ctx, sel)
		if err != nil {
			return err
		}
		if output == outputJSON {
			return printJSON(cmd.OutOrStdout(), res)
		}
		return printRankings(cmd.OutOrStdout(), res)
	})
}

func printRankings(w io.Writer, res *query.RankingResult) error {
	source := "store"
	if res.FromCache {
		source = "cache"
	}
	fmt.Fprintf(w, "%s %s, %s: %d ranked of %d students (%s)\n",
		res.Scope, res.CohortCode, res.PeriodCode, len(res.Rankings), res.TotalStudents, source)

	t := newTable(w, "RANK", "STUDENT", "NAME", "AVERAGE")
	for _, r := range res.Rankings {
		t.row(formatRank(r.Rank), r.StudentCode, r.Name, formatAverage(r.Average))
	}
	return t.flush()
}

func runPerformance(cmd *cobra.Command, args []string) error {
	if err := checkOutput(); err != nil {
		return err
	}
	sel, err := parseSelector(args)
	if err != nil {
		return err
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()

	return withBackend(ctx, func(b *backend) error {
		res, err := b.performance.Handle(ctx, query.ListByPerformanceQuery{CohortSelector: sel, Tier: reportTier})
		if err != nil {
			return err
		}
		if output == outputJSON {
			return printJSON(cmd.OutOrStdout(), res)
		}
		return printPerformance(cmd.OutOrStdout(), res)
	})
}

func printPerformance(w io.Writer, res *query.PerformanceResult) error {
	fmt.Fprintf(w, "%s %s, %s: %d student(s) rated %s\n",
		res.Scope, res.CohortCode, res.PeriodCode, res.TotalStudents, res.Tier)

	t := newTable(w, "STUDENT", "NAME", "AVERAGE", "TIER")
	for _, s := range res.Students {
		t.row(s.StudentCode, s.Name, formatAverage(s.Average), s.TierLabel)
	}
	return t.flush()
}

// Package jobs contains the scheduled jobs of the gradebook.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/mhieu102/N3-CCPTPM-S4/internal/application/aggregation"
)

// ══════════════════════════════════════════════════════════════════════════════
// REBUILD RANKINGS JOB
// ══════════════════════════════════════════════════════════════════════════════

// Rebuilder is the part of the aggregation engine the job drives.
type Rebuilder interface {
	RebuildAll(ctx context.Context) ([]aggregation.RebuildStats, error)
	RebuildSchoolYear(ctx context.Context, schoolYearCode string) ([]aggregation.RebuildStats, error)
}

// RebuildRankingsConfig contains configuration for the rebuild job.
type RebuildRankingsConfig struct {
	// SchoolYears restricts the rebuild; empty means every school year.
	SchoolYears []string
}

// RunSummary describes the last run of the job.
type RunSummary struct {
	StartedAt time.Time
	Duration  time.Duration
	Periods   int
	Ranked    int
	Skipped   int
	Err       error
}

// RebuildRankingsJob re-ranks every cohort of the configured school years.
// It repairs ranks left stale by failed or interrupted chains.
type RebuildRankingsJob struct {
	rebuilder Rebuilder
	config    RebuildRankingsConfig
	logger    *slog.Logger

	last   atomic.Pointer[RunSummary]
	lastOK atomic.Int64
}

// NewRebuildRankingsJob creates a new rebuild rankings job.
func NewRebuildRankingsJob(rebuilder Rebuilder, config RebuildRankingsConfig, logger *slog.Logger) *RebuildRankingsJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &RebuildRankingsJob{
		rebuilder: rebuilder,
		config:    config,
		logger:    logger.With("job", "rebuild_rankings"),
	}
}

// Name returns the job name.
func (j *RebuildRankingsJob) Name() string {
	return "rebuild_rankings"
}

// Description returns a human-readable description.
func (j *RebuildRankingsJob) Description() string {
	return "Re-ranks every classroom and grade cohort for each term and school year"
}

// Run executes the rebuild.
func (j *RebuildRankingsJob) Run(ctx context.Context) error {
	summary := &RunSummary{StartedAt: time.Now()}
	defer func() {
		summary.Duration = time.Since(summary.StartedAt)
		j.last.Store(summary)
		if summary.Err == nil {
			j.lastOK.Store(summary.StartedAt.UnixNano())
		}
	}()

	var stats []aggregation.RebuildStats
	if len(j.config.SchoolYears) == 0 {
		stats, summary.Err = j.rebuilder.RebuildAll(ctx)
	} else {
		var errs []error
		for _, year := range j.config.SchoolYears {
			s, err := j.rebuilder.RebuildSchoolYear(ctx, year)
			stats = append(stats, s...)
			if err != nil {
				errs = append(errs, fmt.Errorf("school year %s: %w", year, err))
			}
		}
		summary.Err = errors.Join(errs...)
	}

	for _, s := range stats {
		summary.Periods++
		summary.Ranked += s.Ranked
		summary.Skipped += s.Skipped
	}

	j.logger.Info("rankings rebuilt",
		"periods", summary.Periods,
		"ranked", summary.Ranked,
		"skipped", summary.Skipped,
	)
	return summary.Err
}

// LastRun returns the summary of the most recent run, or nil.
func (j *RebuildRankingsJob) LastRun() *RunSummary {
	return j.last.Load()
}

// LastSuccess returns the start time of the most recent run that finished
// without error, or the zero time.
func (j *RebuildRankingsJob) LastSuccess() time.Time {
	ns := j.lastOK.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

package aggregation

import (
	"context"
	"errors"
	"time"

	"github.com/mhieu102/N3-CCPTPM-S4/internal/domain/grading"
	"github.com/mhieu102/N3-CCPTPM-S4/internal/domain/ranking"
	"github.com/mhieu102/N3-CCPTPM-S4/internal/domain/shared"
)

// RebuildStats reports a full re-ranking of a period.
type RebuildStats struct {
	Period   grading.Period
	Cohorts  int
	Ranked   int
	Skipped  int
	Students int
	Duration time.Duration
}

// RebuildTerm re-ranks every classroom and grade for a term.
func (e *Engine) RebuildTerm(ctx context.Context, termCode string) (RebuildStats, error) {
	if _, err := e.refs.GetTerm(ctx, termCode); err != nil {
		if shared.IsNotFound(err) {
			return RebuildStats{}, shared.ReferenceNotFound("RebuildTerm", "term", termCode)
		}
		return RebuildStats{}, storageErr("GetTerm", err)
	}
	return e.rebuild(ctx, grading.TermPeriod(termCode))
}

// RebuildYear re-ranks every classroom and grade for a school year.
func (e *Engine) RebuildYear(ctx context.Context, schoolYearCode string) (RebuildStats, error) {
	if _, err := e.refs.GetSchoolYear(ctx, schoolYearCode); err != nil {
		if shared.IsNotFound(err) {
			return RebuildStats{}, shared.ReferenceNotFound("RebuildYear", "school year", schoolYearCode)
		}
		return RebuildStats{}, storageErr("GetSchoolYear", err)
	}
	return e.rebuild(ctx, grading.YearPeriod(schoolYearCode))
}

func (e *Engine) rebuild(ctx context.Context, period grading.Period) (RebuildStats, error) {
	start := time.Now()
	stats := RebuildStats{Period: period}

	classrooms, err := e.refs.ListClassroomCodes(ctx)
	if err != nil {
		return stats, storageErr("ListClassroomCodes", err)
	}
	grades, err := e.refs.ListGradeCodes(ctx)
	if err != nil {
		return stats, storageErr("ListGradeCodes", err)
	}

	cohorts := make([]ranking.Cohort, 0, len(classrooms)+len(grades))
	for _, code := range classrooms {
		cohorts = append(cohorts, ranking.Cohort{Scope: ranking.ScopeClassroom, Code: code, Period: period})
	}
	for _, code := range grades {
		cohorts = append(cohorts, ranking.Cohort{Scope: ranking.ScopeGrade, Code: code, Period: period})
	}

	for _, c := range cohorts {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.Cohorts++

		r, err := e.RankCohort(ctx, c)
		if err != nil {
			if shared.IsEmptyCohort(err) {
				stats.Skipped++
				continue
			}
			return stats, err
		}
		stats.Ranked++
		if c.Scope == ranking.ScopeGrade {
			stats.Students += r.Count()
		}
	}

	stats.Duration = time.Since(start)
	e.logger.Info("period re-ranked",
		"period", period.String(),
		"cohorts", stats.Cohorts,
		"ranked", stats.Ranked,
		"skipped", stats.Skipped,
		"duration", stats.Duration,
	)
	return stats, nil
}

// RebuildSchoolYear re-ranks every term of a school year and then the year
// itself.
func (e *Engine) RebuildSchoolYear(ctx context.Context, schoolYearCode string) ([]RebuildStats, error) {
	terms, err := e.termCodes(ctx, schoolYearCode)
	if err != nil {
		return nil, err
	}

	out := make([]RebuildStats, 0, len(terms)+1)
	for _, term := range terms {
		stats, err := e.RebuildTerm(ctx, term)
		if err != nil {
			return out, err
		}
		out = append(out, stats)
	}

	stats, err := e.RebuildYear(ctx, schoolYearCode)
	if err != nil {
		return out, err
	}
	return append(out, stats), nil
}

// RebuildAll re-ranks every school year known to the reference store.
// A failing year does not stop the others; failures are joined.
func (e *Engine) RebuildAll(ctx context.Context) ([]RebuildStats, error) {
	years, err := e.refs.ListSchoolYearCodes(ctx)
	if err != nil {
		return nil, storageErr("ListSchoolYearCodes", err)
	}

	var (
		out  []RebuildStats
		errs []error
	)
	for _, year := range years {
		stats, err := e.RebuildSchoolYear(ctx, year)
		out = append(out, stats...)
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			e.logger.Error("school year rebuild failed", "school_year", year, "error", err)
			errs = append(errs, err)
		}
	}
	return out, errors.Join(errs...)
}

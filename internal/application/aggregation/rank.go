package aggregation

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/mhieu102/N3-CCPTPM-S4/internal/domain/academic"
	"github.com/mhieu102/N3-CCPTPM-S4/internal/domain/grading"
	"github.com/mhieu102/N3-CCPTPM-S4/internal/domain/ranking"
	"github.com/mhieu102/N3-CCPTPM-S4/internal/domain/shared"
)

// ───────────────────────────────────────────────────────────────────────────
// 4 and 7. Cohort ranking
// ───────────────────────────────────────────────────────────────────────────

// rankStudentCohorts re-ranks the classroom and the grade of a student for
// the period. Empty cohorts are skipped.
func (e *Engine) rankStudentCohorts(ctx context.Context, studentCode string, period grading.Period) error {
	placement, err := e.placementOf(ctx, studentCode)
	if err != nil {
		return err
	}

	for _, cohort := range cohortsOf(placement, period) {
		if _, err := e.RankCohort(ctx, cohort); err != nil {
			if shared.IsEmptyCohort(err) {
				continue
			}
			return err
		}
	}
	return nil
}

// cohortsOf lists the cohorts a placement belongs to. A student without a
// classroom belongs to none; a classroom without a grade only to itself.
func cohortsOf(p academic.Placement, period grading.Period) []ranking.Cohort {
	cohorts := make([]ranking.Cohort, 0, 2)
	if p.ClassroomCode != "" {
		cohorts = append(cohorts, ranking.Cohort{Scope: ranking.ScopeClassroom, Code: p.ClassroomCode, Period: period})
	}
	if p.GradeCode != "" {
		cohorts = append(cohorts, ranking.Cohort{Scope: ranking.ScopeGrade, Code: p.GradeCode, Period: period})
	}
	return cohorts
}

// RankCohort recomputes the ranking of one cohort from the current average
// records and rewrites the cohort's rank field for every member. It returns
// an error wrapping shared.ErrEmptyCohort when no member has a record.
//
// Rankings of the same cohort never overlap, so the last one to finish has
// read every average committed before it started.
func (e *Engine) RankCohort(ctx context.Context, cohort ranking.Cohort) (*ranking.Ranking, error) {
	unlock, err := e.locks.Lock(ctx, cohort.Key())
	if err != nil {
		return nil, err
	}
	defer unlock()

	members, err := e.cohortMembers(ctx, cohort.Scope, cohort.Code)
	if err != nil {
		return nil, err
	}

	var records []grading.StudentAverage
	if len(members) > 0 {
		records, err = e.averages.ListStudentAverages(ctx, cohort.Period, members)
		if err != nil {
			return nil, storageErr("ListStudentAverages", err)
		}
	}

	if len(records) == 0 {
		e.metrics.CohortSkipped(cohort.Scope, cohort.Period.Kind)
		e.logger.Info("empty cohort, ranking skipped",
			"cohort", cohort.Key(),
			"members", len(members),
		)
		return nil, shared.NewDomainError("ranking", "RankCohort", shared.ErrEmptyCohort,
			fmt.Sprintf("cohort %s has no average records", cohort.Key()))
	}

	r, err := ranking.FromAverages(records)
	if err != nil {
		return nil, fmt.Errorf("build ranking %s: %w", cohort.Key(), err)
	}

	if err := e.ranks.ReplaceRanks(ctx, cohort.Period, cohort.Scope, r.Assignments()); err != nil {
		return nil, storageErr("ReplaceRanks", err)
	}
	e.metrics.RanksWritten(cohort.Scope, cohort.Period.Kind, r.Count())

	e.cacheRanking(ctx, cohort, r)
	e.publish(shared.NewRankingUpdatedEvent(
		uuid.NewString(), string(cohort.Scope), cohort.Code, cohort.Period.String(), r.Count(),
	))

	e.logger.Debug("cohort ranked",
		"cohort", cohort.Key(),
		"size", r.Count(),
	)
	return r, nil
}

// cacheRanking stores the ranking in the read cache. Cache failures do not
// fail the stage; the query layer falls back to the store.
func (e *Engine) cacheRanking(ctx context.Context, cohort ranking.Cohort, r *ranking.Ranking) {
	if e.cache == nil {
		return
	}
	if err := e.cache.Store(ctx, cohort, r.Entries(), e.config.RankCacheTTL); err != nil {
		e.logger.Warn("failed to cache ranking",
			"cohort", cohort.Key(),
			"error", err,
		)
	}
}

// placementOf resolves the classroom and grade of a student. Missing
// students or classrooms shrink the placement instead of failing.
func (e *Engine) placementOf(ctx context.Context, studentCode string) (academic.Placement, error) {
	p := academic.Placement{StudentCode: studentCode}

	student, err := e.refs.GetStudent(ctx, studentCode)
	if err != nil {
		if shared.IsNotFound(err) {
			e.logger.Info("student not found, no cohort to rank", "student_code", studentCode)
			return p, nil
		}
		return p, storageErr("GetStudent", err)
	}
	if !student.HasClassroom() {
		e.logger.Info("student has no classroom, no cohort to rank", "student_code", studentCode)
		return p, nil
	}
	p.ClassroomCode = student.ClassroomCode

	classroom, err := e.refs.GetClassroom(ctx, student.ClassroomCode)
	if err != nil {
		if shared.IsNotFound(err) {
			e.logger.Info("classroom not found, grade cohort skipped",
				"classroom_code", student.ClassroomCode,
			)
			return p, nil
		}
		return p, storageErr("GetClassroom", err)
	}
	p.GradeCode = classroom.GradeCode
	return p, nil
}

// cohortMembers lists the student codes of a classroom or grade.
func (e *Engine) cohortMembers(ctx context.Context, scope ranking.Scope, code string) ([]string, error) {
	v, err := e.sharedRead(ctx, "members:"+string(scope)+":"+code, func(ctx context.Context) (any, error) {
		var (
			students []academic.Student
			err      error
		)
		switch scope {
		case ranking.ScopeClassroom:
			students, err = e.refs.ListStudentsByClassroom(ctx, code)
		case ranking.ScopeGrade:
			students, err = e.refs.ListStudentsByGrade(ctx, code)
		default:
			return nil, shared.NewDomainError("ranking", "CohortMembers", shared.ErrInvalidInput,
				fmt.Sprintf("unknown scope %q", scope))
		}
		if err != nil {
			return nil, storageErr("ListCohortStudents", err)
		}
		return academic.StudentCodes(students), nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}

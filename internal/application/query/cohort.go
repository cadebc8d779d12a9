// Package query contains read operations following CQRS pattern.
// Queries never modify state - they only read the cached averages and ranks
// written by the aggregation engine.
package query

import (
	"context"
	"fmt"

	"github.com/mhieu102/N3-CCPTPM-S4/internal/domain/academic"
	"github.com/mhieu102/N3-CCPTPM-S4/internal/domain/grading"
	"github.com/mhieu102/N3-CCPTPM-S4/internal/domain/ranking"
	"github.com/mhieu102/N3-CCPTPM-S4/internal/domain/shared"
)

// UnknownStudentName is shown for averages whose student has no name.
const UnknownStudentName = "Unknown"

// ══════════════════════════════════════════════════════════════════════════════
// COHORT SELECTOR
// ══════════════════════════════════════════════════════════════════════════════

// CohortSelector names the classroom or grade a query reads, and the term.
// An empty TermCode selects the school year of the cohort's grade.
type CohortSelector struct {
	Scope    ranking.Scope
	Code     string
	TermCode string
}

// IsYearly reports whether the selector reads yearly records.
func (s CohortSelector) IsYearly() bool {
	return s.TermCode == ""
}

// Validate checks the selector fields.
func (s CohortSelector) Validate() error {
	if !s.Scope.IsValid() {
		return invalid("Validate", fmt.Sprintf("unknown scope %q", s.Scope))
	}
	if s.Code == "" {
		return invalid("Validate", string(s.Scope)+" code is required")
	}
	return nil
}

// resolvedCohort is a selector turned into a cohort with its members.
type resolvedCohort struct {
	cohort   ranking.Cohort
	students []academic.Student
	names    map[string]string
}

func (c resolvedCohort) nameOf(code string) string {
	if name := c.names[code]; name != "" {
		return name
	}
	return UnknownStudentName
}

// ══════════════════════════════════════════════════════════════════════════════
// RESOLVER
// ══════════════════════════════════════════════════════════════════════════════

// cohortResolver checks that the selected term, classroom or grade exist and
// lists the cohort's students.
type cohortResolver struct {
	refs academic.ReferenceRepository
}

func (r cohortResolver) resolve(ctx context.Context, sel CohortSelector) (resolvedCohort, error) {
	if err := sel.Validate(); err != nil {
		return resolvedCohort{}, err
	}

	var period grading.Period
	if !sel.IsYearly() {
		if _, err := r.refs.GetTerm(ctx, sel.TermCode); err != nil {
			return resolvedCohort{}, lookupErr("GetTerm", "term", sel.TermCode, err)
		}
		period = grading.TermPeriod(sel.TermCode)
	}

	var (
		students []academic.Student
		err      error
	)
	switch sel.Scope {
	case ranking.ScopeClassroom:
		students, err = r.classroomStudents(ctx, sel, &period)
	case ranking.ScopeGrade:
		students, err = r.gradeStudents(ctx, sel, &period)
	}
	if err != nil {
		return resolvedCohort{}, err
	}
	if len(students) == 0 {
		return resolvedCohort{}, notFound("ResolveCohort",
			fmt.Sprintf("no students found in %s %q", sel.Scope, sel.Code))
	}

	return resolvedCohort{
		cohort:   ranking.Cohort{Scope: sel.Scope, Code: sel.Code, Period: period},
		students: students,
		names:    academic.StudentNames(students),
	}, nil
}

func (r cohortResolver) classroomStudents(ctx context.Context, sel CohortSelector, period *grading.Period) ([]academic.Student, error) {
	classroom, err := r.refs.GetClassroom(ctx, sel.Code)
	if err != nil {
		return nil, lookupErr("GetClassroom", "classroom", sel.Code, err)
	}
	if sel.IsYearly() {
		if !classroom.HasGrade() {
			return nil, notFound("GetGrade",
				fmt.Sprintf("classroom %q has no grade, school year unknown", sel.Code))
		}
		grade, err := r.refs.GetGrade(ctx, classroom.GradeCode)
		if err != nil {
			return nil, lookupErr("GetGrade", "grade", classroom.GradeCode, err)
		}
		*period = grading.YearPeriod(grade.SchoolYearCode)
	}

	students, err := r.refs.ListStudentsByClassroom(ctx, sel.Code)
	if err != nil {
		return nil, shared.StorageFailure("query", "ListStudentsByClassroom", err)
	}
	return students, nil
}

func (r cohortResolver) gradeStudents(ctx context.Context, sel CohortSelector, period *grading.Period) ([]academic.Student, error) {
	grade, err := r.refs.GetGrade(ctx, sel.Code)
	if err != nil {
		return nil, lookupErr("GetGrade", "grade", sel.Code, err)
	}
	if sel.IsYearly() {
		*period = grading.YearPeriod(grade.SchoolYearCode)
	}

	classrooms, err := r.refs.ListClassroomCodesByGrade(ctx, sel.Code)
	if err != nil {
		return nil, shared.StorageFailure("query", "ListClassroomCodesByGrade", err)
	}
	if len(classrooms) == 0 {
		return nil, notFound("ListClassroomCodesByGrade",
			fmt.Sprintf("no classrooms found in grade %q", sel.Code))
	}

	students, err := r.refs.ListStudentsByGrade(ctx, sel.Code)
	if err != nil {
		return nil, shared.StorageFailure("query", "ListStudentsByGrade", err)
	}
	return students, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

func notFound(op, message string) error {
	return shared.NewDomainError("query", op, shared.ErrNotFound, message)
}

func invalid(op, message string) error {
	return shared.NewDomainError("query", op, shared.ErrInvalidInput, message)
}

// lookupErr maps a reference lookup failure: unknown codes become
// ErrNotFound, everything else is a storage failure.
func lookupErr(op, entity, code string, err error) error {
	if shared.IsNotFound(err) {
		return shared.WrapError("query", op, shared.ErrNotFound,
			fmt.Sprintf("%s %q not found", entity, code), err)
	}
	return shared.StorageFailure("query", op, err)
}

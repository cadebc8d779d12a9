package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/mhieu102/N3-CCPTPM-S4/internal/domain/academic"
	"github.com/mhieu102/N3-CCPTPM-S4/internal/domain/grading"
	"github.com/mhieu102/N3-CCPTPM-S4/internal/domain/ranking"
	"github.com/mhieu102/N3-CCPTPM-S4/internal/domain/shared"
)

// Compile-time interface checks.
var (
	_ academic.ReferenceRepository = (*Store)(nil)
	_ grading.ScoreRepository      = (*Store)(nil)
	_ grading.AverageRepository    = (*Store)(nil)
	_ ranking.Repository           = (*Store)(nil)
)

// Store implements every storage port of the gradebook on one connection.
type Store struct {
	conn *Connection
}

// NewStore creates a new Store.
func NewStore(conn *Connection) *Store {
	return &Store{conn: conn}
}

// wrap maps driver errors onto domain error kinds.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if IsForeignKeyViolation(err) {
		return shared.WrapError("postgres", op, shared.ErrReferenceNotFound, "unknown reference", err)
	}
	return shared.StorageFailure("postgres", op, err)
}

func notFound(op, entity, code string) error {
	return shared.NewDomainError("postgres", op, shared.ErrNotFound, fmt.Sprintf("%s %q not found", entity, code))
}

// periodTables returns the table names and period column of a period kind.
type periodTables struct {
	subjectTable string
	studentTable string
	periodColumn string
}

func tablesFor(p grading.Period) (periodTables, error) {
	switch p.Kind {
	case grading.PeriodTerm:
		return periodTables{
			subjectTable: "subject_term_averages",
			studentTable: "student_term_averages",
			periodColumn: "term_code",
		}, nil
	case grading.PeriodYear:
		return periodTables{
			subjectTable: "subject_yearly_averages",
			studentTable: "student_yearly_averages",
			periodColumn: "school_year_code",
		}, nil
	default:
		return periodTables{}, shared.NewDomainError("postgres", "tablesFor", shared.ErrInvalidInput,
			fmt.Sprintf("unknown period kind %q", p.Kind))
	}
}

// rankColumn returns the column written by a cohort scope.
func rankColumn(scope ranking.Scope) (string, error) {
	switch scope {
	case ranking.ScopeClassroom:
		return "classroom_rank", nil
	case ranking.ScopeGrade:
		return "grade_rank", nil
	default:
		return "", shared.NewDomainError("postgres", "rankColumn", shared.ErrInvalidInput,
			fmt.Sprintf("unknown scope %q", scope))
	}
}

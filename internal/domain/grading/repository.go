package grading

import (
	"context"
)

// ScoreRepository stores raw scores.
type ScoreRepository interface {
	// UpsertScore creates or replaces the score of (student, exam).
	UpsertScore(ctx context.Context, score *Score) error

	// GetScore returns the score of (student, exam) or shared.ErrNotFound.
	GetScore(ctx context.Context, studentCode, examCode string) (*Score, error)

	// ListScoreValues returns the values of every score the student has on
	// exams of the given subject and term.
	ListScoreValues(ctx context.Context, studentCode, subjectCode, termCode string) ([]float64, error)
}

// AverageRepository stores the four cached average records. Implementations
// route each call to the term or yearly table by Period.Kind.
type AverageRepository interface {
	// ──────────────────────────────────────────────────────────────────────────
	// PER SUBJECT
	// ──────────────────────────────────────────────────────────────────────────

	// UpsertSubjectAverage creates or replaces the record keyed by
	// (student, subject, period).
	UpsertSubjectAverage(ctx context.Context, avg SubjectAverage) error

	// ListSubjectAverages returns every subject record of the student for
	// the period.
	ListSubjectAverages(ctx context.Context, studentCode string, period Period) ([]SubjectAverage, error)

	// ListSubjectTermAverages returns the student's term records of one
	// subject for the given terms. Terms without a record are skipped.
	ListSubjectTermAverages(ctx context.Context, studentCode, subjectCode string, termCodes []string) ([]SubjectAverage, error)

	// ──────────────────────────────────────────────────────────────────────────
	// PER STUDENT
	// ──────────────────────────────────────────────────────────────────────────

	// UpsertStudentAverage writes average and tier of (student, period).
	// Rank fields of an existing record are left untouched.
	UpsertStudentAverage(ctx context.Context, avg StudentAverage) error

	// GetStudentAverage returns the record of (student, period) or
	// shared.ErrNotFound.
	GetStudentAverage(ctx context.Context, studentCode string, period Period) (*StudentAverage, error)

	// ListStudentAverages returns the records of the given students that
	// exist for the period.
	ListStudentAverages(ctx context.Context, period Period, studentCodes []string) ([]StudentAverage, error)
}

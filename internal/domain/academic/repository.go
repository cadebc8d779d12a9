package academic

import (
	"context"
)

// ══════════════════════════════════════════════════════════════════════════════
// REFERENCE REPOSITORY INTERFACE
// ══════════════════════════════════════════════════════════════════════════════

// ReferenceRepository gives read access to reference tables.
// Lookups return an error wrapping shared.ErrNotFound when the code is unknown
// and shared.ErrStorageFailure when the backend fails.
type ReferenceRepository interface {
	// ──────────────────────────────────────────────────────────────────────────
	// PERIODS
	// ──────────────────────────────────────────────────────────────────────────

	// GetExam returns the exam with the given code.
	GetExam(ctx context.Context, code string) (*Exam, error)

	// GetTerm returns the term with the given code.
	GetTerm(ctx context.Context, code string) (*Term, error)

	// GetSchoolYear returns the school year with the given code.
	GetSchoolYear(ctx context.Context, code string) (*SchoolYear, error)

	// ListTermCodes returns every term code of a school year, in no
	// particular order. An unknown year yields an empty slice.
	ListTermCodes(ctx context.Context, schoolYearCode string) ([]string, error)

	// ──────────────────────────────────────────────────────────────────────────
	// MEMBERSHIP
	// ──────────────────────────────────────────────────────────────────────────

	// GetStudent returns the student with the given code.
	GetStudent(ctx context.Context, code string) (*Student, error)

	// GetClassroom returns the classroom with the given code.
	GetClassroom(ctx context.Context, code string) (*Classroom, error)

	// GetGrade returns the grade with the given code.
	GetGrade(ctx context.Context, code string) (*Grade, error)

	// ListStudentsByClassroom returns the students placed in a classroom.
	ListStudentsByClassroom(ctx context.Context, classroomCode string) ([]Student, error)

	// ListClassroomCodesByGrade returns the classrooms attached to a grade.
	ListClassroomCodesByGrade(ctx context.Context, gradeCode string) ([]string, error)

	// ListStudentsByGrade returns the students of every classroom of a grade.
	ListStudentsByGrade(ctx context.Context, gradeCode string) ([]Student, error)

	// ListClassroomCodes returns every classroom. Used by full rebuilds.
	ListClassroomCodes(ctx context.Context) ([]string, error)

	// ListGradeCodes returns every grade. Used by full rebuilds.
	ListGradeCodes(ctx context.Context) ([]string, error)

	// ListSchoolYearCodes returns every school year. Used by scheduled rebuilds.
	ListSchoolYearCodes(ctx context.Context) ([]string, error)
}

// StudentCodes extracts the codes of the given students.
func StudentCodes(students []Student) []string {
	codes := make([]string, 0, len(students))
	for _, s := range students {
		codes = append(codes, s.Code)
	}
	return codes
}

// StudentNames indexes student names by code.
func StudentNames(students []Student) map[string]string {
	names := make(map[string]string, len(students))
	for _, s := range students {
		names[s.Code] = s.Name
	}
	return names
}

// Package academic holds the read-only reference data the grading core
// depends on: exams, terms, school years, students, classrooms and grades.
// The records are owned by the CRUD layer; this package only reads them.
package academic

import (
	"fmt"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// PERIODS
// ══════════════════════════════════════════════════════════════════════════════

// SchoolYear is the top-level period container, e.g. "2024-2025".
type SchoolYear struct {
	Code string
	Name string
}

// Term belongs to one school year. By convention a year has two terms.
type Term struct {
	Code           string
	Name           string
	SchoolYearCode string
	StartDate      time.Time
	EndDate        time.Time
}

// Contains reports whether t falls inside the term (inclusive).
func (t *Term) Contains(at time.Time) bool {
	if t.StartDate.IsZero() || t.EndDate.IsZero() {
		return false
	}
	return !at.Before(t.StartDate) && !at.After(t.EndDate)
}

// Exam belongs to one subject and one term.
type Exam struct {
	Code        string
	SubjectCode string
	TermCode    string
	Date        time.Time
}

// ══════════════════════════════════════════════════════════════════════════════
// COHORT MEMBERSHIP
// ══════════════════════════════════════════════════════════════════════════════

// Grade groups classrooms of the same level within one school year.
type Grade struct {
	Code           string
	Name           string
	SchoolYearCode string
}

// Classroom belongs to a grade. GradeCode may be empty for classrooms that
// were created before their grade was assigned.
type Classroom struct {
	Code      string
	Name      string
	GradeCode string
}

// HasGrade reports whether the classroom is attached to a grade.
func (c *Classroom) HasGrade() bool {
	return c.GradeCode != ""
}

// Student is a member of at most one classroom.
type Student struct {
	Code          string
	Name          string
	ClassroomCode string
}

// HasClassroom reports whether the student is placed in a classroom.
func (s *Student) HasClassroom() bool {
	return s.ClassroomCode != ""
}

// ══════════════════════════════════════════════════════════════════════════════
// RESOLVED KEYS
// ══════════════════════════════════════════════════════════════════════════════

// ExamContext is the result of resolving an exam code: the subject, term and
// school year every downstream aggregate is keyed by.
type ExamContext struct {
	ExamCode       string
	SubjectCode    string
	TermCode       string
	SchoolYearCode string
}

// String returns a compact representation for logging.
func (c ExamContext) String() string {
	return fmt.Sprintf("%s(%s/%s/%s)", c.ExamCode, c.SubjectCode, c.TermCode, c.SchoolYearCode)
}

// Placement describes where a student sits: its classroom and the grade of
// that classroom. Either field may be empty.
type Placement struct {
	StudentCode   string
	ClassroomCode string
	GradeCode     string
}

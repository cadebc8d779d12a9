package grading

import (
	"fmt"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// PERIOD
// ══════════════════════════════════════════════════════════════════════════════

// PeriodKind tells whether an aggregate covers a term or a whole school year.
type PeriodKind string

const (
	PeriodTerm PeriodKind = "term"
	PeriodYear PeriodKind = "year"
)

// Period is a term or a school year identified by its code.
type Period struct {
	Kind PeriodKind
	Code string
}

// TermPeriod returns the period of a term.
func TermPeriod(termCode string) Period {
	return Period{Kind: PeriodTerm, Code: termCode}
}

// YearPeriod returns the period of a school year.
func YearPeriod(schoolYearCode string) Period {
	return Period{Kind: PeriodYear, Code: schoolYearCode}
}

// IsTerm reports whether the period is a term.
func (p Period) IsTerm() bool {
	return p.Kind == PeriodTerm
}

// String returns "term:T1" or "year:2024-2025".
func (p Period) String() string {
	return fmt.Sprintf("%s:%s", p.Kind, p.Code)
}

// ══════════════════════════════════════════════════════════════════════════════
// AVERAGE RECORDS
// ══════════════════════════════════════════════════════════════════════════════

// SubjectAverage is a student's mean for one subject over a period.
// With a term period it is the SubjectTermAverage record (mean of scores);
// with a year period it is the SubjectYearlyAverage record (mean of that
// subject's term averages).
type SubjectAverage struct {
	StudentCode string
	SubjectCode string
	Period      Period
	Average     float64
	UpdatedAt   time.Time
}

// StudentAverage is a student's overall mean over a period, the unit of
// ranking. With a term period it is the StudentTermAverage record, with a
// year period the StudentYearlyAverage record.
//
// A rank of 0 means the record has not been ranked yet.
type StudentAverage struct {
	StudentCode   string
	Period        Period
	Average       float64
	Tier          PerformanceTier
	ClassroomRank int
	GradeRank     int
	UpdatedAt     time.Time
}

// NewStudentAverage builds a record with the tier derived from the average.
func NewStudentAverage(studentCode string, period Period, average float64) StudentAverage {
	return StudentAverage{
		StudentCode: studentCode,
		Period:      period,
		Average:     average,
		Tier:        Classify(average),
		UpdatedAt:   time.Now().UTC(),
	}
}

// IsRanked reports whether both ranks have been assigned.
func (a StudentAverage) IsRanked() bool {
	return a.ClassroomRank > 0 && a.GradeRank > 0
}

// Mean returns the arithmetic mean of values, or 0 for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// MeanOfSubjects averages the Average field of each record.
func MeanOfSubjects(records []SubjectAverage) float64 {
	values := make([]float64, 0, len(records))
	for _, r := range records {
		values = append(values, r.Average)
	}
	return Mean(values)
}

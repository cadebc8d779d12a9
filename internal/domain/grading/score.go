// Package grading contains the score and average model of the gradebook:
// raw scores, the four cached average records, performance tiers and the
// arithmetic used to derive them.
package grading

import (
	"math"
	"strings"
	"time"

	"github.com/mhieu102/N3-CCPTPM-S4/internal/domain/shared"
)

// Score bounds, inclusive.
const (
	MinScore = 0.0
	MaxScore = 10.0
)

// Score is the value a student got on one exam. Unique per (student, exam).
type Score struct {
	StudentCode string
	ExamCode    string
	Value       float64
	UpdatedAt   time.Time
}

// NewScore validates and builds a Score.
func NewScore(studentCode, examCode string, value float64) (*Score, error) {
	s := &Score{
		StudentCode: strings.TrimSpace(studentCode),
		ExamCode:    strings.TrimSpace(examCode),
		Value:       value,
		UpdatedAt:   time.Now().UTC(),
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks the score invariants.
func (s *Score) Validate() error {
	if s.StudentCode == "" {
		return shared.ErrEmptyStudent
	}
	if s.ExamCode == "" {
		return shared.ErrEmptyExam
	}
	if math.IsNaN(s.Value) || s.Value < MinScore || s.Value > MaxScore {
		return shared.ErrScoreOutOfRange
	}
	return nil
}

// Key identifies the score row.
func (s *Score) Key() string {
	return s.StudentCode + "/" + s.ExamCode
}

// Package ranking orders a cohort of students by average and assigns dense
// ranks. A cohort is either a classroom or a whole grade, for one term or one
// school year.
package ranking

import (
	"errors"
	"fmt"
	"sort"

	"github.com/mhieu102/N3-CCPTPM-S4/internal/domain/grading"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// Scope selects which rank field a cohort writes.
type Scope string

const (
	// ScopeClassroom ranks students of one classroom (classroom_rank).
	ScopeClassroom Scope = "classroom"
	// ScopeGrade ranks students of every classroom of a grade (grade_rank).
	ScopeGrade Scope = "grade"
)

// IsValid reports whether the scope is known.
func (s Scope) IsValid() bool {
	return s == ScopeClassroom || s == ScopeGrade
}

// Cohort identifies a ranked group: a classroom or grade within a period.
type Cohort struct {
	Scope  Scope
	Code   string
	Period grading.Period
}

// Key returns a stable identifier, e.g. "classroom:10A1:term:T1".
func (c Cohort) Key() string {
	return fmt.Sprintf("%s:%s:%s", c.Scope, c.Code, c.Period)
}

// String implements fmt.Stringer.
func (c Cohort) String() string {
	return c.Key()
}

// ══════════════════════════════════════════════════════════════════════════════
// ENTRY
// ══════════════════════════════════════════════════════════════════════════════

// Entry is one ranked student.
type Entry struct {
	StudentCode string
	Average     float64
	Rank        int
}

// ══════════════════════════════════════════════════════════════════════════════
// RANKING (Ranked List)
// ══════════════════════════════════════════════════════════════════════════════

// Ranking is the ordered list of a cohort.
type Ranking struct {
	entries []*Entry
	byCode  map[string]*Entry
}

// NewRanking creates an empty Ranking.
func NewRanking() *Ranking {
	return &Ranking{
		entries: make([]*Entry, 0),
		byCode:  make(map[string]*Entry),
	}
}

// FromAverages builds and sorts a ranking from the cohort's average records.
func FromAverages(records []grading.StudentAverage) (*Ranking, error) {
	r := NewRanking()
	for _, rec := range records {
		if err := r.Add(rec.StudentCode, rec.Average); err != nil {
			return nil, err
		}
	}
	r.Sort()
	return r, nil
}

// Add appends a student without sorting.
func (r *Ranking) Add(studentCode string, average float64) error {
	if studentCode == "" {
		return ErrEmptyStudentCode
	}
	if _, exists := r.byCode[studentCode]; exists {
		return ErrDuplicateStudent
	}

	e := &Entry{StudentCode: studentCode, Average: average}
	r.entries = append(r.entries, e)
	r.byCode[studentCode] = e
	return nil
}

// Sort orders entries by average descending, ties by ascending student code,
// and assigns ranks 1..N. Equal averages never share a rank.
func (r *Ranking) Sort() {
	sort.Slice(r.entries, func(i, j int) bool {
		if r.entries[i].Average != r.entries[j].Average {
			return r.entries[i].Average > r.entries[j].Average
		}
		return r.entries[i].StudentCode < r.entries[j].StudentCode
	})

	for i, e := range r.entries {
		e.Rank = i + 1
	}
}

// Get returns the entry of a student, or nil.
func (r *Ranking) Get(studentCode string) *Entry {
	return r.byCode[studentCode]
}

// RankOf returns the student's rank, or 0 when not in the cohort.
func (r *Ranking) RankOf(studentCode string) int {
	if e := r.byCode[studentCode]; e != nil {
		return e.Rank
	}
	return 0
}

// Count returns the number of entries.
func (r *Ranking) Count() int {
	return len(r.entries)
}

// IsEmpty reports whether the cohort has no ranked students.
func (r *Ranking) IsEmpty() bool {
	return len(r.entries) == 0
}

// Entries returns copies of all entries in rank order.
func (r *Ranking) Entries() []Entry {
	result := make([]Entry, len(r.entries))
	for i, e := range r.entries {
		result[i] = *e
	}
	return result
}

// Top returns the first n entries.
func (r *Ranking) Top(n int) []Entry {
	if n <= 0 {
		return nil
	}
	if n > len(r.entries) {
		n = len(r.entries)
	}
	return r.Entries()[:n]
}

// Assignments maps each student code to its rank.
func (r *Ranking) Assignments() map[string]int {
	out := make(map[string]int, len(r.entries))
	for _, e := range r.entries {
		out[e.StudentCode] = e.Rank
	}
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// DOMAIN ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrEmptyStudentCode - entry without a student code.
	ErrEmptyStudentCode = errors.New("ranking: student code cannot be empty")

	// ErrDuplicateStudent - student already present in the cohort.
	ErrDuplicateStudent = errors.New("ranking: student already in cohort")
)

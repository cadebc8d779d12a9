package ranking

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mhieu102/N3-CCPTPM-S4/internal/domain/grading"
)

func TestRanking_SortDenseWithCodeTieBreak(t *testing.T) {
	r, err := FromAverages([]grading.StudentAverage{
		{StudentCode: "S3", Average: 6.0},
		{StudentCode: "S2", Average: 9.0},
		{StudentCode: "S1", Average: 9.0},
		{StudentCode: "S4", Average: 7.5},
	})
	require.NoError(t, err)

	entries := r.Entries()
	require.Len(t, entries, 4)
	assert.Equal(t, "S1", entries[0].StudentCode)
	assert.Equal(t, "S2", entries[1].StudentCode)
	assert.Equal(t, "S4", entries[2].StudentCode)
	assert.Equal(t, "S3", entries[3].StudentCode)

	for i, e := range entries {
		assert.Equal(t, i+1, e.Rank)
	}
	assert.Equal(t, map[string]int{"S1": 1, "S2": 2, "S4": 3, "S3": 4}, r.Assignments())
}

func TestRanking_IsPermutation(t *testing.T) {
	var records []grading.StudentAverage
	for i, code := range []string{"A", "B", "C", "D", "E", "F"} {
		records = append(records, grading.StudentAverage{StudentCode: code, Average: float64(i % 3)})
	}
	r, err := FromAverages(records)
	require.NoError(t, err)

	seen := make(map[int]bool)
	for _, e := range r.Entries() {
		assert.False(t, seen[e.Rank], "rank %d assigned twice", e.Rank)
		seen[e.Rank] = true
	}
	for rank := 1; rank <= len(records); rank++ {
		assert.True(t, seen[rank], "rank %d missing", rank)
	}
}

func TestRanking_Errors(t *testing.T) {
	r := NewRanking()
	require.NoError(t, r.Add("S1", 5))
	assert.ErrorIs(t, r.Add("S1", 6), ErrDuplicateStudent)
	assert.ErrorIs(t, r.Add("", 6), ErrEmptyStudentCode)
}

func TestRanking_Empty(t *testing.T) {
	r, err := FromAverages(nil)
	require.NoError(t, err)
	assert.True(t, r.IsEmpty())
	assert.Nil(t, r.Top(3))
	assert.Equal(t, 0, r.RankOf("S1"))
}

func TestCohort_Key(t *testing.T) {
	c := Cohort{Scope: ScopeGrade, Code: "G10", Period: grading.YearPeriod("2024-2025")}
	assert.Equal(t, "grade:G10:year:2024-2025", c.Key())
}

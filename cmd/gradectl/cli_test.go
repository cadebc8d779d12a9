package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/mhieu102/N3-CCPTPM-S4/internal/application/query"
	"github.com/mhieu102/N3-CCPTPM-S4/internal/domain/academic"
	"github.com/mhieu102/N3-CCPTPM-S4/internal/domain/grading"
	"github.com/mhieu102/N3-CCPTPM-S4/internal/domain/shared"
	"github.com/mhieu102/N3-CCPTPM-S4/internal/infrastructure/persistence/memory"
	"github.com/mhieu102/N3-CCPTPM-S4/pkg/logger"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const scoresCSV = `student_code,exam_code,value,comment
S1,MATH-T1,9,
S1,LIT-T1,8,
S2,MATH-T1,6,retake
S2,LIT-T1,7,
S3,MATH-T1,7.5,
`

// useMemoryBackend points every command at a seeded in-memory store and
// resets the global flags.
func useMemoryBackend(t *testing.T) *memory.Store {
	t.Helper()

	s := memory.NewStore()
	s.PutSchoolYear(academic.SchoolYear{Code: "Y24", Name: "2024-2025"})
	s.PutTerm(academic.Term{Code: "T1", SchoolYearCode: "Y24"})
	s.PutTerm(academic.Term{Code: "T2", SchoolYearCode: "Y24"})
	s.PutGrade(academic.Grade{Code: "G10", SchoolYearCode: "Y24"})
	s.PutClassroom(academic.Classroom{Code: "C1", GradeCode: "G10"})
	s.PutClassroom(academic.Classroom{Code: "C2", GradeCode: "G10"})
	s.PutStudent(academic.Student{Code: "S1", Name: "An", ClassroomCode: "C1"})
	s.PutStudent(academic.Student{Code: "S2", Name: "Binh", ClassroomCode: "C1"})
	s.PutStudent(academic.Student{Code: "S3", Name: "Chi", ClassroomCode: "C2"})
	s.PutExam(academic.Exam{Code: "MATH-T1", SubjectCode: "MATH", TermCode: "T1"})
	s.PutExam(academic.Exam{Code: "LIT-T1", SubjectCode: "LIT", TermCode: "T1"})

	prevOpen, prevCfg, prevLog := openBackend, cfg, log
	openBackend = func(context.Context) (*backend, error) { return newBackend(s, nil), nil }
	cfg, log = nil, logger.Discard()
	output, reportTerm, reportTier, importFormat = outputTable, "", "", ""

	t.Cleanup(func() {
		openBackend, cfg, log = prevOpen, prevCfg, prevLog
		output = outputTable
	})
	return s
}

func execute(t *testing.T, run func(*cobra.Command, []string) error, args ...string) (string, error) {
	t.Helper()
	cmd := &cobra.Command{}
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetContext(context.Background())
	err := run(cmd, args)
	return out.String(), err
}

func importScores(t *testing.T) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scores.csv")
	require.NoError(t, os.WriteFile(path, []byte(scoresCSV), 0o600))

	out, err := execute(t, runImport, path)
	require.NoError(t, err)
	assert.Contains(t, out, "written 5 score(s), 5 unique chain(s): 5 succeeded, 0 failed")
}

// ══════════════════════════════════════════════════════════════════════════════
// IMPORT & RANKINGS
// ══════════════════════════════════════════════════════════════════════════════

func TestImportThenGradeRankings(t *testing.T) {
	useMemoryBackend(t)
	importScores(t)

	output, reportTerm = outputJSON, "T1"
	out, err := execute(t, runRankings, "grade", "G10")
	require.NoError(t, err)

	var res query.RankingResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "T1", res.PeriodCode)
	assert.Equal(t, 3, res.TotalStudents)
	require.Len(t, res.Rankings, 3)

	var codes []string
	for _, r := range res.Rankings {
		codes = append(codes, r.StudentCode)
	}
	assert.Equal(t, []string{"S1", "S3", "S2"}, codes)
	assert.Equal(t, 1, res.Rankings[0].Rank)
	assert.Equal(t, 3, res.Rankings[2].Rank)
	assert.InDelta(t, 8.5, res.Rankings[0].Average, 1e-9)
}

func TestClassroomYearlyRankingsTable(t *testing.T) {
	useMemoryBackend(t)
	importScores(t)

	out, err := execute(t, runRankings, "Classroom", "C1")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "classroom C1, Y24: 2 ranked of 2 students (store)", lines[0])
	assert.Equal(t, []string{"RANK", "STUDENT", "NAME", "AVERAGE"}, strings.Fields(lines[1]))
	assert.Equal(t, []string{"1", "S1", "An", "8.50"}, strings.Fields(lines[2]))
	assert.Equal(t, []string{"2", "S2", "Binh", "6.50"}, strings.Fields(lines[3]))
}

func TestImportRejectsWholeFileOnInvalidRow(t *testing.T) {
	s := useMemoryBackend(t)
	path := filepath.Join(t.TempDir(), "scores.json")
	body := `[{"student_code":"S1","exam_code":"MATH-T1","value":9},
	          {"student_code":"S1","exam_code":"NOPE","value":8},
	          {"student_code":"S2","exam_code":"MATH-T1","value":11}]`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	_, err := execute(t, runImport, path)
	require.Error(t, err)
	assert.True(t, shared.IsValidation(err))
	assert.Equal(t, exitInvalid, exitCode(err))

	_, err = s.GetScore(context.Background(), "S1", "MATH-T1")
	assert.True(t, shared.IsNotFound(err))
}

func TestRankingsErrors(t *testing.T) {
	useMemoryBackend(t)

	_, err := execute(t, runRankings, "school", "G10")
	assert.Equal(t, exitInvalid, exitCode(err))

	_, err = execute(t, runRankings, "grade", "G99")
	assert.Equal(t, exitNotFound, exitCode(err))

	// Nothing ranked yet.
	_, err = execute(t, runRankings, "grade", "G10")
	assert.Equal(t, exitNotFound, exitCode(err))

	output = "yaml"
	_, err = execute(t, runRankings, "grade", "G10")
	assert.ErrorContains(t, err, "unknown output format")
}

// ══════════════════════════════════════════════════════════════════════════════
// SCORE, RECOMPUTE, REBUILD
// ══════════════════════════════════════════════════════════════════════════════

func TestScoreSetRunsChainInline(t *testing.T) {
	s := useMemoryBackend(t)
	scoreStudent, scoreExam, scoreValue = "S1", "MATH-T1", 9

	out, err := execute(t, runScoreSet)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "stored S1/MATH-T1 = 9.00 (event "))

	avg, err := s.GetStudentAverage(context.Background(), "S1", grading.TermPeriod("T1"))
	require.NoError(t, err)
	assert.InDelta(t, 9.0, avg.Average, 1e-9)
	assert.Equal(t, 1, avg.ClassroomRank)
	assert.Equal(t, 1, avg.GradeRank)

	yearly, err := s.GetStudentAverage(context.Background(), "S1", grading.YearPeriod("Y24"))
	require.NoError(t, err)
	assert.Equal(t, grading.TierExcellent, yearly.Tier)
}

func TestScoreSetRejectsOutOfRangeValue(t *testing.T) {
	useMemoryBackend(t)
	scoreStudent, scoreExam, scoreValue = "S1", "MATH-T1", 10.5

	_, err := execute(t, runScoreSet)
	assert.Equal(t, exitInvalid, exitCode(err))
}

func TestRecompute(t *testing.T) {
	useMemoryBackend(t)
	importScores(t)
	recomputeStudent, recomputeExam = "S2", "LIT-T1"

	out, err := execute(t, runRecompute)
	require.NoError(t, err)
	assert.Equal(t, "recomputed S2/LIT-T1\n", out)

	recomputeExam = "MISSING"
	_, err = execute(t, runRecompute)
	assert.Error(t, err)
}

func TestRebuildTerm(t *testing.T) {
	useMemoryBackend(t)
	importScores(t)

	output = outputJSON
	out, err := execute(t, rebuildTermCmd.RunE, "T1")
	require.NoError(t, err)

	var rows []struct {
		Period  string `json:"period"`
		Cohorts int    `json:"cohorts"`
		Ranked  int    `json:"ranked"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, grading.TermPeriod("T1").String(), rows[0].Period)
	assert.Equal(t, 3, rows[0].Cohorts)
}

func TestMigrateNeedsPostgres(t *testing.T) {
	useMemoryBackend(t)
	_, err := execute(t, runMigrateUp)
	assert.ErrorIs(t, err, errNoMigrator)
}

// ══════════════════════════════════════════════════════════════════════════════
// PERFORMANCE
// ══════════════════════════════════════════════════════════════════════════════

func TestPerformanceByReportLabel(t *testing.T) {
	useMemoryBackend(t)
	importScores(t)
	reportTerm, reportTier = "T1", "Khá"

	out, err := execute(t, runPerformance, "grade", "G10")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "grade G10, T1: 2 student(s) rated Good", lines[0])
	assert.Equal(t, []string{"S3", "Chi", "7.50", "Khá"}, strings.Fields(lines[2]))
	assert.Equal(t, []string{"S2", "Binh", "6.50", "Khá"}, strings.Fields(lines[3]))
}

func TestPerformanceUnknownTier(t *testing.T) {
	useMemoryBackend(t)
	importScores(t)
	reportTier = "Brilliant"

	_, err := execute(t, runPerformance, "classroom", "C1")
	assert.Equal(t, exitInvalid, exitCode(err))
}

// ══════════════════════════════════════════════════════════════════════════════
// SCORE FILES
// ══════════════════════════════════════════════════════════════════════════════

func TestReadScoreFile(t *testing.T) {
	t.Run("csv from stdin", func(t *testing.T) {
		rows, err := readScoreFile(strings.NewReader(scoresCSV), "-", "csv")
		require.NoError(t, err)
		require.Len(t, rows, 5)
		assert.Equal(t, "S3", rows[4].StudentCode)
		assert.InDelta(t, 7.5, rows[4].Value, 1e-9)
	})

	t.Run("json from stdin", func(t *testing.T) {
		rows, err := readScoreFile(strings.NewReader(`[{"student_code":"S1","exam_code":"E","value":4.25}]`), "-", "json")
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "E", rows[0].ExamCode)
	})

	tests := []struct {
		name   string
		body   string
		format string
		errMsg string
	}{
		{"missing column", "student_code,value\nS1,9\n", "csv", `missing column "exam_code"`},
		{"bad value", "student_code,exam_code,value\nS1,E,nine\n", "csv", `line 2: invalid value "nine"`},
		{"empty csv", "", "csv", "empty file"},
		{"bad json", "{", "json", "decode json scores"},
		{"unknown format", "", "xlsx", `unknown score file format "xlsx"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := readScoreFile(strings.NewReader(tt.body), "-", tt.format)
			assert.ErrorContains(t, err, tt.errMsg)
		})
	}
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, exitFailure, exitCode(errors.New("boom")))
	assert.Equal(t, exitInvalid, exitCode(shared.NewDomainError("x", "op", shared.ErrInvalidInput, "bad")))
	assert.Equal(t, exitNotFound, exitCode(shared.NewDomainError("x", "op", shared.ErrNotFound, "gone")))
	assert.Equal(t, exitStorage, exitCode(shared.StorageFailure("x", "op", errors.New("down"))))
}

package aggregation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/mhieu102/N3-CCPTPM-S4/internal/domain/academic"
	"github.com/mhieu102/N3-CCPTPM-S4/internal/domain/grading"
	"github.com/mhieu102/N3-CCPTPM-S4/internal/domain/ranking"
	"github.com/mhieu102/N3-CCPTPM-S4/internal/domain/shared"
	"github.com/mhieu102/N3-CCPTPM-S4/internal/infrastructure/persistence/memory"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// ═══════════════════════════════════════════════════════════════════════════
// FIXTURES
// ═══════════════════════════════════════════════════════════════════════════

// newSchool seeds one school year with two terms, one grade with two
// classrooms, a classroom without grade and a student without classroom.
//
//	G10: C1 {S1, S2}, C2 {S3}
//	C3 (no grade): {S4}
//	S5: no classroom
func newSchool() *memory.Store {
	s := memory.NewStore()
	s.PutSchoolYear(academic.SchoolYear{Code: "Y24", Name: "2024-2025"})
	s.PutTerm(academic.Term{Code: "T1", SchoolYearCode: "Y24"})
	s.PutTerm(academic.Term{Code: "T2", SchoolYearCode: "Y24"})
	s.PutTerm(academic.Term{Code: "TX"})

	s.PutGrade(academic.Grade{Code: "G10", SchoolYearCode: "Y24"})
	s.PutClassroom(academic.Classroom{Code: "C1", GradeCode: "G10"})
	s.PutClassroom(academic.Classroom{Code: "C2", GradeCode: "G10"})
	s.PutClassroom(academic.Classroom{Code: "C3"})

	s.PutStudent(academic.Student{Code: "S1", Name: "An", ClassroomCode: "C1"})
	s.PutStudent(academic.Student{Code: "S2", Name: "Binh", ClassroomCode: "C1"})
	s.PutStudent(academic.Student{Code: "S3", Name: "Chi", ClassroomCode: "C2"})
	s.PutStudent(academic.Student{Code: "S4", Name: "Dung", ClassroomCode: "C3"})
	s.PutStudent(academic.Student{Code: "S5", Name: "Em"})

	s.PutExam(academic.Exam{Code: "MATH-T1-A", SubjectCode: "MATH", TermCode: "T1"})
	s.PutExam(academic.Exam{Code: "MATH-T1-B", SubjectCode: "MATH", TermCode: "T1"})
	s.PutExam(academic.Exam{Code: "LIT-T1", SubjectCode: "LIT", TermCode: "T1"})
	s.PutExam(academic.Exam{Code: "MATH-T2", SubjectCode: "MATH", TermCode: "T2"})
	s.PutExam(academic.Exam{Code: "ORPHAN", SubjectCode: "MATH", TermCode: "T-MISSING"})
	s.PutExam(academic.Exam{Code: "NO-YEAR", SubjectCode: "MATH", TermCode: "TX"})
	return s
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newEngine(store *memory.Store, opts ...Option) *Engine {
	return NewEngine(Repositories{
		References: store,
		Scores:     store,
		Averages:   store,
		Ranks:      store,
	}, DefaultConfig(), quietLogger(), opts...)
}

// score writes a score and runs the chain the way the write path does.
func score(t *testing.T, e *Engine, s *memory.Store, student, exam string, value float64) {
	t.Helper()
	sc, err := grading.NewScore(student, exam, value)
	require.NoError(t, err)
	require.NoError(t, s.UpsertScore(context.Background(), sc))
	require.NoError(t, e.Recompute(context.Background(), student, exam))
}

func termAvg(t *testing.T, s *memory.Store, student, term string) *grading.StudentAverage {
	t.Helper()
	avg, err := s.GetStudentAverage(context.Background(), student, grading.TermPeriod(term))
	require.NoError(t, err)
	return avg
}

func yearAvg(t *testing.T, s *memory.Store, student, year string) *grading.StudentAverage {
	t.Helper()
	avg, err := s.GetStudentAverage(context.Background(), student, grading.YearPeriod(year))
	require.NoError(t, err)
	return avg
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []shared.Event
}

func (p *recordingPublisher) Publish(e shared.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) count(t shared.EventType) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.EventType() == t {
			n++
		}
	}
	return n
}

type recordingCache struct {
	mu     sync.Mutex
	stored map[string][]ranking.Entry
	err    error
}

func (c *recordingCache) Store(_ context.Context, cohort ranking.Cohort, entries []ranking.Entry, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	if c.stored == nil {
		c.stored = make(map[string][]ranking.Entry)
	}
	c.stored[cohort.Key()] = entries
	return nil
}

func (c *recordingCache) Load(_ context.Context, cohort ranking.Cohort) ([]ranking.Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.stored[cohort.Key()]; ok {
		return e, nil
	}
	return nil, ranking.ErrCacheMiss
}

func (c *recordingCache) Invalidate(_ context.Context, cohort ranking.Cohort) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.stored, cohort.Key())
	return nil
}

// ═══════════════════════════════════════════════════════════════════════════
// SCENARIOS
// ═══════════════════════════════════════════════════════════════════════════

func TestRecompute_SubjectMeanAndTier(t *testing.T) {
	s := newSchool()
	e := newEngine(s)

	score(t, e, s, "S1", "MATH-T1-A", 8)
	score(t, e, s, "S1", "MATH-T1-B", 6)

	subjects, err := s.ListSubjectAverages(context.Background(), "S1", grading.TermPeriod("T1"))
	require.NoError(t, err)
	require.Len(t, subjects, 1)
	assert.Equal(t, 7.0, subjects[0].Average)

	avg := termAvg(t, s, "S1", "T1")
	assert.Equal(t, 7.0, avg.Average)
	assert.Equal(t, grading.TierGood, avg.Tier)
	assert.Equal(t, 1, avg.ClassroomRank)
	assert.Equal(t, 1, avg.GradeRank)
}

func TestRecompute_AbsentSubjectsDoNotCountAsZero(t *testing.T) {
	s := newSchool()
	e := newEngine(s)

	score(t, e, s, "S1", "MATH-T1-A", 9)

	avg := termAvg(t, s, "S1", "T1")
	assert.Equal(t, 9.0, avg.Average)
	assert.Equal(t, grading.TierExcellent, avg.Tier)

	score(t, e, s, "S1", "LIT-T1", 5)
	assert.Equal(t, 7.0, termAvg(t, s, "S1", "T1").Average)
}

func TestRecompute_TieBrokenByStudentCode(t *testing.T) {
	s := newSchool()
	e := newEngine(s)

	score(t, e, s, "S2", "MATH-T1-A", 9)
	score(t, e, s, "S1", "MATH-T1-A", 9)

	assert.Equal(t, 1, termAvg(t, s, "S1", "T1").ClassroomRank)
	assert.Equal(t, 2, termAvg(t, s, "S2", "T1").ClassroomRank)
}

func TestRecompute_OtherStudentChangeReranksWholeCohort(t *testing.T) {
	s := newSchool()
	e := newEngine(s)

	score(t, e, s, "S1", "MATH-T1-A", 9)
	score(t, e, s, "S2", "MATH-T1-A", 8)
	assert.Equal(t, 1, termAvg(t, s, "S1", "T1").ClassroomRank)
	assert.Equal(t, 2, termAvg(t, s, "S2", "T1").ClassroomRank)

	score(t, e, s, "S2", "MATH-T1-A", 10)

	assert.Equal(t, 2, termAvg(t, s, "S1", "T1").ClassroomRank)
	assert.Equal(t, 1, termAvg(t, s, "S2", "T1").ClassroomRank)
	assert.Equal(t, 2, yearAvg(t, s, "S1", "Y24").ClassroomRank)
	assert.Equal(t, 1, yearAvg(t, s, "S2", "Y24").ClassroomRank)
}

func TestRecompute_GradeCohortSpansClassrooms(t *testing.T) {
	s := newSchool()
	e := newEngine(s)

	score(t, e, s, "S1", "MATH-T1-A", 6)
	score(t, e, s, "S2", "MATH-T1-A", 7)
	score(t, e, s, "S3", "MATH-T1-A", 9)

	assert.Equal(t, 1, termAvg(t, s, "S3", "T1").ClassroomRank)
	assert.Equal(t, 1, termAvg(t, s, "S3", "T1").GradeRank)
	assert.Equal(t, 1, termAvg(t, s, "S2", "T1").ClassroomRank)
	assert.Equal(t, 2, termAvg(t, s, "S2", "T1").GradeRank)
	assert.Equal(t, 2, termAvg(t, s, "S1", "T1").ClassroomRank)
	assert.Equal(t, 3, termAvg(t, s, "S1", "T1").GradeRank)
}

func TestRecompute_YearlyAverages(t *testing.T) {
	s := newSchool()
	e := newEngine(s)

	score(t, e, s, "S1", "MATH-T1-A", 8)
	score(t, e, s, "S1", "MATH-T1-B", 6) // MATH T1 = 7
	score(t, e, s, "S1", "MATH-T2", 9)   // MATH T2 = 9
	score(t, e, s, "S1", "LIT-T1", 6)    // LIT T1 = 6

	yearSubjects, err := s.ListSubjectAverages(context.Background(), "S1", grading.YearPeriod("Y24"))
	require.NoError(t, err)
	require.Len(t, yearSubjects, 2)
	assert.Equal(t, "LIT", yearSubjects[0].SubjectCode)
	assert.Equal(t, 6.0, yearSubjects[0].Average)
	assert.Equal(t, "MATH", yearSubjects[1].SubjectCode)
	assert.Equal(t, 8.0, yearSubjects[1].Average)

	avg := yearAvg(t, s, "S1", "Y24")
	assert.Equal(t, 7.0, avg.Average)
	assert.Equal(t, grading.TierGood, avg.Tier)
	assert.Equal(t, 1, avg.ClassroomRank)

	assert.Equal(t, 6.5, termAvg(t, s, "S1", "T1").Average)
	assert.Equal(t, 9.0, termAvg(t, s, "S1", "T2").Average)
}

func TestRecompute_Idempotent(t *testing.T) {
	s := newSchool()
	e := newEngine(s)
	ctx := context.Background()

	score(t, e, s, "S1", "MATH-T1-A", 7.5)
	score(t, e, s, "S2", "MATH-T1-A", 4)
	before, err := s.ListStudentAverages(ctx, grading.TermPeriod("T1"), []string{"S1", "S2"})
	require.NoError(t, err)

	require.NoError(t, e.Recompute(ctx, "S1", "MATH-T1-A"))
	require.NoError(t, e.Recompute(ctx, "S1", "MATH-T1-A"))

	after, err := s.ListStudentAverages(ctx, grading.TermPeriod("T1"), []string{"S1", "S2"})
	require.NoError(t, err)
	require.Len(t, after, len(before))
	for i := range before {
		assert.Equal(t, before[i].Average, after[i].Average)
		assert.Equal(t, before[i].Tier, after[i].Tier)
		assert.Equal(t, before[i].ClassroomRank, after[i].ClassroomRank)
		assert.Equal(t, before[i].GradeRank, after[i].GradeRank)
	}
}

func TestRecompute_ReplayMatchesIncremental(t *testing.T) {
	incremental := newSchool()
	e := newEngine(incremental)
	score(t, e, incremental, "S1", "MATH-T1-A", 3)
	score(t, e, incremental, "S1", "MATH-T1-A", 8)
	score(t, e, incremental, "S1", "LIT-T1", 5)

	replayed := newSchool()
	ctx := context.Background()
	for _, sc := range []struct {
		exam  string
		value float64
	}{{"MATH-T1-A", 8}, {"LIT-T1", 5}} {
		require.NoError(t, replayed.UpsertScore(ctx, &grading.Score{StudentCode: "S1", ExamCode: sc.exam, Value: sc.value}))
	}
	r := newEngine(replayed)
	require.NoError(t, r.Recompute(ctx, "S1", "LIT-T1"))
	require.NoError(t, r.Recompute(ctx, "S1", "MATH-T1-A"))

	assert.Equal(t, termAvg(t, incremental, "S1", "T1").Average, termAvg(t, replayed, "S1", "T1").Average)
	assert.Equal(t, yearAvg(t, incremental, "S1", "Y24").Average, yearAvg(t, replayed, "S1", "Y24").Average)
}

// ═══════════════════════════════════════════════════════════════════════════
// EDGE CASES
// ═══════════════════════════════════════════════════════════════════════════

func TestRecompute_UnknownExam(t *testing.T) {
	s := newSchool()
	e := newEngine(s)

	err := e.Recompute(context.Background(), "S1", "NOPE")
	require.Error(t, err)
	assert.True(t, shared.IsReferenceNotFound(err))
	assert.Equal(t, StageResolve, FailedStage(err))
	assert.Zero(t, s.Calls("UpsertSubjectAverage"))
	assert.Zero(t, s.Calls("UpsertStudentAverage"))
}

func TestRecompute_UnknownTermOrYear(t *testing.T) {
	s := newSchool()
	e := newEngine(s)

	err := e.Recompute(context.Background(), "S1", "ORPHAN")
	assert.True(t, shared.IsReferenceNotFound(err))

	err = e.Recompute(context.Background(), "S1", "NO-YEAR")
	assert.True(t, shared.IsReferenceNotFound(err))

	s.PutTerm(academic.Term{Code: "TG", SchoolYearCode: "GHOST"})
	s.PutExam(academic.Exam{Code: "GHOST-EXAM", SubjectCode: "MATH", TermCode: "TG"})
	err = e.Recompute(context.Background(), "S1", "GHOST-EXAM")
	assert.True(t, shared.IsReferenceNotFound(err))
	assert.Equal(t, StageResolve, FailedStage(err))
	assert.Equal(t, 1, s.Calls("GetSchoolYear"))

	assert.Zero(t, s.Calls("UpsertSubjectAverage"))
	assert.Zero(t, s.Calls("UpsertStudentAverage"))
}

func TestRecompute_StorageFailureKeepsEarlierStages(t *testing.T) {
	s := newSchool()
	e := newEngine(s)
	ctx := context.Background()

	require.NoError(t, s.UpsertScore(ctx, &grading.Score{StudentCode: "S1", ExamCode: "MATH-T1-A", Value: 8}))
	s.FailOn("ReplaceRanks", errors.New("connection reset"))

	err := e.Recompute(ctx, "S1", "MATH-T1-A")
	require.Error(t, err)
	assert.True(t, shared.IsStorageFailure(err))
	assert.True(t, shared.IsRetryable(err))
	assert.Equal(t, StageTermRanking, FailedStage(err))

	// stages 2 and 3 stay committed
	avg := termAvg(t, s, "S1", "T1")
	assert.Equal(t, 8.0, avg.Average)
	assert.Equal(t, 0, avg.ClassroomRank)

	// stage 5 never ran
	yearly, err := s.ListSubjectAverages(ctx, "S1", grading.YearPeriod("Y24"))
	require.NoError(t, err)
	assert.Empty(t, yearly)

	// caller retries once storage is back
	s.FailOn("ReplaceRanks", nil)
	require.NoError(t, e.Recompute(ctx, "S1", "MATH-T1-A"))
	assert.Equal(t, 1, termAvg(t, s, "S1", "T1").ClassroomRank)
}

func TestRecompute_StudentWithoutClassroomIsNotRanked(t *testing.T) {
	s := newSchool()
	e := newEngine(s)

	score(t, e, s, "S5", "MATH-T1-A", 8)

	avg := termAvg(t, s, "S5", "T1")
	assert.Equal(t, 8.0, avg.Average)
	assert.Equal(t, 0, avg.ClassroomRank)
	assert.Equal(t, 0, avg.GradeRank)
}

func TestRecompute_ClassroomWithoutGradeRanksClassroomOnly(t *testing.T) {
	s := newSchool()
	e := newEngine(s)

	score(t, e, s, "S4", "MATH-T1-A", 5)

	avg := termAvg(t, s, "S4", "T1")
	assert.Equal(t, 1, avg.ClassroomRank)
	assert.Equal(t, 0, avg.GradeRank)
	assert.Equal(t, grading.TierAverage, avg.Tier)
}

func TestRecompute_StudentsWithoutRecordGetNoRank(t *testing.T) {
	s := newSchool()
	e := newEngine(s)

	score(t, e, s, "S2", "MATH-T1-A", 5)

	_, err := s.GetStudentAverage(context.Background(), "S1", grading.TermPeriod("T1"))
	assert.True(t, shared.IsNotFound(err))
	assert.Equal(t, 1, termAvg(t, s, "S2", "T1").ClassroomRank)
}

func TestRecompute_PublishesEventsAndCachesRankings(t *testing.T) {
	s := newSchool()
	pub := &recordingPublisher{}
	cache := &recordingCache{}
	e := newEngine(s, WithPublisher(pub), WithRankingCache(cache))

	score(t, e, s, "S1", "MATH-T1-A", 8)
	score(t, e, s, "S2", "MATH-T1-A", 9)

	assert.Equal(t, 2, pub.count(shared.EventAveragesRecomputed))
	// classroom + grade, term + year, per trigger
	assert.Equal(t, 8, pub.count(shared.EventRankingUpdated))

	cohort := ranking.Cohort{Scope: ranking.ScopeClassroom, Code: "C1", Period: grading.TermPeriod("T1")}
	entries, err := cache.Load(context.Background(), cohort)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "S2", entries[0].StudentCode)
	assert.Equal(t, 1, entries[0].Rank)
}

func TestRecompute_CacheFailureIsNotFatal(t *testing.T) {
	s := newSchool()
	e := newEngine(s, WithRankingCache(&recordingCache{err: errors.New("redis down")}))

	score(t, e, s, "S1", "MATH-T1-A", 8)
	assert.Equal(t, 1, termAvg(t, s, "S1", "T1").ClassroomRank)
}

// ═══════════════════════════════════════════════════════════════════════════
// BULK & REBUILD
// ═══════════════════════════════════════════════════════════════════════════

func TestRecomputeBulk_DeduplicatesKeys(t *testing.T) {
	s := newSchool()
	e := newEngine(s)
	ctx := context.Background()

	writes := []grading.Score{
		{StudentCode: "S1", ExamCode: "MATH-T1-A", Value: 8},
		{StudentCode: "S1", ExamCode: "MATH-T1-B", Value: 6},
		{StudentCode: "S2", ExamCode: "MATH-T1-A", Value: 9},
		{StudentCode: "S3", ExamCode: "LIT-T1", Value: 4},
	}
	triggers := make([]Trigger, 0, len(writes))
	for i := range writes {
		require.NoError(t, s.UpsertScore(ctx, &writes[i]))
		triggers = append(triggers, Trigger{StudentCode: writes[i].StudentCode, ExamCode: writes[i].ExamCode})
	}

	report, err := e.RecomputeBulk(ctx, triggers)
	require.NoError(t, err)
	assert.Equal(t, 4, report.Triggers)
	assert.Equal(t, 3, report.UniqueKeys)
	assert.Equal(t, 3, report.Succeeded)
	assert.Equal(t, 0, report.Failed)
	assert.Equal(t, 3, s.Calls("ListScoreValues"))
	// C1, C2, G10 for term and year
	assert.Equal(t, 6, report.Settled)

	assert.Equal(t, 7.0, termAvg(t, s, "S1", "T1").Average)
	assert.Equal(t, 1, termAvg(t, s, "S2", "T1").ClassroomRank)
	assert.Equal(t, 2, termAvg(t, s, "S1", "T1").ClassroomRank)
	assert.Equal(t, 3, termAvg(t, s, "S3", "T1").GradeRank)
}

func TestRecomputeBulk_ReportsFailuresAndContinues(t *testing.T) {
	s := newSchool()
	e := newEngine(s)
	ctx := context.Background()

	require.NoError(t, s.UpsertScore(ctx, &grading.Score{StudentCode: "S1", ExamCode: "MATH-T1-A", Value: 8}))

	report, err := e.RecomputeBulk(ctx, []Trigger{
		{StudentCode: "S1", ExamCode: "MATH-T1-A"},
		{StudentCode: "S2", ExamCode: "NOPE"},
	})
	require.Error(t, err)
	assert.True(t, shared.IsReferenceNotFound(err))
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 1, termAvg(t, s, "S1", "T1").ClassroomRank)
}

func TestRebuildTerm_RestoresRanks(t *testing.T) {
	s := newSchool()
	e := newEngine(s)
	ctx := context.Background()

	score(t, e, s, "S1", "MATH-T1-A", 8)
	score(t, e, s, "S2", "MATH-T1-A", 9)
	require.NoError(t, s.ReplaceRanks(ctx, grading.TermPeriod("T1"), ranking.ScopeClassroom, map[string]int{"S1": 7, "S2": 7}))

	stats, err := e.RebuildTerm(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Cohorts) // C1, C2, C3, G10
	assert.Equal(t, 2, stats.Ranked)  // C1, G10
	assert.Equal(t, 2, stats.Skipped)
	assert.Equal(t, 2, stats.Students)

	assert.Equal(t, 2, termAvg(t, s, "S1", "T1").ClassroomRank)
	assert.Equal(t, 1, termAvg(t, s, "S2", "T1").ClassroomRank)
}

func TestRebuild_UnknownPeriod(t *testing.T) {
	e := newEngine(newSchool())

	_, err := e.RebuildTerm(context.Background(), "T9")
	assert.True(t, shared.IsReferenceNotFound(err))

	_, err = e.RebuildYear(context.Background(), "Y99")
	assert.True(t, shared.IsReferenceNotFound(err))
}

func TestRankCohort_EmptyCohort(t *testing.T) {
	e := newEngine(newSchool())

	_, err := e.RankCohort(context.Background(), ranking.Cohort{
		Scope: ranking.ScopeClassroom, Code: "C2", Period: grading.TermPeriod("T1"),
	})
	assert.True(t, shared.IsEmptyCohort(err))
}

func TestRebuildAll_CoversEveryTermAndYear(t *testing.T) {
	s := newSchool()
	e := newEngine(s)

	score(t, e, s, "S1", "MATH-T1-A", 8)
	score(t, e, s, "S2", "MATH-T2", 6)

	stats, err := e.RebuildAll(context.Background())
	require.NoError(t, err)
	require.Len(t, stats, 3)
	assert.Equal(t, grading.TermPeriod("T1"), stats[0].Period)
	assert.Equal(t, grading.TermPeriod("T2"), stats[1].Period)
	assert.Equal(t, grading.YearPeriod("Y24"), stats[2].Period)
	assert.Equal(t, 2, stats[2].Students)
}

func TestRebuildAll_StorageFailure(t *testing.T) {
	s := newSchool()
	e := newEngine(s)
	s.FailOn("ListSchoolYearCodes", errors.New("db down"))

	_, err := e.RebuildAll(context.Background())
	assert.True(t, shared.IsStorageFailure(err))
}

// ═══════════════════════════════════════════════════════════════════════════
// CONCURRENCY
// ═══════════════════════════════════════════════════════════════════════════

// slowRoster delays classroom listings until the wait elapses or ctx ends.
type slowRoster struct {
	*memory.Store
	wait time.Duration
}

func (r slowRoster) ListStudentsByClassroom(ctx context.Context, classroomCode string) ([]academic.Student, error) {
	select {
	case <-time.After(r.wait):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return r.Store.ListStudentsByClassroom(ctx, classroomCode)
}

func TestRecompute_CallerDeadlineDoesNotFailOtherChains(t *testing.T) {
	s := newSchool()
	e := NewEngine(Repositories{
		References: slowRoster{Store: s, wait: 200 * time.Millisecond},
		Scores:     s,
		Averages:   s,
		Ranks:      s,
	}, DefaultConfig(), quietLogger())

	bg := context.Background()
	for _, sc := range []*grading.Score{
		{StudentCode: "S1", ExamCode: "MATH-T1-A", Value: 9},
		{StudentCode: "S2", ExamCode: "MATH-T1-A", Value: 7},
	} {
		require.NoError(t, s.UpsertScore(bg, sc))
	}

	var short error
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ctx, cancel := context.WithTimeout(bg, 50*time.Millisecond)
		defer cancel()
		short = e.Recompute(ctx, "S1", "MATH-T1-A")
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, e.Recompute(bg, "S2", "MATH-T1-A"))
	wg.Wait()

	assert.ErrorIs(t, short, context.DeadlineExceeded)
	assert.Equal(t, 1, termAvg(t, s, "S1", "T1").ClassroomRank)
	assert.Equal(t, 2, termAvg(t, s, "S2", "T1").ClassroomRank)
	assert.Equal(t, 1, yearAvg(t, s, "S2", "Y24").ClassroomRank)
}

func TestRecompute_ParallelTriggersConvergeToSequentialRanks(t *testing.T) {
	triggers := []struct {
		student string
		exam    string
		value   float64
	}{
		{"S1", "MATH-T1-A", 6},
		{"S1", "LIT-T1", 8},
		{"S2", "MATH-T1-A", 9},
		{"S2", "MATH-T2", 4},
		{"S3", "MATH-T1-B", 7},
		{"S3", "LIT-T1", 7.5},
		{"S1", "MATH-T2", 10},
	}
	ctx := context.Background()

	sequential := newSchool()
	seq := newEngine(sequential)
	for _, tr := range triggers {
		score(t, seq, sequential, tr.student, tr.exam, tr.value)
	}

	parallel := newSchool()
	for _, tr := range triggers {
		require.NoError(t, parallel.UpsertScore(ctx, &grading.Score{StudentCode: tr.student, ExamCode: tr.exam, Value: tr.value}))
	}
	par := newEngine(parallel)
	errs := make([]error, len(triggers))
	var wg sync.WaitGroup
	for i, tr := range triggers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = par.Recompute(ctx, tr.student, tr.exam)
		}()
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	for _, student := range []string{"S1", "S2", "S3"} {
		want, got := termAvg(t, sequential, student, "T1"), termAvg(t, parallel, student, "T1")
		assert.Equal(t, want.Average, got.Average, student)
		assert.Equal(t, want.ClassroomRank, got.ClassroomRank, student)
		assert.Equal(t, want.GradeRank, got.GradeRank, student)

		want, got = yearAvg(t, sequential, student, "Y24"), yearAvg(t, parallel, student, "Y24")
		assert.Equal(t, want.Average, got.Average, student)
		assert.Equal(t, want.ClassroomRank, got.ClassroomRank, student)
		assert.Equal(t, want.GradeRank, got.GradeRank, student)
	}
}

// Package memory provides an in-process implementation of every storage port.
// It backs the engine, command, query and CLI tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

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

type scoreKey struct{ student, exam string }

type subjectKey struct {
	student string
	subject string
	period  grading.Period
}

type studentKey struct {
	student string
	period  grading.Period
}

// Store keeps everything in maps guarded by one RWMutex.
type Store struct {
	mu sync.RWMutex

	exams      map[string]academic.Exam
	terms      map[string]academic.Term
	years      map[string]academic.SchoolYear
	students   map[string]academic.Student
	classrooms map[string]academic.Classroom
	grades     map[string]academic.Grade

	scores      map[scoreKey]grading.Score
	subjectAvgs map[subjectKey]grading.SubjectAverage
	studentAvgs map[studentKey]grading.StudentAverage

	// failures injects a storage error into the named operation.
	failures map[string]error
	calls    map[string]int
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		exams:       make(map[string]academic.Exam),
		terms:       make(map[string]academic.Term),
		years:       make(map[string]academic.SchoolYear),
		students:    make(map[string]academic.Student),
		classrooms:  make(map[string]academic.Classroom),
		grades:      make(map[string]academic.Grade),
		scores:      make(map[scoreKey]grading.Score),
		subjectAvgs: make(map[subjectKey]grading.SubjectAverage),
		studentAvgs: make(map[studentKey]grading.StudentAverage),
		failures:    make(map[string]error),
		calls:       make(map[string]int),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// SEEDING & TEST HOOKS
// ══════════════════════════════════════════════════════════════════════════════

// PutSchoolYear stores a school year.
func (s *Store) PutSchoolYear(y academic.SchoolYear) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.years[y.Code] = y
}

// PutTerm stores a term.
func (s *Store) PutTerm(t academic.Term) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.terms[t.Code] = t
}

// PutExam stores an exam.
func (s *Store) PutExam(e academic.Exam) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exams[e.Code] = e
}

// PutGrade stores a grade.
func (s *Store) PutGrade(g academic.Grade) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grades[g.Code] = g
}

// PutClassroom stores a classroom.
func (s *Store) PutClassroom(c academic.Classroom) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.classrooms[c.Code] = c
}

// PutStudent stores a student.
func (s *Store) PutStudent(st academic.Student) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.students[st.Code] = st
}

// FailOn makes every later call of op return a storage failure wrapping err.
// A nil err clears the failure.
func (s *Store) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, op)
		return
	}
	s.failures[op] = err
}

// Calls returns how many times op was invoked.
func (s *Store) Calls(op string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls[op]
}

// enter records the call and returns the injected failure, if any.
// Caller must hold the lock.
func (s *Store) enter(op string) error {
	s.calls[op]++
	if err, ok := s.failures[op]; ok {
		return shared.StorageFailure("memory", op, err)
	}
	return nil
}

func notFound(op, entity, code string) error {
	return shared.NewDomainError("memory", op, shared.ErrNotFound, fmt.Sprintf("%s %q not found", entity, code))
}

// ══════════════════════════════════════════════════════════════════════════════
// REFERENCE REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// GetExam implements academic.ReferenceRepository.
func (s *Store) GetExam(_ context.Context, code string) (*academic.Exam, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("GetExam"); err != nil {
		return nil, err
	}
	e, ok := s.exams[code]
	if !ok {
		return nil, notFound("GetExam", "exam", code)
	}
	return &e, nil
}

// GetTerm implements academic.ReferenceRepository.
func (s *Store) GetTerm(_ context.Context, code string) (*academic.Term, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("GetTerm"); err != nil {
		return nil, err
	}
	t, ok := s.terms[code]
	if !ok {
		return nil, notFound("GetTerm", "term", code)
	}
	return &t, nil
}

// GetSchoolYear implements academic.ReferenceRepository.
func (s *Store) GetSchoolYear(_ context.Context, code string) (*academic.SchoolYear, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("GetSchoolYear"); err != nil {
		return nil, err
	}
	y, ok := s.years[code]
	if !ok {
		return nil, notFound("GetSchoolYear", "school year", code)
	}
	return &y, nil
}

// ListTermCodes implements academic.ReferenceRepository.
func (s *Store) ListTermCodes(_ context.Context, schoolYearCode string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("ListTermCodes"); err != nil {
		return nil, err
	}
	codes := make([]string, 0)
	for _, t := range s.terms {
		if t.SchoolYearCode == schoolYearCode {
			codes = append(codes, t.Code)
		}
	}
	sort.Strings(codes)
	return codes, nil
}

// GetStudent implements academic.ReferenceRepository.
func (s *Store) GetStudent(_ context.Context, code string) (*academic.Student, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("GetStudent"); err != nil {
		return nil, err
	}
	st, ok := s.students[code]
	if !ok {
		return nil, notFound("GetStudent", "student", code)
	}
	return &st, nil
}

// GetClassroom implements academic.ReferenceRepository.
func (s *Store) GetClassroom(_ context.Context, code string) (*academic.Classroom, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("GetClassroom"); err != nil {
		return nil, err
	}
	c, ok := s.classrooms[code]
	if !ok {
		return nil, notFound("GetClassroom", "classroom", code)
	}
	return &c, nil
}

// GetGrade implements academic.ReferenceRepository.
func (s *Store) GetGrade(_ context.Context, code string) (*academic.Grade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("GetGrade"); err != nil {
		return nil, err
	}
	g, ok := s.grades[code]
	if !ok {
		return nil, notFound("GetGrade", "grade", code)
	}
	return &g, nil
}

// ListStudentsByClassroom implements academic.ReferenceRepository.
func (s *Store) ListStudentsByClassroom(_ context.Context, classroomCode string) ([]academic.Student, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("ListStudentsByClassroom"); err != nil {
		return nil, err
	}
	return s.studentsIn(map[string]bool{classroomCode: true}), nil
}

// ListClassroomCodesByGrade implements academic.ReferenceRepository.
func (s *Store) ListClassroomCodesByGrade(_ context.Context, gradeCode string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("ListClassroomCodesByGrade"); err != nil {
		return nil, err
	}
	return s.classroomsOf(gradeCode), nil
}

// ListStudentsByGrade implements academic.ReferenceRepository.
func (s *Store) ListStudentsByGrade(_ context.Context, gradeCode string) ([]academic.Student, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("ListStudentsByGrade"); err != nil {
		return nil, err
	}
	set := make(map[string]bool)
	for _, code := range s.classroomsOf(gradeCode) {
		set[code] = true
	}
	return s.studentsIn(set), nil
}

// ListClassroomCodes implements academic.ReferenceRepository.
func (s *Store) ListClassroomCodes(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("ListClassroomCodes"); err != nil {
		return nil, err
	}
	codes := make([]string, 0, len(s.classrooms))
	for code := range s.classrooms {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes, nil
}

// ListGradeCodes implements academic.ReferenceRepository.
func (s *Store) ListGradeCodes(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("ListGradeCodes"); err != nil {
		return nil, err
	}
	codes := make([]string, 0, len(s.grades))
	for code := range s.grades {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes, nil
}

// ListSchoolYearCodes implements academic.ReferenceRepository.
func (s *Store) ListSchoolYearCodes(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("ListSchoolYearCodes"); err != nil {
		return nil, err
	}
	codes := make([]string, 0, len(s.years))
	for code := range s.years {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes, nil
}

func (s *Store) classroomsOf(gradeCode string) []string {
	codes := make([]string, 0)
	for _, c := range s.classrooms {
		if c.GradeCode == gradeCode {
			codes = append(codes, c.Code)
		}
	}
	sort.Strings(codes)
	return codes
}

func (s *Store) studentsIn(classrooms map[string]bool) []academic.Student {
	out := make([]academic.Student, 0)
	for _, st := range s.students {
		if classrooms[st.ClassroomCode] {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// SCORE REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// UpsertScore implements grading.ScoreRepository.
func (s *Store) UpsertScore(_ context.Context, score *grading.Score) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("UpsertScore"); err != nil {
		return err
	}
	rec := *score
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	s.scores[scoreKey{score.StudentCode, score.ExamCode}] = rec
	return nil
}

// GetScore implements grading.ScoreRepository.
func (s *Store) GetScore(_ context.Context, studentCode, examCode string) (*grading.Score, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("GetScore"); err != nil {
		return nil, err
	}
	sc, ok := s.scores[scoreKey{studentCode, examCode}]
	if !ok {
		return nil, notFound("GetScore", "score", studentCode+"/"+examCode)
	}
	return &sc, nil
}

// ListScoreValues implements grading.ScoreRepository.
func (s *Store) ListScoreValues(_ context.Context, studentCode, subjectCode, termCode string) ([]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("ListScoreValues"); err != nil {
		return nil, err
	}
	values := make([]float64, 0)
	for key, sc := range s.scores {
		if key.student != studentCode {
			continue
		}
		exam, ok := s.exams[key.exam]
		if !ok || exam.SubjectCode != subjectCode || exam.TermCode != termCode {
			continue
		}
		values = append(values, sc.Value)
	}
	sort.Float64s(values)
	return values, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// AVERAGE REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// UpsertSubjectAverage implements grading.AverageRepository.
func (s *Store) UpsertSubjectAverage(_ context.Context, avg grading.SubjectAverage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("UpsertSubjectAverage"); err != nil {
		return err
	}
	avg.UpdatedAt = time.Now().UTC()
	s.subjectAvgs[subjectKey{avg.StudentCode, avg.SubjectCode, avg.Period}] = avg
	return nil
}

// ListSubjectAverages implements grading.AverageRepository.
func (s *Store) ListSubjectAverages(_ context.Context, studentCode string, period grading.Period) ([]grading.SubjectAverage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("ListSubjectAverages"); err != nil {
		return nil, err
	}
	out := make([]grading.SubjectAverage, 0)
	for key, avg := range s.subjectAvgs {
		if key.student == studentCode && key.period == period {
			out = append(out, avg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubjectCode < out[j].SubjectCode })
	return out, nil
}

// ListSubjectTermAverages implements grading.AverageRepository.
func (s *Store) ListSubjectTermAverages(_ context.Context, studentCode, subjectCode string, termCodes []string) ([]grading.SubjectAverage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("ListSubjectTermAverages"); err != nil {
		return nil, err
	}
	out := make([]grading.SubjectAverage, 0, len(termCodes))
	for _, term := range termCodes {
		if avg, ok := s.subjectAvgs[subjectKey{studentCode, subjectCode, grading.TermPeriod(term)}]; ok {
			out = append(out, avg)
		}
	}
	return out, nil
}

// UpsertStudentAverage implements grading.AverageRepository.
func (s *Store) UpsertStudentAverage(_ context.Context, avg grading.StudentAverage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("UpsertStudentAverage"); err != nil {
		return err
	}
	key := studentKey{avg.StudentCode, avg.Period}
	if existing, ok := s.studentAvgs[key]; ok {
		avg.ClassroomRank = existing.ClassroomRank
		avg.GradeRank = existing.GradeRank
	} else {
		avg.ClassroomRank, avg.GradeRank = 0, 0
	}
	avg.UpdatedAt = time.Now().UTC()
	s.studentAvgs[key] = avg
	return nil
}

// GetStudentAverage implements grading.AverageRepository.
func (s *Store) GetStudentAverage(_ context.Context, studentCode string, period grading.Period) (*grading.StudentAverage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("GetStudentAverage"); err != nil {
		return nil, err
	}
	avg, ok := s.studentAvgs[studentKey{studentCode, period}]
	if !ok {
		return nil, notFound("GetStudentAverage", "student average", studentCode+"@"+period.String())
	}
	return &avg, nil
}

// ListStudentAverages implements grading.AverageRepository.
func (s *Store) ListStudentAverages(_ context.Context, period grading.Period, studentCodes []string) ([]grading.StudentAverage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("ListStudentAverages"); err != nil {
		return nil, err
	}
	out := make([]grading.StudentAverage, 0, len(studentCodes))
	for _, code := range studentCodes {
		if avg, ok := s.studentAvgs[studentKey{code, period}]; ok {
			out = append(out, avg)
		}
	}
	return out, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// RANK WRITER
// ══════════════════════════════════════════════════════════════════════════════

// ReplaceRanks implements ranking.Repository. The whole batch is applied under
// one lock, so readers never observe a half-written cohort.
func (s *Store) ReplaceRanks(_ context.Context, period grading.Period, scope ranking.Scope, ranks map[string]int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("ReplaceRanks"); err != nil {
		return err
	}
	for code, rank := range ranks {
		key := studentKey{code, period}
		avg, ok := s.studentAvgs[key]
		if !ok {
			continue
		}
		switch scope {
		case ranking.ScopeClassroom:
			avg.ClassroomRank = rank
		case ranking.ScopeGrade:
			avg.GradeRank = rank
		}
		s.studentAvgs[key] = avg
	}
	return nil
}

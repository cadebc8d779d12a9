package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mhieu102/N3-CCPTPM-S4/internal/domain/academic"
)

// ══════════════════════════════════════════════════════════════════════════════
// REFERENCE REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// ─────────────────────────────────────────────────────────────────────────────
// PERIODS
// ─────────────────────────────────────────────────────────────────────────────

// GetExam implements academic.ReferenceRepository.
func (s *Store) GetExam(ctx context.Context, code string) (*academic.Exam, error) {
	q, err := s.conn.querier()
	if err != nil {
		return nil, wrap("GetExam", err)
	}

	var (
		exam academic.Exam
		date *time.Time
	)
	err = q.QueryRow(ctx, `
		SELECT exam_code, subject_code, term_code, exam_date
		FROM exams
		WHERE exam_code = $1
	`, code).Scan(&exam.Code, &exam.SubjectCode, &exam.TermCode, &date)
	if IsNoRows(err) {
		return nil, notFound("GetExam", "exam", code)
	}
	if err != nil {
		return nil, wrap("GetExam", err)
	}
	if date != nil {
		exam.Date = *date
	}
	return &exam, nil
}

// GetTerm implements academic.ReferenceRepository.
func (s *Store) GetTerm(ctx context.Context, code string) (*academic.Term, error) {
	q, err := s.conn.querier()
	if err != nil {
		return nil, wrap("GetTerm", err)
	}

	var (
		term       academic.Term
		start, end *time.Time
	)
	err = q.QueryRow(ctx, `
		SELECT term_code, name, school_year_code, start_date, end_date
		FROM terms
		WHERE term_code = $1
	`, code).Scan(&term.Code, &term.Name, &term.SchoolYearCode, &start, &end)
	if IsNoRows(err) {
		return nil, notFound("GetTerm", "term", code)
	}
	if err != nil {
		return nil, wrap("GetTerm", err)
	}
	if start != nil {
		term.StartDate = *start
	}
	if end != nil {
		term.EndDate = *end
	}
	return &term, nil
}

// GetSchoolYear implements academic.ReferenceRepository.
func (s *Store) GetSchoolYear(ctx context.Context, code string) (*academic.SchoolYear, error) {
	q, err := s.conn.querier()
	if err != nil {
		return nil, wrap("GetSchoolYear", err)
	}

	var year academic.SchoolYear
	err = q.QueryRow(ctx, `
		SELECT school_year_code, name FROM school_years WHERE school_year_code = $1
	`, code).Scan(&year.Code, &year.Name)
	if IsNoRows(err) {
		return nil, notFound("GetSchoolYear", "school year", code)
	}
	if err != nil {
		return nil, wrap("GetSchoolYear", err)
	}
	return &year, nil
}

// ListTermCodes implements academic.ReferenceRepository.
func (s *Store) ListTermCodes(ctx context.Context, schoolYearCode string) ([]string, error) {
	return s.listCodes(ctx, "ListTermCodes", `
		SELECT term_code FROM terms WHERE school_year_code = $1 ORDER BY term_code
	`, schoolYearCode)
}

// ListSchoolYearCodes implements academic.ReferenceRepository.
func (s *Store) ListSchoolYearCodes(ctx context.Context) ([]string, error) {
	return s.listCodes(ctx, "ListSchoolYearCodes", `
		SELECT school_year_code FROM school_years ORDER BY school_year_code
	`)
}

// ─────────────────────────────────────────────────────────────────────────────
// MEMBERSHIP
// ─────────────────────────────────────────────────────────────────────────────

// GetStudent implements academic.ReferenceRepository.
func (s *Store) GetStudent(ctx context.Context, code string) (*academic.Student, error) {
	q, err := s.conn.querier()
	if err != nil {
		return nil, wrap("GetStudent", err)
	}

	var (
		st        academic.Student
		classroom *string
	)
	err = q.QueryRow(ctx, `
		SELECT student_code, name, classroom_code FROM students WHERE student_code = $1
	`, code).Scan(&st.Code, &st.Name, &classroom)
	if IsNoRows(err) {
		return nil, notFound("GetStudent", "student", code)
	}
	if err != nil {
		return nil, wrap("GetStudent", err)
	}
	if classroom != nil {
		st.ClassroomCode = *classroom
	}
	return &st, nil
}

// GetClassroom implements academic.ReferenceRepository.
func (s *Store) GetClassroom(ctx context.Context, code string) (*academic.Classroom, error) {
	q, err := s.conn.querier()
	if err != nil {
		return nil, wrap("GetClassroom", err)
	}

	var (
		c     academic.Classroom
		grade *string
	)
	err = q.QueryRow(ctx, `
		SELECT classroom_code, name, grade_code FROM classrooms WHERE classroom_code = $1
	`, code).Scan(&c.Code, &c.Name, &grade)
	if IsNoRows(err) {
		return nil, notFound("GetClassroom", "classroom", code)
	}
	if err != nil {
		return nil, wrap("GetClassroom", err)
	}
	if grade != nil {
		c.GradeCode = *grade
	}
	return &c, nil
}

// GetGrade implements academic.ReferenceRepository.
func (s *Store) GetGrade(ctx context.Context, code string) (*academic.Grade, error) {
	q, err := s.conn.querier()
	if err != nil {
		return nil, wrap("GetGrade", err)
	}

	var g academic.Grade
	err = q.QueryRow(ctx, `
		SELECT grade_code, name, school_year_code FROM grades WHERE grade_code = $1
	`, code).Scan(&g.Code, &g.Name, &g.SchoolYearCode)
	if IsNoRows(err) {
		return nil, notFound("GetGrade", "grade", code)
	}
	if err != nil {
		return nil, wrap("GetGrade", err)
	}
	return &g, nil
}

// ListStudentsByClassroom implements academic.ReferenceRepository.
func (s *Store) ListStudentsByClassroom(ctx context.Context, classroomCode string) ([]academic.Student, error) {
	return s.listStudents(ctx, "ListStudentsByClassroom", `
		SELECT student_code, name, classroom_code
		FROM students
		WHERE classroom_code = $1
		ORDER BY student_code
	`, classroomCode)
}

// ListClassroomCodesByGrade implements academic.ReferenceRepository.
func (s *Store) ListClassroomCodesByGrade(ctx context.Context, gradeCode string) ([]string, error) {
	return s.listCodes(ctx, "ListClassroomCodesByGrade", `
		SELECT classroom_code FROM classrooms WHERE grade_code = $1 ORDER BY classroom_code
	`, gradeCode)
}

// ListStudentsByGrade implements academic.ReferenceRepository.
func (s *Store) ListStudentsByGrade(ctx context.Context, gradeCode string) ([]academic.Student, error) {
	return s.listStudents(ctx, "ListStudentsByGrade", `
		SELECT st.student_code, st.name, st.classroom_code
		FROM students st
		JOIN classrooms c ON c.classroom_code = st.classroom_code
		WHERE c.grade_code = $1
		ORDER BY st.student_code
	`, gradeCode)
}

// ListClassroomCodes implements academic.ReferenceRepository.
func (s *Store) ListClassroomCodes(ctx context.Context) ([]string, error) {
	return s.listCodes(ctx, "ListClassroomCodes", `
		SELECT classroom_code FROM classrooms ORDER BY classroom_code
	`)
}

// ListGradeCodes implements academic.ReferenceRepository.
func (s *Store) ListGradeCodes(ctx context.Context) ([]string, error) {
	return s.listCodes(ctx, "ListGradeCodes", `
		SELECT grade_code FROM grades ORDER BY grade_code
	`)
}

// ─────────────────────────────────────────────────────────────────────────────
// HELPERS
// ─────────────────────────────────────────────────────────────────────────────

func (s *Store) listCodes(ctx context.Context, op, sql string, args ...interface{}) ([]string, error) {
	q, err := s.conn.querier()
	if err != nil {
		return nil, wrap(op, err)
	}

	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, wrap(op, err)
	}
	codes, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, wrap(op, err)
	}
	return codes, nil
}

func (s *Store) listStudents(ctx context.Context, op, sql string, args ...interface{}) ([]academic.Student, error) {
	q, err := s.conn.querier()
	if err != nil {
		return nil, wrap(op, err)
	}

	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, wrap(op, err)
	}
	defer rows.Close()

	students := make([]academic.Student, 0)
	for rows.Next() {
		var (
			st        academic.Student
			classroom *string
		)
		if err := rows.Scan(&st.Code, &st.Name, &classroom); err != nil {
			return nil, wrap(op, err)
		}
		if classroom != nil {
			st.ClassroomCode = *classroom
		}
		students = append(students, st)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(op, err)
	}
	return students, nil
}

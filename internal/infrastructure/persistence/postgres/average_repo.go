package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mhieu102/N3-CCPTPM-S4/internal/domain/grading"
	"github.com/mhieu102/N3-CCPTPM-S4/internal/domain/ranking"
)

// ══════════════════════════════════════════════════════════════════════════════
// SCORE REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// UpsertScore implements grading.ScoreRepository.
func (s *Store) UpsertScore(ctx context.Context, score *grading.Score) error {
	q, err := s.conn.querier()
	if err != nil {
		return wrap("UpsertScore", err)
	}

	_, err = q.Exec(ctx, `
		INSERT INTO scores (student_code, exam_code, score_value, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (student_code, exam_code)
		DO UPDATE SET score_value = EXCLUDED.score_value, updated_at = NOW()
	`, score.StudentCode, score.ExamCode, score.Value)
	return wrap("UpsertScore", err)
}

// UpsertScores writes many scores in one transaction using a batch.
func (s *Store) UpsertScores(ctx context.Context, scores []*grading.Score) error {
	if len(scores) == 0 {
		return nil
	}

	err := s.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, sc := range scores {
			batch.Queue(`
				INSERT INTO scores (student_code, exam_code, score_value, updated_at)
				VALUES ($1, $2, $3, NOW())
				ON CONFLICT (student_code, exam_code)
				DO UPDATE SET score_value = EXCLUDED.score_value, updated_at = NOW()
			`, sc.StudentCode, sc.ExamCode, sc.Value)
		}

		br := tx.SendBatch(ctx, batch)
		defer br.Close()

		for range scores {
			if _, err := br.Exec(); err != nil {
				return fmt.Errorf("failed to upsert score: %w", err)
			}
		}
		return nil
	})
	return wrap("UpsertScores", err)
}

// GetScore implements grading.ScoreRepository.
func (s *Store) GetScore(ctx context.Context, studentCode, examCode string) (*grading.Score, error) {
	q, err := s.conn.querier()
	if err != nil {
		return nil, wrap("GetScore", err)
	}

	sc := grading.Score{StudentCode: studentCode, ExamCode: examCode}
	err = q.QueryRow(ctx, `
		SELECT score_value, updated_at FROM scores WHERE student_code = $1 AND exam_code = $2
	`, studentCode, examCode).Scan(&sc.Value, &sc.UpdatedAt)
	if IsNoRows(err) {
		return nil, notFound("GetScore", "score", studentCode+"/"+examCode)
	}
	if err != nil {
		return nil, wrap("GetScore", err)
	}
	return &sc, nil
}

// ListScoreValues implements grading.ScoreRepository.
func (s *Store) ListScoreValues(ctx context.Context, studentCode, subjectCode, termCode string) ([]float64, error) {
	q, err := s.conn.querier()
	if err != nil {
		return nil, wrap("ListScoreValues", err)
	}

	rows, err := q.Query(ctx, `
		SELECT sc.score_value
		FROM scores sc
		JOIN exams e ON e.exam_code = sc.exam_code
		WHERE sc.student_code = $1 AND e.subject_code = $2 AND e.term_code = $3
	`, studentCode, subjectCode, termCode)
	if err != nil {
		return nil, wrap("ListScoreValues", err)
	}
	values, err := pgx.CollectRows(rows, pgx.RowTo[float64])
	if err != nil {
		return nil, wrap("ListScoreValues", err)
	}
	return values, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// AVERAGE REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// UpsertSubjectAverage implements grading.AverageRepository.
func (s *Store) UpsertSubjectAverage(ctx context.Context, avg grading.SubjectAverage) error {
	t, err := tablesFor(avg.Period)
	if err != nil {
		return err
	}
	q, err := s.conn.querier()
	if err != nil {
		return wrap("UpsertSubjectAverage", err)
	}

	_, err = q.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %[1]s (student_code, subject_code, %[2]s, average, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (student_code, subject_code, %[2]s)
		DO UPDATE SET average = EXCLUDED.average, updated_at = NOW()
	`, t.subjectTable, t.periodColumn), avg.StudentCode, avg.SubjectCode, avg.Period.Code, avg.Average)
	return wrap("UpsertSubjectAverage", err)
}

// ListSubjectAverages implements grading.AverageRepository.
func (s *Store) ListSubjectAverages(ctx context.Context, studentCode string, period grading.Period) ([]grading.SubjectAverage, error) {
	t, err := tablesFor(period)
	if err != nil {
		return nil, err
	}
	return s.querySubjectAverages(ctx, "ListSubjectAverages", period, fmt.Sprintf(`
		SELECT student_code, subject_code, %[2]s, average, updated_at
		FROM %[1]s
		WHERE student_code = $1 AND %[2]s = $2
		ORDER BY subject_code
	`, t.subjectTable, t.periodColumn), studentCode, period.Code)
}

// ListSubjectTermAverages implements grading.AverageRepository.
func (s *Store) ListSubjectTermAverages(ctx context.Context, studentCode, subjectCode string, termCodes []string) ([]grading.SubjectAverage, error) {
	if len(termCodes) == 0 {
		return nil, nil
	}
	return s.querySubjectAverages(ctx, "ListSubjectTermAverages", grading.Period{Kind: grading.PeriodTerm}, `
		SELECT student_code, subject_code, term_code, average, updated_at
		FROM subject_term_averages
		WHERE student_code = $1 AND subject_code = $2 AND term_code = ANY($3)
		ORDER BY term_code
	`, studentCode, subjectCode, termCodes)
}

func (s *Store) querySubjectAverages(ctx context.Context, op string, period grading.Period, sql string, args ...interface{}) ([]grading.SubjectAverage, error) {
	q, err := s.conn.querier()
	if err != nil {
		return nil, wrap(op, err)
	}

	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, wrap(op, err)
	}
	defer rows.Close()

	out := make([]grading.SubjectAverage, 0)
	for rows.Next() {
		rec := grading.SubjectAverage{Period: grading.Period{Kind: period.Kind}}
		if err := rows.Scan(&rec.StudentCode, &rec.SubjectCode, &rec.Period.Code, &rec.Average, &rec.UpdatedAt); err != nil {
			return nil, wrap(op, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(op, err)
	}
	return out, nil
}

// UpsertStudentAverage implements grading.AverageRepository. The conflict
// branch only touches average and tier so ranks survive.
func (s *Store) UpsertStudentAverage(ctx context.Context, avg grading.StudentAverage) error {
	t, err := tablesFor(avg.Period)
	if err != nil {
		return err
	}
	q, err := s.conn.querier()
	if err != nil {
		return wrap("UpsertStudentAverage", err)
	}

	_, err = q.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %[1]s (student_code, %[2]s, average, performance_tier, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (student_code, %[2]s)
		DO UPDATE SET average = EXCLUDED.average,
		              performance_tier = EXCLUDED.performance_tier,
		              updated_at = NOW()
	`, t.studentTable, t.periodColumn), avg.StudentCode, avg.Period.Code, avg.Average, string(avg.Tier))
	return wrap("UpsertStudentAverage", err)
}

// GetStudentAverage implements grading.AverageRepository.
func (s *Store) GetStudentAverage(ctx context.Context, studentCode string, period grading.Period) (*grading.StudentAverage, error) {
	records, err := s.ListStudentAverages(ctx, period, []string{studentCode})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, notFound("GetStudentAverage", "student average", studentCode+"@"+period.String())
	}
	return &records[0], nil
}

// ListStudentAverages implements grading.AverageRepository.
func (s *Store) ListStudentAverages(ctx context.Context, period grading.Period, studentCodes []string) ([]grading.StudentAverage, error) {
	if len(studentCodes) == 0 {
		return nil, nil
	}
	t, err := tablesFor(period)
	if err != nil {
		return nil, err
	}
	q, err := s.conn.querier()
	if err != nil {
		return nil, wrap("ListStudentAverages", err)
	}

	rows, err := q.Query(ctx, fmt.Sprintf(`
		SELECT student_code, average, performance_tier,
		       COALESCE(classroom_rank, 0), COALESCE(grade_rank, 0), updated_at
		FROM %[1]s
		WHERE %[2]s = $1 AND student_code = ANY($2)
		ORDER BY student_code
	`, t.studentTable, t.periodColumn), period.Code, studentCodes)
	if err != nil {
		return nil, wrap("ListStudentAverages", err)
	}
	defer rows.Close()

	out := make([]grading.StudentAverage, 0, len(studentCodes))
	for rows.Next() {
		var (
			rec       = grading.StudentAverage{Period: period}
			tier      string
			updatedAt time.Time
		)
		if err := rows.Scan(&rec.StudentCode, &rec.Average, &tier, &rec.ClassroomRank, &rec.GradeRank, &updatedAt); err != nil {
			return nil, wrap("ListStudentAverages", err)
		}
		rec.Tier = grading.PerformanceTier(tier)
		rec.UpdatedAt = updatedAt
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("ListStudentAverages", err)
	}
	return out, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// RANK WRITER
// ══════════════════════════════════════════════════════════════════════════════

// ReplaceRanks implements ranking.Repository. Every update of the cohort is
// queued in one batch inside one transaction; each statement replaces only
// the rank column of an existing row.
func (s *Store) ReplaceRanks(ctx context.Context, period grading.Period, scope ranking.Scope, ranks map[string]int) error {
	if len(ranks) == 0 {
		return nil
	}
	t, err := tablesFor(period)
	if err != nil {
		return err
	}
	col, err := rankColumn(scope)
	if err != nil {
		return err
	}

	sql := fmt.Sprintf(`
		UPDATE %s SET %s = $1 WHERE student_code = $2 AND %s = $3
	`, t.studentTable, col, t.periodColumn)

	err = s.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for code, rank := range ranks {
			batch.Queue(sql, rank, code, period.Code)
		}

		br := tx.SendBatch(ctx, batch)
		defer br.Close()

		for range ranks {
			if _, err := br.Exec(); err != nil {
				return fmt.Errorf("failed to write %s: %w", col, err)
			}
		}
		return nil
	})
	return wrap("ReplaceRanks", err)
}

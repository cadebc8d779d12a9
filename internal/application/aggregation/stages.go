package aggregation

import (
	"context"
	"sort"

	"github.com/mhieu102/N3-CCPTPM-S4/internal/domain/academic"
	"github.com/mhieu102/N3-CCPTPM-S4/internal/domain/grading"
	"github.com/mhieu102/N3-CCPTPM-S4/internal/domain/shared"
)

// ───────────────────────────────────────────────────────────────────────────
// 1. Reference resolver
// ───────────────────────────────────────────────────────────────────────────

// resolve maps an exam code to its subject, term and school year.
func (e *Engine) resolve(ctx context.Context, examCode string) (academic.ExamContext, error) {
	exam, err := e.refs.GetExam(ctx, examCode)
	if err != nil {
		if shared.IsNotFound(err) {
			return academic.ExamContext{}, shared.ReferenceNotFound("ResolveExam", "exam", examCode)
		}
		return academic.ExamContext{}, storageErr("GetExam", err)
	}

	term, err := e.refs.GetTerm(ctx, exam.TermCode)
	if err != nil {
		if shared.IsNotFound(err) {
			return academic.ExamContext{}, shared.ReferenceNotFound("ResolveExam", "term", exam.TermCode)
		}
		return academic.ExamContext{}, storageErr("GetTerm", err)
	}
	if term.SchoolYearCode == "" {
		return academic.ExamContext{}, shared.ReferenceNotFound("ResolveExam", "school year of term", term.Code)
	}
	if _, err := e.refs.GetSchoolYear(ctx, term.SchoolYearCode); err != nil {
		if shared.IsNotFound(err) {
			return academic.ExamContext{}, shared.ReferenceNotFound("ResolveExam", "school year", term.SchoolYearCode)
		}
		return academic.ExamContext{}, storageErr("GetSchoolYear", err)
	}

	return academic.ExamContext{
		ExamCode:       exam.Code,
		SubjectCode:    exam.SubjectCode,
		TermCode:       exam.TermCode,
		SchoolYearCode: term.SchoolYearCode,
	}, nil
}

// ───────────────────────────────────────────────────────────────────────────
// 2. Subject-term average
// ───────────────────────────────────────────────────────────────────────────

// subjectTermAverage recomputes the mean of the student's scores on exams of
// the key's subject and term. No scores yields 0.
func (e *Engine) subjectTermAverage(ctx context.Context, key Key) (float64, error) {
	values, err := e.scores.ListScoreValues(ctx, key.StudentCode, key.SubjectCode, key.TermCode)
	if err != nil {
		return 0, storageErr("ListScoreValues", err)
	}

	avg := grading.Mean(values)
	err = e.averages.UpsertSubjectAverage(ctx, grading.SubjectAverage{
		StudentCode: key.StudentCode,
		SubjectCode: key.SubjectCode,
		Period:      grading.TermPeriod(key.TermCode),
		Average:     avg,
	})
	if err != nil {
		return 0, storageErr("UpsertSubjectAverage", err)
	}
	return avg, nil
}

// ───────────────────────────────────────────────────────────────────────────
// 3 and 6. Student average + tier
// ───────────────────────────────────────────────────────────────────────────

// studentAverage recomputes the mean of every subject average the student
// has in the period and classifies it. Subjects without a record do not
// contribute. Ranks of an existing record are preserved by the repository.
func (e *Engine) studentAverage(ctx context.Context, studentCode string, period grading.Period) (grading.StudentAverage, error) {
	subjects, err := e.averages.ListSubjectAverages(ctx, studentCode, period)
	if err != nil {
		return grading.StudentAverage{}, storageErr("ListSubjectAverages", err)
	}

	rec := grading.NewStudentAverage(studentCode, period, grading.MeanOfSubjects(subjects))
	if err := e.averages.UpsertStudentAverage(ctx, rec); err != nil {
		return grading.StudentAverage{}, storageErr("UpsertStudentAverage", err)
	}
	return rec, nil
}

// ───────────────────────────────────────────────────────────────────────────
// 5. Subject-yearly average
// ───────────────────────────────────────────────────────────────────────────

// subjectYearlyAverage recomputes the mean of the subject's term averages
// across the terms of the school year. Terms without a record are skipped.
func (e *Engine) subjectYearlyAverage(ctx context.Context, key Key) (float64, error) {
	terms, err := e.termCodes(ctx, key.SchoolYearCode)
	if err != nil {
		return 0, err
	}

	records, err := e.averages.ListSubjectTermAverages(ctx, key.StudentCode, key.SubjectCode, terms)
	if err != nil {
		return 0, storageErr("ListSubjectTermAverages", err)
	}

	avg := grading.MeanOfSubjects(records)
	err = e.averages.UpsertSubjectAverage(ctx, grading.SubjectAverage{
		StudentCode: key.StudentCode,
		SubjectCode: key.SubjectCode,
		Period:      grading.YearPeriod(key.SchoolYearCode),
		Average:     avg,
	})
	if err != nil {
		return 0, storageErr("UpsertSubjectAverage", err)
	}
	return avg, nil
}

// termCodes lists the terms of a school year.
func (e *Engine) termCodes(ctx context.Context, schoolYearCode string) ([]string, error) {
	v, err := e.sharedRead(ctx, "terms:"+schoolYearCode, func(ctx context.Context) (any, error) {
		codes, err := e.refs.ListTermCodes(ctx, schoolYearCode)
		if err != nil {
			return nil, storageErr("ListTermCodes", err)
		}
		sort.Strings(codes)
		return codes, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}

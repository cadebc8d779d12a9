package query

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/mhieu102/N3-CCPTPM-S4/internal/domain/academic"
	"github.com/mhieu102/N3-CCPTPM-S4/internal/domain/grading"
	"github.com/mhieu102/N3-CCPTPM-S4/internal/domain/ranking"
	"github.com/mhieu102/N3-CCPTPM-S4/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// LIST BY PERFORMANCE QUERY
// Lists the students of a classroom or grade whose average falls in one
// performance tier, for a term or a school year.
// ══════════════════════════════════════════════════════════════════════════════

// ListByPerformanceQuery holds the query parameters.
type ListByPerformanceQuery struct {
	CohortSelector

	// Tier accepts a tier name ("Good") or its report label ("Khá").
	Tier string
}

// Validate checks the parameters and parses the tier.
func (q ListByPerformanceQuery) Validate() (grading.PerformanceTier, error) {
	if err := q.CohortSelector.Validate(); err != nil {
		return "", err
	}
	tier, err := grading.ParseTier(q.Tier)
	if err != nil {
		return "", shared.WrapError("query", "Validate", shared.ErrInvalidInput,
			fmt.Sprintf("unknown performance tier %q", q.Tier), err)
	}
	return tier, nil
}

// PerformanceRowDTO is one student of the tier.
type PerformanceRowDTO struct {
	StudentCode string                  `json:"student_code"`
	Name        string                  `json:"name"`
	Average     float64                 `json:"average"`
	Tier        grading.PerformanceTier `json:"academic_performance"`
	TierLabel   string                  `json:"academic_performance_label"`
}

// PerformanceResult is the answer of a tier listing.
type PerformanceResult struct {
	Scope      ranking.Scope           `json:"scope"`
	CohortCode string                  `json:"cohort_code"`
	PeriodCode string                  `json:"period_code"`
	Tier       grading.PerformanceTier `json:"academic_performance"`

	// TotalStudents is the number of listed students, not the cohort size.
	TotalStudents int                 `json:"total_students"`
	Students      []PerformanceRowDTO `json:"students"`

	GeneratedAt time.Time `json:"generated_at"`
}

// PerformanceService answers tier listings.
type PerformanceService struct {
	resolver cohortResolver
	averages grading.AverageRepository
	logger   *slog.Logger
}

// NewPerformanceService creates a new PerformanceService.
func NewPerformanceService(
	refs academic.ReferenceRepository,
	averages grading.AverageRepository,
	logger *slog.Logger,
) *PerformanceService {
	if logger == nil {
		logger = slog.Default()
	}
	return &PerformanceService{
		resolver: cohortResolver{refs: refs},
		averages: averages,
		logger:   logger,
	}
}

// ClassroomTermPerformance lists a classroom's students with tier in a term.
func (s *PerformanceService) ClassroomTermPerformance(ctx context.Context, classroomCode, termCode, tier string) (*PerformanceResult, error) {
	if termCode == "" {
		return nil, invalid("ClassroomTermPerformance", "term code is required")
	}
	return s.Handle(ctx, ListByPerformanceQuery{
		CohortSelector: CohortSelector{Scope: ranking.ScopeClassroom, Code: classroomCode, TermCode: termCode},
		Tier:           tier,
	})
}

// GradeTermPerformance lists a grade's students with tier in a term.
func (s *PerformanceService) GradeTermPerformance(ctx context.Context, gradeCode, termCode, tier string) (*PerformanceResult, error) {
	if termCode == "" {
		return nil, invalid("GradeTermPerformance", "term code is required")
	}
	return s.Handle(ctx, ListByPerformanceQuery{
		CohortSelector: CohortSelector{Scope: ranking.ScopeGrade, Code: gradeCode, TermCode: termCode},
		Tier:           tier,
	})
}

// ClassroomYearlyPerformance lists a classroom's students with tier over the
// school year of its grade.
func (s *PerformanceService) ClassroomYearlyPerformance(ctx context.Context, classroomCode, tier string) (*PerformanceResult, error) {
	return s.Handle(ctx, ListByPerformanceQuery{
		CohortSelector: CohortSelector{Scope: ranking.ScopeClassroom, Code: classroomCode},
		Tier:           tier,
	})
}

// GradeYearlyPerformance lists a grade's students with tier over its school
// year.
func (s *PerformanceService) GradeYearlyPerformance(ctx context.Context, gradeCode, tier string) (*PerformanceResult, error) {
	return s.Handle(ctx, ListByPerformanceQuery{
		CohortSelector: CohortSelector{Scope: ranking.ScopeGrade, Code: gradeCode},
		Tier:           tier,
	})
}

// Handle runs the query. An empty listing is reported as ErrNotFound.
func (s *PerformanceService) Handle(ctx context.Context, q ListByPerformanceQuery) (*PerformanceResult, error) {
	tier, err := q.Validate()
	if err != nil {
		return nil, err
	}

	rc, err := s.resolver.resolve(ctx, q.CohortSelector)
	if err != nil {
		return nil, err
	}

	records, err := s.averages.ListStudentAverages(ctx, rc.cohort.Period, academic.StudentCodes(rc.students))
	if err != nil {
		return nil, shared.StorageFailure("query", "ListStudentAverages", err)
	}

	rows := make([]PerformanceRowDTO, 0)
	for _, rec := range records {
		if rec.Tier != tier {
			continue
		}
		rows = append(rows, PerformanceRowDTO{
			StudentCode: rec.StudentCode,
			Name:        rc.nameOf(rec.StudentCode),
			Average:     rec.Average,
			Tier:        rec.Tier,
			TierLabel:   rec.Tier.Label(),
		})
	}
	if len(rows) == 0 {
		return nil, notFound("ListByPerformance",
			fmt.Sprintf("no students with performance %q in %s", tier.Label(), rc.cohort))
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Average != rows[j].Average {
			return rows[i].Average > rows[j].Average
		}
		return rows[i].StudentCode < rows[j].StudentCode
	})

	s.logger.Debug("performance listing",
		"cohort", rc.cohort.Key(),
		"tier", string(tier),
		"count", len(rows),
	)

	return &PerformanceResult{
		Scope:         rc.cohort.Scope,
		CohortCode:    rc.cohort.Code,
		PeriodCode:    rc.cohort.Period.Code,
		Tier:          tier,
		TotalStudents: len(rows),
		Students:      rows,
		GeneratedAt:   time.Now().UTC(),
	}, nil
}

package query

import (
	"context"
	"errors"
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
// GET RANKINGS QUERY
// Returns the ranked list of a classroom or grade for a term or school year.
// Ranks are the ones persisted by the aggregation engine; this query never
// re-ranks.
// ══════════════════════════════════════════════════════════════════════════════

// RankingRowDTO is one ranked student.
type RankingRowDTO struct {
	StudentCode string  `json:"student_code"`
	Name        string  `json:"name"`
	Average     float64 `json:"average"`
	Rank        int     `json:"rank"`
}

// RankingResult is the answer of a rankings query.
type RankingResult struct {
	Scope      ranking.Scope `json:"scope"`
	CohortCode string        `json:"cohort_code"`
	PeriodCode string        `json:"period_code"`

	// TotalStudents is the size of the cohort, ranked or not.
	TotalStudents int `json:"total_students"`

	// Rankings is ordered by rank.
	Rankings []RankingRowDTO `json:"rankings"`

	// FromCache tells whether the rows came from the rank cache.
	FromCache bool `json:"from_cache"`

	GeneratedAt time.Time `json:"generated_at"`
}

// CacheObserver is notified of every rank cache lookup.
type CacheObserver interface {
	CacheLookup(scope ranking.Scope, hit bool)
}

// RankingOption configures optional collaborators of RankingService.
type RankingOption func(*RankingService)

// WithRankCache reads cohort rankings from cache before the store. Rankings
// read from the store on a miss are written back with ttl.
func WithRankCache(cache ranking.Cache, ttl time.Duration) RankingOption {
	return func(s *RankingService) {
		s.cache = cache
		s.cacheTTL = ttl
	}
}

// WithCacheWarmup controls whether store reads are written back to the rank
// cache. It is on by default.
func WithCacheWarmup(enabled bool) RankingOption {
	return func(s *RankingService) { s.noWarmup = !enabled }
}

// WithCacheObserver reports cache hits and misses.
func WithCacheObserver(o CacheObserver) RankingOption {
	return func(s *RankingService) { s.observer = o }
}

// RankingService answers ranking queries.
type RankingService struct {
	resolver cohortResolver
	averages grading.AverageRepository
	cache    ranking.Cache
	cacheTTL time.Duration
	noWarmup bool
	observer CacheObserver
	logger   *slog.Logger
}

// NewRankingService creates a new RankingService.
func NewRankingService(
	refs academic.ReferenceRepository,
	averages grading.AverageRepository,
	logger *slog.Logger,
	opts ...RankingOption,
) *RankingService {
	if logger == nil {
		logger = slog.Default()
	}
	s := &RankingService{
		resolver: cohortResolver{refs: refs},
		averages: averages,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ClassroomTermRankings ranks a classroom for a term.
func (s *RankingService) ClassroomTermRankings(ctx context.Context, classroomCode, termCode string) (*RankingResult, error) {
	if termCode == "" {
		return nil, invalid("ClassroomTermRankings", "term code is required")
	}
	return s.Rankings(ctx, CohortSelector{Scope: ranking.ScopeClassroom, Code: classroomCode, TermCode: termCode})
}

// GradeTermRankings ranks a grade for a term.
func (s *RankingService) GradeTermRankings(ctx context.Context, gradeCode, termCode string) (*RankingResult, error) {
	if termCode == "" {
		return nil, invalid("GradeTermRankings", "term code is required")
	}
	return s.Rankings(ctx, CohortSelector{Scope: ranking.ScopeGrade, Code: gradeCode, TermCode: termCode})
}

// ClassroomYearlyRankings ranks a classroom for the school year of its grade.
func (s *RankingService) ClassroomYearlyRankings(ctx context.Context, classroomCode string) (*RankingResult, error) {
	return s.Rankings(ctx, CohortSelector{Scope: ranking.ScopeClassroom, Code: classroomCode})
}

// GradeYearlyRankings ranks a grade for its school year.
func (s *RankingService) GradeYearlyRankings(ctx context.Context, gradeCode string) (*RankingResult, error) {
	return s.Rankings(ctx, CohortSelector{Scope: ranking.ScopeGrade, Code: gradeCode})
}

// Rankings runs the query for any selector.
func (s *RankingService) Rankings(ctx context.Context, sel CohortSelector) (*RankingResult, error) {
	rc, err := s.resolver.resolve(ctx, sel)
	if err != nil {
		return nil, err
	}

	entries, fromCache := s.loadCached(ctx, rc.cohort)
	if !fromCache {
		entries, err = s.loadStored(ctx, rc)
		if err != nil {
			return nil, err
		}
		if len(entries) == 0 {
			return nil, notFound("Rankings",
				fmt.Sprintf("no ranking records for %s", rc.cohort))
		}
		s.warmCache(ctx, rc.cohort, entries)
	}

	result := &RankingResult{
		Scope:         rc.cohort.Scope,
		CohortCode:    rc.cohort.Code,
		PeriodCode:    rc.cohort.Period.Code,
		TotalStudents: len(rc.students),
		Rankings:      make([]RankingRowDTO, 0, len(entries)),
		FromCache:     fromCache,
		GeneratedAt:   time.Now().UTC(),
	}
	for _, e := range entries {
		result.Rankings = append(result.Rankings, RankingRowDTO{
			StudentCode: e.StudentCode,
			Name:        rc.nameOf(e.StudentCode),
			Average:     e.Average,
			Rank:        e.Rank,
		})
	}
	return result, nil
}

// loadCached returns the cached ranking. Any cache failure counts as a miss.
func (s *RankingService) loadCached(ctx context.Context, cohort ranking.Cohort) ([]ranking.Entry, bool) {
	if s.cache == nil {
		return nil, false
	}

	entries, err := s.cache.Load(ctx, cohort)
	hit := err == nil && len(entries) > 0
	if s.observer != nil {
		s.observer.CacheLookup(cohort.Scope, hit)
	}
	if err != nil && !errors.Is(err, ranking.ErrCacheMiss) {
		s.logger.Warn("rank cache read failed, using store",
			"cohort", cohort.Key(),
			"error", err,
		)
	}
	return entries, hit
}

// loadStored reads the persisted ranks of the cohort members. Records not
// ranked yet for this scope sort after the ranked ones.
func (s *RankingService) loadStored(ctx context.Context, rc resolvedCohort) ([]ranking.Entry, error) {
	records, err := s.averages.ListStudentAverages(ctx, rc.cohort.Period, academic.StudentCodes(rc.students))
	if err != nil {
		return nil, shared.StorageFailure("query", "ListStudentAverages", err)
	}

	entries := make([]ranking.Entry, 0, len(records))
	for _, rec := range records {
		rank := rec.ClassroomRank
		if rc.cohort.Scope == ranking.ScopeGrade {
			rank = rec.GradeRank
		}
		entries = append(entries, ranking.Entry{
			StudentCode: rec.StudentCode,
			Average:     rec.Average,
			Rank:        rank,
		})
	}
	sortByRank(entries)
	return entries, nil
}

// warmCache writes a fully ranked list back to the cache.
func (s *RankingService) warmCache(ctx context.Context, cohort ranking.Cohort, entries []ranking.Entry) {
	if s.cache == nil || s.noWarmup {
		return
	}
	for _, e := range entries {
		if e.Rank == 0 {
			return
		}
	}
	if err := s.cache.Store(ctx, cohort, entries, s.cacheTTL); err != nil {
		s.logger.Warn("failed to warm rank cache",
			"cohort", cohort.Key(),
			"error", err,
		)
	}
}

func sortByRank(entries []ranking.Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if (a.Rank == 0) != (b.Rank == 0) {
			return a.Rank != 0
		}
		if a.Rank != b.Rank {
			return a.Rank < b.Rank
		}
		if a.Average != b.Average {
			return a.Average > b.Average
		}
		return a.StudentCode < b.StudentCode
	})
}

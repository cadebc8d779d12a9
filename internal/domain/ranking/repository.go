package ranking

import (
	"context"
	"errors"
	"time"

	"github.com/mhieu102/N3-CCPTPM-S4/internal/domain/grading"
)

// ══════════════════════════════════════════════════════════════════════════════
// RANK WRITER
// ══════════════════════════════════════════════════════════════════════════════

// Repository persists rank assignments.
type Repository interface {
	// ReplaceRanks writes the rank field selected by scope for every student
	// in ranks, within one transaction. Each write replaces only that rank
	// field of the existing average record; students without a record are
	// ignored.
	ReplaceRanks(ctx context.Context, period grading.Period, scope Scope, ranks map[string]int) error
}

// ══════════════════════════════════════════════════════════════════════════════
// CACHE INTERFACE
// ══════════════════════════════════════════════════════════════════════════════

// Cache keeps the last computed ranking of each cohort for fast reads.
// The cache is never authoritative; a miss falls back to the repository.
type Cache interface {
	// Store replaces the cached list of a cohort.
	Store(ctx context.Context, cohort Cohort, entries []Entry, ttl time.Duration) error

	// Load returns the cached list ordered by rank. A miss returns
	// ErrCacheMiss.
	Load(ctx context.Context, cohort Cohort) ([]Entry, error)

	// Invalidate drops the cached list of a cohort.
	Invalidate(ctx context.Context, cohort Cohort) error
}

// ErrCacheMiss is returned by Cache.Load when nothing is cached.
var ErrCacheMiss = errors.New("ranking: cache miss")

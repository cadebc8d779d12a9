package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mhieu102/N3-CCPTPM-S4/internal/domain/ranking"
	"github.com/mhieu102/N3-CCPTPM-S4/pkg/circuitbreaker"
)

// Compile-time interface check.
var _ ranking.Cache = (*GuardedCache)(nil)

// ErrCacheUnavailable is returned while the breaker rejects cache calls.
var ErrCacheUnavailable = errors.New("ranking cache unavailable")

// GuardedCache puts a circuit breaker in front of a rank cache so a dead
// Redis costs one rejected call instead of one dial timeout per read.
// Misses do not count against the breaker.
type GuardedCache struct {
	inner   ranking.Cache
	breaker *circuitbreaker.CircuitBreaker
}

// NewGuardedCache wraps inner.
func NewGuardedCache(inner ranking.Cache, breaker *circuitbreaker.CircuitBreaker) *GuardedCache {
	return &GuardedCache{inner: inner, breaker: breaker}
}

func (g *GuardedCache) Store(ctx context.Context, cohort ranking.Cohort, entries []ranking.Entry, ttl time.Duration) error {
	return g.wrap(g.breaker.Execute(ctx, func(ctx context.Context) error {
		return g.inner.Store(ctx, cohort, entries, ttl)
	}))
}

func (g *GuardedCache) Load(ctx context.Context, cohort ranking.Cohort) ([]ranking.Entry, error) {
	var (
		entries []ranking.Entry
		miss    bool
	)
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		entries, err = g.inner.Load(ctx, cohort)
		if errors.Is(err, ranking.ErrCacheMiss) {
			miss = true
			return nil
		}
		return err
	})
	if err != nil {
		return nil, g.wrap(err)
	}
	if miss {
		return nil, ranking.ErrCacheMiss
	}
	return entries, nil
}

func (g *GuardedCache) Invalidate(ctx context.Context, cohort ranking.Cohort) error {
	return g.wrap(g.breaker.Execute(ctx, func(ctx context.Context) error {
		return g.inner.Invalidate(ctx, cohort)
	}))
}

// Breaker exposes the breaker for health checks.
func (g *GuardedCache) Breaker() *circuitbreaker.CircuitBreaker {
	return g.breaker
}

func (g *GuardedCache) wrap(err error) error {
	if err != nil && circuitbreaker.IsRejected(err) {
		return fmt.Errorf("%w: %w", ErrCacheUnavailable, err)
	}
	return err
}

package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mhieu102/N3-CCPTPM-S4/internal/domain/grading"
	"github.com/mhieu102/N3-CCPTPM-S4/internal/domain/ranking"
	"github.com/mhieu102/N3-CCPTPM-S4/pkg/circuitbreaker"
)

var errDial = errors.New("dial tcp: connection refused")

// flakyCache is a map cache that fails every call while down is set.
type flakyCache struct {
	down    bool
	calls   int
	entries map[string][]ranking.Entry
}

func (f *flakyCache) Store(_ context.Context, c ranking.Cohort, e []ranking.Entry, _ time.Duration) error {
	f.calls++
	if f.down {
		return errDial
	}
	f.entries[c.Key()] = e
	return nil
}

func (f *flakyCache) Load(_ context.Context, c ranking.Cohort) ([]ranking.Entry, error) {
	f.calls++
	if f.down {
		return nil, errDial
	}
	e, ok := f.entries[c.Key()]
	if !ok {
		return nil, ranking.ErrCacheMiss
	}
	return e, nil
}

func (f *flakyCache) Invalidate(_ context.Context, c ranking.Cohort) error {
	f.calls++
	if f.down {
		return errDial
	}
	delete(f.entries, c.Key())
	return nil
}

func newGuarded(t *testing.T) (*GuardedCache, *flakyCache) {
	t.Helper()
	inner := &flakyCache{entries: map[string][]ranking.Entry{}}
	breaker := circuitbreaker.New("test-cache",
		circuitbreaker.WithFailureThreshold(2),
		circuitbreaker.WithCooldown(time.Hour),
	)
	return NewGuardedCache(inner, breaker), inner
}

func TestGuardedCache_PassesThrough(t *testing.T) {
	g, _ := newGuarded(t)
	ctx := context.Background()
	cohort := ranking.Cohort{Scope: ranking.ScopeGrade, Code: "G10", Period: grading.TermPeriod("T1")}
	entries := []ranking.Entry{{StudentCode: "S1", Average: 9, Rank: 1}}

	require.NoError(t, g.Store(ctx, cohort, entries, time.Minute))
	got, err := g.Load(ctx, cohort)
	require.NoError(t, err)
	assert.Equal(t, entries, got)

	require.NoError(t, g.Invalidate(ctx, cohort))
	_, err = g.Load(ctx, cohort)
	assert.ErrorIs(t, err, ranking.ErrCacheMiss)
}

func TestGuardedCache_MissesDoNotTrip(t *testing.T) {
	g, _ := newGuarded(t)
	cohort := ranking.Cohort{Scope: ranking.ScopeClassroom, Code: "C1", Period: grading.TermPeriod("T1")}

	for i := 0; i < 5; i++ {
		_, err := g.Load(context.Background(), cohort)
		require.ErrorIs(t, err, ranking.ErrCacheMiss)
	}
	assert.Equal(t, circuitbreaker.StateClosed, g.Breaker().State())
}

func TestGuardedCache_FailsFastWhenOpen(t *testing.T) {
	g, inner := newGuarded(t)
	ctx := context.Background()
	cohort := ranking.Cohort{Scope: ranking.ScopeClassroom, Code: "C1", Period: grading.TermPeriod("T1")}
	inner.down = true

	_, err := g.Load(ctx, cohort)
	assert.ErrorIs(t, err, errDial)
	assert.NotErrorIs(t, err, ErrCacheUnavailable)
	assert.ErrorIs(t, g.Invalidate(ctx, cohort), errDial)
	require.Equal(t, circuitbreaker.StateOpen, g.Breaker().State())

	calls := inner.calls
	_, err = g.Load(ctx, cohort)
	assert.ErrorIs(t, err, ErrCacheUnavailable)
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
	assert.ErrorIs(t, g.Store(ctx, cohort, nil, 0), ErrCacheUnavailable)
	assert.Equal(t, calls, inner.calls, "rejected calls never reach redis")
}

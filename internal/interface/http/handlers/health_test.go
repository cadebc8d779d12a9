package handlers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func TestCompositeHealthChecker_AllHealthy(t *testing.T) {
	c := NewCompositeHealthChecker("1.0.0")
	c.AddCheck("database", NewPingCheck(pinger{}))
	c.AddCheck("cache", NewPingCheck(pinger{}))

	status := c.Check(context.Background())
	assert.True(t, status.Healthy)
	assert.True(t, status.Ready)
	assert.Equal(t, "1.0.0", status.Version)
	require.Len(t, status.Checks, 2)
	assert.Equal(t, "OK", status.Checks["database"].Message)
}

func TestCompositeHealthChecker_ReportsFailures(t *testing.T) {
	c := NewCompositeHealthChecker("")
	c.AddCheck("database", NewPingCheck(pinger{err: errors.New("connection refused")}))
	c.AddCheck("cache", NewPingCheck(pinger{err: errors.New("timeout")}))
	c.AddCheck("bus", NewPingCheck(pinger{}))

	status := c.Check(context.Background())
	assert.False(t, status.Healthy)
	assert.False(t, status.Ready)
	assert.Equal(t, "Some checks failed: cache, database", status.Message)
	assert.Equal(t, "connection refused", status.Checks["database"].Message)

	c.RemoveCheck("database")
	c.RemoveCheck("cache")
	assert.True(t, c.Check(context.Background()).Healthy)
}

func TestCompositeHealthChecker_TimesOutSlowChecks(t *testing.T) {
	c := NewCompositeHealthChecker("")
	c.SetTimeout(20 * time.Millisecond)
	c.AddCheck("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	status := c.Check(context.Background())
	assert.False(t, status.Healthy)
	assert.Contains(t, status.Checks["slow"].Message, "deadline")
}

func TestStalenessCheck(t *testing.T) {
	var last time.Time
	check := NewStalenessCheck(func() time.Time { return last }, time.Hour)

	assert.NoError(t, check(context.Background()))

	last = time.Now().Add(-30 * time.Minute)
	assert.NoError(t, check(context.Background()))

	last = time.Now().Add(-2 * time.Hour)
	assert.Error(t, check(context.Background()))
}

func TestNoopHealthChecker(t *testing.T) {
	n := NewNoopHealthChecker()
	n.AddCheck("x", NewPingCheck(pinger{err: errors.New("ignored")}))
	assert.True(t, n.Check(context.Background()).Healthy)
}

func TestCompositeHealthChecker_OptionalChecksDegrade(t *testing.T) {
	c := NewCompositeHealthChecker("")
	c.AddCheck("database", NewPingCheck(pinger{}))
	c.AddOptionalCheck("redis", NewPingCheck(pinger{err: errors.New("connection refused")}))

	status := c.Check(context.Background())
	assert.True(t, status.Healthy)
	assert.True(t, status.Ready)
	assert.Equal(t, []string{"redis"}, status.Degraded)
	assert.Equal(t, "Degraded: redis", status.Message)
	assert.True(t, status.Checks["redis"].Optional)
}

func TestStateCheck(t *testing.T) {
	state := "closed"
	check := NewStateCheck(func() string { return state }, "closed")
	assert.NoError(t, check(context.Background()))

	state = "open"
	assert.EqualError(t, check(context.Background()), "state is open")
}

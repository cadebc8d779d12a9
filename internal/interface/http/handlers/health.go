// Package handlers contains the health checking used by the ops server.
package handlers

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// HealthChecker is what the ops server asks for /healthz and /ready.
type HealthChecker interface {
	Check(ctx context.Context) HealthStatus
	AddCheck(name string, check HealthCheckFunc)
	RemoveCheck(name string)
}

// HealthCheckFunc returns nil when the dependency is usable.
type HealthCheckFunc func(ctx context.Context) error

// HealthStatus is the body of the health endpoints.
type HealthStatus struct {
	Healthy   bool                   `json:"healthy"`
	Ready     bool                   `json:"ready"`
	Message   string                 `json:"message,omitempty"`
	Degraded  []string               `json:"degraded,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
	Uptime    string                 `json:"uptime,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version,omitempty"`
}

// CheckResult is the outcome of one named check.
type CheckResult struct {
	Healthy  bool   `json:"healthy"`
	Optional bool   `json:"optional,omitempty"`
	Message  string `json:"message,omitempty"`
	Duration string `json:"duration,omitempty"`
}

type registeredCheck struct {
	fn       HealthCheckFunc
	optional bool
}

// CompositeHealthChecker runs its checks concurrently, each under its own
// timeout. A failed required check makes the service unhealthy and not
// ready; a failed optional check only marks it degraded.
type CompositeHealthChecker struct {
	mu      sync.RWMutex
	checks  map[string]registeredCheck
	started time.Time
	version string
	timeout time.Duration
}

func NewCompositeHealthChecker(version string) *CompositeHealthChecker {
	return &CompositeHealthChecker{
		checks:  make(map[string]registeredCheck),
		started: time.Now(),
		version: version,
		timeout: 5 * time.Second,
	}
}

// SetTimeout bounds every single check.
func (c *CompositeHealthChecker) SetTimeout(timeout time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if timeout > 0 {
		c.timeout = timeout
	}
}

// AddCheck registers a required check, replacing one with the same name.
func (c *CompositeHealthChecker) AddCheck(name string, check HealthCheckFunc) {
	c.add(name, registeredCheck{fn: check})
}

// AddOptionalCheck registers a check for a dependency the service can run
// without, such as the rank cache.
func (c *CompositeHealthChecker) AddOptionalCheck(name string, check HealthCheckFunc) {
	c.add(name, registeredCheck{fn: check, optional: true})
}

func (c *CompositeHealthChecker) add(name string, rc registeredCheck) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = rc
}

func (c *CompositeHealthChecker) RemoveCheck(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.checks, name)
}

// Check runs every registered check and folds the results.
func (c *CompositeHealthChecker) Check(ctx context.Context) HealthStatus {
	c.mu.RLock()
	names := make([]string, 0, len(c.checks))
	checks := make([]registeredCheck, 0, len(c.checks))
	for name, rc := range c.checks {
		names = append(names, name)
		checks = append(checks, rc)
	}
	timeout := c.timeout
	c.mu.RUnlock()

	status := HealthStatus{
		Healthy:   true,
		Ready:     true,
		Checks:    make(map[string]CheckResult, len(checks)),
		Uptime:    time.Since(c.started).Round(time.Second).String(),
		Timestamp: time.Now().UTC(),
		Version:   c.version,
	}
	if len(checks) == 0 {
		status.Message = "No health checks registered"
		return status
	}

	// Check functions never fail the group; each writes its own slot.
	results := make([]CheckResult, len(checks))
	var g errgroup.Group
	for i, rc := range checks {
		g.Go(func() error {
			results[i] = runCheck(ctx, rc, timeout)
			return nil
		})
	}
	_ = g.Wait()

	var failed []string
	for i, res := range results {
		status.Checks[names[i]] = res
		switch {
		case res.Healthy:
		case res.Optional:
			status.Degraded = append(status.Degraded, names[i])
		default:
			failed = append(failed, names[i])
		}
	}
	slices.Sort(failed)
	slices.Sort(status.Degraded)

	switch {
	case len(failed) > 0:
		status.Healthy = false
		status.Ready = false
		status.Message = "Some checks failed: " + strings.Join(failed, ", ")
	case len(status.Degraded) > 0:
		status.Message = "Degraded: " + strings.Join(status.Degraded, ", ")
	default:
		status.Message = "All checks passed"
	}
	return status
}

func runCheck(ctx context.Context, rc registeredCheck, timeout time.Duration) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := rc.fn(ctx)
	res := CheckResult{
		Healthy:  err == nil,
		Optional: rc.optional,
		Message:  "OK",
		Duration: time.Since(start).Round(time.Millisecond).String(),
	}
	if err != nil {
		res.Message = err.Error()
	}
	return res
}

// ══════════════════════════════════════════════════════════════════════════════
// CHECKS
// ══════════════════════════════════════════════════════════════════════════════

// Pinger is implemented by the postgres connection and the redis client.
type Pinger interface {
	Ping(ctx context.Context) error
}

func NewPingCheck(p Pinger) HealthCheckFunc {
	return p.Ping
}

// NewStalenessCheck fails when the last successful run reported by lastOK is
// older than maxAge. A zero time means nothing ran yet and passes.
func NewStalenessCheck(lastOK func() time.Time, maxAge time.Duration) HealthCheckFunc {
	return func(context.Context) error {
		at := lastOK()
		if at.IsZero() {
			return nil
		}
		if age := time.Since(at); age > maxAge {
			return fmt.Errorf("last successful run %s ago, limit %s", age.Round(time.Second), maxAge)
		}
		return nil
	}
}

// NewStateCheck fails while state returns anything but want, e.g. a circuit
// breaker that is not closed.
func NewStateCheck[S comparable](state func() S, want S) HealthCheckFunc {
	return func(context.Context) error {
		if got := state(); got != want {
			return fmt.Errorf("state is %v", got)
		}
		return nil
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// NOOP
// ══════════════════════════════════════════════════════════════════════════════

// NoopHealthChecker is always healthy. The server falls back to it when no
// checker is configured.
type NoopHealthChecker struct {
	started time.Time
}

func NewNoopHealthChecker() *NoopHealthChecker {
	return &NoopHealthChecker{started: time.Now()}
}

func (n *NoopHealthChecker) Check(context.Context) HealthStatus {
	return HealthStatus{
		Healthy:   true,
		Ready:     true,
		Message:   "OK",
		Uptime:    time.Since(n.started).Round(time.Second).String(),
		Timestamp: time.Now().UTC(),
	}
}

func (n *NoopHealthChecker) AddCheck(string, HealthCheckFunc) {}

func (n *NoopHealthChecker) RemoveCheck(string) {}

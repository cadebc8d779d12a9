// Package metrics exposes the aggregation pipeline as Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mhieu102/N3-CCPTPM-S4/internal/application/aggregation"
	"github.com/mhieu102/N3-CCPTPM-S4/internal/application/query"
	"github.com/mhieu102/N3-CCPTPM-S4/internal/domain/grading"
	"github.com/mhieu102/N3-CCPTPM-S4/internal/domain/ranking"
	"github.com/mhieu102/N3-CCPTPM-S4/internal/domain/shared"
	"github.com/mhieu102/N3-CCPTPM-S4/internal/infrastructure/messaging"
	httpserver "github.com/mhieu102/N3-CCPTPM-S4/internal/interface/http"
	"github.com/mhieu102/N3-CCPTPM-S4/pkg/circuitbreaker"
)

// Compile-time interface checks.
var (
	_ aggregation.Metrics = (*Collector)(nil)
	_ messaging.Observer  = (*Collector)(nil)
	_ query.CacheObserver = (*Collector)(nil)

	_ httpserver.RequestObserver = (*Collector)(nil)
)

// Collector provides gradebook metrics collection on a private registry.
type Collector struct {
	registry *prometheus.Registry

	// Chain metrics
	chainTotal    *prometheus.CounterVec
	chainDuration *prometheus.HistogramVec
	stageFailures *prometheus.CounterVec

	// Ranking metrics
	ranksWritten   *prometheus.CounterVec
	cohortsSkipped *prometheus.CounterVec
	cacheLookups   *prometheus.CounterVec
	breakerState   *prometheus.GaugeVec

	// Bulk metrics
	bulkTriggers prometheus.Counter
	bulkKeys     prometheus.Counter

	// Event bus metrics
	handlerTotal    *prometheus.CounterVec
	handlerDuration *prometheus.HistogramVec

	// Ops server metrics
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// NewCollector creates a new collector. The Go runtime and process
// collectors are registered alongside.
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "gradebook"
	}

	c := &Collector{registry: prometheus.NewRegistry()}

	c.chainTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregation",
			Name:      "chains_total",
			Help:      "Total number of recomputation chains by result",
		},
		[]string{"result"},
	)

	c.chainDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "aggregation",
			Name:      "chain_duration_seconds",
			Help:      "Time taken by one recomputation chain",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
		},
		[]string{"result"},
	)

	c.stageFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregation",
			Name:      "stage_failures_total",
			Help:      "Total number of chains that stopped at a stage",
		},
		[]string{"stage"},
	)

	c.ranksWritten = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ranking",
			Name:      "ranks_written_total",
			Help:      "Total number of rank fields written",
		},
		[]string{"scope", "period"},
	)

	c.cohortsSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ranking",
			Name:      "cohorts_skipped_total",
			Help:      "Total number of empty cohorts skipped",
		},
		[]string{"scope", "period"},
	)

	c.cacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ranking",
			Name:      "cache_lookups_total",
			Help:      "Rank cache lookups by the query layer",
		},
		[]string{"scope", "result"},
	)

	c.breakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ranking",
			Name:      "breaker_state",
			Help:      "Circuit breaker state (0 closed, 1 open, 2 half-open)",
		},
		[]string{"breaker"},
	)

	c.bulkTriggers = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "bulk",
		Name:      "triggers_total",
		Help:      "Score changes received by bulk recomputation",
	})

	c.bulkKeys = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "bulk",
		Name:      "keys_total",
		Help:      "Distinct chains run by bulk recomputation after deduplication",
	})

	c.handlerTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "handled_total",
			Help:      "Total number of event handler executions",
		},
		[]string{"event_type", "result"},
	)

	c.handlerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "handler_duration_seconds",
			Help:      "Time taken by event handlers",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"event_type"},
	)

	c.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Requests served by the ops server",
		},
		[]string{"route", "code"},
	)

	c.httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Time taken to serve an ops request",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	c.registry.MustRegister(
		c.chainTotal,
		c.chainDuration,
		c.stageFailures,
		c.ranksWritten,
		c.cohortsSkipped,
		c.cacheLookups,
		c.breakerState,
		c.bulkTriggers,
		c.bulkKeys,
		c.handlerTotal,
		c.handlerDuration,
		c.httpRequests,
		c.httpDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return c
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ══════════════════════════════════════════════════════════════════════════════
// aggregation.Metrics
// ══════════════════════════════════════════════════════════════════════════════

// ChainCompleted records one finished chain.
func (c *Collector) ChainCompleted(d time.Duration, err error) {
	res := result(err)
	c.chainTotal.WithLabelValues(res).Inc()
	c.chainDuration.WithLabelValues(res).Observe(d.Seconds())
}

// StageFailed records the stage a chain stopped at.
func (c *Collector) StageFailed(stage aggregation.Stage) {
	c.stageFailures.WithLabelValues(string(stage)).Inc()
}

// RanksWritten records a cohort rewrite.
func (c *Collector) RanksWritten(scope ranking.Scope, kind grading.PeriodKind, n int) {
	c.ranksWritten.WithLabelValues(string(scope), string(kind)).Add(float64(n))
}

// CohortSkipped records an empty cohort.
func (c *Collector) CohortSkipped(scope ranking.Scope, kind grading.PeriodKind) {
	c.cohortsSkipped.WithLabelValues(string(scope), string(kind)).Inc()
}

// BulkDeduplicated records the size of a bulk request before and after
// deduplication.
func (c *Collector) BulkDeduplicated(triggers, keys int) {
	c.bulkTriggers.Add(float64(triggers))
	c.bulkKeys.Add(float64(keys))
}

// ══════════════════════════════════════════════════════════════════════════════
// messaging.Observer
// ══════════════════════════════════════════════════════════════════════════════

// HandlerDone records one event handler execution.
func (c *Collector) HandlerDone(eventType shared.EventType, d time.Duration, err error) {
	c.handlerTotal.WithLabelValues(string(eventType), result(err)).Inc()
	c.handlerDuration.WithLabelValues(string(eventType)).Observe(d.Seconds())
}

// ══════════════════════════════════════════════════════════════════════════════
// query.CacheObserver
// ══════════════════════════════════════════════════════════════════════════════

// CacheLookup records a rank cache hit or miss.
func (c *Collector) CacheLookup(scope ranking.Scope, hit bool) {
	res := "miss"
	if hit {
		res = "hit"
	}
	c.cacheLookups.WithLabelValues(string(scope), res).Inc()
}

// ══════════════════════════════════════════════════════════════════════════════
// http.RequestObserver
// ══════════════════════════════════════════════════════════════════════════════

// RequestServed records one ops request.
func (c *Collector) RequestServed(route string, status int, d time.Duration) {
	c.httpRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	c.httpDuration.WithLabelValues(route).Observe(d.Seconds())
}

// BreakerStateChanged matches circuitbreaker's OnStateChange callback.
func (c *Collector) BreakerStateChanged(name string, _, to circuitbreaker.State) {
	c.breakerState.WithLabelValues(name).Set(float64(to))
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

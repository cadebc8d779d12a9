// Package main is the entry point of the gradebook worker.
//
// The worker owns the aggregation chain:
//   - consumes score.upserted events and recomputes averages, tiers and ranks
//   - periodically re-ranks every cohort to repair stale ranks
//   - serves health probes and Prometheus metrics
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mhieu102/N3-CCPTPM-S4/config"
	"github.com/mhieu102/N3-CCPTPM-S4/internal/application/aggregation"
	"github.com/mhieu102/N3-CCPTPM-S4/internal/application/eventhandler"
	"github.com/mhieu102/N3-CCPTPM-S4/internal/domain/shared"
	"github.com/mhieu102/N3-CCPTPM-S4/internal/infrastructure/messaging"
	"github.com/mhieu102/N3-CCPTPM-S4/internal/infrastructure/metrics"
	"github.com/mhieu102/N3-CCPTPM-S4/internal/infrastructure/persistence/postgres"
	"github.com/mhieu102/N3-CCPTPM-S4/internal/infrastructure/persistence/redis"
	"github.com/mhieu102/N3-CCPTPM-S4/internal/infrastructure/scheduler"
	"github.com/mhieu102/N3-CCPTPM-S4/internal/infrastructure/scheduler/jobs"
	httpserver "github.com/mhieu102/N3-CCPTPM-S4/internal/interface/http"
	"github.com/mhieu102/N3-CCPTPM-S4/internal/interface/http/handlers"
	"github.com/mhieu102/N3-CCPTPM-S4/pkg/circuitbreaker"
	"github.com/mhieu102/N3-CCPTPM-S4/pkg/logger"
)

// eventBus is implemented by both bus backends.
type eventBus interface {
	shared.EventBus
	Close() error
}

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	log := logger.New(logger.Options{
		Level:   cfg.Observability.LogLevel,
		Format:  logger.Format(cfg.Observability.LogFormat),
		Output:  os.Stdout,
		Service: cfg.App.Name + "-worker",
		Version: cfg.App.Version,
	})
	slog.SetDefault(log)
	log.Info("starting gradebook worker",
		"env", cfg.App.Environment,
		"timezone", cfg.App.Timezone,
		"event_bus", cfg.Events.Backend,
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. DATABASE
	// ─────────────────────────────────────────────────────────────────────────
	dbConn, err := postgres.Connect(ctx, cfg.Database.URL, postgres.PoolOptions{
		MaxConns:        int32(cfg.Database.MaxConns),
		MinConns:        int32(cfg.Database.MinConns),
		MaxConnLifetime: cfg.Database.ConnMaxLifetime,
		MaxConnIdleTime: cfg.Database.ConnMaxIdleTime,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		log.Info("closing database connection")
		dbConn.Close()
	}()

	if cfg.Database.AutoMigrate {
		applied, err := postgres.NewMigrator(dbConn).Migrate(ctx)
		if err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		log.Info("database schema is up to date", "applied", applied)
	}
	store := postgres.NewStore(dbConn)

	// ─────────────────────────────────────────────────────────────────────────
	// 4. REDIS (optional)
	// ─────────────────────────────────────────────────────────────────────────
	var redisClient *redis.Client
	if !cfg.Redis.Disabled {
		redisClient, err = redis.NewClient(redisConfig(cfg.Redis))
		if err != nil {
			if cfg.Events.Backend == config.BusRedis {
				return fmt.Errorf("failed to connect to redis: %w", err)
			}
			log.Warn("redis unavailable, rank cache disabled", logger.Err(err))
		} else {
			defer redisClient.Close()
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. METRICS
	// ─────────────────────────────────────────────────────────────────────────
	collector := metrics.NewCollector(cfg.Observability.MetricsNamespace)

	// ─────────────────────────────────────────────────────────────────────────
	// 6. EVENT BUS
	// ─────────────────────────────────────────────────────────────────────────
	bus, err := newEventBus(ctx, cfg, redisClient, collector, log)
	if err != nil {
		return fmt.Errorf("failed to start event bus: %w", err)
	}
	defer func() {
		log.Info("closing event bus")
		_ = bus.Close()
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 7. AGGREGATION ENGINE
	// ─────────────────────────────────────────────────────────────────────────
	opts := []aggregation.Option{aggregation.WithMetrics(collector)}
	var cacheBreaker *circuitbreaker.CircuitBreaker
	if redisClient != nil && cfg.Features.IsEnabled(config.FeatureRankCache) {
		cacheBreaker = circuitbreaker.RankCacheBreaker(func(name string, from, to circuitbreaker.State) {
			log.Warn("rank cache breaker changed state", "breaker", name, "from", from.String(), "to", to.String())
			collector.BreakerStateChanged(name, from, to)
		})
		cache := redis.NewGuardedCache(redis.NewRankingCache(redisClient), cacheBreaker)
		opts = append(opts, aggregation.WithRankingCache(cache))
	}
	if cfg.Features.IsEnabled(config.FeatureRankingEvents) {
		opts = append(opts, aggregation.WithPublisher(bus))
	}
	engine := aggregation.NewEngine(aggregation.Repositories{
		References: store,
		Scores:     store,
		Averages:   store,
		Ranks:      store,
	}, aggregation.Config{
		BulkConcurrency: cfg.Aggregation.BulkConcurrency,
		RankCacheTTL:    cfg.Aggregation.RankCacheTTL,
	}, log, opts...)

	onScore := eventhandler.NewOnScoreUpsertedHandler(engine, eventhandler.ScoreUpsertedConfig{
		Timeout:        cfg.Aggregation.HandlerTimeout,
		RetryAttempts:  cfg.Aggregation.RetryAttempts,
		RetryBaseDelay: cfg.Aggregation.RetryBaseDelay,
	}, log)
	if err := bus.Subscribe(shared.EventScoreUpserted, onScore.Handle); err != nil {
		return fmt.Errorf("failed to subscribe %s: %w", shared.EventScoreUpserted, err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 8. HEALTH CHECKS & SCHEDULER
	// ─────────────────────────────────────────────────────────────────────────
	health := handlers.NewCompositeHealthChecker(cfg.App.Version)
	health.AddCheck("database", handlers.NewPingCheck(dbConn))
	if redisClient != nil {
		if cfg.Events.Backend == config.BusRedis {
			health.AddCheck("redis", handlers.NewPingCheck(redisClient))
		} else {
			health.AddOptionalCheck("redis", handlers.NewPingCheck(redisClient))
		}
	}
	if cacheBreaker != nil {
		health.AddOptionalCheck("rank_cache_breaker", handlers.NewStateCheck(cacheBreaker.State, circuitbreaker.StateClosed))
	}

	if cfg.Scheduler.Enabled && cfg.Features.IsEnabled(config.FeatureScheduledRebuild) {
		sched, rebuild, err := startScheduler(cfg, engine, log)
		if err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
		defer sched.Stop()

		if cfg.Scheduler.RebuildInterval > 0 {
			health.AddCheck("rebuild_rankings", handlers.NewStalenessCheck(rebuild.LastSuccess, 3*cfg.Scheduler.RebuildInterval))
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 9. HEALTH & METRICS SERVER
	// ─────────────────────────────────────────────────────────────────────────
	deps := httpserver.Dependencies{
		HealthChecker: health,
		Version:       cfg.App.Version,
		Logger:        log,
	}
	if cfg.Observability.MetricsEnabled {
		deps.Metrics = collector.Handler()
		deps.Observer = collector
	}
	srv := httpserver.NewServer(httpserver.Config{
		Port:         cfg.HTTP.Port,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  httpserver.DefaultConfig().IdleTimeout,
	}, deps)
	srvErr := srv.StartAsync()

	log.Info("gradebook worker is running", "http", cfg.HTTP.Addr())

	// ─────────────────────────────────────────────────────────────────────────
	// 10. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig.String())
	case err := <-srvErr:
		if err != nil {
			log.Error("http server stopped", logger.Err(err))
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		log.Warn("http server shutdown", logger.Err(err))
	}

	log.Info("shutdown completed")
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func redisConfig(c config.RedisConfig) redis.Config {
	rc := redis.DefaultConfig()
	rc.URL = c.URL
	if c.Host != "" {
		rc.Host = c.Host
	}
	if c.Port > 0 {
		rc.Port = c.Port
	}
	rc.Password = c.Password
	rc.DB = c.DB
	if c.PoolSize > 0 {
		rc.PoolSize = c.PoolSize
	}
	if c.MinIdleConns > 0 {
		rc.MinIdleConns = c.MinIdleConns
	}
	if c.DialTimeout > 0 {
		rc.DialTimeout = c.DialTimeout
	}
	if c.ReadTimeout > 0 {
		rc.ReadTimeout = c.ReadTimeout
	}
	if c.WriteTimeout > 0 {
		rc.WriteTimeout = c.WriteTimeout
	}
	return rc
}

func newEventBus(ctx context.Context, cfg *config.Config, rc *redis.Client, obs messaging.Observer, log *slog.Logger) (eventBus, error) {
	local := messaging.InMemoryEventBusConfig{
		AsyncMode:      cfg.Events.Async,
		WorkerPoolSize: cfg.Events.WorkerPoolSize,
		Logger:         log,
		Observer:       obs,
		Middlewares: []messaging.Middleware{
			messaging.RecoveryMiddleware(log),
			messaging.LoggingMiddleware(log),
		},
	}

	if cfg.Events.Backend != config.BusRedis {
		return messaging.NewInMemoryEventBus(local), nil
	}
	if rc == nil {
		return nil, errors.New("redis event bus requires a redis connection")
	}
	return messaging.NewRedisEventBus(ctx, messaging.RedisEventBusConfig{
		Client:         rc.Raw(),
		ChannelName:    cfg.Events.Channel,
		LocalBusConfig: local,
		Logger:         log,
	})
}

func startScheduler(cfg *config.Config, engine *aggregation.Engine, log *slog.Logger) (*scheduler.Scheduler, *jobs.RebuildRankingsJob, error) {
	sched := scheduler.New(scheduler.Config{
		Logger:     log.With(logger.Component("scheduler")),
		Timezone:   cfg.App.Location,
		JobTimeout: cfg.Scheduler.JobTimeout,
		RunOnStart: cfg.Scheduler.RunOnStart,
	})

	rebuild := jobs.NewRebuildRankingsJob(engine, jobs.RebuildRankingsConfig{
		SchoolYears: cfg.Scheduler.SchoolYears,
	}, log)

	var err error
	if cfg.Scheduler.RebuildCron != "" {
		err = sched.Cron(rebuild, cfg.Scheduler.RebuildCron)
	} else {
		err = sched.Every(rebuild, cfg.Scheduler.RebuildInterval)
	}
	if err != nil {
		return nil, nil, err
	}

	sched.Start()
	log.Info("scheduler started",
		"job", rebuild.Name(),
		"interval", cfg.Scheduler.RebuildInterval,
		"cron", cfg.Scheduler.RebuildCron,
	)
	return sched, rebuild, nil
}

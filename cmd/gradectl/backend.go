package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/mhieu102/N3-CCPTPM-S4/config"
	"github.com/mhieu102/N3-CCPTPM-S4/internal/application/aggregation"
	"github.com/mhieu102/N3-CCPTPM-S4/internal/application/command"
	"github.com/mhieu102/N3-CCPTPM-S4/internal/application/eventhandler"
	"github.com/mhieu102/N3-CCPTPM-S4/internal/application/query"
	"github.com/mhieu102/N3-CCPTPM-S4/internal/domain/academic"
	"github.com/mhieu102/N3-CCPTPM-S4/internal/domain/grading"
	"github.com/mhieu102/N3-CCPTPM-S4/internal/domain/ranking"
	"github.com/mhieu102/N3-CCPTPM-S4/internal/domain/shared"
	"github.com/mhieu102/N3-CCPTPM-S4/internal/infrastructure/messaging"
	"github.com/mhieu102/N3-CCPTPM-S4/internal/infrastructure/persistence/postgres"
	"github.com/mhieu102/N3-CCPTPM-S4/internal/infrastructure/persistence/redis"
	"github.com/mhieu102/N3-CCPTPM-S4/pkg/circuitbreaker"
	"github.com/mhieu102/N3-CCPTPM-S4/pkg/logger"
)

// errNoMigrator is returned by migrate subcommands on a backend without a
// database behind it.
var errNoMigrator = errors.New("migrations need a postgres backend")

// storage is every port the CLI reads or writes.
type storage interface {
	academic.ReferenceRepository
	grading.ScoreRepository
	grading.AverageRepository
	ranking.Repository
}

// backend holds the wired application services of one CLI invocation.
type backend struct {
	engine *aggregation.Engine
	bus    *messaging.InMemoryEventBus

	upsert      *command.UpsertScoreHandler
	bulk        *command.BulkUpsertScoresHandler
	rankings    *query.RankingService
	performance *query.PerformanceService

	migrator *postgres.Migrator
	closers  []func()
}

// Close releases the backend in reverse order of acquisition.
func (b *backend) Close() {
	_ = b.bus.Close()
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

// openBackend is replaced in tests.
var openBackend = openPostgresBackend

// openPostgresBackend connects to the configured database and, when
// enabled, to the Redis rank cache. A Redis failure only disables the cache.
func openPostgresBackend(ctx context.Context) (*backend, error) {
	if cfg == nil {
		return nil, errors.New("configuration not loaded")
	}

	conn, err := postgres.Connect(ctx, cfg.Database.URL, postgres.PoolOptions{
		MaxConns:        int32(cfg.Database.MaxConns),
		MinConns:        int32(cfg.Database.MinConns),
		MaxConnLifetime: cfg.Database.ConnMaxLifetime,
		MaxConnIdleTime: cfg.Database.ConnMaxIdleTime,
	})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	closers := []func(){conn.Close}

	var cache ranking.Cache
	if !cfg.Redis.Disabled && cfg.Features.IsEnabled(config.FeatureRankCache) {
		client, err := redis.NewClient(redisConfig(cfg.Redis))
		if err != nil {
			log.Warn("redis unavailable, running without rank cache", logger.Err(err))
		} else {
			closers = append(closers, func() { _ = client.Close() })
			breaker := circuitbreaker.RankCacheBreaker(func(name string, from, to circuitbreaker.State) {
				log.Warn("rank cache breaker changed state", "breaker", name, "from", from.String(), "to", to.String())
			})
			cache = redis.NewGuardedCache(redis.NewRankingCache(client), breaker)
		}
	}

	b := newBackend(postgres.NewStore(conn), cache)
	b.migrator = postgres.NewMigrator(conn)
	b.closers = closers
	return b, nil
}

// newBackend wires the services over st. Score writes go through a
// synchronous bus so the chain has finished when the write returns.
func newBackend(st storage, cache ranking.Cache) *backend {
	bus := messaging.NewInMemoryEventBus(messaging.InMemoryEventBusConfig{
		AsyncMode: false,
		Logger:    log,
		Middlewares: []messaging.Middleware{
			messaging.RecoveryMiddleware(log),
			messaging.LoggingMiddleware(log),
		},
	})

	aggCfg := aggregation.DefaultConfig()
	handlerCfg := eventhandler.DefaultScoreUpsertedConfig()
	warmup := true
	if cfg != nil {
		aggCfg.BulkConcurrency = cfg.Aggregation.BulkConcurrency
		aggCfg.RankCacheTTL = cfg.Aggregation.RankCacheTTL
		handlerCfg.Timeout = cfg.Aggregation.HandlerTimeout
		handlerCfg.RetryAttempts = cfg.Aggregation.RetryAttempts
		handlerCfg.RetryBaseDelay = cfg.Aggregation.RetryBaseDelay
		warmup = cfg.Features.IsEnabled(config.FeatureRankCacheWarmup)
	}

	opts := []aggregation.Option{aggregation.WithPublisher(bus)}
	queryOpts := []query.RankingOption{}
	if cache != nil {
		opts = append(opts, aggregation.WithRankingCache(cache))
		queryOpts = append(queryOpts,
			query.WithRankCache(cache, aggCfg.RankCacheTTL),
			query.WithCacheWarmup(warmup),
		)
	}

	repos := aggregation.Repositories{References: st, Scores: st, Averages: st, Ranks: st}
	engine := aggregation.NewEngine(repos, aggCfg, log, opts...)

	onScore := eventhandler.NewOnScoreUpsertedHandler(engine, handlerCfg, log)
	// Subscribe only fails on a nil handler.
	_ = bus.Subscribe(shared.EventScoreUpserted, onScore.Handle)

	return &backend{
		engine:      engine,
		bus:         bus,
		upsert:      command.NewUpsertScoreHandler(st, st, bus, log),
		bulk:        command.NewBulkUpsertScoresHandler(st, st, engine, log),
		rankings:    query.NewRankingService(st, st, log, queryOpts...),
		performance: query.NewPerformanceService(st, st, log),
	}
}

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
	if c.DialTimeout > 0 {
		rc.DialTimeout = c.DialTimeout
	}
	return rc
}

// withBackend opens a backend for the duration of fn.
func withBackend(ctx context.Context, fn func(*backend) error) error {
	b, err := openBackend(ctx)
	if err != nil {
		return err
	}
	defer b.Close()
	return fn(b)
}

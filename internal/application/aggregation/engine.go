// Package aggregation recomputes the cached averages, tiers and ranks that
// depend on a single score. A trigger runs seven stages in order:
//
//  1. resolve exam references (subject, term, school year)
//  2. subject-term average
//  3. student-term average and tier
//  4. term ranking of the classroom and grade cohorts
//  5. subject-yearly average
//  6. student-yearly average and tier
//  7. yearly ranking of the classroom and grade cohorts
//
// Each stage reads the committed output of the previous one. A failing stage
// aborts the rest of the chain; stages that already ran are not rolled back.
package aggregation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/mhieu102/N3-CCPTPM-S4/internal/domain/academic"
	"github.com/mhieu102/N3-CCPTPM-S4/internal/domain/grading"
	"github.com/mhieu102/N3-CCPTPM-S4/internal/domain/ranking"
	"github.com/mhieu102/N3-CCPTPM-S4/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// STAGES
// ═══════════════════════════════════════════════════════════════════════════

// Stage names one step of the chain. Used in errors, logs and metrics.
type Stage string

const (
	StageResolve            Stage = "resolve_references"
	StageSubjectTermAverage Stage = "subject_term_average"
	StageStudentTermAverage Stage = "student_term_average"
	StageTermRanking        Stage = "term_ranking"
	StageSubjectYearAverage Stage = "subject_yearly_average"
	StageStudentYearAverage Stage = "student_yearly_average"
	StageYearRanking        Stage = "yearly_ranking"
)

// StageError reports which stage aborted a chain.
type StageError struct {
	Stage Stage
	Key   string
	Err   error
}

// Error implements the error interface.
func (e *StageError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("aggregation %s [%s]: %v", e.Stage, e.Key, e.Err)
	}
	return fmt.Sprintf("aggregation %s: %v", e.Stage, e.Err)
}

// Unwrap returns the stage's underlying error.
func (e *StageError) Unwrap() error {
	return e.Err
}

// FailedStage extracts the stage from a chain error, or "" when err did not
// come from a stage.
func FailedStage(err error) Stage {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}

// ═══════════════════════════════════════════════════════════════════════════
// KEYS
// ═══════════════════════════════════════════════════════════════════════════

// Key is the unit of recomputation: one student's subject in one term.
// The school year is derived from the term.
type Key struct {
	StudentCode    string
	SubjectCode    string
	TermCode       string
	SchoolYearCode string
}

// KeyFor builds the key of a student's score on a resolved exam.
func KeyFor(studentCode string, exam academic.ExamContext) Key {
	return Key{
		StudentCode:    studentCode,
		SubjectCode:    exam.SubjectCode,
		TermCode:       exam.TermCode,
		SchoolYearCode: exam.SchoolYearCode,
	}
}

// String returns "student/subject/term".
func (k Key) String() string {
	return k.StudentCode + "/" + k.SubjectCode + "/" + k.TermCode
}

// ═══════════════════════════════════════════════════════════════════════════
// ENGINE
// ═══════════════════════════════════════════════════════════════════════════

// Repositories groups the storage ports the engine needs.
type Repositories struct {
	References academic.ReferenceRepository
	Scores     grading.ScoreRepository
	Averages   grading.AverageRepository
	Ranks      ranking.Repository
}

// Config holds engine tuning.
type Config struct {
	// BulkConcurrency bounds how many keys a bulk recompute runs at once.
	BulkConcurrency int

	// RankCacheTTL is how long a cached cohort ranking lives.
	RankCacheTTL time.Duration
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		BulkConcurrency: 4,
		RankCacheTTL:    10 * time.Minute,
	}
}

// Engine runs the recomputation chain.
type Engine struct {
	refs     academic.ReferenceRepository
	scores   grading.ScoreRepository
	averages grading.AverageRepository
	ranks    ranking.Repository

	cache     ranking.Cache
	publisher shared.EventPublisher
	metrics   Metrics
	logger    *slog.Logger
	config    Config

	// flight coalesces concurrent reads of read-only reference data
	// (cohort membership, term lists) across parallel chains.
	flight singleflight.Group

	// locks serializes the chains of one student and the read-rank-write
	// of one cohort. A chain takes its student before any cohort.
	locks keyedLock
}

// Option configures optional collaborators of the engine.
type Option func(*Engine)

// WithRankingCache stores every computed cohort ranking in cache.
func WithRankingCache(cache ranking.Cache) Option {
	return func(e *Engine) { e.cache = cache }
}

// WithPublisher publishes averages.recomputed and ranking.updated events.
func WithPublisher(p shared.EventPublisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// WithMetrics records chain metrics.
func WithMetrics(m Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine creates an engine over the given repositories.
func NewEngine(repos Repositories, config Config, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if config.BulkConcurrency <= 0 {
		config.BulkConcurrency = DefaultConfig().BulkConcurrency
	}

	e := &Engine{
		refs:      repos.References,
		scores:    repos.Scores,
		averages:  repos.Averages,
		ranks:     repos.Ranks,
		publisher: shared.NoopPublisher{},
		metrics:   noopMetrics{},
		logger:    logger.With("component", "aggregation"),
		config:    config,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Recompute runs the full chain for a score of studentCode on examCode.
// It is the only entry point of the scoring write path.
func (e *Engine) Recompute(ctx context.Context, studentCode, examCode string) error {
	start := time.Now()

	exam, err := e.resolve(ctx, examCode)
	if err != nil {
		err = e.fail(StageResolve, studentCode+"/"+examCode, err)
		e.metrics.ChainCompleted(time.Since(start), err)
		return err
	}

	err = e.runChain(ctx, KeyFor(studentCode, exam))
	e.metrics.ChainCompleted(time.Since(start), err)
	return err
}

// runChain executes stages 2 to 7 for a resolved key.
func (e *Engine) runChain(ctx context.Context, key Key) error {
	unlock, err := e.locks.Lock(ctx, "student:"+key.StudentCode)
	if err != nil {
		return e.fail(StageSubjectTermAverage, key.String(), err)
	}
	defer unlock()

	log := e.logger.With("key", key.String())
	log.Debug("recompute started")

	termPeriod := grading.TermPeriod(key.TermCode)
	yearPeriod := grading.YearPeriod(key.SchoolYearCode)

	if _, err := e.subjectTermAverage(ctx, key); err != nil {
		return e.fail(StageSubjectTermAverage, key.String(), err)
	}

	termAvg, err := e.studentAverage(ctx, key.StudentCode, termPeriod)
	if err != nil {
		return e.fail(StageStudentTermAverage, key.String(), err)
	}

	if err := e.rankStudentCohorts(ctx, key.StudentCode, termPeriod); err != nil {
		return e.fail(StageTermRanking, key.String(), err)
	}

	if _, err := e.subjectYearlyAverage(ctx, key); err != nil {
		return e.fail(StageSubjectYearAverage, key.String(), err)
	}

	yearAvg, err := e.studentAverage(ctx, key.StudentCode, yearPeriod)
	if err != nil {
		return e.fail(StageStudentYearAverage, key.String(), err)
	}

	if err := e.rankStudentCohorts(ctx, key.StudentCode, yearPeriod); err != nil {
		return e.fail(StageYearRanking, key.String(), err)
	}

	log.Info("recompute finished",
		"term_average", termAvg.Average,
		"term_tier", termAvg.Tier,
		"yearly_average", yearAvg.Average,
		"yearly_tier", yearAvg.Tier,
	)

	e.publish(shared.NewAveragesRecomputedEvent(
		uuid.NewString(), key.StudentCode, key.SubjectCode, key.TermCode, key.SchoolYearCode,
	))
	return nil
}

// fail logs a stage failure and wraps it.
func (e *Engine) fail(stage Stage, key string, err error) error {
	e.metrics.StageFailed(stage)

	attrs := []any{"stage", stage, "key", key, "error", err}
	switch {
	case shared.IsReferenceNotFound(err):
		e.logger.Warn("reference not found, chain aborted", attrs...)
	default:
		e.logger.Error("stage failed, chain aborted", attrs...)
	}
	return &StageError{Stage: stage, Key: key, Err: err}
}

func (e *Engine) publish(event shared.Event) {
	if err := e.publisher.Publish(event); err != nil {
		e.logger.Warn("failed to publish event",
			"event_type", event.EventType(),
			"error", err,
		)
	}
}

// sharedRead runs fn once for all concurrent callers of key. fn runs detached
// from any single caller's cancellation; each caller stops waiting when its
// own ctx ends.
func (e *Engine) sharedRead(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error) {
	detached := context.WithoutCancel(ctx)
	ch := e.flight.DoChan(key, func() (any, error) {
		return fn(detached)
	})
	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// keyedLock is a set of mutexes addressed by string. Lock waits can be
// abandoned through the context.
type keyedLock struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func (l *keyedLock) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.slots == nil {
		l.slots = make(map[string]chan struct{})
	}
	ch, ok := l.slots[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[key] = ch
	}
	return ch
}

// Lock acquires key and returns its release func.
func (l *keyedLock) Lock(ctx context.Context, key string) (func(), error) {
	ch := l.slot(key)
	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// storageErr classifies an error returned by a repository. Errors that
// already carry a kind pass through; anything else is a storage failure.
func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var de *shared.DomainError
	if errors.As(err, &de) {
		return err
	}
	return shared.StorageFailure("aggregation", op, err)
}

package aggregation

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mhieu102/N3-CCPTPM-S4/internal/domain/academic"
	"github.com/mhieu102/N3-CCPTPM-S4/internal/domain/grading"
	"github.com/mhieu102/N3-CCPTPM-S4/internal/domain/ranking"
	"github.com/mhieu102/N3-CCPTPM-S4/internal/domain/shared"
)

// Trigger is one score change: a student's score on an exam.
type Trigger struct {
	StudentCode string
	ExamCode    string
}

// BulkReport summarises a bulk recompute.
type BulkReport struct {
	Triggers   int
	UniqueKeys int
	Succeeded  int
	Failed     int // unresolved triggers, failed chains and failed cohorts
	Settled    int // cohorts ranked by the final pass
	Duration   time.Duration
}

// RecomputeBulk runs the chain once per unique (student, subject, term) key
// among the triggers, with bounded parallelism. Failures of one key do not
// stop the others; all failures are joined into the returned error.
//
// A chain that fails after its averages were written leaves its cohorts
// unranked, so every affected cohort is ranked once more after all chains
// finished.
func (e *Engine) RecomputeBulk(ctx context.Context, triggers []Trigger) (BulkReport, error) {
	start := time.Now()
	report := BulkReport{Triggers: len(triggers)}

	var (
		mu   sync.Mutex
		errs []error
	)
	addErr := func(err error) {
		mu.Lock()
		errs = append(errs, err)
		report.Failed++
		mu.Unlock()
	}

	keys := e.dedupe(ctx, triggers, addErr)
	report.UniqueKeys = len(keys)
	e.metrics.BulkDeduplicated(len(triggers), len(keys))

	e.logger.Info("bulk recompute started",
		"triggers", len(triggers),
		"unique_keys", len(keys),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.config.BulkConcurrency)

	for _, key := range keys {
		g.Go(func() error {
			chainStart := time.Now()
			err := e.runChain(gctx, key)
			e.metrics.ChainCompleted(time.Since(chainStart), err)
			if err != nil {
				addErr(err)
				return nil
			}
			mu.Lock()
			report.Succeeded++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if ctx.Err() == nil {
		report.Settled = e.settle(ctx, keys, addErr)
	}

	report.Duration = time.Since(start)
	e.logger.Info("bulk recompute finished",
		"unique_keys", report.UniqueKeys,
		"succeeded", report.Succeeded,
		"failed", report.Failed,
		"settled_cohorts", report.Settled,
		"duration", report.Duration,
	)

	return report, errors.Join(errs...)
}

// dedupe resolves every trigger and collapses them into unique keys.
// Exams are resolved once each; unresolvable triggers are reported.
func (e *Engine) dedupe(ctx context.Context, triggers []Trigger, addErr func(error)) []Key {
	type resolved struct {
		exam academic.ExamContext
		err  error
	}
	exams := make(map[string]resolved)
	seen := make(map[Key]struct{})
	keys := make([]Key, 0, len(triggers))

	for _, t := range triggers {
		r, ok := exams[t.ExamCode]
		if !ok {
			exam, err := e.resolve(ctx, t.ExamCode)
			r = resolved{exam: exam, err: err}
			exams[t.ExamCode] = r
		}
		if r.err != nil {
			addErr(e.fail(StageResolve, t.StudentCode+"/"+t.ExamCode, r.err))
			continue
		}

		key := KeyFor(t.StudentCode, r.exam)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	return keys
}

// settle ranks each cohort touched by the keys once, sequentially, so the
// final ranks reflect every average written by the bulk run.
func (e *Engine) settle(ctx context.Context, keys []Key, addErr func(error)) int {
	cohorts := make(map[string]ranking.Cohort)
	placements := make(map[string]academic.Placement)

	for _, key := range keys {
		p, ok := placements[key.StudentCode]
		if !ok {
			var err error
			p, err = e.placementOf(ctx, key.StudentCode)
			if err != nil {
				addErr(&StageError{Stage: StageTermRanking, Key: key.String(), Err: err})
				continue
			}
			placements[key.StudentCode] = p
		}
		for _, period := range []grading.Period{grading.TermPeriod(key.TermCode), grading.YearPeriod(key.SchoolYearCode)} {
			for _, c := range cohortsOf(p, period) {
				cohorts[c.Key()] = c
			}
		}
	}

	ordered := make([]string, 0, len(cohorts))
	for k := range cohorts {
		ordered = append(ordered, k)
	}
	sort.Strings(ordered)

	settled := 0
	for _, k := range ordered {
		c := cohorts[k]
		if _, err := e.RankCohort(ctx, c); err != nil {
			if shared.IsEmptyCohort(err) {
				continue
			}
			stage := StageTermRanking
			if !c.Period.IsTerm() {
				stage = StageYearRanking
			}
			addErr(e.fail(stage, c.Key(), err))
			continue
		}
		settled++
	}
	return settled
}

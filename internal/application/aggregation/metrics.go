package aggregation

import (
	"time"

	"github.com/mhieu102/N3-CCPTPM-S4/internal/domain/grading"
	"github.com/mhieu102/N3-CCPTPM-S4/internal/domain/ranking"
)

// Metrics receives engine measurements. The infrastructure/metrics package
// provides the Prometheus implementation.
type Metrics interface {
	ChainCompleted(d time.Duration, err error)
	StageFailed(stage Stage)
	RanksWritten(scope ranking.Scope, kind grading.PeriodKind, n int)
	CohortSkipped(scope ranking.Scope, kind grading.PeriodKind)
	BulkDeduplicated(triggers, keys int)
}

type noopMetrics struct{}

func (noopMetrics) ChainCompleted(time.Duration, error)                 {}
func (noopMetrics) StageFailed(Stage)                                   {}
func (noopMetrics) RanksWritten(ranking.Scope, grading.PeriodKind, int) {}
func (noopMetrics) CohortSkipped(ranking.Scope, grading.PeriodKind)     {}
func (noopMetrics) BulkDeduplicated(int, int)                           {}

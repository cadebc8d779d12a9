// Package eventhandler contains handlers of domain events. They connect the
// score write path to the aggregation engine through the event bus.
package eventhandler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mhieu102/N3-CCPTPM-S4/internal/domain/shared"
	"github.com/mhieu102/N3-CCPTPM-S4/pkg/retry"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON SCORE UPSERTED HANDLER
// Runs the recomputation chain for the (student, exam) of the event.
// ═══════════════════════════════════════════════════════════════════════════

// Recomputer runs the aggregation chain for one score change.
type Recomputer interface {
	Recompute(ctx context.Context, studentCode, examCode string) error
}

// ScoreUpsertedConfig contains configuration of the handler.
type ScoreUpsertedConfig struct {
	// Timeout bounds one chain including retries.
	Timeout time.Duration

	// RetryAttempts includes the first attempt.
	RetryAttempts int

	// RetryBaseDelay is the delay before the first retry.
	RetryBaseDelay time.Duration
}

// DefaultScoreUpsertedConfig returns default configuration.
func DefaultScoreUpsertedConfig() ScoreUpsertedConfig {
	return ScoreUpsertedConfig{
		Timeout:        30 * time.Second,
		RetryAttempts:  3,
		RetryBaseDelay: 200 * time.Millisecond,
	}
}

// OnScoreUpsertedHandler handles score.upserted events.
type OnScoreUpsertedHandler struct {
	engine Recomputer
	config ScoreUpsertedConfig
	logger *slog.Logger
}

// NewOnScoreUpsertedHandler creates a new handler.
func NewOnScoreUpsertedHandler(engine Recomputer, config ScoreUpsertedConfig, logger *slog.Logger) *OnScoreUpsertedHandler {
	if config.RetryAttempts <= 0 {
		config.RetryAttempts = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OnScoreUpsertedHandler{
		engine: engine,
		config: config,
		logger: logger.With("handler", "on_score_upserted"),
	}
}

// Handle implements shared.EventHandler. Storage failures are retried with
// backoff; reference misses and validation errors are returned at once.
func (h *OnScoreUpsertedHandler) Handle(event shared.Event) error {
	if event.EventType() != shared.EventScoreUpserted {
		return nil
	}

	studentCode, examCode, err := scoreCodes(event)
	if err != nil {
		h.logger.Warn("dropping malformed event", "aggregate_id", event.AggregateID(), "error", err)
		return err
	}

	ctx := context.Background()
	if h.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.config.Timeout)
		defer cancel()
	}

	err = retry.Do(ctx, func(ctx context.Context) error {
		return h.engine.Recompute(ctx, studentCode, examCode)
	},
		retry.WithMaxAttempts(h.config.RetryAttempts),
		retry.WithInitialDelay(h.config.RetryBaseDelay),
		retry.WithRetryIf(shared.IsRetryable),
		retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
			h.logger.Warn("recompute failed, retrying",
				"student_code", studentCode,
				"exam_code", examCode,
				"attempt", attempt,
				"delay", delay,
				"error", err,
			)
		}),
	)
	if err != nil {
		return fmt.Errorf("recompute %s/%s: %w", studentCode, examCode, err)
	}
	return nil
}

// scoreCodes reads the codes from the payload so that events decoded from
// another instance work as well as typed ones.
func scoreCodes(event shared.Event) (string, string, error) {
	payload := event.Payload()
	studentCode, _ := payload["student_code"].(string)
	examCode, _ := payload["exam_code"].(string)
	if studentCode == "" || examCode == "" {
		return "", "", shared.NewDomainError("eventhandler", "scoreCodes", shared.ErrInvalidInput,
			"score.upserted payload needs student_code and exam_code")
	}
	return studentCode, examCode, nil
}

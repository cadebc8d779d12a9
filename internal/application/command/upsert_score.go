// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/mhieu102/N3-CCPTPM-S4/internal/domain/academic"
	"github.com/mhieu102/N3-CCPTPM-S4/internal/domain/grading"
	"github.com/mhieu102/N3-CCPTPM-S4/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// UPSERT SCORE COMMAND
// Stores one exam score and announces it. The aggregation chain runs from the
// score.upserted event, not from here.
// ══════════════════════════════════════════════════════════════════════════════

// UpsertScoreCommand contains the data of one score write.
type UpsertScoreCommand struct {
	StudentCode string
	ExamCode    string
	Value       float64

	// CorrelationID for tracing.
	CorrelationID string
}

// UpsertScoreResult contains the result of a score write.
type UpsertScoreResult struct {
	Score   *grading.Score
	EventID string
}

// UpsertScoreHandler handles the UpsertScoreCommand.
type UpsertScoreHandler struct {
	refs      academic.ReferenceRepository
	scores    grading.ScoreRepository
	publisher shared.EventPublisher
	logger    *slog.Logger
}

// NewUpsertScoreHandler creates a new UpsertScoreHandler.
func NewUpsertScoreHandler(
	refs academic.ReferenceRepository,
	scores grading.ScoreRepository,
	publisher shared.EventPublisher,
	logger *slog.Logger,
) *UpsertScoreHandler {
	if publisher == nil {
		publisher = shared.NoopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &UpsertScoreHandler{
		refs:      refs,
		scores:    scores,
		publisher: publisher,
		logger:    logger.With("command", "upsert_score"),
	}
}

// Handle validates, stores and publishes the score. A publish failure is
// returned after the score is stored; the write is idempotent so the caller
// may simply retry.
func (h *UpsertScoreHandler) Handle(ctx context.Context, cmd UpsertScoreCommand) (*UpsertScoreResult, error) {
	score, err := grading.NewScore(cmd.StudentCode, cmd.ExamCode, cmd.Value)
	if err != nil {
		return nil, err
	}
	if err := checkReferences(ctx, h.refs, score); err != nil {
		return nil, err
	}

	if err := h.scores.UpsertScore(ctx, score); err != nil {
		return nil, fmt.Errorf("upsert_score: failed to store score: %w", err)
	}

	event := shared.NewScoreUpsertedEvent(uuid.NewString(), score.StudentCode, score.ExamCode, score.Value)
	if cmd.CorrelationID != "" {
		event.BaseEvent = event.BaseEvent.WithCorrelationID(cmd.CorrelationID)
	}
	if err := h.publisher.Publish(event); err != nil {
		h.logger.Error("score stored but event not published",
			"student_code", score.StudentCode,
			"exam_code", score.ExamCode,
			"error", err,
		)
		return nil, fmt.Errorf("upsert_score: failed to publish event: %w", err)
	}

	h.logger.Debug("score stored",
		"student_code", score.StudentCode,
		"exam_code", score.ExamCode,
		"value", score.Value,
		"event_id", event.ID,
	)
	return &UpsertScoreResult{Score: score, EventID: event.ID}, nil
}

// checkReferences rejects scores for unknown students or exams.
func checkReferences(ctx context.Context, refs academic.ReferenceRepository, score *grading.Score) error {
	if _, err := refs.GetStudent(ctx, score.StudentCode); err != nil {
		if shared.IsNotFound(err) {
			return shared.ReferenceNotFound("UpsertScore", "student", score.StudentCode)
		}
		return err
	}
	if _, err := refs.GetExam(ctx, score.ExamCode); err != nil {
		if shared.IsNotFound(err) {
			return shared.ReferenceNotFound("UpsertScore", "exam", score.ExamCode)
		}
		return err
	}
	return nil
}

// normalize trims codes the way NewScore does, for dedup keys.
func normalize(code string) string {
	return strings.TrimSpace(code)
}

package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mhieu102/N3-CCPTPM-S4/internal/application/aggregation"
	"github.com/mhieu102/N3-CCPTPM-S4/internal/domain/academic"
	"github.com/mhieu102/N3-CCPTPM-S4/internal/domain/grading"
	"github.com/mhieu102/N3-CCPTPM-S4/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// BULK UPSERT SCORES COMMAND
// Imports many scores at once and recomputes each affected chain once.
// ══════════════════════════════════════════════════════════════════════════════

// BulkUpsertScoresCommand contains a batch of score writes.
type BulkUpsertScoresCommand struct {
	Scores []UpsertScoreCommand
}

// BulkUpsertScoresResult contains the result of a bulk import.
type BulkUpsertScoresResult struct {
	Written int
	Report  aggregation.BulkReport
}

// BulkRecomputer runs the deduplicated recompute.
type BulkRecomputer interface {
	RecomputeBulk(ctx context.Context, triggers []aggregation.Trigger) (aggregation.BulkReport, error)
}

// batchScoreWriter is implemented by stores that can write many scores in
// one round trip.
type batchScoreWriter interface {
	UpsertScores(ctx context.Context, scores []*grading.Score) error
}

// BulkUpsertScoresHandler handles the BulkUpsertScoresCommand.
type BulkUpsertScoresHandler struct {
	refs   academic.ReferenceRepository
	scores grading.ScoreRepository
	bulk   BulkRecomputer
	logger *slog.Logger
}

// NewBulkUpsertScoresHandler creates a new BulkUpsertScoresHandler.
func NewBulkUpsertScoresHandler(
	refs academic.ReferenceRepository,
	scores grading.ScoreRepository,
	bulk BulkRecomputer,
	logger *slog.Logger,
) *BulkUpsertScoresHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &BulkUpsertScoresHandler{
		refs:   refs,
		scores: scores,
		bulk:   bulk,
		logger: logger.With("command", "bulk_upsert_scores"),
	}
}

// Handle validates the whole batch before writing anything. Every invalid
// row is reported; nothing is written when one row is invalid.
func (h *BulkUpsertScoresHandler) Handle(ctx context.Context, cmd BulkUpsertScoresCommand) (*BulkUpsertScoresResult, error) {
	if len(cmd.Scores) == 0 {
		return &BulkUpsertScoresResult{}, nil
	}

	scores := make([]*grading.Score, 0, len(cmd.Scores))
	var invalid []error
	for i, c := range cmd.Scores {
		score, err := grading.NewScore(c.StudentCode, c.ExamCode, c.Value)
		if err == nil {
			err = checkReferences(ctx, h.refs, score)
		}
		if err != nil {
			if !shared.IsValidation(err) && !shared.IsNotFound(err) {
				return nil, err
			}
			invalid = append(invalid, fmt.Errorf("row %d (%s/%s): %w", i+1, normalize(c.StudentCode), normalize(c.ExamCode), err))
			continue
		}
		scores = append(scores, score)
	}
	if len(invalid) > 0 {
		return nil, shared.WrapError("command", "BulkUpsertScores", shared.ErrInvalidInput,
			fmt.Sprintf("%d of %d rows rejected", len(invalid), len(cmd.Scores)), errors.Join(invalid...))
	}

	if err := h.write(ctx, scores); err != nil {
		return nil, fmt.Errorf("bulk_upsert_scores: failed to store scores: %w", err)
	}

	triggers := make([]aggregation.Trigger, 0, len(scores))
	for _, s := range scores {
		triggers = append(triggers, aggregation.Trigger{StudentCode: s.StudentCode, ExamCode: s.ExamCode})
	}
	report, err := h.bulk.RecomputeBulk(ctx, triggers)

	h.logger.Info("scores imported",
		"written", len(scores),
		"unique_keys", report.UniqueKeys,
		"failed", report.Failed,
	)
	return &BulkUpsertScoresResult{Written: len(scores), Report: report}, err
}

func (h *BulkUpsertScoresHandler) write(ctx context.Context, scores []*grading.Score) error {
	if bw, ok := h.scores.(batchScoreWriter); ok {
		return bw.UpsertScores(ctx, scores)
	}
	for _, s := range scores {
		if err := h.scores.UpsertScore(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

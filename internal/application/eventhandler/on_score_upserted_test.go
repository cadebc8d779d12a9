package eventhandler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mhieu102/N3-CCPTPM-S4/internal/domain/shared"
)

type scriptedEngine struct {
	errs  []error
	calls []string
}

func (e *scriptedEngine) Recompute(_ context.Context, student, exam string) error {
	e.calls = append(e.calls, student+"/"+exam)
	if len(e.errs) == 0 {
		return nil
	}
	err := e.errs[0]
	e.errs = e.errs[1:]
	return err
}

func newHandler(engine Recomputer) *OnScoreUpsertedHandler {
	return NewOnScoreUpsertedHandler(engine, ScoreUpsertedConfig{
		Timeout:        time.Second,
		RetryAttempts:  3,
		RetryBaseDelay: time.Millisecond,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestOnScoreUpserted_RetriesStorageFailure(t *testing.T) {
	storage := shared.StorageFailure("memory", "UpsertStudentAverage", errors.New("timeout"))
	engine := &scriptedEngine{errs: []error{storage, storage}}

	err := newHandler(engine).Handle(shared.NewScoreUpsertedEvent("e1", "S1", "MATH-A", 8))
	require.NoError(t, err)
	assert.Equal(t, []string{"S1/MATH-A", "S1/MATH-A", "S1/MATH-A"}, engine.calls)
}

func TestOnScoreUpserted_ReferenceMissNotRetried(t *testing.T) {
	engine := &scriptedEngine{errs: []error{shared.ReferenceNotFound("resolve", "exam", "X")}}

	err := newHandler(engine).Handle(shared.NewScoreUpsertedEvent("e1", "S1", "X", 8))
	assert.True(t, shared.IsReferenceNotFound(err))
	assert.Len(t, engine.calls, 1)
}

func TestOnScoreUpserted_IgnoresOtherEvents(t *testing.T) {
	engine := &scriptedEngine{}
	err := newHandler(engine).Handle(shared.NewRankingUpdatedEvent("e", "classroom", "C1", "T1", 3))
	require.NoError(t, err)
	assert.Empty(t, engine.calls)
}

type bareEvent struct {
	payload map[string]interface{}
}

func (bareEvent) EventType() shared.EventType       { return shared.EventScoreUpserted }
func (bareEvent) AggregateID() string               { return "" }
func (bareEvent) OccurredAt() time.Time             { return time.Time{} }
func (e bareEvent) Payload() map[string]interface{} { return e.payload }

func TestOnScoreUpserted_PayloadOnlyEvents(t *testing.T) {
	engine := &scriptedEngine{}
	h := newHandler(engine)

	require.NoError(t, h.Handle(bareEvent{payload: map[string]interface{}{"student_code": "S2", "exam_code": "LIT"}}))
	assert.Equal(t, []string{"S2/LIT"}, engine.calls)

	err := h.Handle(bareEvent{payload: map[string]interface{}{"student_code": "S2"}})
	assert.True(t, shared.IsValidation(err))
}

// Package shared contains common domain types, errors and events used across
// all domain packages.
package shared

import (
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types driving the recomputation pipeline.
const (
	// Score events
	EventScoreUpserted EventType = "score.upserted"

	// Aggregation events
	EventAveragesRecomputed EventType = "averages.recomputed"
	EventRankingUpdated     EventType = "ranking.updated"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	ID            string    `json:"id"`
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event. The id is supplied by the caller so
// this package stays free of external dependencies.
func NewBaseEvent(id string, eventType EventType, aggregateID string) BaseEvent {
	return BaseEvent{
		ID:          id,
		Type:        eventType,
		Timestamp:   time.Now().UTC(),
		AggregateId: aggregateID,
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// Score Events
// ═══════════════════════════════════════════════════════════════════════════

// ScoreUpsertedEvent is emitted by the scoring write path after a score for
// (student, exam) was created or changed. It is the only trigger of the
// aggregation chain.
type ScoreUpsertedEvent struct {
	BaseEvent
	StudentCode string  `json:"student_code"`
	ExamCode    string  `json:"exam_code"`
	Value       float64 `json:"value"`
}

// Payload implements Event interface.
func (e ScoreUpsertedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_code": e.StudentCode,
		"exam_code":    e.ExamCode,
		"value":        e.Value,
	}
}

// NewScoreUpsertedEvent creates a new ScoreUpsertedEvent.
func NewScoreUpsertedEvent(id, studentCode, examCode string, value float64) ScoreUpsertedEvent {
	return ScoreUpsertedEvent{
		BaseEvent:   NewBaseEvent(id, EventScoreUpserted, studentCode),
		StudentCode: studentCode,
		ExamCode:    examCode,
		Value:       value,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Aggregation Events
// ═══════════════════════════════════════════════════════════════════════════

// AveragesRecomputedEvent is emitted after the full chain finished for one
// trigger.
type AveragesRecomputedEvent struct {
	BaseEvent
	StudentCode    string `json:"student_code"`
	SubjectCode    string `json:"subject_code"`
	TermCode       string `json:"term_code"`
	SchoolYearCode string `json:"school_year_code"`
}

// Payload implements Event interface.
func (e AveragesRecomputedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_code":     e.StudentCode,
		"subject_code":     e.SubjectCode,
		"term_code":        e.TermCode,
		"school_year_code": e.SchoolYearCode,
	}
}

// NewAveragesRecomputedEvent creates a new AveragesRecomputedEvent.
func NewAveragesRecomputedEvent(id, studentCode, subjectCode, termCode, schoolYearCode string) AveragesRecomputedEvent {
	return AveragesRecomputedEvent{
		BaseEvent:      NewBaseEvent(id, EventAveragesRecomputed, studentCode),
		StudentCode:    studentCode,
		SubjectCode:    subjectCode,
		TermCode:       termCode,
		SchoolYearCode: schoolYearCode,
	}
}

// RankingUpdatedEvent is emitted whenever a cohort's ranks were rewritten.
type RankingUpdatedEvent struct {
	BaseEvent
	Scope      string `json:"scope"` // "classroom" or "grade"
	CohortCode string `json:"cohort_code"`
	PeriodCode string `json:"period_code"`
	Size       int    `json:"size"`
}

// Payload implements Event interface.
func (e RankingUpdatedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"scope":       e.Scope,
		"cohort_code": e.CohortCode,
		"period_code": e.PeriodCode,
		"size":        e.Size,
	}
}

// NewRankingUpdatedEvent creates a new RankingUpdatedEvent.
func NewRankingUpdatedEvent(id, scope, cohortCode, periodCode string, size int) RankingUpdatedEvent {
	return RankingUpdatedEvent{
		BaseEvent:  NewBaseEvent(id, EventRankingUpdated, cohortCode),
		Scope:      scope,
		CohortCode: cohortCode,
		PeriodCode: periodCode,
		Size:       size,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Bus contracts
// ═══════════════════════════════════════════════════════════════════════════

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}

// NoopPublisher discards events. Used when a component runs without a bus.
type NoopPublisher struct{}

// Publish implements EventPublisher.
func (NoopPublisher) Publish(Event) error { return nil }

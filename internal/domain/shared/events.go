// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"encoding/json"
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types. Events are published after the owning transaction
// commits; subscribers never see state that was rolled back.
const (
	// Training ledger events
	EventTrainingSubmitted EventType = "training.submitted"
	EventTrainingVerified  EventType = "training.verified"

	// Placement events
	EventPlacementApplied   EventType = "placement.applied"
	EventPlacementVerified  EventType = "placement.verified"
	EventPlacementCancelled EventType = "placement.cancelled"
	EventPlacementCompleted EventType = "placement.completed"

	// Report log events
	EventReportSubmitted    EventType = "report.submitted"
	EventReportAcknowledged EventType = "report.acknowledged"

	// Evaluation events
	EventEvaluationSubmitted    EventType = "evaluation.submitted"
	EventEvaluationUpdated      EventType = "evaluation.updated"
	EventEvaluationAcknowledged EventType = "evaluation.acknowledged"

	// Company directory events
	EventCompanyCreated      EventType = "company.created"
	EventCompanyNotesUpdated EventType = "company.notes_updated"
	EventCompanyMerged       EventType = "company.merged"
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
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
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

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, aggregateID string) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   time.Now().UTC(),
		AggregateId: aggregateID,
		Version:     1,
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// Training Events
// ═══════════════════════════════════════════════════════════════════════════

// TrainingSubmittedEvent is emitted when a student logs a training record.
type TrainingSubmittedEvent struct {
	BaseEvent
	StudentID      string `json:"student_id"`
	Topic          string `json:"topic"`
	RequestedHours int    `json:"requested_hours"`
}

// Payload implements Event interface.
func (e TrainingSubmittedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id":      e.StudentID,
		"topic":           e.Topic,
		"requested_hours": e.RequestedHours,
	}
}

// NewTrainingSubmittedEvent creates a new TrainingSubmittedEvent.
func NewTrainingSubmittedEvent(recordID, studentID, topic string, hours int) TrainingSubmittedEvent {
	return TrainingSubmittedEvent{
		BaseEvent:      NewBaseEvent(EventTrainingSubmitted, recordID),
		StudentID:      studentID,
		Topic:          topic,
		RequestedHours: hours,
	}
}

// TrainingVerifiedEvent is emitted when faculty approves or rejects a record.
type TrainingVerifiedEvent struct {
	BaseEvent
	StudentID     string `json:"student_id"`
	Status        string `json:"status"`
	ApprovedHours int    `json:"approved_hours"`
}

// Payload implements Event interface.
func (e TrainingVerifiedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id":     e.StudentID,
		"status":         e.Status,
		"approved_hours": e.ApprovedHours,
	}
}

// NewTrainingVerifiedEvent creates a new TrainingVerifiedEvent.
func NewTrainingVerifiedEvent(recordID, studentID, status string, approvedHours int) TrainingVerifiedEvent {
	return TrainingVerifiedEvent{
		BaseEvent:     NewBaseEvent(EventTrainingVerified, recordID),
		StudentID:     studentID,
		Status:        status,
		ApprovedHours: approvedHours,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Placement Events
// ═══════════════════════════════════════════════════════════════════════════

// PlacementEvent is emitted on every job application state change.
// The concrete meaning comes from the event type.
type PlacementEvent struct {
	BaseEvent
	StudentID  string `json:"student_id"`
	CompanyID  string `json:"company_id,omitempty"`
	FromStatus string `json:"from_status,omitempty"`
	ToStatus   string `json:"to_status"`
	Note       string `json:"note,omitempty"`
}

// Payload implements Event interface.
func (e PlacementEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id":  e.StudentID,
		"company_id":  e.CompanyID,
		"from_status": e.FromStatus,
		"to_status":   e.ToStatus,
		"note":        e.Note,
	}
}

// NewPlacementEvent creates a new PlacementEvent of the given type.
func NewPlacementEvent(eventType EventType, applicationID, studentID, companyID, from, to string) PlacementEvent {
	return PlacementEvent{
		BaseEvent:  NewBaseEvent(eventType, applicationID),
		StudentID:  studentID,
		CompanyID:  companyID,
		FromStatus: from,
		ToStatus:   to,
	}
}

// WithNote attaches the faculty note or cancel reason.
func (e PlacementEvent) WithNote(note string) PlacementEvent {
	e.Note = note
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// Report Events
// ═══════════════════════════════════════════════════════════════════════════

// ReportEvent is emitted when a weekly report is submitted or acknowledged.
type ReportEvent struct {
	BaseEvent
	ApplicationID string `json:"application_id"`
	WeekNumber    int    `json:"week_number"`
}

// Payload implements Event interface.
func (e ReportEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"application_id": e.ApplicationID,
		"week_number":    e.WeekNumber,
	}
}

// NewReportEvent creates a new ReportEvent.
func NewReportEvent(eventType EventType, reportID, applicationID string, week int) ReportEvent {
	return ReportEvent{
		BaseEvent:     NewBaseEvent(eventType, reportID),
		ApplicationID: applicationID,
		WeekNumber:    week,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Evaluation Events
// ═══════════════════════════════════════════════════════════════════════════

// EvaluationEvent is emitted on evaluation create, update and acknowledgment.
type EvaluationEvent struct {
	BaseEvent
	ApplicationID string `json:"application_id"`
	CompanyID     string `json:"company_id,omitempty"`
	Status        string `json:"status"`
	TotalScore    int    `json:"total_score"`
}

// Payload implements Event interface.
func (e EvaluationEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"application_id": e.ApplicationID,
		"company_id":     e.CompanyID,
		"status":         e.Status,
		"total_score":    e.TotalScore,
	}
}

// NewEvaluationEvent creates a new EvaluationEvent.
func NewEvaluationEvent(eventType EventType, evaluationID, applicationID, companyID, status string, total int) EvaluationEvent {
	return EvaluationEvent{
		BaseEvent:     NewBaseEvent(eventType, evaluationID),
		ApplicationID: applicationID,
		CompanyID:     companyID,
		Status:        status,
		TotalScore:    total,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Company Events
// ═══════════════════════════════════════════════════════════════════════════

// CompanyEvent is emitted when the directory changes.
type CompanyEvent struct {
	BaseEvent
	Name     string `json:"name"`
	MergedID string `json:"merged_id,omitempty"`
}

// Payload implements Event interface.
func (e CompanyEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"name":      e.Name,
		"merged_id": e.MergedID,
	}
}

// NewCompanyEvent creates a new CompanyEvent.
func NewCompanyEvent(eventType EventType, companyID, name string) CompanyEvent {
	return CompanyEvent{
		BaseEvent: NewBaseEvent(eventType, companyID),
		Name:      name,
	}
}

// NewCompanyMergedEvent creates a CompanyEvent for a merge of sourceID into targetID.
func NewCompanyMergedEvent(targetID, name, sourceID string) CompanyEvent {
	e := NewCompanyEvent(EventCompanyMerged, targetID, name)
	e.MergedID = sourceID
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// Event Envelope (for serialization and transport)
// ═══════════════════════════════════════════════════════════════════════════

// EventEnvelope wraps an event for transport/storage.
type EventEnvelope struct {
	ID            string          `json:"id"`
	Type          EventType       `json:"type"`
	AggregateID   string          `json:"aggregate_id"`
	Timestamp     time.Time       `json:"timestamp"`
	Version       int             `json:"version"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

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

// NopPublisher discards every event.
type NopPublisher struct{}

// Publish implements EventPublisher.
func (NopPublisher) Publish(Event) error { return nil }

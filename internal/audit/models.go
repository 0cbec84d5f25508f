package audit

import "time"

// Event is an immutable, append-only record of something that happened to a call.
//
// Invariants:
// - Events are never updated or deleted.
// - call_id is required.
// - Recording is best-effort; a failed append never fails a pipeline stage.
//
// Storage (Postgres): table call_events, INSERT-only, ordered by seq.
type Event struct {
	ID     string    `json:"id" db:"id"`
	CallID string    `json:"call_id" db:"call_id"`
	Type   EventType `json:"type" db:"type"`

	// Stage is set for stage events: transcribe, analyze, sync_crm.
	Stage string `json:"stage,omitempty" db:"stage"`

	// Message is a short human-readable description (error text on failures).
	Message string `json:"message,omitempty" db:"message"`

	Metadata map[string]any `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeCallCreated     EventType = "call_created"
	EventTypeStageStarted    EventType = "stage_started"
	EventTypeStageSucceeded  EventType = "stage_succeeded"
	EventTypeStageFailed     EventType = "stage_failed"
	EventTypeStageSkipped    EventType = "stage_skipped"
	EventTypePipelineStarted EventType = "pipeline_started"
	EventTypePipelineEnded   EventType = "pipeline_finished"
)

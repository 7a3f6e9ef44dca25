package models

import (
	"time"

	"github.com/google/uuid"
)

// EventStatus is the processing status of an inbound event
type EventStatus string

const (
	EventStatusPending    EventStatus = "pending"
	EventStatusProcessing EventStatus = "processing"
	EventStatusCompleted  EventStatus = "completed"
	EventStatusFailed     EventStatus = "failed"
)

// TriggerEventLog is the durable record of one inbound event instance.
// DedupKey, when set, is unique and makes ingestion idempotent.
type TriggerEventLog struct {
	ID            uuid.UUID   `json:"id" db:"id"`
	TriggerType   TriggerType `json:"trigger_type" db:"trigger_type"`
	DedupKey      *string     `json:"dedup_key,omitempty" db:"dedup_key"`
	Payload       JSONB       `json:"payload" db:"payload"`
	Status        EventStatus `json:"status" db:"status"`
	FailureReason *string     `json:"failure_reason,omitempty" db:"failure_reason"`
	Attempts      int         `json:"attempts" db:"attempts"`
	RunsStarted   int         `json:"runs_started" db:"runs_started"`
	ReceivedAt    time.Time   `json:"received_at" db:"received_at"`
	ClaimedAt     *time.Time  `json:"claimed_at,omitempty" db:"claimed_at"`
	ProcessedAt   *time.Time  `json:"processed_at,omitempty" db:"processed_at"`
}

// CreateEventRequest represents the request to ingest an event
type CreateEventRequest struct {
	TriggerType TriggerType            `json:"trigger_type" validate:"required,trigger_type"`
	DedupKey    string                 `json:"dedup_key,omitempty" validate:"omitempty,max=255"`
	Payload     map[string]interface{} `json:"payload" validate:"required"`
}

// Well-known payload keys shared by the event producers and the matcher
const (
	PayloadLeadID     = "lead_id"
	PayloadSource     = "source"
	PayloadFromStatus = "from_status"
	PayloadToStatus   = "to_status"
	PayloadPageID     = "page_id"
	PayloadFormID     = "form_id"
	PayloadLeadgenID  = "leadgen_id"
	PayloadPath       = "path"
	PayloadSecret     = "secret"
	PayloadTemplateID = "template_id"
	PayloadWorkflowID = "workflow_id"
)

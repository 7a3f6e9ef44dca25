package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ExecutionStatus represents the status of a workflow run
type ExecutionStatus string

const (
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// IsTerminal reports whether no further steps may run.
func (s ExecutionStatus) IsTerminal() bool {
	return s != ExecutionStatusRunning
}

// WorkflowExecution is one run of a workflow triggered by one event.
// Definition is a frozen copy of the workflow's action arena at trigger time.
type WorkflowExecution struct {
	ID              uuid.UUID          `json:"id" db:"id"`
	WorkflowID      uuid.UUID          `json:"workflow_id" db:"workflow_id"`
	EventLogID      uuid.UUID          `json:"event_log_id" db:"event_log_id"`
	TriggerType     TriggerType        `json:"trigger_type" db:"trigger_type"`
	Definition      WorkflowDefinition `json:"definition" db:"definition"`
	Context         JSONB              `json:"context" db:"context"`
	Status          ExecutionStatus    `json:"status" db:"status"`
	CurrentStepID   *string            `json:"current_step_id,omitempty" db:"current_step_id"`
	ActionsExecuted int                `json:"actions_executed" db:"actions_executed"`
	TotalActions    int                `json:"total_actions" db:"total_actions"`
	StartedAt       time.Time          `json:"started_at" db:"started_at"`
	CompletedAt     *time.Time         `json:"completed_at,omitempty" db:"completed_at"`
	DurationMs      *int               `json:"duration_ms,omitempty" db:"duration_ms"`
	ErrorMessage    *string            `json:"error_message,omitempty" db:"error_message"`
}

// StepRunStatus represents the status of a step run
type StepRunStatus string

const (
	StepStatusPending   StepRunStatus = "pending"
	StepStatusRunning   StepRunStatus = "running"
	StepStatusCompleted StepRunStatus = "completed"
	StepStatusFailed    StepRunStatus = "failed"
	StepStatusDelayed   StepRunStatus = "delayed"
)

// IsActive reports whether a step run may still make progress
func (s StepRunStatus) IsActive() bool {
	return s == StepStatusPending || s == StepStatusRunning || s == StepStatusDelayed
}

// Branch records which side of a condition was taken
type Branch string

const (
	BranchYes Branch = "yes"
	BranchNo  Branch = "no"
)

// WorkflowStepRun is the execution record of one action node within a run
type WorkflowStepRun struct {
	ID           uuid.UUID     `json:"id" db:"id"`
	ExecutionID  uuid.UUID     `json:"execution_id" db:"execution_id"`
	WorkflowID   uuid.UUID     `json:"workflow_id" db:"workflow_id"`
	StepID       string        `json:"step_id" db:"step_id"`
	StepType     ActionType    `json:"step_type" db:"step_type"`
	Status       StepRunStatus `json:"status" db:"status"`
	Branch       *Branch       `json:"branch,omitempty" db:"branch"`
	Output       JSONB         `json:"output,omitempty" db:"output"`
	ErrorMessage *string       `json:"error_message,omitempty" db:"error_message"`
	ResumeAt     *time.Time    `json:"resume_at,omitempty" db:"resume_at"`
	CreatedAt    time.Time     `json:"created_at" db:"created_at"`
	StartedAt    *time.Time    `json:"started_at,omitempty" db:"started_at"`
	CompletedAt  *time.Time    `json:"completed_at,omitempty" db:"completed_at"`
	DurationMs   *int          `json:"duration_ms,omitempty" db:"duration_ms"`
}

// JSONB is a custom type for handling JSONB columns
type JSONB map[string]interface{}

// Scan implements the sql.Scanner interface for JSONB
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = make(map[string]interface{})
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		*j = make(map[string]interface{})
		return nil
	}

	result := make(map[string]interface{})
	if err := json.Unmarshal(bytes, &result); err != nil {
		return err
	}

	*j = result
	return nil
}

// Value implements the driver.Valuer interface for JSONB
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return json.Marshal(map[string]interface{}{})
	}
	return json.Marshal(j)
}

// ExecutionListResponse represents a list of runs
type ExecutionListResponse struct {
	Executions []WorkflowExecution `json:"executions"`
	Total      int64               `json:"total"`
}

// ExecutionTraceResponse represents a run with its step runs
type ExecutionTraceResponse struct {
	Execution *WorkflowExecution `json:"execution"`
	Steps     []WorkflowStepRun  `json:"steps"`
}

// ExecutionFilter narrows an execution listing
type ExecutionFilter struct {
	WorkflowID *uuid.UUID
	EventLogID *uuid.UUID
	Status     *ExecutionStatus
	Limit      int
	Offset     int
}

// CompletedAtOrNow returns CompletedAt, or now while the run is still open
func (e *WorkflowExecution) CompletedAtOrNow(now time.Time) time.Time {
	if e.CompletedAt != nil {
		return *e.CompletedAt
	}
	return now
}

package engine

import (
	"context"
	"time"

	"github.com/davidmoltin/leadflow/internal/models"
	"github.com/davidmoltin/leadflow/internal/queue"
	"github.com/google/uuid"
)

// WorkflowRepository defines the interface for workflow data access
type WorkflowRepository interface {
	GetWorkflowByID(ctx context.Context, id uuid.UUID) (*models.Workflow, error)
	ListActiveWorkflowsByTrigger(ctx context.Context, triggerType models.TriggerType) ([]models.Workflow, error)
}

// EventLogRepository defines the interface for trigger event persistence
type EventLogRepository interface {
	// CreateEventLog inserts event. When its dedup key already exists the
	// existing row is loaded into event and created is false.
	CreateEventLog(ctx context.Context, event *models.TriggerEventLog) (created bool, err error)
	GetEventLogByID(ctx context.Context, id uuid.UUID) (*models.TriggerEventLog, error)
	// ClaimEventLog atomically moves a pending event to processing.
	ClaimEventLog(ctx context.Context, id uuid.UUID) (bool, error)
	UpdateEventPayload(ctx context.Context, id uuid.UUID, payload models.JSONB) error
	CompleteEventLog(ctx context.Context, id uuid.UUID, runsStarted int) error
	FailEventLog(ctx context.Context, id uuid.UUID, reason string) error
	// RequeueEventLog moves a failed event back to pending.
	RequeueEventLog(ctx context.Context, id uuid.UUID) (bool, error)
	ListStalePendingEventLogs(ctx context.Context, receivedBefore time.Time, limit int) ([]models.TriggerEventLog, error)
}

// ExecutionRepository defines the interface for run and step persistence
type ExecutionRepository interface {
	// CreateExecution inserts a run. A run already existing for the same
	// workflow and event is loaded into execution and created is false.
	CreateExecution(ctx context.Context, execution *models.WorkflowExecution) (created bool, err error)
	GetExecutionByID(ctx context.Context, id uuid.UUID) (*models.WorkflowExecution, error)
	// UpdateExecution writes execution only while the stored run is running.
	UpdateExecution(ctx context.Context, execution *models.WorkflowExecution) (bool, error)
	CancelExecution(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	ListExecutions(ctx context.Context, filter models.ExecutionFilter) ([]models.WorkflowExecution, int64, error)

	CreateStepRun(ctx context.Context, step *models.WorkflowStepRun) error
	GetStepRunByID(ctx context.Context, id uuid.UUID) (*models.WorkflowStepRun, error)
	// TransitionStepRun writes step only if its stored status equals from.
	TransitionStepRun(ctx context.Context, step *models.WorkflowStepRun, from models.StepRunStatus) (bool, error)
	ListStepRuns(ctx context.Context, executionID uuid.UUID) ([]models.WorkflowStepRun, error)
	ListDueDelayedStepRuns(ctx context.Context, now time.Time, limit int) ([]models.WorkflowStepRun, error)
	ListStalePendingStepRuns(ctx context.Context, createdBefore time.Time, limit int) ([]models.WorkflowStepRun, error)
}

// LeadRepository is the lead data the engine reads and mutates
type LeadRepository interface {
	GetLeadByID(ctx context.Context, id uuid.UUID) (*models.Lead, error)
	GetLeadFieldValues(ctx context.Context, leadID uuid.UUID) (map[string]string, error)
	AddTags(ctx context.Context, leadID uuid.UUID, tags []string) ([]string, error)
	RemoveTags(ctx context.Context, leadID uuid.UUID, tags []string) ([]string, error)
	UpdateLeadColumn(ctx context.Context, leadID uuid.UUID, column string, value string) error
	SetCustomField(ctx context.Context, leadID uuid.UUID, fieldName string, value string) error
	SetOwner(ctx context.Context, leadID uuid.UUID, ownerID uuid.UUID) error
}

// JobScheduler hands work to the background queue
type JobScheduler interface {
	Enqueue(ctx context.Context, job queue.Job) error
	EnqueueAt(ctx context.Context, job queue.Job, at time.Time) error
}

// Clock returns the current time
type Clock func() time.Time

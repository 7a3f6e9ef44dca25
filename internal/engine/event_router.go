package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/davidmoltin/leadflow/internal/models"
	"github.com/davidmoltin/leadflow/internal/queue"
	"github.com/davidmoltin/leadflow/pkg/logger"
	"github.com/davidmoltin/leadflow/pkg/metrics"
	"github.com/google/uuid"
)

// ErrEventNotFailed is returned when requeueing an event that has not failed
var ErrEventNotFailed = errors.New("only failed events can be requeued")

// EventPreprocessor prepares an event of one trigger type before matching,
// for example by creating the lead it refers to. It may set payload keys.
type EventPreprocessor interface {
	PreprocessEvent(ctx context.Context, event *models.TriggerEventLog) error
}

// EventRouter records events and routes them to matching workflows
type EventRouter struct {
	workflowRepo   WorkflowRepository
	eventRepo      EventLogRepository
	executor       *WorkflowExecutor
	contextBuilder *ContextBuilder
	scheduler      JobScheduler
	preprocessors  map[models.TriggerType]EventPreprocessor
	logger         *logger.Logger
	metrics        *metrics.Metrics
	clock          Clock
}

// NewEventRouter creates a new event router
func NewEventRouter(
	workflowRepo WorkflowRepository,
	eventRepo EventLogRepository,
	executor *WorkflowExecutor,
	contextBuilder *ContextBuilder,
	scheduler JobScheduler,
	log *logger.Logger,
	m *metrics.Metrics,
) *EventRouter {
	return &EventRouter{
		workflowRepo:   workflowRepo,
		eventRepo:      eventRepo,
		executor:       executor,
		contextBuilder: contextBuilder,
		scheduler:      scheduler,
		preprocessors:  make(map[models.TriggerType]EventPreprocessor),
		logger:         log,
		metrics:        m,
		clock:          time.Now,
	}
}

// RegisterPreprocessor installs p for events of type t
func (er *EventRouter) RegisterPreprocessor(t models.TriggerType, p EventPreprocessor) {
	er.preprocessors[t] = p
}

// IngestEvent durably records an event and schedules its processing.
// An event whose dedup key was seen before is returned with created false
// and is not processed again.
func (er *EventRouter) IngestEvent(ctx context.Context, req models.CreateEventRequest) (*models.TriggerEventLog, bool, error) {
	if !req.TriggerType.Valid() {
		return nil, false, fmt.Errorf("%w: %q", ErrUnknownTriggerType, req.TriggerType)
	}

	event := &models.TriggerEventLog{
		ID:          uuid.New(),
		TriggerType: req.TriggerType,
		Payload:     models.JSONB(req.Payload),
		Status:      models.EventStatusPending,
		ReceivedAt:  er.clock(),
	}
	if event.Payload == nil {
		event.Payload = models.JSONB{}
	}
	if req.DedupKey != "" {
		key := req.DedupKey
		event.DedupKey = &key
	}

	created, err := er.eventRepo.CreateEventLog(ctx, event)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create event: %w", err)
	}
	er.metrics.RecordEventIngested(string(req.TriggerType), !created)
	if !created {
		er.logger.Infof("Duplicate event %s ignored (dedup key: %s)", event.ID, req.DedupKey)
		return event, false, nil
	}

	er.logger.Infof("Event received: %s (%s)", event.ID, event.TriggerType)
	er.enqueue(ctx, queue.NewJob(queue.JobProcessEvent, event.ID))
	return event, true, nil
}

// ProcessEvent starts a run for every active workflow matching the event.
// The event is claimed first so concurrent deliveries process it once.
func (er *EventRouter) ProcessEvent(ctx context.Context, eventID uuid.UUID) error {
	claimed, err := er.eventRepo.ClaimEventLog(ctx, eventID)
	if err != nil {
		return fmt.Errorf("failed to claim event: %w", err)
	}
	if !claimed {
		er.logger.Debugf("Event %s already claimed, skipping", eventID)
		return nil
	}

	event, err := er.eventRepo.GetEventLogByID(ctx, eventID)
	if err != nil {
		return fmt.Errorf("failed to load event: %w", err)
	}

	if p, ok := er.preprocessors[event.TriggerType]; ok {
		if err := p.PreprocessEvent(ctx, event); err != nil {
			return er.failEvent(ctx, event, fmt.Sprintf("preprocessing failed: %v", err))
		}
		if err := er.eventRepo.UpdateEventPayload(ctx, event.ID, event.Payload); err != nil {
			er.logger.Warnf("Failed to persist preprocessed payload for event %s: %v", event.ID, err)
		}
	}

	execContext, err := er.contextBuilder.BuildContext(ctx, event)
	if err != nil {
		return er.failEvent(ctx, event, fmt.Sprintf("context build failed: %v", err))
	}

	workflows, err := er.workflowRepo.ListActiveWorkflowsByTrigger(ctx, event.TriggerType)
	if err != nil {
		return er.failEvent(ctx, event, fmt.Sprintf("failed to list workflows: %v", err))
	}

	started := 0
	for i := range workflows {
		workflow := &workflows[i]

		matched, err := MatchTrigger(workflow, event)
		if err != nil {
			er.logger.Warnf("Skipping workflow %s: %v", workflow.ID, err)
			continue
		}
		if !matched {
			continue
		}

		er.logger.Infof("Triggering workflow: %s (ID: %s)", workflow.Name, workflow.ID)
		if _, err := er.executor.StartRun(ctx, workflow, event, copyContext(execContext)); err != nil {
			er.logger.Errorf("Failed to start workflow %s for event %s: %v", workflow.ID, event.ID, err)
			continue
		}
		started++
	}

	// An event left processing is only retried once its claim goes stale.
	if err := er.eventRepo.CompleteEventLog(context.WithoutCancel(ctx), event.ID, started); err != nil {
		return fmt.Errorf("failed to complete event: %w", err)
	}
	er.metrics.RecordEventProcessed(string(event.TriggerType), string(models.EventStatusCompleted))
	er.logger.Infof("Event %s processed: %d run(s) started", event.ID, started)
	return nil
}

// Requeue moves a failed event back to pending and schedules it again
func (er *EventRouter) Requeue(ctx context.Context, eventID uuid.UUID) (*models.TriggerEventLog, error) {
	ok, err := er.eventRepo.RequeueEventLog(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to requeue event: %w", err)
	}
	if !ok {
		if _, err := er.eventRepo.GetEventLogByID(ctx, eventID); err != nil {
			return nil, err
		}
		return nil, ErrEventNotFailed
	}

	er.logger.Infof("Event %s requeued", eventID)
	er.enqueue(ctx, queue.NewJob(queue.JobProcessEvent, eventID))
	return er.eventRepo.GetEventLogByID(ctx, eventID)
}

// TriggerSchedule records a schedule event addressed to one workflow.
// at identifies the tick, so a tick fired twice starts one run.
func (er *EventRouter) TriggerSchedule(ctx context.Context, workflowID uuid.UUID, at time.Time) (*models.TriggerEventLog, error) {
	event, _, err := er.IngestEvent(ctx, models.CreateEventRequest{
		TriggerType: models.TriggerSchedule,
		DedupKey:    fmt.Sprintf("schedule:%s:%d", workflowID, at.Unix()),
		Payload: map[string]interface{}{
			models.PayloadWorkflowID: workflowID.String(),
			"scheduled_at":           at.UTC().Format(time.RFC3339),
		},
	})
	return event, err
}

func (er *EventRouter) failEvent(ctx context.Context, event *models.TriggerEventLog, reason string) error {
	er.logger.Errorf("Event %s failed: %s", event.ID, reason)
	er.metrics.RecordEventProcessed(string(event.TriggerType), string(models.EventStatusFailed))
	if err := er.eventRepo.FailEventLog(context.WithoutCancel(ctx), event.ID, reason); err != nil {
		return fmt.Errorf("failed to record event failure: %w", err)
	}
	return nil
}

func (er *EventRouter) enqueue(ctx context.Context, job queue.Job) {
	if err := er.scheduler.Enqueue(ctx, job); err != nil {
		// Pending events are picked up again by the sweeper.
		er.logger.Warnf("Failed to enqueue %s job for %s: %v", job.Kind, job.TargetID, err)
		return
	}
	er.metrics.RecordJobEnqueued(string(job.Kind), false)
}

func copyContext(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

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

// ErrRunNotActive is returned when cancelling a run that already finished
var ErrRunNotActive = errors.New("run is not running")

// WorkflowExecutor executes workflow runs one step at a time. Every step is
// a separate job, so a run survives process restarts between steps.
type WorkflowExecutor struct {
	evaluator      *Evaluator
	contextBuilder *ContextBuilder
	actionExecutor *ActionExecutor
	executionRepo  ExecutionRepository
	workflowRepo   WorkflowRepository
	scheduler      JobScheduler
	logger         *logger.Logger
	metrics        *metrics.Metrics
	clock          Clock
}

// ExecutorOption configures a WorkflowExecutor
type ExecutorOption func(*WorkflowExecutor)

// WithClock overrides the executor's time source
func WithClock(clock Clock) ExecutorOption {
	return func(we *WorkflowExecutor) {
		we.clock = clock
	}
}

// WithMetrics sets the metrics sink
func WithMetrics(m *metrics.Metrics) ExecutorOption {
	return func(we *WorkflowExecutor) {
		we.metrics = m
	}
}

// NewWorkflowExecutor creates a new workflow executor
func NewWorkflowExecutor(
	contextBuilder *ContextBuilder,
	actionExecutor *ActionExecutor,
	executionRepo ExecutionRepository,
	workflowRepo WorkflowRepository,
	scheduler JobScheduler,
	log *logger.Logger,
	opts ...ExecutorOption,
) *WorkflowExecutor {
	we := &WorkflowExecutor{
		evaluator:      NewEvaluator(),
		contextBuilder: contextBuilder,
		actionExecutor: actionExecutor,
		executionRepo:  executionRepo,
		workflowRepo:   workflowRepo,
		scheduler:      scheduler,
		logger:         log,
		clock:          time.Now,
	}
	for _, opt := range opts {
		opt(we)
	}
	return we
}

// StartRun creates a run for workflow and event with a frozen copy of the
// workflow definition, then schedules its first step. Starting the same
// workflow twice for one event returns the existing run.
func (we *WorkflowExecutor) StartRun(
	ctx context.Context,
	workflow *models.Workflow,
	event *models.TriggerEventLog,
	execContext map[string]interface{},
) (*models.WorkflowExecution, error) {
	if !workflow.Active {
		return nil, ErrWorkflowInactive
	}
	if !workflow.IsRunnable() {
		return nil, ErrWorkflowNotRunnable
	}

	definition, err := workflow.Definition.Clone()
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot workflow definition: %w", err)
	}
	head, ok := definition.Head()
	if !ok {
		return nil, fmt.Errorf("%w: start action %q", ErrStepNotFound, definition.StartActionID)
	}

	now := we.clock()
	execution := &models.WorkflowExecution{
		ID:            uuid.New(),
		WorkflowID:    workflow.ID,
		EventLogID:    event.ID,
		TriggerType:   event.TriggerType,
		Definition:    definition,
		Context:       models.JSONB(execContext),
		Status:        models.ExecutionStatusRunning,
		CurrentStepID: &head.ID,
		TotalActions:  len(definition.Actions),
		StartedAt:     now,
	}

	created, err := we.executionRepo.CreateExecution(ctx, execution)
	if err != nil {
		return nil, fmt.Errorf("failed to create execution: %w", err)
	}
	if !created {
		we.logger.Infof("Run %s already exists for workflow %s and event %s", execution.ID, workflow.ID, event.ID)
		return execution, we.ensureStarted(ctx, execution)
	}

	we.logger.Infof("Starting workflow run: %s (workflow: %s, event: %s)", execution.ID, workflow.Name, event.ID)
	we.metrics.RecordRunStarted(string(event.TriggerType))

	return execution, we.scheduleStep(ctx, execution, head)
}

// ensureStarted schedules the head step of a running run that has no
// steps, which is what a crash right after CreateExecution leaves behind.
func (we *WorkflowExecutor) ensureStarted(ctx context.Context, execution *models.WorkflowExecution) error {
	if execution.Status != models.ExecutionStatusRunning {
		return nil
	}
	steps, err := we.executionRepo.ListStepRuns(ctx, execution.ID)
	if err != nil {
		return fmt.Errorf("failed to list step runs: %w", err)
	}
	if len(steps) > 0 {
		return nil
	}
	return we.recoverRun(ctx, execution, steps)
}

// ExecuteStep runs a pending step and schedules whatever follows it.
// Redelivered or stale jobs are no-ops.
func (we *WorkflowExecutor) ExecuteStep(ctx context.Context, stepRunID uuid.UUID) error {
	step, err := we.executionRepo.GetStepRunByID(ctx, stepRunID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			we.logger.Warnf("Step run %s no longer exists, skipping", stepRunID)
			return nil
		}
		return fmt.Errorf("failed to load step run: %w", err)
	}
	if step.Status != models.StepStatusPending {
		we.logger.Debugf("Step run %s is %s, skipping", step.ID, step.Status)
		return nil
	}

	execution, err := we.executionRepo.GetExecutionByID(ctx, step.ExecutionID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			we.logger.Warnf("Run %s for step run %s no longer exists, skipping", step.ExecutionID, step.ID)
			return nil
		}
		return fmt.Errorf("failed to load execution: %w", err)
	}
	if execution.Status.IsTerminal() {
		we.logger.Infof("Run %s is %s, not executing step %s", execution.ID, execution.Status, step.StepID)
		return nil
	}

	now := we.clock()
	step.Status = models.StepStatusRunning
	step.StartedAt = &now
	claimed, err := we.executionRepo.TransitionStepRun(ctx, step, models.StepStatusPending)
	if err != nil {
		return fmt.Errorf("failed to claim step run: %w", err)
	}
	if !claimed {
		return nil
	}

	action, ok := execution.Definition.Action(step.StepID)
	if !ok {
		return we.failStep(ctx, execution, step, fmt.Errorf("%w: %s", ErrStepNotFound, step.StepID))
	}

	we.logger.Infof("Executing step: %s (type: %s, run: %s)", action.ID, action.Type, execution.ID)
	execContext := we.contextBuilder.Refresh(ctx, execution.Context)
	return we.runStep(ctx, execution, step, action, execContext)
}

// runStep interprets one action node. A panicking handler fails the step
// like any other error.
func (we *WorkflowExecutor) runStep(
	ctx context.Context,
	execution *models.WorkflowExecution,
	step *models.WorkflowStepRun,
	action *models.Action,
	execContext map[string]interface{},
) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = we.failStep(ctx, execution, step, fmt.Errorf("%w: %v", ErrStepPanicked, r))
		}
	}()

	switch cfg := action.Config.(type) {
	case models.ConditionAction:
		result, err := we.evaluator.Evaluate(cfg.Conditions, cfg.Operator, execContext)
		if err != nil {
			return we.failStep(ctx, execution, step, fmt.Errorf("condition evaluation failed: %w", err))
		}

		branch, next := models.BranchNo, cfg.NoHeadID
		if result {
			branch, next = models.BranchYes, cfg.YesHeadID
		}
		we.logger.Infof("Condition %s evaluated to: %v", action.ID, result)

		step.Branch = &branch
		step.Output = models.JSONB{"result": result}
		we.metrics.RecordStep(string(action.Type), "completed", we.clock().Sub(*step.StartedAt))
		return we.completeStep(ctx, execution, step, next, models.StepStatusRunning)

	case models.DelayAction:
		interval, err := cfg.Interval()
		if err != nil {
			return we.failStep(ctx, execution, step, err)
		}
		return we.delayStep(ctx, execution, step, interval)

	case models.SendEmailAction,
		models.SendWhatsAppAction,
		models.SendWebhookAction,
		models.TagAction,
		models.UpdateFieldAction,
		models.AssignToUserAction:
		result, err := we.actionExecutor.ExecuteAction(ctx, ActionRequest{
			ExecutionID: execution.ID,
			WorkflowID:  execution.WorkflowID,
			StepID:      action.ID,
			Action:      action,
			Context:     execContext,
		})
		if result != nil {
			step.Output = models.JSONB(result.Data)
		}
		if err != nil {
			return we.failStep(ctx, execution, step, err)
		}
		return we.completeStep(ctx, execution, step, action.NextID, models.StepStatusRunning)

	default:
		return we.failStep(ctx, execution, step, fmt.Errorf("%w: %s", ErrUnknownActionType, action.Type))
	}
}

// delayStep parks the step until interval has elapsed
func (we *WorkflowExecutor) delayStep(
	ctx context.Context,
	execution *models.WorkflowExecution,
	step *models.WorkflowStepRun,
	interval time.Duration,
) error {
	resumeAt := step.StartedAt.Add(interval)
	step.Status = models.StepStatusDelayed
	step.ResumeAt = &resumeAt
	step.Output = models.JSONB{"resume_at": resumeAt.UTC().Format(time.RFC3339)}

	ok, err := we.executionRepo.TransitionStepRun(ctx, step, models.StepStatusRunning)
	if err != nil {
		return fmt.Errorf("failed to persist delayed step: %w", err)
	}
	if !ok {
		return nil
	}

	we.logger.Infof("Run %s delayed at step %s until %s", execution.ID, step.StepID, resumeAt.Format(time.RFC3339))
	we.metrics.RecordStep(string(models.ActionDelay), "delayed", 0)

	job := queue.NewJob(queue.JobResumeStep, step.ID)
	if err := we.scheduler.EnqueueAt(ctx, job, resumeAt); err != nil {
		// The delay sweeper finds due delayed steps in storage.
		we.logger.Warnf("Failed to schedule resume of step run %s: %v", step.ID, err)
		return nil
	}
	we.metrics.RecordJobEnqueued(string(job.Kind), true)
	return nil
}

// ResumeStep continues a run after a delay has elapsed. A resume whose
// workflow, run or step has gone away is dropped.
func (we *WorkflowExecutor) ResumeStep(ctx context.Context, stepRunID uuid.UUID) error {
	step, err := we.executionRepo.GetStepRunByID(ctx, stepRunID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			we.logger.Warnf("Abandoning resume: step run %s no longer exists", stepRunID)
			return nil
		}
		return fmt.Errorf("failed to load step run: %w", err)
	}

	execution, err := we.executionRepo.GetExecutionByID(ctx, step.ExecutionID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			we.logger.Warnf("Abandoning resume: run %s no longer exists", step.ExecutionID)
			return nil
		}
		return fmt.Errorf("failed to load execution: %w", err)
	}

	if _, err := we.workflowRepo.GetWorkflowByID(ctx, execution.WorkflowID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			we.logger.Warnf("Abandoning resume: workflow %s no longer exists (run %s)", execution.WorkflowID, execution.ID)
			return nil
		}
		return fmt.Errorf("failed to load workflow: %w", err)
	}

	if execution.Status.IsTerminal() {
		we.logger.Infof("Run %s is %s, not resuming step %s", execution.ID, execution.Status, step.StepID)
		return nil
	}
	if step.Status != models.StepStatusDelayed {
		we.logger.Debugf("Step run %s is %s, nothing to resume", step.ID, step.Status)
		return nil
	}

	action, ok := execution.Definition.Action(step.StepID)
	if !ok {
		we.logger.Warnf("Abandoning resume: step %s missing from run %s", step.StepID, execution.ID)
		return nil
	}

	now := we.clock()
	if step.ResumeAt != nil && now.Before(*step.ResumeAt) {
		we.logger.Debugf("Step run %s resumed early, rescheduling for %s", step.ID, step.ResumeAt.Format(time.RFC3339))
		if err := we.scheduler.EnqueueAt(ctx, queue.NewJob(queue.JobResumeStep, step.ID), *step.ResumeAt); err != nil {
			we.logger.Warnf("Failed to reschedule step run %s: %v", step.ID, err)
		}
		return nil
	}

	we.logger.Infof("Resuming run %s after step %s", execution.ID, step.StepID)
	return we.completeStep(ctx, execution, step, action.NextID, models.StepStatusDelayed)
}

// RecoverStep fails a step run left running by a worker that went away.
// The action is not repeated since it may already have had side effects.
func (we *WorkflowExecutor) RecoverStep(ctx context.Context, stepRunID uuid.UUID) error {
	step, err := we.executionRepo.GetStepRunByID(ctx, stepRunID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("failed to load step run: %w", err)
	}
	if step.Status != models.StepStatusRunning {
		return nil
	}

	execution, err := we.executionRepo.GetExecutionByID(ctx, step.ExecutionID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			we.logger.Warnf("Run %s for stalled step run %s no longer exists", step.ExecutionID, step.ID)
			return nil
		}
		return fmt.Errorf("failed to load execution: %w", err)
	}

	cause := ErrStepInterrupted
	if step.StartedAt != nil {
		cause = fmt.Errorf("%w: running since %s", ErrStepInterrupted, step.StartedAt.UTC().Format(time.RFC3339))
	}
	return we.failStep(ctx, execution, step, cause)
}

// RecoverRun moves a running run forward when none of its steps is in
// flight, which happens when a process stops between two writes.
func (we *WorkflowExecutor) RecoverRun(ctx context.Context, executionID uuid.UUID) error {
	execution, err := we.executionRepo.GetExecutionByID(ctx, executionID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("failed to load execution: %w", err)
	}
	if execution.Status != models.ExecutionStatusRunning {
		return nil
	}
	steps, err := we.executionRepo.ListStepRuns(ctx, executionID)
	if err != nil {
		return fmt.Errorf("failed to list step runs: %w", err)
	}
	return we.recoverRun(ctx, execution, steps)
}

func (we *WorkflowExecutor) recoverRun(ctx context.Context, execution *models.WorkflowExecution, steps []models.WorkflowStepRun) error {
	for _, step := range steps {
		if step.Status.IsActive() {
			return nil
		}
	}

	if len(steps) == 0 {
		head, ok := execution.Definition.Head()
		if !ok {
			msg := fmt.Sprintf("start action %q missing from run", execution.Definition.StartActionID)
			return we.finishExecution(ctx, execution, models.ExecutionStatusFailed, msg)
		}
		we.logger.Warnf("Run %s has no steps, scheduling %s", execution.ID, head.ID)
		return we.scheduleStep(ctx, execution, head)
	}

	last := steps[len(steps)-1]
	if last.Status == models.StepStatusFailed {
		msg := fmt.Sprintf("step %s (%s) failed", last.StepID, last.StepType)
		if last.ErrorMessage != nil {
			msg += ": " + *last.ErrorMessage
		}
		we.logger.Warnf("Run %s outlived its failed step %s, failing it", execution.ID, last.StepID)
		return we.finishExecution(ctx, execution, models.ExecutionStatusFailed, msg)
	}

	// advance moves current_step_id before creating the step run
	if execution.CurrentStepID != nil && *execution.CurrentStepID != last.StepID {
		if next, ok := execution.Definition.Action(*execution.CurrentStepID); ok {
			we.logger.Warnf("Run %s lost step %s, scheduling it again", execution.ID, next.ID)
			return we.scheduleStep(ctx, execution, next)
		}
	}

	action, ok := execution.Definition.Action(last.StepID)
	if !ok {
		return we.finishExecution(ctx, execution, models.ExecutionStatusCompleted, "")
	}
	we.logger.Warnf("Run %s stopped after step %s, advancing", execution.ID, last.StepID)
	return we.advance(ctx, execution, successor(action, &last))
}

// successor is the action that follows a completed step
func successor(action *models.Action, step *models.WorkflowStepRun) string {
	if cfg, ok := action.Config.(models.ConditionAction); ok {
		if step.Branch != nil && *step.Branch == models.BranchYes {
			return cfg.YesHeadID
		}
		return cfg.NoHeadID
	}
	return action.NextID
}

// CancelRun stops a running run. Steps already scheduled become no-ops.
func (we *WorkflowExecutor) CancelRun(ctx context.Context, executionID uuid.UUID) (*models.WorkflowExecution, error) {
	cancelled, err := we.executionRepo.CancelExecution(ctx, executionID, we.clock())
	if err != nil {
		return nil, fmt.Errorf("failed to cancel execution: %w", err)
	}

	execution, err := we.executionRepo.GetExecutionByID(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if !cancelled {
		return execution, ErrRunNotActive
	}

	we.logger.Infof("Run %s cancelled", executionID)
	we.metrics.RecordRunFinished(string(execution.TriggerType), string(models.ExecutionStatusCancelled), execution.CompletedAtOrNow(we.clock()).Sub(execution.StartedAt))
	return execution, nil
}

// GetTrace returns a run with all of its step runs
func (we *WorkflowExecutor) GetTrace(ctx context.Context, executionID uuid.UUID) (*models.ExecutionTraceResponse, error) {
	execution, err := we.executionRepo.GetExecutionByID(ctx, executionID)
	if err != nil {
		return nil, err
	}
	steps, err := we.executionRepo.ListStepRuns(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list step runs: %w", err)
	}
	return &models.ExecutionTraceResponse{Execution: execution, Steps: steps}, nil
}

// completeStep marks step completed and hands control to nextID
func (we *WorkflowExecutor) completeStep(
	ctx context.Context,
	execution *models.WorkflowExecution,
	step *models.WorkflowStepRun,
	nextID string,
	from models.StepRunStatus,
) error {
	now := we.clock()
	step.Status = models.StepStatusCompleted
	step.CompletedAt = &now
	if step.StartedAt != nil {
		duration := int(now.Sub(*step.StartedAt).Milliseconds())
		step.DurationMs = &duration
	}

	ok, err := we.executionRepo.TransitionStepRun(ctx, step, from)
	if err != nil {
		return fmt.Errorf("failed to complete step run: %w", err)
	}
	if !ok {
		return nil
	}

	return we.advance(ctx, execution, nextID)
}

// advance schedules nextID or finishes the run when there is nothing left
func (we *WorkflowExecutor) advance(ctx context.Context, execution *models.WorkflowExecution, nextID string) error {
	execution.ActionsExecuted++

	if nextID == "" {
		return we.finishExecution(ctx, execution, models.ExecutionStatusCompleted, "")
	}
	next, ok := execution.Definition.Action(nextID)
	if !ok {
		we.logger.Warnf("Successor %s missing from run %s, treating as end of branch", nextID, execution.ID)
		return we.finishExecution(ctx, execution, models.ExecutionStatusCompleted, "")
	}

	execution.CurrentStepID = &next.ID
	updated, err := we.executionRepo.UpdateExecution(ctx, execution)
	if err != nil {
		return fmt.Errorf("failed to update execution: %w", err)
	}
	if !updated {
		we.logger.Infof("Run %s stopped before step %s", execution.ID, next.ID)
		return nil
	}

	return we.scheduleStep(ctx, execution, next)
}

// scheduleStep creates a pending step run for action and enqueues it
func (we *WorkflowExecutor) scheduleStep(ctx context.Context, execution *models.WorkflowExecution, action *models.Action) error {
	step := we.newStepRun(execution, action, we.clock())
	if err := we.executionRepo.CreateStepRun(ctx, step); err != nil {
		msg := fmt.Sprintf("failed to create step %s: %v", action.ID, err)
		if finishErr := we.finishExecution(ctx, execution, models.ExecutionStatusFailed, msg); finishErr != nil {
			we.logger.Errorf("Failed to mark run %s failed: %v", execution.ID, finishErr)
		}
		return fmt.Errorf("failed to create step run: %w", err)
	}

	we.enqueue(ctx, queue.NewJob(queue.JobExecuteStep, step.ID))
	return nil
}

// failStep records cause on the step and on its run. The writes outlive a
// cancelled ctx so shutdown cannot leave the step running.
func (we *WorkflowExecutor) failStep(
	ctx context.Context,
	execution *models.WorkflowExecution,
	step *models.WorkflowStepRun,
	cause error,
) error {
	ctx = context.WithoutCancel(ctx)
	now := we.clock()
	msg := cause.Error()
	step.Status = models.StepStatusFailed
	step.ErrorMessage = &msg
	step.CompletedAt = &now
	if step.StartedAt != nil {
		duration := int(now.Sub(*step.StartedAt).Milliseconds())
		step.DurationMs = &duration
	}

	ok, err := we.executionRepo.TransitionStepRun(ctx, step, models.StepStatusRunning)
	if err != nil {
		return fmt.Errorf("failed to record step failure: %w", err)
	}
	if !ok {
		return nil
	}

	we.logger.Errorf("Step %s failed in run %s: %v", step.StepID, execution.ID, cause)
	runMsg := fmt.Sprintf("step %s (%s) failed: %s", step.StepID, step.StepType, msg)
	return we.finishExecution(ctx, execution, models.ExecutionStatusFailed, runMsg)
}

// finishExecution marks an execution as complete
func (we *WorkflowExecutor) finishExecution(
	ctx context.Context,
	execution *models.WorkflowExecution,
	status models.ExecutionStatus,
	errorMsg string,
) error {
	ctx = context.WithoutCancel(ctx)
	now := we.clock()
	execution.Status = status
	execution.CompletedAt = &now
	duration := int(now.Sub(execution.StartedAt).Milliseconds())
	execution.DurationMs = &duration
	if errorMsg != "" {
		execution.ErrorMessage = &errorMsg
	}

	updated, err := we.executionRepo.UpdateExecution(ctx, execution)
	if err != nil {
		return fmt.Errorf("failed to finish execution: %w", err)
	}
	if !updated {
		return nil
	}

	we.logger.Infof("Workflow run %s %s", execution.ID, status)
	we.metrics.RecordRunFinished(string(execution.TriggerType), string(status), now.Sub(execution.StartedAt))
	return nil
}

func (we *WorkflowExecutor) newStepRun(execution *models.WorkflowExecution, action *models.Action, now time.Time) *models.WorkflowStepRun {
	return &models.WorkflowStepRun{
		ID:          uuid.New(),
		ExecutionID: execution.ID,
		WorkflowID:  execution.WorkflowID,
		StepID:      action.ID,
		StepType:    action.Type,
		Status:      models.StepStatusPending,
		CreatedAt:   now,
	}
}

// enqueue hands a job to the scheduler. A lost job is recovered by the
// sweeper, which re-enqueues stale pending steps.
func (we *WorkflowExecutor) enqueue(ctx context.Context, job queue.Job) {
	if err := we.scheduler.Enqueue(ctx, job); err != nil {
		we.logger.Warnf("Failed to enqueue %s job for %s: %v", job.Kind, job.TargetID, err)
		return
	}
	we.metrics.RecordJobEnqueued(string(job.Kind), false)
}

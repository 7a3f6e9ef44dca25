package workers

import (
	"context"
	"time"

	"github.com/davidmoltin/leadflow/internal/models"
	"github.com/davidmoltin/leadflow/pkg/logger"
	"github.com/davidmoltin/leadflow/pkg/metrics"
	"github.com/google/uuid"
)

// DueSchedules lists schedules whose next tick has passed and advances them
type DueSchedules interface {
	GetDueSchedules(ctx context.Context) ([]*models.WorkflowSchedule, error)
	MarkTriggered(ctx context.Context, schedule *models.WorkflowSchedule) error
}

// ScheduleTrigger records the schedule event of one tick
type ScheduleTrigger interface {
	TriggerSchedule(ctx context.Context, workflowID uuid.UUID, at time.Time) (*models.TriggerEventLog, error)
}

const schedulerWorkerName = "scheduler"

// SchedulerWorker turns due cron ticks into schedule events. The worker
// only logs events; runs start when the job worker processes them.
type SchedulerWorker struct {
	schedules DueSchedules
	trigger   ScheduleTrigger
	logger    *logger.Logger
	metrics   *metrics.Metrics
	interval  time.Duration
	now       func() time.Time
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// NewSchedulerWorker creates a scheduler polling every interval (one minute when zero)
func NewSchedulerWorker(
	schedules DueSchedules,
	trigger ScheduleTrigger,
	log *logger.Logger,
	m *metrics.Metrics,
	interval time.Duration,
) *SchedulerWorker {
	if interval <= 0 {
		interval = time.Minute
	}

	return &SchedulerWorker{
		schedules: schedules,
		trigger:   trigger,
		logger:    log,
		metrics:   m,
		interval:  interval,
		now:       time.Now,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start starts the scheduler in the background
func (w *SchedulerWorker) Start(ctx context.Context) {
	w.logger.Info("Starting scheduler worker",
		logger.String("interval", w.interval.String()),
	)

	go w.run(ctx)
}

// Stop stops the scheduler and waits for the current pass
func (w *SchedulerWorker) Stop() {
	close(w.stopCh)
	<-w.doneCh
	w.logger.Info("Scheduler worker stopped")
}

func (w *SchedulerWorker) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.Tick(ctx)
	for {
		select {
		case <-ticker.C:
			w.Tick(ctx)
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Tick fires every due schedule once and returns how many were triggered.
// A schedule whose event could not be logged keeps its next tick and is
// retried on the following pass.
func (w *SchedulerWorker) Tick(ctx context.Context) int {
	due, err := w.schedules.GetDueSchedules(ctx)
	if err != nil {
		w.logger.Errorf("Failed to list due schedules: %v", err)
		w.metrics.RecordWorkerError(schedulerWorkerName, "list_due")
		return 0
	}
	if len(due) == 0 {
		return 0
	}

	triggered := 0
	for _, schedule := range due {
		if w.fire(ctx, schedule) {
			triggered++
		}
	}

	w.logger.Info("Schedules processed",
		logger.Int("due", len(due)),
		logger.Int("triggered", triggered),
	)
	return triggered
}

func (w *SchedulerWorker) fire(ctx context.Context, schedule *models.WorkflowSchedule) bool {
	start := w.now()

	// the planned tick keys the event, so a tick fired twice starts one run
	tick := start
	if schedule.NextTriggerAt != nil {
		tick = *schedule.NextTriggerAt
	}

	event, err := w.trigger.TriggerSchedule(ctx, schedule.WorkflowID, tick)
	if err != nil {
		w.logger.Errorf("Failed to trigger workflow %s for schedule %s: %v", schedule.WorkflowID, schedule.ID, err)
		w.metrics.RecordWorkerJob(schedulerWorkerName, string(models.TriggerSchedule), "failed", time.Since(start))
		return false
	}

	if err := w.schedules.MarkTriggered(ctx, schedule); err != nil {
		w.logger.Error("Failed to advance schedule", logger.UUID("schedule_id", schedule.ID), logger.Err(err))
		w.metrics.RecordWorkerError(schedulerWorkerName, "mark_triggered")
		return false
	}

	w.logger.Debug("Schedule fired",
		logger.UUID("workflow_id", schedule.WorkflowID),
		logger.UUID("event_id", event.ID),
		logger.String("cron", schedule.CronExpression),
	)
	w.metrics.RecordWorkerJob(schedulerWorkerName, string(models.TriggerSchedule), "triggered", time.Since(start))
	return true
}

package services

import (
	"context"
	"fmt"
	"time"

	"github.com/davidmoltin/leadflow/internal/models"
	"github.com/davidmoltin/leadflow/internal/validators"
	"github.com/davidmoltin/leadflow/pkg/logger"
	"github.com/google/uuid"
)

// ScheduleRepository defines the interface for schedule data access
type ScheduleRepository interface {
	UpsertSchedule(ctx context.Context, schedule *models.WorkflowSchedule) error
	GetScheduleByWorkflowID(ctx context.Context, workflowID uuid.UUID) (*models.WorkflowSchedule, error)
	DeleteScheduleByWorkflowID(ctx context.Context, workflowID uuid.UUID) error
	GetDueSchedules(ctx context.Context, now time.Time) ([]*models.WorkflowSchedule, error)
	UpdateNextTrigger(ctx context.Context, id uuid.UUID, lastTriggered, nextTrigger time.Time) error
	ListSchedules(ctx context.Context, limit, offset int) ([]*models.WorkflowSchedule, int64, error)
}

// NextCronTime returns the first activation of expression after from,
// evaluated in timezone (UTC when empty).
func NextCronTime(expression, timezone string, from time.Time) (time.Time, error) {
	schedule, err := validators.CronParser.Parse(expression)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression: %w", err)
	}
	if timezone == "" {
		timezone = "UTC"
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timezone: %w", err)
	}
	return schedule.Next(from.In(loc)), nil
}

// ScheduleService keeps the cron state of schedule-triggered workflows
type ScheduleService struct {
	scheduleRepo ScheduleRepository
	logger       *logger.Logger
	now          func() time.Time
}

// NewScheduleService creates a new schedule service
func NewScheduleService(scheduleRepo ScheduleRepository, log *logger.Logger) *ScheduleService {
	return &ScheduleService{
		scheduleRepo: scheduleRepo,
		logger:       log,
		now:          time.Now,
	}
}

// SyncWorkflowSchedule creates, refreshes or removes the schedule of a
// workflow after it was saved or toggled.
func (s *ScheduleService) SyncWorkflowSchedule(ctx context.Context, workflow *models.Workflow) error {
	trigger, ok := workflow.Definition.Trigger.Config.(models.ScheduleTrigger)
	if !ok || !workflow.Active {
		if err := s.scheduleRepo.DeleteScheduleByWorkflowID(ctx, workflow.ID); err != nil {
			return fmt.Errorf("failed to delete schedule: %w", err)
		}
		return nil
	}

	timezone := trigger.Timezone
	if timezone == "" {
		timezone = "UTC"
	}
	next, err := NextCronTime(trigger.Cron, timezone, s.now())
	if err != nil {
		return err
	}

	schedule := &models.WorkflowSchedule{
		WorkflowID:     workflow.ID,
		CronExpression: trigger.Cron,
		Timezone:       timezone,
		Enabled:        true,
		NextTriggerAt:  &next,
	}
	if existing, err := s.scheduleRepo.GetScheduleByWorkflowID(ctx, workflow.ID); err == nil {
		schedule.LastTriggeredAt = existing.LastTriggeredAt
	}

	if err := s.scheduleRepo.UpsertSchedule(ctx, schedule); err != nil {
		return fmt.Errorf("failed to save schedule: %w", err)
	}

	s.logger.Infof("Scheduled workflow %s with cron %s (next run %s)", workflow.ID, trigger.Cron, next.Format(time.RFC3339))
	return nil
}

// GetDueSchedules retrieves all schedules that are due to run
func (s *ScheduleService) GetDueSchedules(ctx context.Context) ([]*models.WorkflowSchedule, error) {
	return s.scheduleRepo.GetDueSchedules(ctx, s.now())
}

// MarkTriggered records that schedule fired and calculates the next run time
func (s *ScheduleService) MarkTriggered(ctx context.Context, schedule *models.WorkflowSchedule) error {
	now := s.now()
	next, err := NextCronTime(schedule.CronExpression, schedule.Timezone, now)
	if err != nil {
		return err
	}

	if err := s.scheduleRepo.UpdateNextTrigger(ctx, schedule.ID, now, next); err != nil {
		return fmt.Errorf("failed to update trigger times: %w", err)
	}

	s.logger.Debugf("Schedule %s marked as triggered, next run at %s", schedule.ID, next)
	return nil
}

// GetNextRuns calculates the next N run times of a workflow's schedule
func (s *ScheduleService) GetNextRuns(ctx context.Context, workflowID uuid.UUID, count int) ([]time.Time, error) {
	if count <= 0 || count > 100 {
		count = 10
	}

	schedule, err := s.scheduleRepo.GetScheduleByWorkflowID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	runs := make([]time.Time, 0, count)
	current := s.now()
	for i := 0; i < count; i++ {
		current, err = NextCronTime(schedule.CronExpression, schedule.Timezone, current)
		if err != nil {
			return nil, err
		}
		runs = append(runs, current)
	}
	return runs, nil
}

// ValidateCronExpression validates a cron expression
func (s *ScheduleService) ValidateCronExpression(expression string) error {
	_, err := validators.CronParser.Parse(expression)
	return err
}

// ListSchedules retrieves all schedules with pagination
func (s *ScheduleService) ListSchedules(ctx context.Context, limit, offset int) ([]*models.WorkflowSchedule, int64, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	return s.scheduleRepo.ListSchedules(ctx, limit, offset)
}

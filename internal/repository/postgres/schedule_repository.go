package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/davidmoltin/leadflow/internal/models"
	"github.com/google/uuid"
)

const scheduleColumns = `id, workflow_id, cron_expression, timezone, enabled,
	last_triggered_at, next_trigger_at, created_at, updated_at`

// ScheduleRepository handles workflow schedule database operations
type ScheduleRepository struct {
	db DB
}

// NewScheduleRepository creates a new schedule repository
func NewScheduleRepository(db DB) *ScheduleRepository {
	return &ScheduleRepository{db: db}
}

// UpsertSchedule creates or replaces the schedule of a workflow
func (r *ScheduleRepository) UpsertSchedule(ctx context.Context, schedule *models.WorkflowSchedule) error {
	if schedule.ID == uuid.Nil {
		schedule.ID = uuid.New()
	}

	query := `
		INSERT INTO workflow_schedules (
			id, workflow_id, cron_expression, timezone, enabled, last_triggered_at, next_trigger_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (workflow_id) DO UPDATE
		SET cron_expression = EXCLUDED.cron_expression,
		    timezone = EXCLUDED.timezone,
		    enabled = EXCLUDED.enabled,
		    last_triggered_at = EXCLUDED.last_triggered_at,
		    next_trigger_at = EXCLUDED.next_trigger_at,
		    updated_at = NOW()
		RETURNING id, created_at, updated_at`

	err := r.db.QueryRowContext(
		ctx, query,
		schedule.ID, schedule.WorkflowID, schedule.CronExpression, schedule.Timezone,
		schedule.Enabled, schedule.LastTriggeredAt, schedule.NextTriggerAt,
	).Scan(&schedule.ID, &schedule.CreatedAt, &schedule.UpdatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return models.ErrNotFound
		}
		return fmt.Errorf("failed to save schedule: %w", err)
	}

	return nil
}

// GetScheduleByWorkflowID retrieves the schedule of a workflow
func (r *ScheduleRepository) GetScheduleByWorkflowID(ctx context.Context, workflowID uuid.UUID) (*models.WorkflowSchedule, error) {
	schedule, err := scanSchedule(r.db.QueryRowContext(ctx,
		`SELECT `+scheduleColumns+` FROM workflow_schedules WHERE workflow_id = $1`, workflowID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get schedule: %w", err)
	}
	return schedule, nil
}

// DeleteScheduleByWorkflowID deletes the schedule of a workflow, if any
func (r *ScheduleRepository) DeleteScheduleByWorkflowID(ctx context.Context, workflowID uuid.UUID) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM workflow_schedules WHERE workflow_id = $1`, workflowID); err != nil {
		return fmt.Errorf("failed to delete schedule: %w", err)
	}
	return nil
}

// GetDueSchedules retrieves all enabled schedules that are due at now
func (r *ScheduleRepository) GetDueSchedules(ctx context.Context, now time.Time) ([]*models.WorkflowSchedule, error) {
	query := `
		SELECT ` + scheduleColumns + `
		FROM workflow_schedules
		WHERE enabled = true
		  AND next_trigger_at IS NOT NULL
		  AND next_trigger_at <= $1
		ORDER BY next_trigger_at ASC`

	rows, err := r.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query due schedules: %w", err)
	}
	defer rows.Close()

	return collectSchedules(rows)
}

// UpdateNextTrigger updates only the next_trigger_at and last_triggered_at fields
func (r *ScheduleRepository) UpdateNextTrigger(ctx context.Context, id uuid.UUID, lastTriggered, nextTrigger time.Time) error {
	query := `
		UPDATE workflow_schedules
		SET last_triggered_at = $2,
		    next_trigger_at = $3,
		    updated_at = NOW()
		WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, id, lastTriggered, nextTrigger)
	if err != nil {
		return fmt.Errorf("failed to update schedule trigger times: %w", err)
	}
	return expectOneRow(result)
}

// ListSchedules retrieves all schedules with pagination
func (r *ScheduleRepository) ListSchedules(ctx context.Context, limit, offset int) ([]*models.WorkflowSchedule, int64, error) {
	var total int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM workflow_schedules`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count schedules: %w", err)
	}

	query := `
		SELECT ` + scheduleColumns + `
		FROM workflow_schedules
		ORDER BY created_at
		LIMIT $1 OFFSET $2`

	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query schedules: %w", err)
	}
	defer rows.Close()

	schedules, err := collectSchedules(rows)
	if err != nil {
		return nil, 0, err
	}
	return schedules, total, nil
}

func scanSchedule(row rowScanner) (*models.WorkflowSchedule, error) {
	schedule := &models.WorkflowSchedule{}
	err := row.Scan(
		&schedule.ID, &schedule.WorkflowID, &schedule.CronExpression,
		&schedule.Timezone, &schedule.Enabled, &schedule.LastTriggeredAt,
		&schedule.NextTriggerAt, &schedule.CreatedAt, &schedule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return schedule, nil
}

func collectSchedules(rows *sql.Rows) ([]*models.WorkflowSchedule, error) {
	schedules := []*models.WorkflowSchedule{}
	for rows.Next() {
		schedule, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan schedule: %w", err)
		}
		schedules = append(schedules, schedule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating schedules: %w", err)
	}
	return schedules, nil
}

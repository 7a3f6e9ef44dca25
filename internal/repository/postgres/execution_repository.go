package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/davidmoltin/leadflow/internal/models"
	"github.com/google/uuid"
)

const executionColumns = `id, workflow_id, event_log_id, trigger_type, definition, context, status,
	current_step_id, actions_executed, total_actions, started_at, completed_at, duration_ms, error_message`

const stepRunColumns = `id, execution_id, workflow_id, step_id, step_type, status, branch, output,
	error_message, resume_at, created_at, started_at, completed_at, duration_ms`

// stepRunColumnsJoined qualifies stepRunColumns for queries joined with executions
const stepRunColumnsJoined = `s.id, s.execution_id, s.workflow_id, s.step_id, s.step_type, s.status, s.branch,
	s.output, s.error_message, s.resume_at, s.created_at, s.started_at, s.completed_at, s.duration_ms`

// ExecutionRepository handles run and step run database operations
type ExecutionRepository struct {
	db DB
}

// NewExecutionRepository creates a new execution repository
func NewExecutionRepository(db DB) *ExecutionRepository {
	return &ExecutionRepository{db: db}
}

// CreateExecution inserts a run. A run already stored for the same workflow
// and event is loaded into execution and created is false.
func (r *ExecutionRepository) CreateExecution(ctx context.Context, execution *models.WorkflowExecution) (bool, error) {
	query := `
		INSERT INTO workflow_executions (
			id, workflow_id, event_log_id, trigger_type, definition, context, status,
			current_step_id, actions_executed, total_actions, started_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (workflow_id, event_log_id) DO NOTHING
		RETURNING id`

	var id uuid.UUID
	err := r.db.QueryRowContext(
		ctx, query,
		execution.ID, execution.WorkflowID, execution.EventLogID, execution.TriggerType,
		execution.Definition, execution.Context, execution.Status, execution.CurrentStepID,
		execution.ActionsExecuted, execution.TotalActions, execution.StartedAt,
	).Scan(&id)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("failed to create execution: %w", err)
	}

	existing, err := scanExecution(r.db.QueryRowContext(ctx,
		`SELECT `+executionColumns+` FROM workflow_executions WHERE workflow_id = $1 AND event_log_id = $2`,
		execution.WorkflowID, execution.EventLogID))
	if err != nil {
		return false, fmt.Errorf("failed to load existing execution: %w", err)
	}
	*execution = *existing
	return false, nil
}

// GetExecutionByID retrieves a run by ID
func (r *ExecutionRepository) GetExecutionByID(ctx context.Context, id uuid.UUID) (*models.WorkflowExecution, error) {
	execution, err := scanExecution(r.db.QueryRowContext(ctx,
		`SELECT `+executionColumns+` FROM workflow_executions WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}
	return execution, nil
}

// UpdateExecution writes execution only while the stored run is running
func (r *ExecutionRepository) UpdateExecution(ctx context.Context, execution *models.WorkflowExecution) (bool, error) {
	query := `
		UPDATE workflow_executions
		SET context = $2, status = $3, current_step_id = $4, actions_executed = $5,
		    completed_at = $6, duration_ms = $7, error_message = $8
		WHERE id = $1 AND status = 'running'`

	result, err := r.db.ExecContext(
		ctx, query,
		execution.ID, execution.Context, execution.Status, execution.CurrentStepID,
		execution.ActionsExecuted, execution.CompletedAt, execution.DurationMs, execution.ErrorMessage,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update execution: %w", err)
	}
	return rowsChanged(result)
}

// CancelExecution cancels a running run
func (r *ExecutionRepository) CancelExecution(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	query := `
		UPDATE workflow_executions
		SET status = 'cancelled', completed_at = $2::timestamptz,
		    duration_ms = (EXTRACT(EPOCH FROM ($2::timestamptz - started_at)) * 1000)::INTEGER
		WHERE id = $1 AND status = 'running'`

	result, err := r.db.ExecContext(ctx, query, id, at)
	if err != nil {
		return false, fmt.Errorf("failed to cancel execution: %w", err)
	}
	changed, err := rowsChanged(result)
	if err != nil || changed {
		return changed, err
	}
	if _, err := r.GetExecutionByID(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// ListExecutions lists runs newest first
func (r *ExecutionRepository) ListExecutions(ctx context.Context, filter models.ExecutionFilter) ([]models.WorkflowExecution, int64, error) {
	var conditions []string
	var args []interface{}
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conditions = append(conditions, fmt.Sprintf(cond, len(args)))
	}
	if filter.WorkflowID != nil {
		add("workflow_id = $%d", *filter.WorkflowID)
	}
	if filter.EventLogID != nil {
		add("event_log_id = $%d", *filter.EventLogID)
	}
	if filter.Status != nil {
		add("status = $%d", *filter.Status)
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM workflow_executions`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count executions: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	args = append(args, limit, filter.Offset)
	query := fmt.Sprintf(`SELECT %s FROM workflow_executions%s ORDER BY started_at DESC LIMIT $%d OFFSET $%d`,
		executionColumns, where, len(args)-1, len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	var executions []models.WorkflowExecution
	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan execution: %w", err)
		}
		executions = append(executions, *execution)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating executions: %w", err)
	}
	return executions, total, nil
}

// CreateStepRun inserts a step run
func (r *ExecutionRepository) CreateStepRun(ctx context.Context, step *models.WorkflowStepRun) error {
	query := `
		INSERT INTO workflow_step_runs (
			id, execution_id, workflow_id, step_id, step_type, status, branch, output,
			error_message, resume_at, created_at, started_at, completed_at, duration_ms
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err := r.db.ExecContext(
		ctx, query,
		step.ID, step.ExecutionID, step.WorkflowID, step.StepID, step.StepType, step.Status,
		step.Branch, step.Output, step.ErrorMessage, step.ResumeAt, step.CreatedAt,
		step.StartedAt, step.CompletedAt, step.DurationMs,
	)
	if err != nil {
		return fmt.Errorf("failed to create step run: %w", err)
	}
	return nil
}

// GetStepRunByID retrieves a step run by ID
func (r *ExecutionRepository) GetStepRunByID(ctx context.Context, id uuid.UUID) (*models.WorkflowStepRun, error) {
	step, err := scanStepRun(r.db.QueryRowContext(ctx,
		`SELECT `+stepRunColumns+` FROM workflow_step_runs WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get step run: %w", err)
	}
	return step, nil
}

// TransitionStepRun writes step only if its stored status equals from
func (r *ExecutionRepository) TransitionStepRun(ctx context.Context, step *models.WorkflowStepRun, from models.StepRunStatus) (bool, error) {
	query := `
		UPDATE workflow_step_runs
		SET status = $3, branch = $4, output = $5, error_message = $6, resume_at = $7,
		    started_at = $8, completed_at = $9, duration_ms = $10
		WHERE id = $1 AND status = $2`

	result, err := r.db.ExecContext(
		ctx, query,
		step.ID, from, step.Status, step.Branch, step.Output, step.ErrorMessage, step.ResumeAt,
		step.StartedAt, step.CompletedAt, step.DurationMs,
	)
	if err != nil {
		return false, fmt.Errorf("failed to transition step run: %w", err)
	}
	return rowsChanged(result)
}

// ListStepRuns lists a run's steps in creation order
func (r *ExecutionRepository) ListStepRuns(ctx context.Context, executionID uuid.UUID) ([]models.WorkflowStepRun, error) {
	return r.queryStepRuns(ctx,
		`SELECT `+stepRunColumns+` FROM workflow_step_runs WHERE execution_id = $1 ORDER BY created_at`,
		executionID)
}

// ListDueDelayedStepRuns lists delayed steps of running runs that are due
func (r *ExecutionRepository) ListDueDelayedStepRuns(ctx context.Context, now time.Time, limit int) ([]models.WorkflowStepRun, error) {
	query := `
		SELECT ` + stepRunColumnsJoined + `
		FROM workflow_step_runs s
		JOIN workflow_executions e ON e.id = s.execution_id
		WHERE s.status = 'delayed' AND s.resume_at <= $1 AND e.status = 'running'
		ORDER BY s.resume_at
		LIMIT $2`
	return r.queryStepRuns(ctx, query, now, limit)
}

// ListStalePendingStepRuns lists pending steps of running runs created before the cutoff
func (r *ExecutionRepository) ListStalePendingStepRuns(ctx context.Context, createdBefore time.Time, limit int) ([]models.WorkflowStepRun, error) {
	query := `
		SELECT ` + stepRunColumnsJoined + `
		FROM workflow_step_runs s
		JOIN workflow_executions e ON e.id = s.execution_id
		WHERE s.status = 'pending' AND s.created_at < $1 AND e.status = 'running'
		ORDER BY s.created_at
		LIMIT $2`
	return r.queryStepRuns(ctx, query, createdBefore, limit)
}

// ListStaleRunningStepRuns lists steps that started running before the cutoff
func (r *ExecutionRepository) ListStaleRunningStepRuns(ctx context.Context, startedBefore time.Time, limit int) ([]models.WorkflowStepRun, error) {
	query := `
		SELECT ` + stepRunColumns + `
		FROM workflow_step_runs
		WHERE status = 'running' AND started_at < $1
		ORDER BY started_at
		LIMIT $2`
	return r.queryStepRuns(ctx, query, startedBefore, limit)
}

// ListStalledExecutions lists running runs with no step pending, running
// or delayed and no step activity since the cutoff
func (r *ExecutionRepository) ListStalledExecutions(ctx context.Context, idleSince time.Time, limit int) ([]models.WorkflowExecution, error) {
	query := `
		SELECT ` + executionColumns + `
		FROM workflow_executions e
		WHERE e.status = 'running' AND e.started_at < $1
		  AND NOT EXISTS (
			SELECT 1 FROM workflow_step_runs s
			WHERE s.execution_id = e.id
			  AND (s.status IN ('pending', 'running', 'delayed')
			       OR COALESCE(s.completed_at, s.created_at) >= $1)
		  )
		ORDER BY e.started_at
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, idleSince, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stalled executions: %w", err)
	}
	defer rows.Close()

	var executions []models.WorkflowExecution
	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		executions = append(executions, *execution)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}
	return executions, nil
}

func (r *ExecutionRepository) queryStepRuns(ctx context.Context, query string, args ...interface{}) ([]models.WorkflowStepRun, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list step runs: %w", err)
	}
	defer rows.Close()

	var steps []models.WorkflowStepRun
	for rows.Next() {
		step, err := scanStepRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step run: %w", err)
		}
		steps = append(steps, *step)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating step runs: %w", err)
	}
	return steps, nil
}

func scanExecution(row rowScanner) (*models.WorkflowExecution, error) {
	execution := &models.WorkflowExecution{}
	err := row.Scan(
		&execution.ID, &execution.WorkflowID, &execution.EventLogID, &execution.TriggerType,
		&execution.Definition, &execution.Context, &execution.Status, &execution.CurrentStepID,
		&execution.ActionsExecuted, &execution.TotalActions, &execution.StartedAt,
		&execution.CompletedAt, &execution.DurationMs, &execution.ErrorMessage,
	)
	if err != nil {
		return nil, err
	}
	return execution, nil
}

func scanStepRun(row rowScanner) (*models.WorkflowStepRun, error) {
	step := &models.WorkflowStepRun{}
	var output []byte
	err := row.Scan(
		&step.ID, &step.ExecutionID, &step.WorkflowID, &step.StepID, &step.StepType, &step.Status,
		&step.Branch, &output, &step.ErrorMessage, &step.ResumeAt, &step.CreatedAt,
		&step.StartedAt, &step.CompletedAt, &step.DurationMs,
	)
	if err != nil {
		return nil, err
	}
	if output != nil {
		if err := step.Output.Scan(output); err != nil {
			return nil, err
		}
	}
	return step, nil
}

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

const workflowColumns = `id, name, description, active, owner_id, definition, created_at, updated_at`

// WorkflowRepository handles workflow database operations
type WorkflowRepository struct {
	db DB
}

// NewWorkflowRepository creates a new workflow repository
func NewWorkflowRepository(db DB) *WorkflowRepository {
	return &WorkflowRepository{db: db}
}

// CreateWorkflow creates a new workflow
func (r *WorkflowRepository) CreateWorkflow(ctx context.Context, workflow *models.Workflow) error {
	if workflow.ID == uuid.Nil {
		workflow.ID = uuid.New()
	}
	now := time.Now()
	workflow.CreatedAt = now
	workflow.UpdatedAt = now

	query := `
		INSERT INTO workflows (
			id, name, description, active, owner_id, trigger_type, definition, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`

	err := r.db.QueryRowContext(
		ctx, query,
		workflow.ID, workflow.Name, workflow.Description, workflow.Active, workflow.OwnerID,
		workflow.Definition.Trigger.Type, workflow.Definition, workflow.CreatedAt, workflow.UpdatedAt,
	).Scan(&workflow.CreatedAt, &workflow.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return models.ErrConflict
		}
		return fmt.Errorf("failed to create workflow: %w", err)
	}

	return nil
}

// UpdateWorkflow replaces the name, description, state and definition of a workflow
func (r *WorkflowRepository) UpdateWorkflow(ctx context.Context, workflow *models.Workflow) error {
	query := `
		UPDATE workflows
		SET name = $2, description = $3, active = $4, owner_id = $5,
		    trigger_type = $6, definition = $7, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`

	err := r.db.QueryRowContext(
		ctx, query,
		workflow.ID, workflow.Name, workflow.Description, workflow.Active, workflow.OwnerID,
		workflow.Definition.Trigger.Type, workflow.Definition,
	).Scan(&workflow.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to update workflow: %w", err)
	}

	return nil
}

// SetWorkflowActive toggles a workflow
func (r *WorkflowRepository) SetWorkflowActive(ctx context.Context, id uuid.UUID, active bool) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE workflows SET active = $2, updated_at = NOW() WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("failed to update workflow: %w", err)
	}
	return expectOneRow(result)
}

// DeleteWorkflow deletes a workflow. Its runs are kept.
func (r *WorkflowRepository) DeleteWorkflow(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}
	return expectOneRow(result)
}

// GetWorkflowByID retrieves a workflow by ID
func (r *WorkflowRepository) GetWorkflowByID(ctx context.Context, id uuid.UUID) (*models.Workflow, error) {
	query := `SELECT ` + workflowColumns + ` FROM workflows WHERE id = $1`

	workflow, err := scanWorkflow(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}
	return workflow, nil
}

// ListWorkflows retrieves workflows with pagination
func (r *WorkflowRepository) ListWorkflows(ctx context.Context, active *bool, limit, offset int) ([]models.Workflow, int64, error) {
	var total int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM workflows WHERE ($1::boolean IS NULL OR active = $1)`, active,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count workflows: %w", err)
	}

	query := `
		SELECT ` + workflowColumns + `
		FROM workflows
		WHERE ($1::boolean IS NULL OR active = $1)
		ORDER BY created_at
		LIMIT $2 OFFSET $3`

	rows, err := r.db.QueryContext(ctx, query, active, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list workflows: %w", err)
	}
	defer rows.Close()

	workflows, err := collectWorkflows(rows)
	if err != nil {
		return nil, 0, err
	}
	return workflows, total, nil
}

// ListActiveWorkflowsByTrigger lists active workflows with the trigger type
func (r *WorkflowRepository) ListActiveWorkflowsByTrigger(ctx context.Context, triggerType models.TriggerType) ([]models.Workflow, error) {
	query := `
		SELECT ` + workflowColumns + `
		FROM workflows
		WHERE active AND trigger_type = $1
		ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query, triggerType)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	defer rows.Close()

	return collectWorkflows(rows)
}

func scanWorkflow(row rowScanner) (*models.Workflow, error) {
	workflow := &models.Workflow{}
	err := row.Scan(
		&workflow.ID, &workflow.Name, &workflow.Description, &workflow.Active, &workflow.OwnerID,
		&workflow.Definition, &workflow.CreatedAt, &workflow.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return workflow, nil
}

func collectWorkflows(rows *sql.Rows) ([]models.Workflow, error) {
	var workflows []models.Workflow
	for rows.Next() {
		workflow, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}
		workflows = append(workflows, *workflow)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workflows: %w", err)
	}
	return workflows, nil
}

func expectOneRow(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return models.ErrNotFound
	}
	return nil
}

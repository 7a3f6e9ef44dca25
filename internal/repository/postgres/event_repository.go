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

const eventColumns = `id, trigger_type, dedup_key, payload, status, failure_reason,
	attempts, runs_started, received_at, claimed_at, processed_at`

// EventRepository handles trigger event log database operations
type EventRepository struct {
	db DB
}

// NewEventRepository creates a new event repository
func NewEventRepository(db DB) *EventRepository {
	return &EventRepository{db: db}
}

// CreateEventLog inserts event. When its dedup key already exists the
// stored row is loaded into event and created is false.
func (r *EventRepository) CreateEventLog(ctx context.Context, event *models.TriggerEventLog) (bool, error) {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = time.Now()
	}
	if event.Status == "" {
		event.Status = models.EventStatusPending
	}

	query := `
		INSERT INTO trigger_event_logs (
			id, trigger_type, dedup_key, payload, status, received_at
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (dedup_key) DO NOTHING
		RETURNING id`

	var id uuid.UUID
	err := r.db.QueryRowContext(
		ctx, query,
		event.ID, event.TriggerType, event.DedupKey, event.Payload, event.Status, event.ReceivedAt,
	).Scan(&id)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) || event.DedupKey == nil {
		return false, fmt.Errorf("failed to create event: %w", err)
	}

	existing, err := scanEvent(r.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM trigger_event_logs WHERE dedup_key = $1`, *event.DedupKey))
	if err != nil {
		return false, fmt.Errorf("failed to load duplicate event: %w", err)
	}
	*event = *existing
	return false, nil
}

// GetEventLogByID retrieves an event by ID
func (r *EventRepository) GetEventLogByID(ctx context.Context, id uuid.UUID) (*models.TriggerEventLog, error) {
	event, err := scanEvent(r.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM trigger_event_logs WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return event, nil
}

// ClaimEventLog atomically moves a pending event to processing
func (r *EventRepository) ClaimEventLog(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE trigger_event_logs
		SET status = 'processing', attempts = attempts + 1, claimed_at = NOW()
		WHERE id = $1 AND status = 'pending'`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("failed to claim event: %w", err)
	}
	return rowsChanged(result)
}

// UpdateEventPayload replaces an event's payload
func (r *EventRepository) UpdateEventPayload(ctx context.Context, id uuid.UUID, payload models.JSONB) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE trigger_event_logs SET payload = $2 WHERE id = $1`, id, payload)
	if err != nil {
		return fmt.Errorf("failed to update event payload: %w", err)
	}
	return expectOneRow(result)
}

// CompleteEventLog marks an event completed
func (r *EventRepository) CompleteEventLog(ctx context.Context, id uuid.UUID, runsStarted int) error {
	query := `
		UPDATE trigger_event_logs
		SET status = 'completed', runs_started = $2, failure_reason = NULL, processed_at = NOW()
		WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, id, runsStarted)
	if err != nil {
		return fmt.Errorf("failed to complete event: %w", err)
	}
	return expectOneRow(result)
}

// FailEventLog marks an event failed with reason
func (r *EventRepository) FailEventLog(ctx context.Context, id uuid.UUID, reason string) error {
	query := `
		UPDATE trigger_event_logs
		SET status = 'failed', failure_reason = $2, processed_at = NOW()
		WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, id, reason)
	if err != nil {
		return fmt.Errorf("failed to fail event: %w", err)
	}
	return expectOneRow(result)
}

// RequeueEventLog moves a failed event back to pending
func (r *EventRepository) RequeueEventLog(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE trigger_event_logs
		SET status = 'pending', processed_at = NULL, claimed_at = NULL
		WHERE id = $1 AND status = 'failed'`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("failed to requeue event: %w", err)
	}
	return rowsChanged(result)
}

// ListStalePendingEventLogs lists pending events received before the cutoff
func (r *EventRepository) ListStalePendingEventLogs(ctx context.Context, receivedBefore time.Time, limit int) ([]models.TriggerEventLog, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM trigger_event_logs
		WHERE status = 'pending' AND received_at < $1
		ORDER BY received_at
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, receivedBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending events: %w", err)
	}
	return scanEvents(rows)
}

// ReleaseStaleEventLogs moves events claimed before the cutoff back to
// pending and returns them. Rows claimed before claimed_at existed fall
// back to their receive time.
func (r *EventRepository) ReleaseStaleEventLogs(ctx context.Context, claimedBefore time.Time, limit int) ([]models.TriggerEventLog, error) {
	query := `
		UPDATE trigger_event_logs
		SET status = 'pending', claimed_at = NULL
		WHERE id IN (
			SELECT id FROM trigger_event_logs
			WHERE status = 'processing' AND COALESCE(claimed_at, received_at) < $1
			ORDER BY COALESCE(claimed_at, received_at)
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		) AND status = 'processing'
		RETURNING ` + eventColumns

	rows, err := r.db.QueryContext(ctx, query, claimedBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to release stale events: %w", err)
	}
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]models.TriggerEventLog, error) {
	defer rows.Close()

	var events []models.TriggerEventLog
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, *event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}
	return events, nil
}

func scanEvent(row rowScanner) (*models.TriggerEventLog, error) {
	event := &models.TriggerEventLog{}
	err := row.Scan(
		&event.ID, &event.TriggerType, &event.DedupKey, &event.Payload, &event.Status,
		&event.FailureReason, &event.Attempts, &event.RunsStarted, &event.ReceivedAt, &event.ClaimedAt,
		&event.ProcessedAt,
	)
	if err != nil {
		return nil, err
	}
	return event, nil
}

func rowsChanged(result sql.Result) (bool, error) {
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

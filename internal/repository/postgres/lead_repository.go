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
	"github.com/lib/pq"
)

const leadColumns = `id, name, email, phone, status, source, owner_id, tags, raw_payload, created_at, updated_at`

// updateColumnQueries keeps column names out of string formatting
var updateColumnQueries = map[string]string{
	models.LeadColumnName:   `UPDATE leads SET name = $2, updated_at = NOW() WHERE id = $1`,
	models.LeadColumnEmail:  `UPDATE leads SET email = $2, updated_at = NOW() WHERE id = $1`,
	models.LeadColumnPhone:  `UPDATE leads SET phone = $2, updated_at = NOW() WHERE id = $1`,
	models.LeadColumnStatus: `UPDATE leads SET status = $2, updated_at = NOW() WHERE id = $1`,
	models.LeadColumnSource: `UPDATE leads SET source = $2, updated_at = NOW() WHERE id = $1`,
}

// LeadRepository handles lead and custom field database operations
type LeadRepository struct {
	db DB
}

// NewLeadRepository creates a new lead repository
func NewLeadRepository(db DB) *LeadRepository {
	return &LeadRepository{db: db}
}

// CreateLead inserts a lead and its custom field values in one transaction.
// An existing lead id yields models.ErrConflict.
func (r *LeadRepository) CreateLead(ctx context.Context, lead *models.Lead, values []models.LeadFieldValue) error {
	if lead.ID == uuid.Nil {
		lead.ID = uuid.New()
	}
	if lead.Tags == nil {
		lead.Tags = []string{}
	}
	now := time.Now()
	lead.CreatedAt = now
	lead.UpdatedAt = now

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var rawPayload interface{}
	if lead.RawPayload != nil {
		rawPayload = lead.RawPayload
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO leads (`+leadColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		lead.ID, lead.Name, lead.Email, lead.Phone, lead.Status, lead.Source, lead.OwnerID,
		pq.Array(lead.Tags), rawPayload, lead.CreatedAt, lead.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return models.ErrConflict
		}
		return fmt.Errorf("failed to create lead: %w", err)
	}

	for _, v := range values {
		if v.ID == uuid.Nil {
			v.ID = uuid.New()
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO lead_field_values (id, lead_id, lead_field_id, value, updated_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (lead_id, lead_field_id) DO UPDATE SET value = EXCLUDED.value`,
			v.ID, lead.ID, v.LeadFieldID, v.Value, now,
		)
		if err != nil {
			if isForeignKeyViolation(err) {
				return fmt.Errorf("%w: %s", models.ErrUnknownField, v.LeadFieldID)
			}
			return fmt.Errorf("failed to create lead field value: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit lead: %w", err)
	}
	return nil
}

// GetLeadByID retrieves a lead by ID
func (r *LeadRepository) GetLeadByID(ctx context.Context, id uuid.UUID) (*models.Lead, error) {
	lead := &models.Lead{}
	var tags pq.StringArray
	var rawPayload []byte

	err := r.db.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = $1`, id).Scan(
		&lead.ID, &lead.Name, &lead.Email, &lead.Phone, &lead.Status, &lead.Source,
		&lead.OwnerID, &tags, &rawPayload, &lead.CreatedAt, &lead.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get lead: %w", err)
	}

	lead.Tags = []string(tags)
	if lead.Tags == nil {
		lead.Tags = []string{}
	}
	if rawPayload != nil {
		if err := lead.RawPayload.Scan(rawPayload); err != nil {
			return nil, err
		}
	}
	return lead, nil
}

// DeleteLead deletes a lead and its field values
func (r *LeadRepository) DeleteLead(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM leads WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete lead: %w", err)
	}
	return expectOneRow(result)
}

// GetLeadFieldValues returns custom field values keyed by field name
func (r *LeadRepository) GetLeadFieldValues(ctx context.Context, leadID uuid.UUID) (map[string]string, error) {
	query := `
		SELECT f.name, v.value
		FROM lead_field_values v
		JOIN lead_fields f ON f.id = v.lead_field_id
		WHERE v.lead_id = $1`

	rows, err := r.db.QueryContext(ctx, query, leadID)
	if err != nil {
		return nil, fmt.Errorf("failed to get lead field values: %w", err)
	}
	defer rows.Close()

	values := make(map[string]string)
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("failed to scan lead field value: %w", err)
		}
		values[name] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating lead field values: %w", err)
	}
	return values, nil
}

// AddTags appends the tags the lead does not have yet, compared case-insensitively
func (r *LeadRepository) AddTags(ctx context.Context, leadID uuid.UUID, tags []string) ([]string, error) {
	query := `
		UPDATE leads
		SET tags = tags || ARRAY(
		        SELECT t FROM unnest($2::text[]) WITH ORDINALITY AS u(t, n)
		        WHERE lower(t) <> ALL (SELECT lower(x) FROM unnest(leads.tags) AS x)
		        ORDER BY n
		    ),
		    updated_at = NOW()
		WHERE id = $1
		RETURNING tags`

	return r.updateTags(ctx, query, leadID, uniqueFold(tags))
}

// RemoveTags removes tags from a lead, compared case-insensitively
func (r *LeadRepository) RemoveTags(ctx context.Context, leadID uuid.UUID, tags []string) ([]string, error) {
	query := `
		UPDATE leads
		SET tags = ARRAY(
		        SELECT x FROM unnest(tags) WITH ORDINALITY AS u(x, n)
		        WHERE lower(x) <> ALL ($2::text[])
		        ORDER BY n
		    ),
		    updated_at = NOW()
		WHERE id = $1
		RETURNING tags`

	lowered := make([]string, len(tags))
	for i, tag := range tags {
		lowered[i] = strings.ToLower(tag)
	}
	return r.updateTags(ctx, query, leadID, lowered)
}

func (r *LeadRepository) updateTags(ctx context.Context, query string, leadID uuid.UUID, tags []string) ([]string, error) {
	var result pq.StringArray
	err := r.db.QueryRowContext(ctx, query, leadID, pq.Array(tags)).Scan(&result)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update lead tags: %w", err)
	}
	return []string(result), nil
}

// UpdateLeadColumn sets a core lead column
func (r *LeadRepository) UpdateLeadColumn(ctx context.Context, leadID uuid.UUID, column, value string) error {
	query, ok := updateColumnQueries[column]
	if !ok {
		return models.ErrUnknownField
	}
	result, err := r.db.ExecContext(ctx, query, leadID, value)
	if err != nil {
		return fmt.Errorf("failed to update lead %s: %w", column, err)
	}
	return expectOneRow(result)
}

// SetCustomField upserts a custom field value by field name
func (r *LeadRepository) SetCustomField(ctx context.Context, leadID uuid.UUID, fieldName, value string) error {
	query := `
		INSERT INTO lead_field_values (id, lead_id, lead_field_id, value, updated_at)
		SELECT $1, $2, f.id, $4, NOW() FROM lead_fields f WHERE f.name = $3
		ON CONFLICT (lead_id, lead_field_id) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`

	result, err := r.db.ExecContext(ctx, query, uuid.New(), leadID, fieldName, value)
	if err != nil {
		if isForeignKeyViolation(err) {
			return models.ErrNotFound
		}
		return fmt.Errorf("failed to set lead field %s: %w", fieldName, err)
	}
	changed, err := rowsChanged(result)
	if err != nil {
		return err
	}
	if !changed {
		return models.ErrUnknownField
	}
	return nil
}

// SetOwner assigns the lead to a user
func (r *LeadRepository) SetOwner(ctx context.Context, leadID, ownerID uuid.UUID) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE leads SET owner_id = $2, updated_at = NOW() WHERE id = $1`, leadID, ownerID)
	if err != nil {
		return fmt.Errorf("failed to assign lead: %w", err)
	}
	return expectOneRow(result)
}

// CreateLeadField defines a custom lead field
func (r *LeadRepository) CreateLeadField(ctx context.Context, field *models.LeadField) error {
	if field.ID == uuid.Nil {
		field.ID = uuid.New()
	}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO lead_fields (id, name, label, field_type)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`,
		field.ID, field.Name, field.Label, field.FieldType,
	).Scan(&field.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return models.ErrConflict
		}
		return fmt.Errorf("failed to create lead field: %w", err)
	}
	return nil
}

// ListLeadFields lists custom lead fields by name
func (r *LeadRepository) ListLeadFields(ctx context.Context) ([]models.LeadField, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, label, field_type, created_at FROM lead_fields ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list lead fields: %w", err)
	}
	defer rows.Close()

	var fields []models.LeadField
	for rows.Next() {
		var f models.LeadField
		if err := rows.Scan(&f.ID, &f.Name, &f.Label, &f.FieldType, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan lead field: %w", err)
		}
		fields = append(fields, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating lead fields: %w", err)
	}
	return fields, nil
}

func uniqueFold(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		key := strings.ToLower(tag)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, tag)
	}
	return out
}

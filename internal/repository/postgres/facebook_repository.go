package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/davidmoltin/leadflow/internal/models"
	"github.com/google/uuid"
)

// FacebookRepository handles page credentials, lead forms and field mappings
type FacebookRepository struct {
	db DB
}

// NewFacebookRepository creates a new facebook repository
func NewFacebookRepository(db DB) *FacebookRepository {
	return &FacebookRepository{db: db}
}

// UpsertPage stores page credentials
func (r *FacebookRepository) UpsertPage(ctx context.Context, page *models.FacebookPage) error {
	query := `
		INSERT INTO facebook_pages (page_id, name, access_token)
		VALUES ($1, $2, $3)
		ON CONFLICT (page_id) DO UPDATE SET name = EXCLUDED.name, access_token = EXCLUDED.access_token
		RETURNING created_at`

	if err := r.db.QueryRowContext(ctx, query, page.PageID, page.Name, page.AccessToken).Scan(&page.CreatedAt); err != nil {
		return fmt.Errorf("failed to save page: %w", err)
	}
	return nil
}

// GetPage retrieves page credentials
func (r *FacebookRepository) GetPage(ctx context.Context, pageID string) (*models.FacebookPage, error) {
	page := &models.FacebookPage{}
	err := r.db.QueryRowContext(ctx,
		`SELECT page_id, name, access_token, created_at FROM facebook_pages WHERE page_id = $1`, pageID,
	).Scan(&page.PageID, &page.Name, &page.AccessToken, &page.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get page: %w", err)
	}
	return page, nil
}

// CreateLeadForm registers a lead form of a page
func (r *FacebookRepository) CreateLeadForm(ctx context.Context, form *models.FacebookLeadForm) error {
	if form.ID == uuid.Nil {
		form.ID = uuid.New()
	}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO facebook_lead_forms (id, page_id, form_id, name)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`,
		form.ID, form.PageID, form.FormID, form.Name,
	).Scan(&form.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return models.ErrConflict
		}
		if isForeignKeyViolation(err) {
			return fmt.Errorf("page %s: %w", form.PageID, models.ErrNotFound)
		}
		return fmt.Errorf("failed to create lead form: %w", err)
	}
	return nil
}

// GetLeadForm finds a registered form by page and form id
func (r *FacebookRepository) GetLeadForm(ctx context.Context, pageID, formID string) (*models.FacebookLeadForm, error) {
	form := &models.FacebookLeadForm{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, page_id, form_id, name, created_at
		FROM facebook_lead_forms
		WHERE page_id = $1 AND form_id = $2`, pageID, formID,
	).Scan(&form.ID, &form.PageID, &form.FormID, &form.Name, &form.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get lead form: %w", err)
	}
	return form, nil
}

// CreateFieldMapping maps a form question to a lead field
func (r *FacebookRepository) CreateFieldMapping(ctx context.Context, mapping *models.FacebookFormFieldMapping) error {
	if mapping.ID == uuid.Nil {
		mapping.ID = uuid.New()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO facebook_form_field_mappings (id, form_id, external_field_name, lead_field_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (form_id, external_field_name) DO UPDATE SET lead_field_id = EXCLUDED.lead_field_id`,
		mapping.ID, mapping.FormID, mapping.ExternalFieldName, mapping.LeadFieldID,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return models.ErrNotFound
		}
		return fmt.Errorf("failed to create field mapping: %w", err)
	}
	return nil
}

// ListFieldMappings lists the mappings of a form
func (r *FacebookRepository) ListFieldMappings(ctx context.Context, formID uuid.UUID) ([]models.FacebookFormFieldMapping, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, form_id, external_field_name, lead_field_id
		FROM facebook_form_field_mappings
		WHERE form_id = $1
		ORDER BY external_field_name`, formID)
	if err != nil {
		return nil, fmt.Errorf("failed to list field mappings: %w", err)
	}
	defer rows.Close()

	var mappings []models.FacebookFormFieldMapping
	for rows.Next() {
		var m models.FacebookFormFieldMapping
		if err := rows.Scan(&m.ID, &m.FormID, &m.ExternalFieldName, &m.LeadFieldID); err != nil {
			return nil, fmt.Errorf("failed to scan field mapping: %w", err)
		}
		mappings = append(mappings, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating field mappings: %w", err)
	}
	return mappings, nil
}

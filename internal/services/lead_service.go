package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/davidmoltin/leadflow/internal/models"
	"github.com/davidmoltin/leadflow/pkg/logger"
	"github.com/davidmoltin/leadflow/pkg/metrics"
)

// CreateLeadRequest represents the request to create a lead manually
type CreateLeadRequest struct {
	Name   string            `json:"name" validate:"required,max=255"`
	Email  string            `json:"email" validate:"omitempty,email"`
	Phone  string            `json:"phone" validate:"omitempty,phone"`
	Status string            `json:"status" validate:"omitempty,max=64"`
	Source string            `json:"source" validate:"omitempty,max=64"`
	Tags   []string          `json:"tags"`
	Fields map[string]string `json:"fields"`
}

// UpdateLeadStatusRequest represents the request to move a lead to a status
type UpdateLeadStatusRequest struct {
	Status string `json:"status" validate:"required,max=64"`
}

// LeadService creates leads and emits the lead events workflows react to
type LeadService struct {
	leads   LeadStore
	events  EventIngester
	logger  *logger.Logger
	metrics *metrics.Metrics
}

// NewLeadService creates a new lead service
func NewLeadService(leads LeadStore, events EventIngester, log *logger.Logger, m *metrics.Metrics) *LeadService {
	return &LeadService{
		leads:   leads,
		events:  events,
		logger:  log,
		metrics: m,
	}
}

// CreateLead stores a lead and emits create_new_lead
func (s *LeadService) CreateLead(ctx context.Context, req *CreateLeadRequest) (*models.Lead, error) {
	fields, err := s.leads.ListLeadFields(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load lead fields: %w", err)
	}
	byName := make(map[string]uuid.UUID, len(fields))
	for _, f := range fields {
		byName[strings.ToLower(f.Name)] = f.ID
	}

	lead := &models.Lead{
		ID:     uuid.New(),
		Name:   req.Name,
		Email:  req.Email,
		Phone:  req.Phone,
		Status: req.Status,
		Source: req.Source,
		Tags:   req.Tags,
	}
	if lead.Status == "" {
		lead.Status = "new"
	}
	if lead.Source == "" {
		lead.Source = "manual"
	}

	values := make([]models.LeadFieldValue, 0, len(req.Fields))
	for name, value := range req.Fields {
		fieldID, ok := byName[strings.ToLower(name)]
		if !ok {
			return nil, fmt.Errorf("%w: %s", models.ErrUnknownField, name)
		}
		values = append(values, models.LeadFieldValue{
			ID:          uuid.New(),
			LeadID:      lead.ID,
			LeadFieldID: fieldID,
			Value:       value,
		})
	}

	if err := s.leads.CreateLead(ctx, lead, values); err != nil {
		return nil, fmt.Errorf("failed to create lead: %w", err)
	}
	s.metrics.RecordLeadCaptured(lead.Source, "created")
	s.logger.Infof("Lead created: %s (source: %s)", lead.ID, lead.Source)

	if err := emitLeadCreated(ctx, s.events, lead); err != nil {
		return nil, err
	}
	return lead, nil
}

// UpdateStatus moves a lead to status and emits update_lead_status.
// Setting the current status again changes nothing and emits no event.
func (s *LeadService) UpdateStatus(ctx context.Context, leadID uuid.UUID, status string) (*models.Lead, error) {
	lead, err := s.leads.GetLeadByID(ctx, leadID)
	if err != nil {
		return nil, err
	}
	if lead.Status == status {
		return lead, nil
	}

	from := lead.Status
	if err := s.leads.UpdateLeadColumn(ctx, leadID, models.LeadColumnStatus, status); err != nil {
		return nil, fmt.Errorf("failed to update lead status: %w", err)
	}
	lead.Status = status

	_, _, err = s.events.IngestEvent(ctx, models.CreateEventRequest{
		TriggerType: models.TriggerUpdateLeadStatus,
		Payload: map[string]interface{}{
			models.PayloadLeadID:     leadID.String(),
			models.PayloadFromStatus: from,
			models.PayloadToStatus:   status,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to emit update_lead_status: %w", err)
	}

	s.logger.Infof("Lead %s status changed from %s to %s", leadID, from, status)
	return lead, nil
}

// GetLead retrieves a lead by ID
func (s *LeadService) GetLead(ctx context.Context, leadID uuid.UUID) (*models.Lead, error) {
	return s.leads.GetLeadByID(ctx, leadID)
}

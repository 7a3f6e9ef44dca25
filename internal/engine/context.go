package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/davidmoltin/leadflow/internal/models"
	"github.com/davidmoltin/leadflow/pkg/logger"
	"github.com/google/uuid"
)

// Reserved execution context keys
const (
	ContextKeyTriggerType = "trigger_type"
	ContextKeyEventID     = "event_id"
	ContextKeyEvent       = "event"
	ContextKeyLead        = "lead"
	ContextKeyFields      = "fields"
)

// ContextBuilder handles building and refreshing execution context
type ContextBuilder struct {
	leads  LeadRepository
	logger *logger.Logger
}

// NewContextBuilder creates a new context builder
func NewContextBuilder(leads LeadRepository, log *logger.Logger) *ContextBuilder {
	return &ContextBuilder{
		leads:  leads,
		logger: log,
	}
}

// BuildContext builds the execution context for an event. Payload keys are
// copied to the top level and the lead snapshot, when the event references
// one, overrides them with its core columns.
func (cb *ContextBuilder) BuildContext(
	ctx context.Context,
	event *models.TriggerEventLog,
) (map[string]interface{}, error) {
	execContext := make(map[string]interface{})

	payload := make(map[string]interface{}, len(event.Payload))
	for key, value := range event.Payload {
		payload[key] = value
		execContext[key] = value
	}
	execContext[ContextKeyEvent] = payload
	execContext[ContextKeyTriggerType] = string(event.TriggerType)
	execContext[ContextKeyEventID] = event.ID.String()

	leadID, hasLead, err := leadIDFrom(execContext)
	if err != nil {
		return nil, err
	}
	if !hasLead {
		if requiresLead(event.TriggerType) {
			return nil, fmt.Errorf("%w: %s event has no lead_id", ErrMissingLead, event.TriggerType)
		}
		return execContext, nil
	}

	if err := cb.loadLead(ctx, execContext, leadID); err != nil {
		return nil, err
	}
	return execContext, nil
}

// Refresh returns a copy of execContext with the lead snapshot reloaded.
// A lead that can no longer be loaded keeps its previous snapshot.
func (cb *ContextBuilder) Refresh(ctx context.Context, execContext map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(execContext))
	for key, value := range execContext {
		out[key] = value
	}

	leadID, hasLead, err := leadIDFrom(out)
	if err != nil || !hasLead {
		return out
	}
	if err := cb.loadLead(ctx, out, leadID); err != nil {
		cb.logger.Warnf("Failed to refresh lead %s, using snapshot: %v", leadID, err)
	}
	return out
}

// loadLead merges the lead and its custom field values into execContext
func (cb *ContextBuilder) loadLead(ctx context.Context, execContext map[string]interface{}, leadID uuid.UUID) error {
	lead, err := cb.leads.GetLeadByID(ctx, leadID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return fmt.Errorf("%w: lead %s not found", ErrMissingLead, leadID)
		}
		return fmt.Errorf("failed to load lead %s: %w", leadID, err)
	}

	values, err := cb.leads.GetLeadFieldValues(ctx, leadID)
	if err != nil {
		return fmt.Errorf("failed to load custom fields for lead %s: %w", leadID, err)
	}

	snapshot := LeadSnapshot(lead)
	execContext[ContextKeyLead] = snapshot
	for key, value := range snapshot {
		execContext[key] = value
	}

	fields := make(map[string]interface{}, len(values))
	for name, value := range values {
		fields[name] = value
		if _, taken := execContext[name]; !taken {
			execContext[name] = value
		}
	}
	execContext[ContextKeyFields] = fields

	return nil
}

// LeadSnapshot flattens a lead into context values
func LeadSnapshot(lead *models.Lead) map[string]interface{} {
	tags := make([]interface{}, len(lead.Tags))
	for i, tag := range lead.Tags {
		tags[i] = tag
	}

	snapshot := map[string]interface{}{
		models.PayloadLeadID:    lead.ID.String(),
		models.LeadColumnName:   lead.Name,
		models.LeadColumnEmail:  lead.Email,
		models.LeadColumnPhone:  lead.Phone,
		models.LeadColumnStatus: lead.Status,
		models.LeadColumnSource: lead.Source,
		"tags":                  tags,
	}
	if lead.OwnerID != nil {
		snapshot["owner_id"] = lead.OwnerID.String()
	} else {
		snapshot["owner_id"] = nil
	}
	return snapshot
}

// leadIDFrom extracts the lead id from the context
func leadIDFrom(execContext map[string]interface{}) (uuid.UUID, bool, error) {
	raw, ok := execContext[models.PayloadLeadID]
	if !ok || raw == nil {
		return uuid.Nil, false, nil
	}
	s, ok := raw.(string)
	if !ok || s == "" {
		return uuid.Nil, false, nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("%w: invalid lead_id %q", ErrMissingLead, s)
	}
	return id, true, nil
}

func requiresLead(t models.TriggerType) bool {
	switch t {
	case models.TriggerCreateNewLead, models.TriggerUpdateLeadStatus, models.TriggerFacebookLeadForm:
		return true
	}
	return false
}

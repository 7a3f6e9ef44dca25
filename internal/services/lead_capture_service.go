package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/davidmoltin/leadflow/internal/integrations/facebook"
	"github.com/davidmoltin/leadflow/internal/models"
	"github.com/davidmoltin/leadflow/pkg/logger"
	"github.com/davidmoltin/leadflow/pkg/metrics"
)

// SourceFacebook is the lead source of Lead Ads submissions
const SourceFacebook = "facebook"

// facebookLeadNamespace derives lead ids from leadgen ids, so a lead is
// created once no matter how often its notification is processed.
var facebookLeadNamespace = uuid.MustParse("9a6f3c1e-2d4b-4f8a-b7c5-0e1d2f3a4b5c")

// EventIngester records trigger events
type EventIngester interface {
	IngestEvent(ctx context.Context, req models.CreateEventRequest) (*models.TriggerEventLog, bool, error)
}

// GraphClient fetches Lead Ads submissions
type GraphClient interface {
	GetLead(ctx context.Context, leadgenID, accessToken string) (*facebook.Lead, error)
}

// FacebookRepository defines the interface for page and form configuration
type FacebookRepository interface {
	GetPage(ctx context.Context, pageID string) (*models.FacebookPage, error)
	GetLeadForm(ctx context.Context, pageID, formID string) (*models.FacebookLeadForm, error)
	ListFieldMappings(ctx context.Context, formID uuid.UUID) ([]models.FacebookFormFieldMapping, error)
}

// LeadStore defines the interface for lead persistence
type LeadStore interface {
	CreateLead(ctx context.Context, lead *models.Lead, values []models.LeadFieldValue) error
	GetLeadByID(ctx context.Context, id uuid.UUID) (*models.Lead, error)
	ListLeadFields(ctx context.Context) ([]models.LeadField, error)
	UpdateLeadColumn(ctx context.Context, leadID uuid.UUID, column, value string) error
}

// LeadCaptureService turns Lead Ads notifications into leads
type LeadCaptureService struct {
	events   EventIngester
	graph    GraphClient
	facebook FacebookRepository
	leads    LeadStore
	logger   *logger.Logger
	metrics  *metrics.Metrics
}

// NewLeadCaptureService creates a new lead capture service
func NewLeadCaptureService(
	events EventIngester,
	graph GraphClient,
	facebookRepo FacebookRepository,
	leads LeadStore,
	log *logger.Logger,
	m *metrics.Metrics,
) *LeadCaptureService {
	return &LeadCaptureService{
		events:   events,
		graph:    graph,
		facebook: facebookRepo,
		leads:    leads,
		logger:   log,
		metrics:  m,
	}
}

// HandleWebhook records one facebook_lead_form event per leadgen change.
// Repeated deliveries of a leadgen id are deduplicated. It returns the
// number of new events.
func (s *LeadCaptureService) HandleWebhook(ctx context.Context, payload *facebook.WebhookPayload) (int, error) {
	created := 0
	for _, leadgen := range payload.Leadgens() {
		_, isNew, err := s.events.IngestEvent(ctx, models.CreateEventRequest{
			TriggerType: models.TriggerFacebookLeadForm,
			DedupKey:    leadgen.DedupKey(),
			Payload:     leadgen.Payload(),
		})
		if err != nil {
			return created, fmt.Errorf("failed to record leadgen %s: %w", leadgen.LeadgenID, err)
		}
		if isNew {
			created++
		}
	}
	return created, nil
}

// PreprocessEvent creates the lead of a facebook_lead_form event and adds
// its id to the payload. Events that already carry a lead id are left as is.
func (s *LeadCaptureService) PreprocessEvent(ctx context.Context, event *models.TriggerEventLog) error {
	if id, ok := event.Payload[models.PayloadLeadID].(string); ok && id != "" {
		return nil
	}

	leadgenID := payloadValue(event.Payload, models.PayloadLeadgenID)
	pageID := payloadValue(event.Payload, models.PayloadPageID)
	formID := payloadValue(event.Payload, models.PayloadFormID)
	if leadgenID == "" {
		return errors.New("event has no leadgen_id")
	}

	lead, err := s.CaptureLead(ctx, leadgenID, pageID, formID)
	if err != nil {
		s.metrics.RecordLeadCaptured(SourceFacebook, "failed")
		return err
	}

	event.Payload[models.PayloadLeadID] = lead.ID.String()
	event.Payload[models.PayloadSource] = lead.Source
	return nil
}

// CaptureLead fetches a submission from the Graph API, stores it as a lead
// and emits create_new_lead for it.
func (s *LeadCaptureService) CaptureLead(ctx context.Context, leadgenID, pageID, formID string) (*models.Lead, error) {
	page, err := s.facebook.GetPage(ctx, pageID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("no credentials for page %s", pageID)
		}
		return nil, fmt.Errorf("failed to load page: %w", err)
	}

	submission, err := s.graph.GetLead(ctx, leadgenID, page.AccessToken)
	if err != nil {
		return nil, err
	}
	if formID == "" {
		formID = submission.FormID
	}

	var mappings []models.FacebookFormFieldMapping
	form, err := s.facebook.GetLeadForm(ctx, pageID, formID)
	switch {
	case err == nil:
		mappings, err = s.facebook.ListFieldMappings(ctx, form.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load field mappings: %w", err)
		}
	case errors.Is(err, models.ErrNotFound):
		s.logger.Warnf("Form %s of page %s is not registered, using field name matching only", formID, pageID)
	default:
		return nil, fmt.Errorf("failed to load form: %w", err)
	}

	fields, err := s.leads.ListLeadFields(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load lead fields: %w", err)
	}

	lead := &models.Lead{
		ID:     uuid.NewSHA1(facebookLeadNamespace, []byte(leadgenID)),
		Status: "new",
		Source: SourceFacebook,
		RawPayload: models.JSONB{
			models.PayloadLeadgenID: leadgenID,
			models.PayloadPageID:    pageID,
			models.PayloadFormID:    formID,
		},
	}
	values := mapFieldData(lead, submission.FieldData, mappings, fields, s.logger)

	err = s.leads.CreateLead(ctx, lead, values)
	switch {
	case err == nil:
		s.metrics.RecordLeadCaptured(SourceFacebook, "created")
		s.logger.Info("Lead captured",
			logger.String("lead_id", lead.ID.String()),
			logger.String("leadgen_id", leadgenID),
			logger.Int("custom_fields", len(values)),
		)
	case errors.Is(err, models.ErrConflict):
		existing, getErr := s.leads.GetLeadByID(ctx, lead.ID)
		if getErr != nil {
			return nil, fmt.Errorf("failed to load existing lead: %w", getErr)
		}
		lead = existing
		s.metrics.RecordLeadCaptured(SourceFacebook, "duplicate")
		s.logger.Infof("Lead for leadgen %s already exists: %s", leadgenID, lead.ID)
	default:
		return nil, fmt.Errorf("failed to create lead: %w", err)
	}

	if err := emitLeadCreated(ctx, s.events, lead); err != nil {
		return nil, err
	}
	return lead, nil
}

// mapFieldData assigns each answered question to an explicit mapping, a
// core lead column, or a custom field matched by name or label. Anything
// else is dropped.
func mapFieldData(
	lead *models.Lead,
	data []facebook.FieldData,
	mappings []models.FacebookFormFieldMapping,
	fields []models.LeadField,
	log *logger.Logger,
) []models.LeadFieldValue {
	explicit := make(map[string]uuid.UUID, len(mappings))
	for _, m := range mappings {
		explicit[strings.ToLower(m.ExternalFieldName)] = m.LeadFieldID
	}

	byName := make(map[string]uuid.UUID, len(fields)*2)
	for _, f := range fields {
		if f.Label != "" {
			byName[strings.ToLower(f.Label)] = f.ID
		}
	}
	for _, f := range fields {
		byName[strings.ToLower(f.Name)] = f.ID
	}

	var values []models.LeadFieldValue
	seen := make(map[uuid.UUID]bool)
	add := func(fieldID uuid.UUID, value string) {
		if seen[fieldID] {
			return
		}
		seen[fieldID] = true
		values = append(values, models.LeadFieldValue{
			ID:          uuid.New(),
			LeadID:      lead.ID,
			LeadFieldID: fieldID,
			Value:       value,
		})
	}

	for _, fd := range data {
		name := strings.ToLower(strings.TrimSpace(fd.Name))
		value := fd.Value()

		if fieldID, ok := explicit[name]; ok {
			add(fieldID, value)
			continue
		}

		switch name {
		case "full_name", "name":
			lead.Name = value
			continue
		case "first_name":
			lead.Name = strings.TrimSpace(value + " " + lead.Name)
			continue
		case "last_name":
			lead.Name = strings.TrimSpace(lead.Name + " " + value)
			continue
		case "email":
			lead.Email = value
			continue
		case "phone_number", "phone":
			lead.Phone = value
			continue
		}

		if fieldID, ok := byName[name]; ok {
			add(fieldID, value)
			continue
		}

		log.Debugf("Dropping unmapped form field %q of lead %s", fd.Name, lead.ID)
	}
	return values
}

func emitLeadCreated(ctx context.Context, events EventIngester, lead *models.Lead) error {
	_, _, err := events.IngestEvent(ctx, models.CreateEventRequest{
		TriggerType: models.TriggerCreateNewLead,
		DedupKey:    "lead:" + lead.ID.String() + ":created",
		Payload: map[string]interface{}{
			models.PayloadLeadID: lead.ID.String(),
			models.PayloadSource: lead.Source,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to emit create_new_lead: %w", err)
	}
	return nil
}

func payloadValue(payload models.JSONB, key string) string {
	if payload == nil {
		return ""
	}
	switch v := payload[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Package seeds loads the default lead fields, Facebook form configuration
// and sample workflows into a fresh installation.
package seeds

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/davidmoltin/leadflow/internal/models"
	"github.com/davidmoltin/leadflow/internal/validators"
	"github.com/davidmoltin/leadflow/pkg/logger"
)

// LeadFieldStore defines custom lead fields
type LeadFieldStore interface {
	CreateLeadField(ctx context.Context, field *models.LeadField) error
	ListLeadFields(ctx context.Context) ([]models.LeadField, error)
}

// FacebookStore holds page credentials, forms and field mappings
type FacebookStore interface {
	UpsertPage(ctx context.Context, page *models.FacebookPage) error
	CreateLeadForm(ctx context.Context, form *models.FacebookLeadForm) error
	GetLeadForm(ctx context.Context, pageID, formID string) (*models.FacebookLeadForm, error)
	CreateFieldMapping(ctx context.Context, mapping *models.FacebookFormFieldMapping) error
	ListFieldMappings(ctx context.Context, formID uuid.UUID) ([]models.FacebookFormFieldMapping, error)
}

// WorkflowStore persists workflows
type WorkflowStore interface {
	CreateWorkflow(ctx context.Context, workflow *models.Workflow) error
	ListWorkflows(ctx context.Context, active *bool, limit, offset int) ([]models.Workflow, int64, error)
}

// ScheduleSyncer registers schedule triggers
type ScheduleSyncer interface {
	SyncWorkflowSchedule(ctx context.Context, workflow *models.Workflow) error
}

// Options select what SeedAll loads
type Options struct {
	// FacebookPageID enables the Facebook page, form and mappings
	FacebookPageID    string
	FacebookFormID    string
	FacebookPageToken string
	// Workflows loads the sample workflows
	Workflows bool
	// Activate turns the sample workflows on
	Activate bool
}

// Result counts what SeedAll created
type Result struct {
	Fields    int
	Mappings  int
	Forms     int
	Workflows int
}

// Seeder loads default data. Every step is idempotent.
type Seeder struct {
	fields    LeadFieldStore
	facebook  FacebookStore
	workflows WorkflowStore
	schedules ScheduleSyncer
	logger    *logger.Logger
}

// NewSeeder creates a seeder
func NewSeeder(fields LeadFieldStore, facebook FacebookStore, workflows WorkflowStore, schedules ScheduleSyncer, log *logger.Logger) *Seeder {
	return &Seeder{
		fields:    fields,
		facebook:  facebook,
		workflows: workflows,
		schedules: schedules,
		logger:    log,
	}
}

// DefaultLeadFields returns the custom fields most lead forms ask for
func DefaultLeadFields() []models.LeadField {
	return []models.LeadField{
		{Name: "company", Label: "Company", FieldType: "text"},
		{Name: "job_title", Label: "Job title", FieldType: "text"},
		{Name: "city", Label: "City", FieldType: "text"},
		{Name: "budget", Label: "Budget", FieldType: "number"},
		{Name: "interest", Label: "Interested in", FieldType: "text"},
	}
}

// DefaultFormMappings maps Facebook question keys to lead fields. Core
// columns (full_name, email, phone_number) are matched without a mapping.
func DefaultFormMappings() map[string]string {
	return map[string]string{
		"company_name":  "company",
		"job_title":     "job_title",
		"city":          "city",
		"budget":        "budget",
		"interested_in": "interest",
	}
}

// SeedAll loads fields, the Facebook form and sample workflows per opts
func (s *Seeder) SeedAll(ctx context.Context, opts Options) (*Result, error) {
	result := &Result{}

	fields, created, err := s.SeedLeadFields(ctx)
	if err != nil {
		return nil, err
	}
	result.Fields = created

	if opts.FacebookPageID != "" {
		forms, mappings, err := s.SeedFacebook(ctx, opts, fields)
		if err != nil {
			return nil, err
		}
		result.Forms = forms
		result.Mappings = mappings
	}

	if opts.Workflows {
		n, err := s.SeedWorkflows(ctx, SampleWorkflows(opts), opts.Activate)
		if err != nil {
			return nil, err
		}
		result.Workflows = n
	}

	return result, nil
}

// SeedLeadFields creates the default fields that do not exist and returns
// all fields keyed by name
func (s *Seeder) SeedLeadFields(ctx context.Context) (map[string]models.LeadField, int, error) {
	existing, err := s.fieldsByName(ctx)
	if err != nil {
		return nil, 0, err
	}

	created := 0
	for _, field := range DefaultLeadFields() {
		if _, ok := existing[field.Name]; ok {
			continue
		}
		f := field
		err := s.fields.CreateLeadField(ctx, &f)
		if errors.Is(err, models.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, created, fmt.Errorf("failed to create lead field %s: %w", field.Name, err)
		}
		s.logger.Infof("Created lead field %s", f.Name)
		created++
	}

	all, err := s.fieldsByName(ctx)
	return all, created, err
}

// SeedFacebook stores the page token, registers the form and maps its
// questions to lead fields
func (s *Seeder) SeedFacebook(ctx context.Context, opts Options, fields map[string]models.LeadField) (forms, mappings int, err error) {
	if opts.FacebookFormID == "" {
		return 0, 0, errors.New("a facebook form id is required with a page id")
	}

	if opts.FacebookPageToken != "" {
		page := &models.FacebookPage{PageID: opts.FacebookPageID, Name: "Facebook page " + opts.FacebookPageID, AccessToken: opts.FacebookPageToken}
		if err := s.facebook.UpsertPage(ctx, page); err != nil {
			return 0, 0, fmt.Errorf("failed to store page %s: %w", opts.FacebookPageID, err)
		}
	} else {
		s.logger.Warnf("No page token given for page %s; leads cannot be fetched until one is stored", opts.FacebookPageID)
	}

	form, err := s.facebook.GetLeadForm(ctx, opts.FacebookPageID, opts.FacebookFormID)
	switch {
	case errors.Is(err, models.ErrNotFound):
		form = &models.FacebookLeadForm{PageID: opts.FacebookPageID, FormID: opts.FacebookFormID, Name: "Lead form " + opts.FacebookFormID}
		if err := s.facebook.CreateLeadForm(ctx, form); err != nil {
			return 0, 0, fmt.Errorf("failed to register form %s: %w", opts.FacebookFormID, err)
		}
		s.logger.Infof("Registered form %s of page %s", form.FormID, form.PageID)
		forms = 1
	case err != nil:
		return 0, 0, fmt.Errorf("failed to load form %s: %w", opts.FacebookFormID, err)
	}

	current, err := s.facebook.ListFieldMappings(ctx, form.ID)
	if err != nil {
		return forms, 0, fmt.Errorf("failed to load field mappings: %w", err)
	}
	mapped := make(map[string]bool, len(current))
	for _, m := range current {
		mapped[m.ExternalFieldName] = true
	}

	for external, fieldName := range DefaultFormMappings() {
		if mapped[external] {
			continue
		}
		field, ok := fields[fieldName]
		if !ok {
			s.logger.Warnf("Skipping mapping %s: lead field %s does not exist", external, fieldName)
			continue
		}
		mapping := &models.FacebookFormFieldMapping{FormID: form.ID, ExternalFieldName: external, LeadFieldID: field.ID}
		if err := s.facebook.CreateFieldMapping(ctx, mapping); err != nil {
			return forms, mappings, fmt.Errorf("failed to map %s: %w", external, err)
		}
		mappings++
	}

	return forms, mappings, nil
}

// SeedWorkflows creates the workflows whose names are not taken yet
func (s *Seeder) SeedWorkflows(ctx context.Context, workflows []*models.Workflow, activate bool) (int, error) {
	existing, _, err := s.workflows.ListWorkflows(ctx, nil, 1000, 0)
	if err != nil {
		return 0, fmt.Errorf("failed to list workflows: %w", err)
	}
	taken := make(map[string]bool, len(existing))
	for _, w := range existing {
		taken[strings.ToLower(w.Name)] = true
	}

	validator := validators.NewWorkflowValidator()
	created := 0
	for _, workflow := range workflows {
		if taken[strings.ToLower(workflow.Name)] {
			s.logger.Debugf("Workflow %q exists, skipping", workflow.Name)
			continue
		}
		workflow.Active = activate
		if err := validator.Validate(workflow); err != nil {
			return created, fmt.Errorf("sample workflow %q is invalid: %w", workflow.Name, err)
		}
		if err := s.workflows.CreateWorkflow(ctx, workflow); err != nil {
			return created, fmt.Errorf("failed to create workflow %q: %w", workflow.Name, err)
		}
		if s.schedules != nil {
			if err := s.schedules.SyncWorkflowSchedule(ctx, workflow); err != nil {
				return created, fmt.Errorf("failed to schedule workflow %q: %w", workflow.Name, err)
			}
		}
		s.logger.Infof("Created workflow %q (%s)", workflow.Name, workflow.ID)
		created++
	}
	return created, nil
}

// Verify checks every default field exists
func (s *Seeder) Verify(ctx context.Context) error {
	fields, err := s.fieldsByName(ctx)
	if err != nil {
		return err
	}
	var missing []string
	for _, field := range DefaultLeadFields() {
		if _, ok := fields[field.Name]; !ok {
			missing = append(missing, field.Name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing lead fields: %s", strings.Join(missing, ", "))
	}
	return nil
}

func (s *Seeder) fieldsByName(ctx context.Context) (map[string]models.LeadField, error) {
	fields, err := s.fields.ListLeadFields(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list lead fields: %w", err)
	}
	byName := make(map[string]models.LeadField, len(fields))
	for _, f := range fields {
		byName[f.Name] = f
	}
	return byName, nil
}

// SampleWorkflows returns the starter workflows. The Facebook follow-up is
// included only when a page and form are configured.
func SampleWorkflows(opts Options) []*models.Workflow {
	workflows := []*models.Workflow{
		sample("Welcome new leads", "Welcome email for every new lead",
			models.Trigger{Type: models.TriggerCreateNewLead, Config: models.CreateNewLeadTrigger{}},
			step(models.ActionSendEmail, models.SendEmailAction{
				Subject: "Welcome, {{name}}",
				Body:    "Hi {{name}}, thanks for getting in touch. We will reply shortly.",
			}),
			step(models.ActionAddTag, models.TagAction{Tags: []string{"welcomed"}}),
		),
		sample("Won lead cleanup", "Drop prospect tags once a lead is won",
			models.Trigger{Type: models.TriggerUpdateLeadStatus, Config: models.UpdateLeadStatusTrigger{StatusTo: "won"}},
			step(models.ActionRemoveTag, models.TagAction{Tags: []string{"prospect", "cold"}}),
			step(models.ActionAddTag, models.TagAction{Tags: []string{"customer"}}),
		),
	}

	if opts.FacebookPageID != "" && opts.FacebookFormID != "" {
		noReply := models.NestedAction{
			Type: models.ActionCondition,
			Config: rawConfig(models.ConditionAction{
				Conditions: []models.Condition{
					{Field: models.LeadColumnStatus, Operator: models.OpEquals, Value: "new"},
					{Field: models.LeadColumnPhone, Operator: models.OpIsNotEmpty},
				},
			}),
			YesActions: []models.NestedAction{
				step(models.ActionSendWhatsApp, models.SendWhatsAppAction{
					Message: "Hi {{name}}, do you have a minute to talk about your request?",
				}),
			},
		}
		workflows = append(workflows, sample("Facebook lead follow-up", "Tag, thank and nudge Facebook leads",
			models.Trigger{Type: models.TriggerFacebookLeadForm, Config: models.FacebookLeadFormTrigger{
				PageID: opts.FacebookPageID,
				FormID: opts.FacebookFormID,
			}},
			step(models.ActionAddTag, models.TagAction{Tags: []string{"facebook"}}),
			step(models.ActionSendEmail, models.SendEmailAction{
				Subject: "Thanks for your interest, {{name}}",
				Body:    "We received your request and will be in touch.",
			}),
			step(models.ActionDelay, models.DelayAction{Duration: 1, Unit: models.DelayDays}),
			noReply,
		))
	}

	return workflows
}

func sample(name, description string, trigger models.Trigger, steps ...models.NestedAction) *models.Workflow {
	actions, head, err := models.BuildArena(steps)
	if err != nil {
		panic(fmt.Sprintf("sample workflow %q: %v", name, err))
	}
	return &models.Workflow{
		Name:        name,
		Description: &description,
		Definition: models.WorkflowDefinition{
			Trigger:       trigger,
			StartActionID: head,
			Actions:       actions,
		},
	}
}

func step(typ models.ActionType, cfg interface{}) models.NestedAction {
	return models.NestedAction{Type: typ, Config: rawConfig(cfg)}
}

func rawConfig(cfg interface{}) json.RawMessage {
	raw, err := json.Marshal(cfg)
	if err != nil {
		panic(err)
	}
	return raw
}

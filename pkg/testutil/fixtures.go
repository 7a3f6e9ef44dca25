package testutil

import (
	"time"

	"github.com/google/uuid"

	"github.com/davidmoltin/leadflow/internal/models"
)

// FixtureBuilder provides methods to create test fixtures
type FixtureBuilder struct{}

// NewFixtureBuilder creates a new fixture builder
func NewFixtureBuilder() *FixtureBuilder {
	return &FixtureBuilder{}
}

// Workflow creates an active create_new_lead workflow that tags the lead
// "vip" when its source is facebook and "other" otherwise.
func (fb *FixtureBuilder) Workflow(overrides ...func(*models.Workflow)) *models.Workflow {
	now := time.Now()

	workflow := &models.Workflow{
		ID:          uuid.New(),
		Name:        "Test Workflow",
		Description: StringPtr("Test workflow description"),
		Active:      true,
		Definition: models.WorkflowDefinition{
			Trigger: models.Trigger{
				Type:   models.TriggerCreateNewLead,
				Config: models.CreateNewLeadTrigger{},
			},
			StartActionID: "check_source",
			Actions: []models.Action{
				{
					ID:   "check_source",
					Type: models.ActionCondition,
					Config: models.ConditionAction{
						Operator: models.LogicalAnd,
						Conditions: []models.Condition{
							{Field: "lead.source", Operator: models.OpEquals, Value: "facebook"},
						},
						YesHeadID: "tag_vip",
						NoHeadID:  "tag_other",
					},
				},
				{ID: "tag_vip", Type: models.ActionAddTag, Config: models.TagAction{Tags: []string{"vip"}}},
				{ID: "tag_other", Type: models.ActionAddTag, Config: models.TagAction{Tags: []string{"other"}}},
			},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	for _, override := range overrides {
		override(workflow)
	}

	return workflow
}

// Lead creates a test lead
func (fb *FixtureBuilder) Lead(overrides ...func(*models.Lead)) *models.Lead {
	now := time.Now()

	lead := &models.Lead{
		ID:        uuid.New(),
		Name:      "Jane Doe",
		Email:     "jane@example.com",
		Phone:     "+15550100",
		Status:    "new",
		Source:    "facebook",
		Tags:      []string{},
		CreatedAt: now,
		UpdatedAt: now,
	}

	for _, override := range overrides {
		override(lead)
	}

	return lead
}

// EventRequest creates a create_new_lead event request for leadID
func (fb *FixtureBuilder) EventRequest(leadID uuid.UUID, dedupKey string) models.CreateEventRequest {
	return models.CreateEventRequest{
		TriggerType: models.TriggerCreateNewLead,
		DedupKey:    dedupKey,
		Payload: map[string]interface{}{
			models.PayloadLeadID: leadID.String(),
			models.PayloadSource: "facebook",
		},
	}
}

// EventLog creates a pending event log from req
func (fb *FixtureBuilder) EventLog(req models.CreateEventRequest) *models.TriggerEventLog {
	event := &models.TriggerEventLog{
		ID:          uuid.New(),
		TriggerType: req.TriggerType,
		Payload:     models.JSONB(req.Payload),
		Status:      models.EventStatusPending,
		ReceivedAt:  time.Now(),
	}
	if req.DedupKey != "" {
		event.DedupKey = StringPtr(req.DedupKey)
	}
	return event
}

// StringPtr returns a pointer to a string
func StringPtr(s string) *string {
	return &s
}

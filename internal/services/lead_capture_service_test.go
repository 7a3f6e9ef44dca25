package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidmoltin/leadflow/internal/engine"
	"github.com/davidmoltin/leadflow/internal/integrations/facebook"
	"github.com/davidmoltin/leadflow/internal/models"
	"github.com/davidmoltin/leadflow/internal/queue"
	"github.com/davidmoltin/leadflow/internal/repository/memory"
	"github.com/davidmoltin/leadflow/pkg/logger"
)

type fakeGraph struct {
	leads map[string]*facebook.Lead
	calls int
	token string
}

func (g *fakeGraph) GetLead(ctx context.Context, leadgenID, accessToken string) (*facebook.Lead, error) {
	g.calls++
	g.token = accessToken
	lead, ok := g.leads[leadgenID]
	if !ok {
		return nil, &facebook.GraphError{StatusCode: 404, Message: "not found"}
	}
	return lead, nil
}

type captureHarness struct {
	store   *memory.Store
	queue   *queue.MemoryQueue
	router  *engine.EventRouter
	exec    *engine.WorkflowExecutor
	graph   *fakeGraph
	capture *LeadCaptureService
	budget  models.LeadField
	city    models.LeadField
}

func newCaptureHarness(t *testing.T) *captureHarness {
	t.Helper()
	ctx := context.Background()
	log := logger.NewForTesting()
	store := memory.NewStore(nil)
	q := queue.NewMemoryQueue(nil)

	actions := engine.NewActionExecutor(log, nil,
		engine.NewAddTagHandler(store),
		engine.NewRemoveTagHandler(store),
		engine.NewUpdateFieldHandler(store),
		engine.NewAssignHandler(store),
	)
	cb := engine.NewContextBuilder(store, log)
	exec := engine.NewWorkflowExecutor(cb, actions, store, store, q, log)
	router := engine.NewEventRouter(store, store, exec, cb, q, log, nil)

	graph := &fakeGraph{leads: map[string]*facebook.Lead{
		"444": {
			ID:     "444",
			FormID: "777",
			FieldData: []facebook.FieldData{
				{Name: "full_name", Values: []string{"Jane Doe"}},
				{Name: "email", Values: []string{"jane@example.com"}},
				{Name: "phone_number", Values: []string{"+15550100"}},
				{Name: "what_is_your_budget?", Values: []string{"10k"}},
				{Name: "City", Values: []string{"Lisbon"}},
				{Name: "favourite_colour", Values: []string{"blue"}},
			},
		},
	}}

	capture := NewLeadCaptureService(router, graph, store, store, log, nil)
	router.RegisterPreprocessor(models.TriggerFacebookLeadForm, capture)

	h := &captureHarness{store: store, queue: q, router: router, exec: exec, graph: graph, capture: capture}

	h.budget = models.LeadField{Name: "budget", Label: "Budget", FieldType: "text"}
	h.city = models.LeadField{Name: "city", Label: "City", FieldType: "text"}
	require.NoError(t, store.CreateLeadField(ctx, &h.budget))
	require.NoError(t, store.CreateLeadField(ctx, &h.city))

	require.NoError(t, store.UpsertPage(ctx, &models.FacebookPage{PageID: "1001", Name: "Acme", AccessToken: "page-token"}))
	form := &models.FacebookLeadForm{PageID: "1001", FormID: "777", Name: "Spring promo"}
	require.NoError(t, store.CreateLeadForm(ctx, form))
	require.NoError(t, store.CreateFieldMapping(ctx, &models.FacebookFormFieldMapping{
		FormID:            form.ID,
		ExternalFieldName: "what_is_your_budget?",
		LeadFieldID:       h.budget.ID,
	}))
	return h
}

func (h *captureHarness) drain(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < 100; i++ {
		job, ok := h.queue.TryDequeue()
		if !ok {
			return
		}
		var err error
		switch job.Kind {
		case queue.JobProcessEvent:
			err = h.router.ProcessEvent(ctx, job.TargetID)
		case queue.JobExecuteStep:
			err = h.exec.ExecuteStep(ctx, job.TargetID)
		case queue.JobResumeStep:
			err = h.exec.ResumeStep(ctx, job.TargetID)
		default:
			err = errors.New("unknown job kind")
		}
		require.NoError(t, err)
	}
	t.Fatal("queue did not drain")
}

func (h *captureHarness) addTagWorkflow(t *testing.T, trigger models.Trigger, tag string) {
	t.Helper()
	wf := &models.Workflow{
		Name:   tag + " workflow",
		Active: true,
		Definition: models.WorkflowDefinition{
			Trigger:       trigger,
			StartActionID: "tag",
			Actions: []models.Action{
				{ID: "tag", Type: models.ActionAddTag, Config: models.TagAction{Tags: []string{tag}}},
			},
		},
	}
	require.NoError(t, h.store.CreateWorkflow(context.Background(), wf))
}

func webhookDelivery(leadgenID string) *facebook.WebhookPayload {
	return &facebook.WebhookPayload{
		Object: "page",
		Entry: []facebook.Entry{{
			ID: "1001",
			Changes: []facebook.Change{{
				Field: facebook.LeadgenField,
				Value: facebook.LeadgenValue{LeadgenID: facebook.ID(leadgenID), PageID: "1001", FormID: "777"},
			}},
		}},
	}
}

func TestLeadCapture_WebhookCreatesLeadWithMappedFields(t *testing.T) {
	ctx := context.Background()
	h := newCaptureHarness(t)
	h.addTagWorkflow(t, models.Trigger{
		Type:   models.TriggerFacebookLeadForm,
		Config: models.FacebookLeadFormTrigger{PageID: "1001", FormID: "777"},
	}, "facebook-form")
	h.addTagWorkflow(t, models.Trigger{
		Type:   models.TriggerCreateNewLead,
		Config: models.CreateNewLeadTrigger{Sources: []string{"facebook"}},
	}, "new")

	created, err := h.capture.HandleWebhook(ctx, webhookDelivery("444"))
	require.NoError(t, err)
	assert.Equal(t, 1, created)

	h.drain(t)

	leadID := uuid.NewSHA1(facebookLeadNamespace, []byte("444"))
	lead, err := h.store.GetLeadByID(ctx, leadID)
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe", lead.Name)
	assert.Equal(t, "jane@example.com", lead.Email)
	assert.Equal(t, "+15550100", lead.Phone)
	assert.Equal(t, "facebook", lead.Source)
	assert.Equal(t, "new", lead.Status)
	assert.ElementsMatch(t, []string{"facebook-form", "new"}, lead.Tags)
	assert.Equal(t, "page-token", h.graph.token)

	values, err := h.store.GetLeadFieldValues(ctx, leadID)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"budget": "10k", "city": "Lisbon"}, values)
}

func TestLeadCapture_RedeliveryIsIdempotent(t *testing.T) {
	ctx := context.Background()
	h := newCaptureHarness(t)
	h.addTagWorkflow(t, models.Trigger{
		Type:   models.TriggerCreateNewLead,
		Config: models.CreateNewLeadTrigger{},
	}, "new")

	for i := 0; i < 3; i++ {
		_, err := h.capture.HandleWebhook(ctx, webhookDelivery("444"))
		require.NoError(t, err)
		h.drain(t)
	}

	assert.Equal(t, 1, h.graph.calls)
	executions, total, err := h.store.ListExecutions(ctx, models.ExecutionFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Len(t, executions, 1)
}

func TestLeadCapture_PreprocessProcessedTwiceCreatesOneLead(t *testing.T) {
	ctx := context.Background()
	h := newCaptureHarness(t)

	for i := 0; i < 2; i++ {
		event := &models.TriggerEventLog{
			ID:          uuid.New(),
			TriggerType: models.TriggerFacebookLeadForm,
			Payload: models.JSONB{
				models.PayloadLeadgenID: "444",
				models.PayloadPageID:    "1001",
				models.PayloadFormID:    "777",
			},
		}
		require.NoError(t, h.capture.PreprocessEvent(ctx, event))
		assert.Equal(t, uuid.NewSHA1(facebookLeadNamespace, []byte("444")).String(), event.Payload[models.PayloadLeadID])
	}
	assert.Equal(t, 2, h.graph.calls)

	events, err := h.store.ListStalePendingEventLogs(ctx, time.Now().Add(time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, events, 1, "one create_new_lead event despite two captures")
	assert.Equal(t, models.TriggerCreateNewLead, events[0].TriggerType)
}

func TestLeadCapture_UnknownPageFailsEvent(t *testing.T) {
	ctx := context.Background()
	h := newCaptureHarness(t)

	delivery := webhookDelivery("444")
	delivery.Entry[0].Changes[0].Value.PageID = "2002"
	_, err := h.capture.HandleWebhook(ctx, delivery)
	require.NoError(t, err)

	job, ok := h.queue.TryDequeue()
	require.True(t, ok)
	require.NoError(t, h.router.ProcessEvent(ctx, job.TargetID))

	event, err := h.store.GetEventLogByID(ctx, job.TargetID)
	require.NoError(t, err)
	assert.Equal(t, models.EventStatusFailed, event.Status)
	require.NotNil(t, event.FailureReason)
	assert.Contains(t, *event.FailureReason, "no credentials for page 2002")
}

func TestLeadCapture_GraphErrorFailsEvent(t *testing.T) {
	ctx := context.Background()
	h := newCaptureHarness(t)

	_, err := h.capture.HandleWebhook(ctx, webhookDelivery("missing"))
	require.NoError(t, err)
	h.drain(t)

	events, _, err := h.store.ListExecutions(ctx, models.ExecutionFilter{})
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestMapFieldData_Precedence(t *testing.T) {
	budget := models.LeadField{ID: uuid.New(), Name: "budget", Label: "Budget"}
	email2 := models.LeadField{ID: uuid.New(), Name: "work_email", Label: "Email"}
	lead := &models.Lead{ID: uuid.New()}

	values := mapFieldData(lead,
		[]facebook.FieldData{
			{Name: "first_name", Values: []string{"Jane"}},
			{Name: "last_name", Values: []string{"Doe"}},
			{Name: "email", Values: []string{"jane@example.com"}},
			{Name: "BUDGET", Values: []string{"5k"}},
			{Name: "q1", Values: []string{"a", "b"}},
			{Name: "ignored", Values: []string{"x"}},
		},
		[]models.FacebookFormFieldMapping{{ExternalFieldName: "q1", LeadFieldID: email2.ID}},
		[]models.LeadField{budget, email2},
		logger.NewForTesting(),
	)

	assert.Equal(t, "Jane Doe", lead.Name)
	assert.Equal(t, "jane@example.com", lead.Email, "core alias wins over a custom field labelled Email")
	require.Len(t, values, 2)
	assert.Equal(t, email2.ID, values[0].LeadFieldID)
	assert.Equal(t, "a,b", values[0].Value)
	assert.Equal(t, budget.ID, values[1].LeadFieldID)
	assert.Equal(t, "5k", values[1].Value)
}

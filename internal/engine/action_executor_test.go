package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/davidmoltin/leadflow/internal/models"
	"github.com/davidmoltin/leadflow/internal/repository/memory"
	"github.com/davidmoltin/leadflow/pkg/logger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActionExecutor_ValidateReportsMissingHandlers(t *testing.T) {
	executor := NewActionExecutor(logger.NewForTesting(), nil, NewEmailHandler(&recordingSender{}))

	err := executor.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "send_webhook")
	assert.NotContains(t, err.Error(), "send_email")
	assert.NotContains(t, err.Error(), "condition")
}

func TestActionExecutor_UnknownType(t *testing.T) {
	executor := NewActionExecutor(logger.NewForTesting(), nil)

	_, err := executor.ExecuteAction(context.Background(), ActionRequest{
		Action: &models.Action{ID: "x", Type: models.ActionSendEmail, Config: models.SendEmailAction{}},
	})
	assert.ErrorIs(t, err, ErrUnknownActionType)
}

func TestTagHandler_AddIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore(nil)
	lead := &models.Lead{Name: "Sam", Tags: []string{"existing"}}
	require.NoError(t, store.CreateLead(ctx, lead, nil))

	handler := NewAddTagHandler(store)
	req := ActionRequest{
		StepID:  "tag",
		Action:  &models.Action{ID: "tag", Type: models.ActionAddTag, Config: models.TagAction{Tags: []string{"hot", "existing"}}},
		Context: map[string]interface{}{models.PayloadLeadID: lead.ID.String()},
	}

	_, err := handler.Execute(ctx, req)
	require.NoError(t, err)
	_, err = handler.Execute(ctx, req)
	require.NoError(t, err)

	stored, err := store.GetLeadByID(ctx, lead.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"existing", "hot"}, stored.Tags)
}

func TestTagHandler_RemoveMissingTagIsNoop(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore(nil)
	lead := &models.Lead{Name: "Sam", Tags: []string{"keep"}}
	require.NoError(t, store.CreateLead(ctx, lead, nil))

	_, err := NewRemoveTagHandler(store).Execute(ctx, ActionRequest{
		Action:  &models.Action{ID: "untag", Type: models.ActionRemoveTag, Config: models.TagAction{Tags: []string{"absent"}, Remove: true}},
		Context: map[string]interface{}{models.PayloadLeadID: lead.ID.String()},
	})
	require.NoError(t, err)

	stored, err := store.GetLeadByID(ctx, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"keep"}, stored.Tags)
}

func TestLeadActionsRequireLead(t *testing.T) {
	store := memory.NewStore(nil)
	_, err := NewUpdateFieldHandler(store).Execute(context.Background(), ActionRequest{
		Action:  &models.Action{ID: "f", Type: models.ActionUpdateField, Config: models.UpdateFieldAction{Field: "status", Value: "won"}},
		Context: map[string]interface{}{},
	})
	assert.ErrorIs(t, err, ErrMissingLead)
}

func TestUpdateFieldHandler_UnknownCustomField(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore(nil)
	lead := &models.Lead{Name: "Sam"}
	require.NoError(t, store.CreateLead(ctx, lead, nil))

	_, err := NewUpdateFieldHandler(store).Execute(ctx, ActionRequest{
		Action:  &models.Action{ID: "f", Type: models.ActionUpdateField, Config: models.UpdateFieldAction{Field: "shoe_size", Value: 9}},
		Context: map[string]interface{}{models.PayloadLeadID: lead.ID.String()},
	})
	assert.ErrorIs(t, err, models.ErrUnknownField)
}

func webhookRequest(url string, retries int) ActionRequest {
	return ActionRequest{
		ExecutionID: uuid.New(),
		WorkflowID:  uuid.New(),
		StepID:      "hook",
		Action: &models.Action{
			ID:   "hook",
			Type: models.ActionSendWebhook,
			Config: models.SendWebhookAction{
				URL:        url,
				Headers:    map[string]string{"X-Lead": "{{name}}"},
				Body:       map[string]interface{}{"name": "{{name}}"},
				RetryCount: retries,
			},
		},
		Context: map[string]interface{}{"name": "Jane"},
	}
}

func TestWebhookHandler_RetriesTransientFailures(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		assert.Equal(t, "Jane", r.Header.Get("X-Lead"))

		var body map[string]interface{}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Jane", body["name"])

		if n <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	handler := NewWebhookHandler(logger.NewForTesting(), nil, WithWebhookBackoff(time.Millisecond, 2*time.Millisecond))
	result, err := handler.Execute(context.Background(), webhookRequest(server.URL, 2))

	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 3, result.Data["attempts"])
	assert.Equal(t, http.StatusOK, result.Data["status_code"])
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestWebhookHandler_GivesUpAfterRetryCount(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	handler := NewWebhookHandler(logger.NewForTesting(), nil, WithWebhookBackoff(time.Millisecond, 2*time.Millisecond))
	result, err := handler.Execute(context.Background(), webhookRequest(server.URL, 1))

	require.Error(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestWebhookHandler_ClientErrorsAreNotRetried(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	handler := NewWebhookHandler(logger.NewForTesting(), nil, WithWebhookBackoff(time.Millisecond, 2*time.Millisecond))
	_, err := handler.Execute(context.Background(), webhookRequest(server.URL, 5))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestWebhookStepRecordsAttemptsInRun(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	h := newHarness(t)
	wf := h.createWorkflow(t, true, newLeadTrigger(), models.Action{
		ID:     "hook",
		Type:   models.ActionSendWebhook,
		Config: models.SendWebhookAction{URL: server.URL, RetryCount: 2},
	})
	lead := h.createLead(t, "new")

	h.ingestNewLead(t, lead)
	h.drain(t)

	run := h.runsFor(t, wf.ID)[0]
	assert.Equal(t, models.ExecutionStatusCompleted, run.Status)

	step := h.stepsFor(t, run.ID)["hook"]
	assert.Equal(t, models.StepStatusCompleted, step.Status)
	assert.EqualValues(t, 3, step.Output["attempts"])
}

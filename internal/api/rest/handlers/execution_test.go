package handlers_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidmoltin/leadflow/internal/models"
	"github.com/davidmoltin/leadflow/pkg/testutil"
)

func TestExecutionTrace(t *testing.T) {
	env := newTestEnv(t)
	wf := env.createWorkflow(t, testutil.NewFixtureBuilder().Workflow())
	lead := env.createLead(t, "facebook")

	rec := env.do(t, http.MethodPost, "/api/v1/events", models.CreateEventRequest{
		TriggerType: models.TriggerCreateNewLead,
		Payload:     map[string]interface{}{models.PayloadLeadID: lead.ID.String()},
	}, nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	env.drain(t)

	rec = env.do(t, http.MethodGet, "/api/v1/executions?workflow_id="+wf.ID.String()+"&status=completed", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var list models.ExecutionListResponse
	decode(t, rec, &list)
	require.EqualValues(t, 1, list.Total)
	run := list.Executions[0]

	rec = env.do(t, http.MethodGet, "/api/v1/executions/"+run.ID.String(), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var trace models.ExecutionTraceResponse
	decode(t, rec, &trace)
	require.Len(t, trace.Steps, 2)

	steps := map[string]models.WorkflowStepRun{}
	for _, s := range trace.Steps {
		steps[s.StepID] = s
	}
	require.Contains(t, steps, "check_source")
	require.NotNil(t, steps["check_source"].Branch)
	assert.Equal(t, models.BranchYes, *steps["check_source"].Branch)
	assert.Equal(t, models.StepStatusCompleted, steps["tag_vip"].Status)

	stored, err := env.store.GetLeadByID(context.Background(), lead.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"vip"}, stored.Tags)

	// finished runs cannot be cancelled
	rec = env.do(t, http.MethodPost, "/api/v1/executions/"+run.ID.String()+"/cancel", nil, nil)
	testutil.AssertErrorResponse(t, rec, http.StatusConflict, "already completed")
}

func TestCancelDelayedExecution(t *testing.T) {
	env := newTestEnv(t)
	wf := env.createWorkflow(t, &models.Workflow{
		Name:   "nurture",
		Active: true,
		Definition: models.WorkflowDefinition{
			Trigger:       models.Trigger{Type: models.TriggerCreateNewLead, Config: models.CreateNewLeadTrigger{}},
			StartActionID: "wait",
			Actions: []models.Action{
				{ID: "wait", Type: models.ActionDelay, NextID: "mail", Config: models.DelayAction{Duration: 2, Unit: models.DelayDays}},
				{ID: "mail", Type: models.ActionSendEmail, Config: models.SendEmailAction{Subject: "Still there?", Body: "Hi"}},
			},
		},
	})
	lead := env.createLead(t, "manual")

	_, _, err := env.events.IngestEvent(context.Background(), models.CreateEventRequest{
		TriggerType: models.TriggerCreateNewLead,
		Payload:     map[string]interface{}{models.PayloadLeadID: lead.ID.String()},
	})
	require.NoError(t, err)
	env.drain(t)

	runs, _, err := env.store.ListExecutions(context.Background(), models.ExecutionFilter{WorkflowID: &wf.ID})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, models.ExecutionStatusRunning, runs[0].Status)

	rec := env.do(t, http.MethodPost, "/api/v1/executions/"+runs[0].ID.String()+"/cancel", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var cancelled models.WorkflowExecution
	decode(t, rec, &cancelled)
	assert.Equal(t, models.ExecutionStatusCancelled, cancelled.Status)
	assert.Empty(t, env.outbox.Emails())
}

func TestExecutionQueryErrors(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		path string
		code int
	}{
		{"bad workflow id", "/api/v1/executions?workflow_id=nope", http.StatusBadRequest},
		{"bad status", "/api/v1/executions?status=paused", http.StatusBadRequest},
		{"empty list", "/api/v1/executions", http.StatusOK},
		{"unknown run", "/api/v1/executions/" + uuid.NewString(), http.StatusNotFound},
		{"bad run id", "/api/v1/executions/xyz", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, tt.path, nil, nil)
			assert.Equal(t, tt.code, rec.Code, rec.Body.String())
		})
	}
}

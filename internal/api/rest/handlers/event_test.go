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

func TestCreateEventDeduplicates(t *testing.T) {
	env := newTestEnv(t)
	lead := env.createLead(t, "manual")

	body := models.CreateEventRequest{
		TriggerType: models.TriggerCreateNewLead,
		DedupKey:    "crm:lead:1",
		Payload:     map[string]interface{}{models.PayloadLeadID: lead.ID.String()},
	}

	rec := env.do(t, http.MethodPost, "/api/v1/events", body, nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var first models.TriggerEventLog
	decode(t, rec, &first)
	assert.Equal(t, models.EventStatusPending, first.Status)

	rec = env.do(t, http.MethodPost, "/api/v1/events", body, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var second models.TriggerEventLog
	decode(t, rec, &second)
	assert.Equal(t, first.ID, second.ID)

	rec = env.do(t, http.MethodGet, "/api/v1/events/"+first.ID.String(), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateEventValidation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		body string
	}{
		{"malformed", `{"trigger_type":`},
		{"empty", ``},
		{"missing payload", `{"trigger_type":"create_new_lead"}`},
		{"unknown trigger", `{"trigger_type":"lead_exploded","payload":{}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/v1/events", tt.body, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestRequeueEvent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// a lead event without a lead fails processing
	event, _, err := env.events.IngestEvent(ctx, models.CreateEventRequest{
		TriggerType: models.TriggerCreateNewLead,
		Payload:     map[string]interface{}{models.PayloadLeadID: uuid.NewString()},
	})
	require.NoError(t, err)

	rec := env.do(t, http.MethodPost, "/api/v1/events/"+event.ID.String()+"/requeue", nil, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	env.drain(t)
	stored, err := env.store.GetEventLogByID(ctx, event.ID)
	require.NoError(t, err)
	require.Equal(t, models.EventStatusFailed, stored.Status)

	rec = env.do(t, http.MethodPost, "/api/v1/events/"+event.ID.String()+"/requeue", nil, nil)
	var requeued models.TriggerEventLog
	testutil.AssertJSONResponse(t, rec, http.StatusAccepted, &requeued)
	assert.Equal(t, models.EventStatusPending, requeued.Status)

	rec = env.do(t, http.MethodPost, "/api/v1/events/"+uuid.NewString()+"/requeue", nil, nil)
	testutil.AssertErrorResponse(t, rec, http.StatusNotFound, "not found")

	rec = env.do(t, http.MethodPost, "/api/v1/events/not-a-uuid/requeue", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

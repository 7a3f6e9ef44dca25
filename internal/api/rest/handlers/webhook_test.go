package handlers_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidmoltin/leadflow/internal/api/rest/handlers"
	"github.com/davidmoltin/leadflow/internal/integrations/facebook"
	"github.com/davidmoltin/leadflow/internal/models"
)

const leadgenDelivery = `{
  "object": "page",
  "entry": [{
    "id": "1001",
    "time": 1700000000,
    "changes": [{
      "field": "leadgen",
      "value": {"leadgen_id": 444555666, "page_id": "1001", "form_id": "2002", "created_time": 1700000000}
    }]
  }]
}`

func TestFacebookVerification(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet,
		"/webhooks/facebook?hub.mode=subscribe&hub.verify_token="+testVerifyToken+"&hub.challenge=1158201444", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1158201444", rec.Body.String())

	rec = env.do(t, http.MethodGet,
		"/webhooks/facebook?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=1158201444", nil, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestFacebookDelivery(t *testing.T) {
	env := newTestEnv(t)
	body := []byte(leadgenDelivery)
	signed := map[string]string{facebook.SignatureHeader: facebook.Sign(body, testAppSecret)}

	rec := env.do(t, http.MethodPost, "/webhooks/facebook", body, signed)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp map[string]int
	decode(t, rec, &resp)
	assert.Equal(t, 1, resp["received"])

	// redelivery is acknowledged without a second event
	rec = env.do(t, http.MethodPost, "/webhooks/facebook", body, signed)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &resp)
	assert.Equal(t, 0, resp["received"])

	job, ok := env.queue.TryDequeue()
	require.True(t, ok)
	event, err := env.store.GetEventLogByID(context.Background(), job.TargetID)
	require.NoError(t, err)
	assert.Equal(t, models.TriggerFacebookLeadForm, event.TriggerType)
	assert.Equal(t, "444555666", event.Payload[models.PayloadLeadgenID])
	assert.Equal(t, "2002", event.Payload[models.PayloadFormID])
	_, ok = env.queue.TryDequeue()
	assert.False(t, ok)
}

func TestFacebookDeliveryRejectsBadSignature(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/webhooks/facebook", leadgenDelivery,
		map[string]string{facebook.SignatureHeader: facebook.Sign([]byte(leadgenDelivery), "other-secret")})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodPost, "/webhooks/facebook", leadgenDelivery, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	ready, _ := env.queue.Len()
	assert.Zero(t, ready)
}

func TestInboundWebhookStartsMatchingWorkflow(t *testing.T) {
	env := newTestEnv(t)
	wf := env.createWorkflow(t, &models.Workflow{
		Name:   "new order alert",
		Active: true,
		Definition: models.WorkflowDefinition{
			Trigger: models.Trigger{
				Type:   models.TriggerInboundWebhook,
				Config: models.InboundWebhookTrigger{Path: "orders/new", Secret: "s3cret"},
			},
			StartActionID: "notify",
			Actions: []models.Action{{
				ID:     "notify",
				Type:   models.ActionSendEmail,
				Config: models.SendEmailAction{To: "ops@example.com", Subject: "Order {{order_id}}", Body: "placed"},
			}},
		},
	})

	secret := map[string]string{handlers.InboundSecretHeader: "s3cret", handlers.IdempotencyKeyHeader: "order-77"}
	rec := env.do(t, http.MethodPost, "/webhooks/inbound/orders/new", `{"order_id":"77"}`, secret)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var resp struct {
		EventID   string `json:"event_id"`
		Duplicate bool   `json:"duplicate"`
	}
	decode(t, rec, &resp)
	assert.False(t, resp.Duplicate)

	rec = env.do(t, http.MethodPost, "/webhooks/inbound/orders/new", `{"order_id":"77"}`, secret)
	require.Equal(t, http.StatusAccepted, rec.Code)
	decode(t, rec, &resp)
	assert.True(t, resp.Duplicate)

	// a wrong secret is recorded but starts nothing
	rec = env.do(t, http.MethodPost, "/webhooks/inbound/orders/new", `{"order_id":"78"}`,
		map[string]string{handlers.InboundSecretHeader: "guess"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	env.drain(t)

	assert.Equal(t, []string{"ops@example.com: Order 77"}, env.outbox.Emails())
	runs, total, err := env.store.ListExecutions(context.Background(), models.ExecutionFilter{WorkflowID: &wf.ID})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	assert.Equal(t, models.ExecutionStatusCompleted, runs[0].Status)
}

func TestInboundWebhookRejectsNonObjectBody(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/webhooks/inbound/orders", `[1,2,3]`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

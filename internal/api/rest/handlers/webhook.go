package handlers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/davidmoltin/leadflow/internal/integrations/facebook"
	"github.com/davidmoltin/leadflow/internal/models"
	"github.com/davidmoltin/leadflow/pkg/logger"
)

const (
	// InboundSecretHeader carries the shared secret of inbound webhooks
	InboundSecretHeader = "X-Webhook-Secret"
	// IdempotencyKeyHeader deduplicates inbound deliveries
	IdempotencyKeyHeader = "Idempotency-Key"
)

// LeadCapturer records Lead Ads notifications
type LeadCapturer interface {
	HandleWebhook(ctx context.Context, payload *facebook.WebhookPayload) (int, error)
}

// EventIngester records trigger events
type EventIngester interface {
	IngestEvent(ctx context.Context, req models.CreateEventRequest) (*models.TriggerEventLog, bool, error)
}

// WebhookHandler receives third-party deliveries
type WebhookHandler struct {
	logger      *logger.Logger
	capture     LeadCapturer
	events      EventIngester
	verifyToken string
	appSecret   string
}

// NewWebhookHandler creates a new webhook handler. An empty appSecret
// disables signature checks on Lead Ads deliveries.
func NewWebhookHandler(log *logger.Logger, capture LeadCapturer, events EventIngester, verifyToken, appSecret string) *WebhookHandler {
	return &WebhookHandler{
		logger:      log,
		capture:     capture,
		events:      events,
		verifyToken: verifyToken,
		appSecret:   appSecret,
	}
}

// VerifyFacebook handles GET /webhooks/facebook subscription checks
func (h *WebhookHandler) VerifyFacebook(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	challenge, ok := facebook.VerifySubscription(q.Get("hub.mode"), q.Get("hub.verify_token"), q.Get("hub.challenge"), h.verifyToken)
	if !ok {
		h.logger.Warnf("Rejected webhook verification for mode %q", q.Get("hub.mode"))
		respondError(w, http.StatusForbidden, "Verification failed")
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, challenge)
}

// ReceiveFacebook handles POST /webhooks/facebook deliveries. Failures to
// record events answer 500 so the delivery is retried.
func (h *WebhookHandler) ReceiveFacebook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}

	if h.appSecret != "" && !facebook.VerifySignature(body, r.Header.Get(facebook.SignatureHeader), h.appSecret) {
		h.logger.Warn("Rejected Lead Ads delivery with a bad signature")
		respondError(w, http.StatusUnauthorized, "Invalid signature")
		return
	}

	payload, err := facebook.ParseWebhook(body)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	created, err := h.capture.HandleWebhook(r.Context(), payload)
	if err != nil {
		h.logger.Errorf("Failed to record Lead Ads delivery: %v", err)
		respondError(w, http.StatusInternalServerError, "Failed to record delivery")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"received": created})
}

// ReceiveInbound handles POST /webhooks/inbound/{path}. The JSON object
// body becomes the event payload.
func (h *WebhookHandler) ReceiveInbound(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(chi.URLParam(r, "*"), "/")
	if path == "" {
		respondError(w, http.StatusNotFound, "Webhook path required")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}

	payload := map[string]interface{}{}
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, &payload); err != nil {
			respondError(w, http.StatusBadRequest, "Body must be a JSON object")
			return
		}
		if payload == nil {
			payload = map[string]interface{}{}
		}
	}
	payload[models.PayloadPath] = path
	delete(payload, models.PayloadSecret)
	if secret := r.Header.Get(InboundSecretHeader); secret != "" {
		payload[models.PayloadSecret] = secret
	}

	req := models.CreateEventRequest{
		TriggerType: models.TriggerInboundWebhook,
		Payload:     payload,
	}
	if key := r.Header.Get(IdempotencyKeyHeader); key != "" {
		req.DedupKey = inboundDedupKey(path, key)
	}

	event, created, err := h.events.IngestEvent(r.Context(), req)
	if err != nil {
		h.logger.Errorf("Failed to record inbound webhook %s: %v", path, err)
		respondError(w, http.StatusInternalServerError, "Failed to record delivery")
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"event_id":  event.ID,
		"duplicate": !created,
	})
}

// inboundDedupKey hashes the caller's key so long keys fit the column
func inboundDedupKey(path, key string) string {
	sum := sha256.Sum256([]byte(key))
	return "inbound:" + path + ":" + hex.EncodeToString(sum[:16])
}

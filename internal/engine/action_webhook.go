package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/davidmoltin/leadflow/internal/models"
	"github.com/davidmoltin/leadflow/pkg/logger"
	"github.com/davidmoltin/leadflow/pkg/metrics"
	"github.com/google/uuid"
)

const maxWebhookResponseBytes = 64 << 10

// WebhookHandler executes send_webhook with exponential backoff between attempts
type WebhookHandler struct {
	client          *http.Client
	logger          *logger.Logger
	metrics         *metrics.Metrics
	initialInterval time.Duration
	maxInterval     time.Duration
}

// WebhookOption configures a WebhookHandler
type WebhookOption func(*WebhookHandler)

// WithWebhookBackoff sets the first and maximum retry intervals
func WithWebhookBackoff(initial, max time.Duration) WebhookOption {
	return func(h *WebhookHandler) {
		h.initialInterval = initial
		h.maxInterval = max
	}
}

// WithWebhookClient sets the HTTP client
func WithWebhookClient(client *http.Client) WebhookOption {
	return func(h *WebhookHandler) {
		h.client = client
	}
}

// NewWebhookHandler creates a send_webhook handler
func NewWebhookHandler(log *logger.Logger, m *metrics.Metrics, opts ...WebhookOption) *WebhookHandler {
	h := &WebhookHandler{
		client:          &http.Client{},
		logger:          log,
		metrics:         m,
		initialInterval: 500 * time.Millisecond,
		maxInterval:     10 * time.Second,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *WebhookHandler) Type() models.ActionType { return models.ActionSendWebhook }

func (h *WebhookHandler) Execute(ctx context.Context, req ActionRequest) (*ActionResult, error) {
	cfg, ok := req.Action.Config.(models.SendWebhookAction)
	if !ok {
		return nil, fmt.Errorf("send_webhook: unexpected config %T", req.Action.Config)
	}

	method := strings.ToUpper(cfg.Method)
	if method == "" {
		method = http.MethodPost
	}
	url := RenderTemplate(cfg.URL, req.Context)

	payload := cfg.Body
	if payload == nil {
		payload = map[string]interface{}{
			"execution_id": req.ExecutionID.String(),
			"workflow_id":  req.WorkflowID.String(),
			"step_id":      req.StepID,
			"lead":         req.Context[ContextKeyLead],
			"event":        req.Context[ContextKeyEvent],
		}
	} else {
		payload = renderValue(payload, req.Context)
	}

	var bodyBytes []byte
	if method != http.MethodGet {
		var err error
		bodyBytes, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal webhook body: %w", err)
		}
	}

	attempts := 0
	var statusCode int
	var respBody string

	operation := func() error {
		attempts++
		attemptCtx, cancel := context.WithTimeout(ctx, cfg.Timeout())
		defer cancel()

		httpReq, err := http.NewRequestWithContext(attemptCtx, method, url, bytes.NewReader(bodyBytes))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("User-Agent", "Leadflow/1.0")
		httpReq.Header.Set("X-Request-ID", uuid.New().String())
		for key, value := range cfg.Headers {
			httpReq.Header.Set(key, RenderTemplate(value, req.Context))
		}

		h.logger.Infof("Calling webhook: %s %s (attempt %d)", method, url, attempts)
		resp, err := h.client.Do(httpReq)
		if err != nil {
			h.metrics.RecordWebhookAttempt("error")
			return fmt.Errorf("webhook request failed: %w", err)
		}
		defer resp.Body.Close()

		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxWebhookResponseBytes))
		statusCode = resp.StatusCode
		respBody = string(data)

		if statusCode >= 200 && statusCode < 300 {
			h.metrics.RecordWebhookAttempt("success")
			return nil
		}

		h.metrics.RecordWebhookAttempt("failure")
		err = fmt.Errorf("webhook returned error status: %d", statusCode)
		if !retryableStatus(statusCode) {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = h.initialInterval
	policy.MaxInterval = h.maxInterval
	policy.MaxElapsedTime = 0

	retries := cfg.RetryCount
	if retries < 0 {
		retries = 0
	}
	notify := func(err error, wait time.Duration) {
		h.logger.Warnf("Webhook %s failed, retrying in %v: %v", url, wait, err)
	}

	err := backoff.RetryNotify(operation, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(retries)), ctx), notify)

	result := &ActionResult{
		Success: err == nil,
		Data: map[string]interface{}{
			"url":         url,
			"method":      method,
			"status_code": statusCode,
			"attempts":    attempts,
			"response":    respBody,
		},
	}
	if err != nil {
		return result, fmt.Errorf("send_webhook failed after %d attempts: %w", attempts, err)
	}
	return result, nil
}

// retryableStatus reports whether a non-2xx status is worth retrying
func retryableStatus(code int) bool {
	if code == http.StatusRequestTimeout || code == http.StatusTooManyRequests {
		return true
	}
	return code >= 500 || code < 400
}

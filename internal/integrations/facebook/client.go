package facebook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/davidmoltin/leadflow/pkg/logger"
	"github.com/davidmoltin/leadflow/pkg/metrics"
)

const maxGraphResponseBytes = 1 << 20

// Lead is the Graph representation of a submitted lead form
type Lead struct {
	ID          string      `json:"id"`
	CreatedTime string      `json:"created_time"`
	FormID      string      `json:"form_id"`
	AdID        string      `json:"ad_id,omitempty"`
	FieldData   []FieldData `json:"field_data"`
}

// FieldData is one answered question of a lead form
type FieldData struct {
	Name   string   `json:"name"`
	Values []string `json:"values"`
}

// Value returns the answers joined by a comma
func (f FieldData) Value() string {
	return strings.Join(f.Values, ",")
}

// GraphError is an error response of the Graph API
type GraphError struct {
	StatusCode int
	Message    string `json:"message"`
	Type       string `json:"type"`
	Code       int    `json:"code"`
}

func (e *GraphError) Error() string {
	return fmt.Sprintf("graph api error %d (code %d): %s", e.StatusCode, e.Code, e.Message)
}

// Client fetches lead data from the Graph API
type Client struct {
	baseURL         string
	version         string
	httpClient      *http.Client
	breaker         *gobreaker.CircuitBreaker
	logger          *logger.Logger
	maxRetries      uint64
	initialInterval time.Duration
	maxInterval     time.Duration
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithHTTPClient sets the HTTP client
func WithHTTPClient(c *http.Client) ClientOption {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithRetry sets the retry count and backoff intervals
func WithRetry(maxRetries uint64, initial, max time.Duration) ClientOption {
	return func(client *Client) {
		client.maxRetries = maxRetries
		client.initialInterval = initial
		client.maxInterval = max
	}
}

// NewClient creates a Graph API client for baseURL and version (e.g. "v19.0")
func NewClient(baseURL, version string, timeout time.Duration, log *logger.Logger, m *metrics.Metrics, opts ...ClientOption) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &Client{
		baseURL:         strings.TrimRight(baseURL, "/"),
		version:         strings.Trim(version, "/"),
		httpClient:      &http.Client{Timeout: timeout},
		logger:          log,
		maxRetries:      3,
		initialInterval: 500 * time.Millisecond,
		maxInterval:     5 * time.Second,
	}

	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "facebook-graph",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// Client errors say nothing about Graph availability.
		IsSuccessful: func(err error) bool {
			var gerr *GraphError
			return err == nil || (errors.As(err, &gerr) && gerr.StatusCode < 500)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warnf("Circuit breaker %s changed from %s to %s", name, from, to)
			m.SetCircuitBreakerState(name, float64(to))
		},
	})

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetLead fetches the field data of a lead with a page access token.
// Server errors and network failures are retried; client errors are not.
func (c *Client) GetLead(ctx context.Context, leadgenID, accessToken string) (*Lead, error) {
	if leadgenID == "" {
		return nil, errors.New("leadgen id is required")
	}

	endpoint := c.baseURL + "/"
	if c.version != "" {
		endpoint += c.version + "/"
	}
	endpoint += url.PathEscape(leadgenID)

	query := url.Values{}
	query.Set("access_token", accessToken)
	query.Set("fields", "id,created_time,form_id,ad_id,field_data")
	endpoint += "?" + query.Encode()

	var lead Lead
	attempts := 0
	operation := func() error {
		attempts++
		_, err := c.breaker.Execute(func() (interface{}, error) {
			return nil, c.get(ctx, endpoint, &lead)
		})
		if err == nil {
			return nil
		}
		var gerr *GraphError
		if errors.As(err, &gerr) && gerr.StatusCode < 500 && gerr.StatusCode != http.StatusTooManyRequests {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.initialInterval
	policy.MaxInterval = c.maxInterval
	policy.MaxElapsedTime = 0

	notify := func(err error, wait time.Duration) {
		c.logger.Warnf("Graph lead fetch for %s failed, retrying in %v: %v", leadgenID, wait, err)
	}
	if err := backoff.RetryNotify(operation, backoff.WithContext(backoff.WithMaxRetries(policy, c.maxRetries), ctx), notify); err != nil {
		return nil, fmt.Errorf("failed to fetch lead %s after %d attempts: %w", leadgenID, attempts, err)
	}
	return &lead, nil
}

func (c *Client) get(ctx context.Context, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("graph request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxGraphResponseBytes))
	if err != nil {
		return fmt.Errorf("failed to read graph response: %w", err)
	}

	if resp.StatusCode >= 300 {
		gerr := &GraphError{StatusCode: resp.StatusCode}
		var envelope struct {
			Error *GraphError `json:"error"`
		}
		if json.Unmarshal(body, &envelope) == nil && envelope.Error != nil {
			gerr.Message = envelope.Error.Message
			gerr.Type = envelope.Error.Type
			gerr.Code = envelope.Error.Code
		} else {
			gerr.Message = strings.TrimSpace(string(body))
		}
		return gerr
	}

	if err := json.Unmarshal(body, out); err != nil {
		return backoff.Permanent(fmt.Errorf("invalid graph response: %w", err))
	}
	return nil
}

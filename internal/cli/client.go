package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/davidmoltin/leadflow/internal/models"
)

// Client talks to the leadflow REST API
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// WorkflowList is one page of workflows
type WorkflowList struct {
	Workflows []models.Workflow `json:"workflows"`
	Total     int64             `json:"total"`
}

// ExecutionQuery filters an execution listing
type ExecutionQuery struct {
	WorkflowID string
	EventID    string
	Status     string
	Limit      int
}

// APIError is a non-success response from the API
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (status: %d)", e.Message, e.StatusCode)
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) doRequest(method, path string, body interface{}) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}

	return resp, nil
}

// call performs the request and decodes the response into out when the
// status is one of expected
func (c *Client) call(method, path string, body, out interface{}, expected ...int) error {
	resp, err := c.doRequest(method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	ok := false
	for _, code := range expected {
		if resp.StatusCode == code {
			ok = true
			break
		}
	}
	if !ok {
		return decodeAPIError(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var payload struct {
		Error  string   `json:"error"`
		Errors []string `json:"errors"`
	}
	msg := string(bytes.TrimSpace(body))
	if json.Unmarshal(body, &payload) == nil {
		switch {
		case payload.Error != "":
			msg = payload.Error
		case len(payload.Errors) > 0:
			msg = fmt.Sprintf("%v", payload.Errors)
		}
	}
	return &APIError{StatusCode: resp.StatusCode, Message: msg}
}

// CreateWorkflow creates a new workflow
func (c *Client) CreateWorkflow(workflow *models.Workflow) (*models.Workflow, error) {
	req := models.CreateWorkflowRequest{
		Name:        workflow.Name,
		Description: workflow.Description,
		Active:      workflow.Active,
		OwnerID:     workflow.OwnerID,
		Definition:  workflow.Definition,
	}
	var result models.Workflow
	if err := c.call(http.MethodPost, "/api/v1/workflows", req, &result, http.StatusCreated); err != nil {
		return nil, fmt.Errorf("failed to create workflow: %w", err)
	}
	return &result, nil
}

// UpdateWorkflow replaces an existing workflow
func (c *Client) UpdateWorkflow(id uuid.UUID, workflow *models.Workflow) (*models.Workflow, error) {
	req := models.CreateWorkflowRequest{
		Name:        workflow.Name,
		Description: workflow.Description,
		Active:      workflow.Active,
		OwnerID:     workflow.OwnerID,
		Definition:  workflow.Definition,
	}
	var result models.Workflow
	if err := c.call(http.MethodPut, "/api/v1/workflows/"+id.String(), req, &result, http.StatusOK); err != nil {
		return nil, fmt.Errorf("failed to update workflow: %w", err)
	}
	return &result, nil
}

// GetWorkflows retrieves workflows, optionally filtered by active state
func (c *Client) GetWorkflows(active *bool, limit int) (*WorkflowList, error) {
	q := url.Values{}
	if active != nil {
		q.Set("active", strconv.FormatBool(*active))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var list WorkflowList
	if err := c.call(http.MethodGet, withQuery("/api/v1/workflows", q), nil, &list, http.StatusOK); err != nil {
		return nil, fmt.Errorf("failed to get workflows: %w", err)
	}
	return &list, nil
}

// FindWorkflowByName returns the first workflow named name, or nil
func (c *Client) FindWorkflowByName(name string) (*models.Workflow, error) {
	list, err := c.GetWorkflows(nil, 100)
	if err != nil {
		return nil, err
	}
	for i := range list.Workflows {
		if list.Workflows[i].Name == name {
			return &list.Workflows[i], nil
		}
	}
	return nil, nil
}

// SetWorkflowActive activates or deactivates a workflow
func (c *Client) SetWorkflowActive(id uuid.UUID, active bool) error {
	action := "deactivate"
	if active {
		action = "activate"
	}
	if err := c.call(http.MethodPost, "/api/v1/workflows/"+id.String()+"/"+action, nil, nil, http.StatusOK); err != nil {
		return fmt.Errorf("failed to %s workflow: %w", action, err)
	}
	return nil
}

// GetExecutions retrieves workflow runs
func (c *Client) GetExecutions(query ExecutionQuery) (*models.ExecutionListResponse, error) {
	q := url.Values{}
	if query.WorkflowID != "" {
		q.Set("workflow_id", query.WorkflowID)
	}
	if query.EventID != "" {
		q.Set("event_id", query.EventID)
	}
	if query.Status != "" {
		q.Set("status", query.Status)
	}
	if query.Limit > 0 {
		q.Set("limit", strconv.Itoa(query.Limit))
	}

	var list models.ExecutionListResponse
	if err := c.call(http.MethodGet, withQuery("/api/v1/executions", q), nil, &list, http.StatusOK); err != nil {
		return nil, fmt.Errorf("failed to get executions: %w", err)
	}
	return &list, nil
}

// GetExecution retrieves a run with its step runs
func (c *Client) GetExecution(id string) (*models.ExecutionTraceResponse, error) {
	var trace models.ExecutionTraceResponse
	if err := c.call(http.MethodGet, "/api/v1/executions/"+url.PathEscape(id), nil, &trace, http.StatusOK); err != nil {
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}
	return &trace, nil
}

// CancelExecution cancels a running workflow run
func (c *Client) CancelExecution(id string) (*models.WorkflowExecution, error) {
	var execution models.WorkflowExecution
	if err := c.call(http.MethodPost, "/api/v1/executions/"+url.PathEscape(id)+"/cancel", nil, &execution, http.StatusOK); err != nil {
		return nil, fmt.Errorf("failed to cancel execution: %w", err)
	}
	return &execution, nil
}

// CreateEvent sends an event to the API. created is false when the dedup
// key matched an event already logged.
func (c *Client) CreateEvent(req models.CreateEventRequest) (event *models.TriggerEventLog, created bool, err error) {
	resp, err := c.doRequest(http.MethodPost, "/api/v1/events", req)
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusAccepted:
		created = true
	case http.StatusOK:
	default:
		return nil, false, fmt.Errorf("failed to create event: %w", decodeAPIError(resp))
	}

	event = &models.TriggerEventLog{}
	if err := json.NewDecoder(resp.Body).Decode(event); err != nil {
		return nil, false, fmt.Errorf("failed to decode response: %w", err)
	}
	return event, created, nil
}

// RequeueEvent moves a failed event back to pending
func (c *Client) RequeueEvent(id string) (*models.TriggerEventLog, error) {
	var event models.TriggerEventLog
	if err := c.call(http.MethodPost, "/api/v1/events/"+url.PathEscape(id)+"/requeue", nil, &event, http.StatusAccepted); err != nil {
		return nil, fmt.Errorf("failed to requeue event: %w", err)
	}
	return &event, nil
}

// HealthCheck checks if the API is healthy
func (c *Client) HealthCheck() error {
	if err := c.call(http.MethodGet, "/health", nil, nil, http.StatusOK); err != nil {
		return fmt.Errorf("API is not healthy: %w", err)
	}
	return nil
}

func withQuery(path string, q url.Values) string {
	if len(q) == 0 {
		return path
	}
	return path + "?" + q.Encode()
}

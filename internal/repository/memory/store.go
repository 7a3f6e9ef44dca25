// Package memory provides in-memory repositories used by tests and by the
// CLI's dry-run simulator. They follow the same claim and transition
// semantics as the Postgres repositories.
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/davidmoltin/leadflow/internal/models"
	"github.com/google/uuid"
)

// Store is an in-memory implementation of every repository interface
type Store struct {
	mu sync.RWMutex

	workflows  map[uuid.UUID]*models.Workflow
	events     map[uuid.UUID]*models.TriggerEventLog
	dedup      map[string]uuid.UUID
	executions map[uuid.UUID]*models.WorkflowExecution
	runIndex   map[string]uuid.UUID
	steps      map[uuid.UUID]*models.WorkflowStepRun
	leads      map[uuid.UUID]*models.Lead
	fields     map[uuid.UUID]*models.LeadField
	values     map[uuid.UUID]map[uuid.UUID]string
	pages      map[string]*models.FacebookPage
	forms      map[uuid.UUID]*models.FacebookLeadForm
	mappings   map[uuid.UUID][]models.FacebookFormFieldMapping
	schedules  map[uuid.UUID]*models.WorkflowSchedule

	now func() time.Time
}

// NewStore creates an empty store. A nil now uses time.Now.
func NewStore(now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{
		workflows:  make(map[uuid.UUID]*models.Workflow),
		events:     make(map[uuid.UUID]*models.TriggerEventLog),
		dedup:      make(map[string]uuid.UUID),
		executions: make(map[uuid.UUID]*models.WorkflowExecution),
		runIndex:   make(map[string]uuid.UUID),
		steps:      make(map[uuid.UUID]*models.WorkflowStepRun),
		leads:      make(map[uuid.UUID]*models.Lead),
		fields:     make(map[uuid.UUID]*models.LeadField),
		values:     make(map[uuid.UUID]map[uuid.UUID]string),
		pages:      make(map[string]*models.FacebookPage),
		forms:      make(map[uuid.UUID]*models.FacebookLeadForm),
		mappings:   make(map[uuid.UUID][]models.FacebookFormFieldMapping),
		schedules:  make(map[uuid.UUID]*models.WorkflowSchedule),
		now:        now,
	}
}

// Workflows

// CreateWorkflow stores a new workflow
func (s *Store) CreateWorkflow(ctx context.Context, workflow *models.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if workflow.ID == uuid.Nil {
		workflow.ID = uuid.New()
	}
	now := s.now()
	workflow.CreatedAt = now
	workflow.UpdatedAt = now
	s.workflows[workflow.ID] = copyWorkflow(workflow)
	return nil
}

// UpdateWorkflow replaces a stored workflow
func (s *Store) UpdateWorkflow(ctx context.Context, workflow *models.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.workflows[workflow.ID]; !ok {
		return models.ErrNotFound
	}
	workflow.UpdatedAt = s.now()
	s.workflows[workflow.ID] = copyWorkflow(workflow)
	return nil
}

// SetWorkflowActive toggles a workflow
func (s *Store) SetWorkflowActive(ctx context.Context, id uuid.UUID, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	wf, ok := s.workflows[id]
	if !ok {
		return models.ErrNotFound
	}
	wf.Active = active
	wf.UpdatedAt = s.now()
	return nil
}

// DeleteWorkflow removes a workflow. Runs keep their frozen definitions.
func (s *Store) DeleteWorkflow(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.workflows[id]; !ok {
		return models.ErrNotFound
	}
	delete(s.workflows, id)
	delete(s.schedules, id)
	return nil
}

// GetWorkflowByID retrieves a workflow by ID
func (s *Store) GetWorkflowByID(ctx context.Context, id uuid.UUID) (*models.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wf, ok := s.workflows[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return copyWorkflow(wf), nil
}

// ListWorkflows lists workflows ordered by creation time
func (s *Store) ListWorkflows(ctx context.Context, active *bool, limit, offset int) ([]models.Workflow, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Workflow
	for _, wf := range s.workflows {
		if active != nil && wf.Active != *active {
			continue
		}
		out = append(out, *copyWorkflow(wf))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	total := int64(len(out))
	return paginate(out, limit, offset), total, nil
}

// ListActiveWorkflowsByTrigger lists active workflows with the trigger type
func (s *Store) ListActiveWorkflowsByTrigger(ctx context.Context, triggerType models.TriggerType) ([]models.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Workflow
	for _, wf := range s.workflows {
		if wf.Active && wf.Definition.Trigger.Type == triggerType {
			out = append(out, *copyWorkflow(wf))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Events

// CreateEventLog stores an event unless its dedup key was seen before
func (s *Store) CreateEventLog(ctx context.Context, event *models.TriggerEventLog) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if event.DedupKey != nil {
		if existingID, ok := s.dedup[*event.DedupKey]; ok {
			*event = *copyEvent(s.events[existingID])
			return false, nil
		}
	}
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.DedupKey != nil {
		s.dedup[*event.DedupKey] = event.ID
	}
	s.events[event.ID] = copyEvent(event)
	return true, nil
}

// GetEventLogByID retrieves an event
func (s *Store) GetEventLogByID(ctx context.Context, id uuid.UUID) (*models.TriggerEventLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	event, ok := s.events[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return copyEvent(event), nil
}

// ClaimEventLog moves a pending event to processing
func (s *Store) ClaimEventLog(ctx context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	event, ok := s.events[id]
	if !ok || event.Status != models.EventStatusPending {
		return false, nil
	}
	now := s.now()
	event.Status = models.EventStatusProcessing
	event.Attempts++
	event.ClaimedAt = &now
	return true, nil
}

// UpdateEventPayload replaces an event's payload
func (s *Store) UpdateEventPayload(ctx context.Context, id uuid.UUID, payload models.JSONB) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	event, ok := s.events[id]
	if !ok {
		return models.ErrNotFound
	}
	event.Payload = copyJSONB(payload)
	return nil
}

// CompleteEventLog marks an event completed
func (s *Store) CompleteEventLog(ctx context.Context, id uuid.UUID, runsStarted int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	event, ok := s.events[id]
	if !ok {
		return models.ErrNotFound
	}
	now := s.now()
	event.Status = models.EventStatusCompleted
	event.RunsStarted = runsStarted
	event.FailureReason = nil
	event.ProcessedAt = &now
	return nil
}

// FailEventLog marks an event failed with reason
func (s *Store) FailEventLog(ctx context.Context, id uuid.UUID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	event, ok := s.events[id]
	if !ok {
		return models.ErrNotFound
	}
	now := s.now()
	event.Status = models.EventStatusFailed
	event.FailureReason = &reason
	event.ProcessedAt = &now
	return nil
}

// RequeueEventLog moves a failed event back to pending
func (s *Store) RequeueEventLog(ctx context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	event, ok := s.events[id]
	if !ok || event.Status != models.EventStatusFailed {
		return false, nil
	}
	event.Status = models.EventStatusPending
	event.ProcessedAt = nil
	event.ClaimedAt = nil
	return true, nil
}

// ListStalePendingEventLogs lists pending events received before the cutoff
func (s *Store) ListStalePendingEventLogs(ctx context.Context, receivedBefore time.Time, limit int) ([]models.TriggerEventLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.TriggerEventLog
	for _, event := range s.events {
		if event.Status == models.EventStatusPending && event.ReceivedAt.Before(receivedBefore) {
			out = append(out, *copyEvent(event))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.Before(out[j].ReceivedAt) })
	return paginate(out, limit, 0), nil
}

// ReleaseStaleEventLogs moves events claimed before the cutoff back to pending
func (s *Store) ReleaseStaleEventLogs(ctx context.Context, claimedBefore time.Time, limit int) ([]models.TriggerEventLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stale []*models.TriggerEventLog
	for _, event := range s.events {
		if event.Status != models.EventStatusProcessing {
			continue
		}
		claimed := event.ReceivedAt
		if event.ClaimedAt != nil {
			claimed = *event.ClaimedAt
		}
		if claimed.Before(claimedBefore) {
			stale = append(stale, event)
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].ReceivedAt.Before(stale[j].ReceivedAt) })
	stale = paginate(stale, limit, 0)

	out := make([]models.TriggerEventLog, 0, len(stale))
	for _, event := range stale {
		event.Status = models.EventStatusPending
		event.ClaimedAt = nil
		out = append(out, *copyEvent(event))
	}
	return out, nil
}

// Executions

// CreateExecution stores a run unless one exists for the workflow and event
func (s *Store) CreateExecution(ctx context.Context, execution *models.WorkflowExecution) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := execution.WorkflowID.String() + "/" + execution.EventLogID.String()
	if existingID, ok := s.runIndex[key]; ok {
		*execution = *copyExecution(s.executions[existingID])
		return false, nil
	}
	s.runIndex[key] = execution.ID
	s.executions[execution.ID] = copyExecution(execution)
	return true, nil
}

// GetExecutionByID retrieves a run
func (s *Store) GetExecutionByID(ctx context.Context, id uuid.UUID) (*models.WorkflowExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	execution, ok := s.executions[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return copyExecution(execution), nil
}

// UpdateExecution writes a run while the stored run is running
func (s *Store) UpdateExecution(ctx context.Context, execution *models.WorkflowExecution) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.executions[execution.ID]
	if !ok {
		return false, models.ErrNotFound
	}
	if stored.Status != models.ExecutionStatusRunning {
		return false, nil
	}
	s.executions[execution.ID] = copyExecution(execution)
	return true, nil
}

// CancelExecution cancels a running run
func (s *Store) CancelExecution(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	execution, ok := s.executions[id]
	if !ok {
		return false, models.ErrNotFound
	}
	if execution.Status != models.ExecutionStatusRunning {
		return false, nil
	}
	execution.Status = models.ExecutionStatusCancelled
	execution.CompletedAt = &at
	duration := int(at.Sub(execution.StartedAt).Milliseconds())
	execution.DurationMs = &duration
	return true, nil
}

// ListExecutions lists runs newest first
func (s *Store) ListExecutions(ctx context.Context, filter models.ExecutionFilter) ([]models.WorkflowExecution, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.WorkflowExecution
	for _, execution := range s.executions {
		if filter.WorkflowID != nil && execution.WorkflowID != *filter.WorkflowID {
			continue
		}
		if filter.EventLogID != nil && execution.EventLogID != *filter.EventLogID {
			continue
		}
		if filter.Status != nil && execution.Status != *filter.Status {
			continue
		}
		out = append(out, *copyExecution(execution))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	total := int64(len(out))
	return paginate(out, filter.Limit, filter.Offset), total, nil
}

// CreateStepRun stores a step run
func (s *Store) CreateStepRun(ctx context.Context, step *models.WorkflowStepRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.steps[step.ID] = copyStep(step)
	return nil
}

// GetStepRunByID retrieves a step run
func (s *Store) GetStepRunByID(ctx context.Context, id uuid.UUID) (*models.WorkflowStepRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	step, ok := s.steps[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return copyStep(step), nil
}

// TransitionStepRun writes step if its stored status equals from
func (s *Store) TransitionStepRun(ctx context.Context, step *models.WorkflowStepRun, from models.StepRunStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.steps[step.ID]
	if !ok {
		return false, models.ErrNotFound
	}
	if stored.Status != from {
		return false, nil
	}
	s.steps[step.ID] = copyStep(step)
	return true, nil
}

// ListStepRuns lists a run's steps in creation order
func (s *Store) ListStepRuns(ctx context.Context, executionID uuid.UUID) ([]models.WorkflowStepRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.WorkflowStepRun
	for _, step := range s.steps {
		if step.ExecutionID == executionID {
			out = append(out, *copyStep(step))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ListDueDelayedStepRuns lists delayed steps of running runs that are due
func (s *Store) ListDueDelayedStepRuns(ctx context.Context, now time.Time, limit int) ([]models.WorkflowStepRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.WorkflowStepRun
	for _, step := range s.steps {
		if step.Status != models.StepStatusDelayed || step.ResumeAt == nil || step.ResumeAt.After(now) {
			continue
		}
		if execution, ok := s.executions[step.ExecutionID]; !ok || execution.Status != models.ExecutionStatusRunning {
			continue
		}
		out = append(out, *copyStep(step))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ResumeAt.Before(*out[j].ResumeAt) })
	return paginate(out, limit, 0), nil
}

// ListStalePendingStepRuns lists pending steps of running runs created before the cutoff
func (s *Store) ListStalePendingStepRuns(ctx context.Context, createdBefore time.Time, limit int) ([]models.WorkflowStepRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.WorkflowStepRun
	for _, step := range s.steps {
		if step.Status != models.StepStatusPending || !step.CreatedAt.Before(createdBefore) {
			continue
		}
		if execution, ok := s.executions[step.ExecutionID]; !ok || execution.Status != models.ExecutionStatusRunning {
			continue
		}
		out = append(out, *copyStep(step))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return paginate(out, limit, 0), nil
}

// ListStaleRunningStepRuns lists steps that started running before the cutoff
func (s *Store) ListStaleRunningStepRuns(ctx context.Context, startedBefore time.Time, limit int) ([]models.WorkflowStepRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.WorkflowStepRun
	for _, step := range s.steps {
		if step.Status == models.StepStatusRunning && step.StartedAt != nil && step.StartedAt.Before(startedBefore) {
			out = append(out, *copyStep(step))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(*out[j].StartedAt) })
	return paginate(out, limit, 0), nil
}

// ListStalledExecutions lists running runs with no step in flight and no
// step activity since the cutoff
func (s *Store) ListStalledExecutions(ctx context.Context, idleSince time.Time, limit int) ([]models.WorkflowExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	busy := make(map[uuid.UUID]bool)
	for _, step := range s.steps {
		last := step.CreatedAt
		if step.CompletedAt != nil {
			last = *step.CompletedAt
		}
		if step.Status.IsActive() || !last.Before(idleSince) {
			busy[step.ExecutionID] = true
		}
	}

	var out []models.WorkflowExecution
	for _, execution := range s.executions {
		if execution.Status != models.ExecutionStatusRunning || busy[execution.ID] || !execution.StartedAt.Before(idleSince) {
			continue
		}
		out = append(out, *copyExecution(execution))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return paginate(out, limit, 0), nil
}

// Leads

// CreateLead stores a lead with its custom field values
func (s *Store) CreateLead(ctx context.Context, lead *models.Lead, values []models.LeadFieldValue) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if lead.ID == uuid.Nil {
		lead.ID = uuid.New()
	}
	if _, ok := s.leads[lead.ID]; ok {
		return models.ErrConflict
	}
	now := s.now()
	lead.CreatedAt = now
	lead.UpdatedAt = now
	if lead.Tags == nil {
		lead.Tags = []string{}
	}
	s.leads[lead.ID] = copyLead(lead)

	vals := make(map[uuid.UUID]string, len(values))
	for _, v := range values {
		vals[v.LeadFieldID] = v.Value
	}
	s.values[lead.ID] = vals
	return nil
}

// GetLeadByID retrieves a lead
func (s *Store) GetLeadByID(ctx context.Context, id uuid.UUID) (*models.Lead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lead, ok := s.leads[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return copyLead(lead), nil
}

// DeleteLead removes a lead
func (s *Store) DeleteLead(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.leads[id]; !ok {
		return models.ErrNotFound
	}
	delete(s.leads, id)
	delete(s.values, id)
	return nil
}

// GetLeadFieldValues returns custom field values keyed by field name
func (s *Store) GetLeadFieldValues(ctx context.Context, leadID uuid.UUID) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]string)
	for fieldID, value := range s.values[leadID] {
		if field, ok := s.fields[fieldID]; ok {
			out[field.Name] = value
		}
	}
	return out, nil
}

// AddTags adds tags to a lead, ignoring ones it already has
func (s *Store) AddTags(ctx context.Context, leadID uuid.UUID, tags []string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lead, ok := s.leads[leadID]
	if !ok {
		return nil, models.ErrNotFound
	}
	for _, tag := range tags {
		if !containsString(lead.Tags, tag) {
			lead.Tags = append(lead.Tags, tag)
		}
	}
	lead.UpdatedAt = s.now()
	return append([]string(nil), lead.Tags...), nil
}

// RemoveTags removes tags from a lead
func (s *Store) RemoveTags(ctx context.Context, leadID uuid.UUID, tags []string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lead, ok := s.leads[leadID]
	if !ok {
		return nil, models.ErrNotFound
	}
	kept := lead.Tags[:0:0]
	for _, tag := range lead.Tags {
		if !containsString(tags, tag) {
			kept = append(kept, tag)
		}
	}
	lead.Tags = kept
	lead.UpdatedAt = s.now()
	return append([]string(nil), lead.Tags...), nil
}

// UpdateLeadColumn sets a core lead column
func (s *Store) UpdateLeadColumn(ctx context.Context, leadID uuid.UUID, column, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lead, ok := s.leads[leadID]
	if !ok {
		return models.ErrNotFound
	}
	switch column {
	case models.LeadColumnName:
		lead.Name = value
	case models.LeadColumnEmail:
		lead.Email = value
	case models.LeadColumnPhone:
		lead.Phone = value
	case models.LeadColumnStatus:
		lead.Status = value
	case models.LeadColumnSource:
		lead.Source = value
	default:
		return models.ErrUnknownField
	}
	lead.UpdatedAt = s.now()
	return nil
}

// SetCustomField sets a custom field value by field name
func (s *Store) SetCustomField(ctx context.Context, leadID uuid.UUID, fieldName, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.leads[leadID]; !ok {
		return models.ErrNotFound
	}
	for id, field := range s.fields {
		if field.Name == fieldName {
			if s.values[leadID] == nil {
				s.values[leadID] = make(map[uuid.UUID]string)
			}
			s.values[leadID][id] = value
			return nil
		}
	}
	return models.ErrUnknownField
}

// SetOwner assigns the lead to a user
func (s *Store) SetOwner(ctx context.Context, leadID, ownerID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lead, ok := s.leads[leadID]
	if !ok {
		return models.ErrNotFound
	}
	lead.OwnerID = &ownerID
	lead.UpdatedAt = s.now()
	return nil
}

// CreateLeadField defines a custom lead field
func (s *Store) CreateLeadField(ctx context.Context, field *models.LeadField) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.fields {
		if existing.Name == field.Name {
			return models.ErrConflict
		}
	}
	if field.ID == uuid.Nil {
		field.ID = uuid.New()
	}
	field.CreatedAt = s.now()
	f := *field
	s.fields[field.ID] = &f
	return nil
}

// ListLeadFields lists custom lead fields by name
func (s *Store) ListLeadFields(ctx context.Context) ([]models.LeadField, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.LeadField, 0, len(s.fields))
	for _, f := range s.fields {
		out = append(out, *f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Facebook

// UpsertPage stores page credentials
func (s *Store) UpsertPage(ctx context.Context, page *models.FacebookPage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if page.CreatedAt.IsZero() {
		page.CreatedAt = s.now()
	}
	p := *page
	s.pages[page.PageID] = &p
	return nil
}

// GetPage retrieves page credentials
func (s *Store) GetPage(ctx context.Context, pageID string) (*models.FacebookPage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	page, ok := s.pages[pageID]
	if !ok {
		return nil, models.ErrNotFound
	}
	p := *page
	return &p, nil
}

// CreateLeadForm registers a lead form
func (s *Store) CreateLeadForm(ctx context.Context, form *models.FacebookLeadForm) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.forms {
		if existing.PageID == form.PageID && existing.FormID == form.FormID {
			return models.ErrConflict
		}
	}
	if form.ID == uuid.Nil {
		form.ID = uuid.New()
	}
	form.CreatedAt = s.now()
	f := *form
	s.forms[form.ID] = &f
	return nil
}

// GetLeadForm finds a registered form by page and form id
func (s *Store) GetLeadForm(ctx context.Context, pageID, formID string) (*models.FacebookLeadForm, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, form := range s.forms {
		if form.PageID == pageID && form.FormID == formID {
			f := *form
			return &f, nil
		}
	}
	return nil, models.ErrNotFound
}

// CreateFieldMapping maps a form question to a lead field
func (s *Store) CreateFieldMapping(ctx context.Context, mapping *models.FacebookFormFieldMapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if mapping.ID == uuid.Nil {
		mapping.ID = uuid.New()
	}
	s.mappings[mapping.FormID] = append(s.mappings[mapping.FormID], *mapping)
	return nil
}

// ListFieldMappings lists the mappings of a form
func (s *Store) ListFieldMappings(ctx context.Context, formID uuid.UUID) ([]models.FacebookFormFieldMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]models.FacebookFormFieldMapping(nil), s.mappings[formID]...), nil
}

// Schedules

// UpsertSchedule stores the schedule of a workflow
func (s *Store) UpsertSchedule(ctx context.Context, schedule *models.WorkflowSchedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if existing, ok := s.schedules[schedule.WorkflowID]; ok {
		schedule.ID = existing.ID
		schedule.CreatedAt = existing.CreatedAt
	} else {
		if schedule.ID == uuid.Nil {
			schedule.ID = uuid.New()
		}
		schedule.CreatedAt = now
	}
	schedule.UpdatedAt = now
	sc := *schedule
	s.schedules[schedule.WorkflowID] = &sc
	return nil
}

// GetScheduleByWorkflowID retrieves a workflow's schedule
func (s *Store) GetScheduleByWorkflowID(ctx context.Context, workflowID uuid.UUID) (*models.WorkflowSchedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	schedule, ok := s.schedules[workflowID]
	if !ok {
		return nil, models.ErrNotFound
	}
	sc := *schedule
	return &sc, nil
}

// DeleteScheduleByWorkflowID removes a workflow's schedule
func (s *Store) DeleteScheduleByWorkflowID(ctx context.Context, workflowID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.schedules, workflowID)
	return nil
}

// GetDueSchedules lists enabled schedules due at now
func (s *Store) GetDueSchedules(ctx context.Context, now time.Time) ([]*models.WorkflowSchedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.WorkflowSchedule
	for _, schedule := range s.schedules {
		if schedule.Enabled && schedule.NextTriggerAt != nil && !schedule.NextTriggerAt.After(now) {
			sc := *schedule
			out = append(out, &sc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextTriggerAt.Before(*out[j].NextTriggerAt) })
	return out, nil
}

// UpdateNextTrigger records a fired schedule
func (s *Store) UpdateNextTrigger(ctx context.Context, id uuid.UUID, lastTriggered, nextTrigger time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, schedule := range s.schedules {
		if schedule.ID == id {
			schedule.LastTriggeredAt = &lastTriggered
			schedule.NextTriggerAt = &nextTrigger
			schedule.UpdatedAt = s.now()
			return nil
		}
	}
	return models.ErrNotFound
}

// ListSchedules lists schedules
func (s *Store) ListSchedules(ctx context.Context, limit, offset int) ([]*models.WorkflowSchedule, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.WorkflowSchedule, 0, len(s.schedules))
	for _, schedule := range s.schedules {
		sc := *schedule
		out = append(out, &sc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	total := int64(len(out))
	return paginate(out, limit, offset), total, nil
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if strings.EqualFold(item, s) {
			return true
		}
	}
	return false
}

// Copies isolate stored values from callers the way a database round trip would.

func copyWorkflow(w *models.Workflow) *models.Workflow {
	out := *w
	if def, err := w.Definition.Clone(); err == nil {
		out.Definition = def
	}
	return &out
}

func copyEvent(e *models.TriggerEventLog) *models.TriggerEventLog {
	out := *e
	out.Payload = copyJSONB(e.Payload)
	return &out
}

func copyExecution(e *models.WorkflowExecution) *models.WorkflowExecution {
	out := *e
	out.Context = copyJSONB(e.Context)
	if def, err := e.Definition.Clone(); err == nil {
		out.Definition = def
	}
	return &out
}

func copyStep(s *models.WorkflowStepRun) *models.WorkflowStepRun {
	out := *s
	out.Output = copyJSONB(s.Output)
	return &out
}

func copyLead(l *models.Lead) *models.Lead {
	out := *l
	out.Tags = append([]string{}, l.Tags...)
	out.RawPayload = copyJSONB(l.RawPayload)
	return &out
}

func copyJSONB(j models.JSONB) models.JSONB {
	if j == nil {
		return nil
	}
	raw, err := json.Marshal(j)
	if err != nil {
		return j
	}
	var out models.JSONB
	if err := json.Unmarshal(raw, &out); err != nil {
		return j
	}
	return out
}

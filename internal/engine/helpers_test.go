package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/davidmoltin/leadflow/internal/models"
	"github.com/davidmoltin/leadflow/internal/queue"
	"github.com/davidmoltin/leadflow/internal/repository/memory"
	"github.com/davidmoltin/leadflow/pkg/logger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type sentMessage struct {
	To      string
	Subject string
	Body    string
}

type recordingSender struct {
	mu       sync.Mutex
	emails   []sentMessage
	messages []sentMessage
	err      error
}

func (s *recordingSender) SendEmail(ctx context.Context, to, subject, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.emails = append(s.emails, sentMessage{To: to, Subject: subject, Body: body})
	return nil
}

func (s *recordingSender) SendWhatsApp(ctx context.Context, to, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.messages = append(s.messages, sentMessage{To: to, Body: message})
	return nil
}

func (s *recordingSender) Emails() []sentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentMessage(nil), s.emails...)
}

func (s *recordingSender) WhatsApps() []sentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentMessage(nil), s.messages...)
}

// harness wires the engine to in-memory storage and queue
type harness struct {
	store    *memory.Store
	queue    *queue.MemoryQueue
	clock    *fakeClock
	sender   *recordingSender
	actions  *ActionExecutor
	executor *WorkflowExecutor
	router   *EventRouter
}

func newHarness(t testing.TB, extra ...ActionHandler) *harness {
	t.Helper()
	log := logger.NewForTesting()
	clock := newFakeClock()
	store := memory.NewStore(clock.Now)
	q := queue.NewMemoryQueue(clock.Now)
	sender := &recordingSender{}

	actions := NewActionExecutor(log, nil,
		NewEmailHandler(sender),
		NewWhatsAppHandler(sender),
		NewWebhookHandler(log, nil, WithWebhookBackoff(time.Millisecond, 5*time.Millisecond)),
		NewAddTagHandler(store),
		NewRemoveTagHandler(store),
		NewUpdateFieldHandler(store),
		NewAssignHandler(store),
	)
	for _, h := range extra {
		actions.Register(h)
	}
	require.NoError(t, actions.Validate())

	contextBuilder := NewContextBuilder(store, log)
	executor := NewWorkflowExecutor(contextBuilder, actions, store, store, q, log, WithClock(clock.Now))
	router := NewEventRouter(store, store, executor, contextBuilder, q, log, nil)
	router.clock = clock.Now

	return &harness{
		store:    store,
		queue:    q,
		clock:    clock,
		sender:   sender,
		actions:  actions,
		executor: executor,
		router:   router,
	}
}

// drain runs ready jobs until the queue has nothing due
func (h *harness) drain(t testing.TB) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < 1000; i++ {
		job, ok := h.queue.TryDequeue()
		if !ok {
			return
		}
		var err error
		switch job.Kind {
		case queue.JobProcessEvent:
			err = h.router.ProcessEvent(ctx, job.TargetID)
		case queue.JobExecuteStep:
			err = h.executor.ExecuteStep(ctx, job.TargetID)
		case queue.JobResumeStep:
			err = h.executor.ResumeStep(ctx, job.TargetID)
		case queue.JobRecoverStep:
			err = h.executor.RecoverStep(ctx, job.TargetID)
		case queue.JobRecoverRun:
			err = h.executor.RecoverRun(ctx, job.TargetID)
		default:
			err = errors.New("unknown job kind")
		}
		require.NoError(t, err, "job %s for %s", job.Kind, job.TargetID)
	}
	t.Fatal("queue did not drain")
}

func (h *harness) createLead(t testing.TB, status string) *models.Lead {
	t.Helper()
	lead := &models.Lead{
		Name:   "Jane Doe",
		Email:  "jane@example.com",
		Phone:  "+15550100",
		Status: status,
		Source: "facebook",
	}
	require.NoError(t, h.store.CreateLead(context.Background(), lead, nil))
	return lead
}

func (h *harness) createWorkflow(t testing.TB, active bool, trigger models.Trigger, actions ...models.Action) *models.Workflow {
	t.Helper()
	wf := &models.Workflow{
		Name:   "test workflow",
		Active: active,
		Definition: models.WorkflowDefinition{
			Trigger: trigger,
			Actions: actions,
		},
	}
	if len(actions) > 0 {
		wf.Definition.StartActionID = actions[0].ID
	}
	require.NoError(t, h.store.CreateWorkflow(context.Background(), wf))
	return wf
}

func (h *harness) ingestNewLead(t testing.TB, lead *models.Lead) *models.TriggerEventLog {
	t.Helper()
	event, created, err := h.router.IngestEvent(context.Background(), models.CreateEventRequest{
		TriggerType: models.TriggerCreateNewLead,
		Payload: map[string]interface{}{
			models.PayloadLeadID: lead.ID.String(),
			models.PayloadSource: lead.Source,
		},
	})
	require.NoError(t, err)
	require.True(t, created)
	return event
}

func (h *harness) runsFor(t testing.TB, workflowID uuid.UUID) []models.WorkflowExecution {
	t.Helper()
	runs, _, err := h.store.ListExecutions(context.Background(), models.ExecutionFilter{WorkflowID: &workflowID})
	require.NoError(t, err)
	return runs
}

func (h *harness) stepsFor(t testing.TB, executionID uuid.UUID) map[string]models.WorkflowStepRun {
	t.Helper()
	steps, err := h.store.ListStepRuns(context.Background(), executionID)
	require.NoError(t, err)
	out := make(map[string]models.WorkflowStepRun, len(steps))
	for _, s := range steps {
		out[s.StepID] = s
	}
	return out
}

func newLeadTrigger() models.Trigger {
	return models.Trigger{Type: models.TriggerCreateNewLead, Config: models.CreateNewLeadTrigger{}}
}

func emailAction(id, next string) models.Action {
	return models.Action{
		ID:     id,
		Type:   models.ActionSendEmail,
		NextID: next,
		Config: models.SendEmailAction{Subject: "Welcome {{name}}", Body: "Hello {{name}}"},
	}
}

func whatsAppAction(id, next string) models.Action {
	return models.Action{
		ID:     id,
		Type:   models.ActionSendWhatsApp,
		NextID: next,
		Config: models.SendWhatsAppAction{Message: "Hi {{name}}"},
	}
}

func delayAction(id, next string, duration int, unit models.DelayUnit) models.Action {
	return models.Action{
		ID:     id,
		Type:   models.ActionDelay,
		NextID: next,
		Config: models.DelayAction{Duration: duration, Unit: unit},
	}
}

func statusCondition(id, status, yes, no string) models.Action {
	return models.Action{
		ID:   id,
		Type: models.ActionCondition,
		Config: models.ConditionAction{
			Operator:   models.LogicalAnd,
			Conditions: []models.Condition{{Field: "status", Operator: models.OpEquals, Value: status}},
			YesHeadID:  yes,
			NoHeadID:   no,
		},
	}
}

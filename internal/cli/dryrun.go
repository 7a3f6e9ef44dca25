package cli

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/davidmoltin/leadflow/internal/app"
	"github.com/davidmoltin/leadflow/internal/engine"
	"github.com/davidmoltin/leadflow/internal/models"
	"github.com/davidmoltin/leadflow/internal/queue"
	"github.com/davidmoltin/leadflow/internal/repository/memory"
	"github.com/davidmoltin/leadflow/pkg/logger"
)

const maxDryRunJobs = 10000

// DryRunInput is the workflow and the event it is tried against
type DryRunInput struct {
	Workflow *models.Workflow
	// Payload of the triggering event. Lead triggers get a sample lead when
	// the payload carries no lead_id.
	Payload map[string]interface{}
	// Lead overrides the sample lead
	Lead *models.Lead
	// Fields are custom field values for the sample lead
	Fields map[string]string
}

// Delivery is a message or request the run would have sent
type Delivery struct {
	Channel string `json:"channel"`
	To      string `json:"to"`
	Subject string `json:"subject,omitempty"`
	Body    string `json:"body"`
}

// DryRunReport describes everything a run did
type DryRunReport struct {
	Event      *models.TriggerEventLog         `json:"event"`
	Runs       []models.ExecutionTraceResponse `json:"runs"`
	Lead       *models.Lead                    `json:"lead,omitempty"`
	Deliveries []Delivery                      `json:"deliveries"`
	// SimulatedTime is how far the clock was advanced to release delays
	SimulatedTime time.Duration `json:"simulated_time"`
}

// DryRun executes a workflow against one event entirely in memory. Messages
// and outbound webhooks are recorded instead of sent, and delays are
// released by advancing a simulated clock.
func DryRun(ctx context.Context, in DryRunInput, log *logger.Logger) (*DryRunReport, error) {
	if in.Workflow == nil {
		return nil, fmt.Errorf("no workflow to run")
	}
	if log == nil {
		log = logger.NewForTesting()
	}

	clock := &simClock{now: time.Now().UTC()}
	start := clock.Now()
	store := memory.NewStore(clock.Now)
	jobs := queue.NewMemoryQueue(clock.Now)
	defer jobs.Close()
	outbox := &recorder{}

	eng, err := app.NewEngine(app.Deps{
		Workflows:       store,
		Events:          store,
		Executions:      store,
		Leads:           store,
		Facebook:        store,
		Schedules:       store,
		Sender:          outbox,
		Queue:           jobs,
		Logger:          log,
		ExecutorOptions: []engine.ExecutorOption{engine.WithClock(clock.Now)},
		WebhookOptions: []engine.WebhookOption{
			engine.WithWebhookClient(&http.Client{Transport: outbox}),
			engine.WithWebhookBackoff(time.Millisecond, time.Millisecond),
		},
	})
	if err != nil {
		return nil, err
	}

	workflow := *in.Workflow
	workflow.ID = uuid.New()
	workflow.Active = true
	if err := store.CreateWorkflow(ctx, &workflow); err != nil {
		return nil, fmt.Errorf("failed to load workflow: %w", err)
	}

	payload := make(map[string]interface{}, len(in.Payload)+2)
	for k, v := range in.Payload {
		payload[k] = v
	}

	var lead *models.Lead
	if needsLead(workflow.Definition.Trigger.Type) {
		if id, _ := payload[models.PayloadLeadID].(string); id == "" {
			lead, err = createSampleLead(ctx, store, in)
			if err != nil {
				return nil, err
			}
			payload[models.PayloadLeadID] = lead.ID.String()
		}
	}
	fillTriggerPayload(workflow.Definition.Trigger, payload, lead)

	var event *models.TriggerEventLog
	if workflow.Definition.Trigger.Type == models.TriggerSchedule {
		event, err = eng.Router.TriggerSchedule(ctx, workflow.ID, clock.Now())
	} else {
		event, _, err = eng.Router.IngestEvent(ctx, models.CreateEventRequest{
			TriggerType: workflow.Definition.Trigger.Type,
			Payload:     payload,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to ingest event: %w", err)
	}

	if err := drain(ctx, jobs, store, eng, clock); err != nil {
		return nil, err
	}

	report := &DryRunReport{Deliveries: outbox.list(), SimulatedTime: clock.Now().Sub(start)}
	if report.Event, err = store.GetEventLogByID(ctx, event.ID); err != nil {
		return nil, err
	}

	executions, _, err := store.ListExecutions(ctx, models.ExecutionFilter{EventLogID: &event.ID, Limit: 100})
	if err != nil {
		return nil, err
	}
	for _, execution := range executions {
		trace, err := eng.Executor.GetTrace(ctx, execution.ID)
		if err != nil {
			return nil, err
		}
		report.Runs = append(report.Runs, *trace)
	}

	if lead != nil {
		if report.Lead, err = store.GetLeadByID(ctx, lead.ID); err != nil {
			return nil, err
		}
	}
	return report, nil
}

// drain runs jobs until none are ready, then jumps the clock to the
// earliest delayed step and repeats
func drain(ctx context.Context, jobs *queue.MemoryQueue, store *memory.Store, eng *app.Engine, clock *simClock) error {
	for n := 0; n < maxDryRunJobs; n++ {
		job, ok := jobs.TryDequeue()
		if !ok {
			next, err := nextResume(ctx, store, clock.Now())
			if err != nil || next.IsZero() {
				return err
			}
			clock.Set(next)
			continue
		}

		var err error
		switch job.Kind {
		case queue.JobProcessEvent:
			err = eng.Router.ProcessEvent(ctx, job.TargetID)
		case queue.JobExecuteStep:
			err = eng.Executor.ExecuteStep(ctx, job.TargetID)
		case queue.JobResumeStep:
			err = eng.Executor.ResumeStep(ctx, job.TargetID)
		case queue.JobRecoverStep:
			err = eng.Executor.RecoverStep(ctx, job.TargetID)
		case queue.JobRecoverRun:
			err = eng.Executor.RecoverRun(ctx, job.TargetID)
		default:
			err = fmt.Errorf("unknown job kind %q", job.Kind)
		}
		if err != nil {
			return fmt.Errorf("job %s for %s: %w", job.Kind, job.TargetID, err)
		}
	}
	return fmt.Errorf("workflow did not settle after %d jobs", maxDryRunJobs)
}

func nextResume(ctx context.Context, store *memory.Store, now time.Time) (time.Time, error) {
	delayed, err := store.ListDueDelayedStepRuns(ctx, now.AddDate(100, 0, 0), 100)
	if err != nil {
		return time.Time{}, err
	}
	var next time.Time
	for _, step := range delayed {
		if step.ResumeAt == nil {
			continue
		}
		if next.IsZero() || step.ResumeAt.Before(next) {
			next = *step.ResumeAt
		}
	}
	if !next.IsZero() && !next.After(now) {
		next = now.Add(time.Second)
	}
	return next, nil
}

func needsLead(t models.TriggerType) bool {
	switch t {
	case models.TriggerCreateNewLead, models.TriggerUpdateLeadStatus, models.TriggerFacebookLeadForm:
		return true
	}
	return false
}

func createSampleLead(ctx context.Context, store *memory.Store, in DryRunInput) (*models.Lead, error) {
	lead := &models.Lead{
		Name:   "Sample Lead",
		Email:  "sample.lead@example.com",
		Phone:  "+15550100",
		Status: "new",
		Source: "manual",
	}
	if in.Lead != nil {
		copied := *in.Lead
		copied.ID = uuid.Nil
		lead = &copied
	}

	var values []models.LeadFieldValue
	for name, value := range in.Fields {
		field := &models.LeadField{Name: strings.ToLower(name), Label: name, FieldType: "text"}
		if err := store.CreateLeadField(ctx, field); err != nil {
			return nil, fmt.Errorf("failed to define field %s: %w", name, err)
		}
		values = append(values, models.LeadFieldValue{LeadFieldID: field.ID, Value: value})
	}

	if err := store.CreateLead(ctx, lead, values); err != nil {
		return nil, fmt.Errorf("failed to create sample lead: %w", err)
	}
	return lead, nil
}

// fillTriggerPayload adds the keys the trigger matches on when the caller
// left them out, so a bare workflow file can be tried as is
func fillTriggerPayload(trigger models.Trigger, payload map[string]interface{}, lead *models.Lead) {
	setDefault := func(key string, value interface{}) {
		if _, ok := payload[key]; !ok && value != "" {
			payload[key] = value
		}
	}

	switch cfg := trigger.Config.(type) {
	case models.CreateNewLeadTrigger:
		if len(cfg.Sources) > 0 {
			setDefault(models.PayloadSource, cfg.Sources[0])
		} else if lead != nil {
			setDefault(models.PayloadSource, lead.Source)
		}
	case models.UpdateLeadStatusTrigger:
		from := cfg.StatusFrom
		if from == "" && lead != nil {
			from = lead.Status
		}
		to := cfg.StatusTo
		if to == "" {
			to = "contacted"
		}
		setDefault(models.PayloadFromStatus, from)
		setDefault(models.PayloadToStatus, to)
	case models.FacebookLeadFormTrigger:
		setDefault(models.PayloadPageID, cfg.PageID)
		setDefault(models.PayloadFormID, cfg.FormID)
	case models.InboundWebhookTrigger:
		setDefault(models.PayloadPath, cfg.Path)
		setDefault(models.PayloadSecret, cfg.Secret)
	case models.EmailEventTrigger:
		setDefault(models.PayloadTemplateID, cfg.TemplateID)
	case models.FormSubmittedTrigger:
		setDefault(models.PayloadFormID, cfg.FormID)
	}
}

type simClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *simClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *simClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.After(c.now) {
		c.now = t
	}
}

// recorder captures outbound email, WhatsApp and webhook traffic
type recorder struct {
	mu         sync.Mutex
	deliveries []Delivery
}

func (r *recorder) add(d Delivery) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliveries = append(r.deliveries, d)
}

func (r *recorder) list() []Delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Delivery{}, r.deliveries...)
}

func (r *recorder) SendEmail(ctx context.Context, to, subject, body string) error {
	r.add(Delivery{Channel: "email", To: to, Subject: subject, Body: body})
	return nil
}

func (r *recorder) SendWhatsApp(ctx context.Context, to, message string) error {
	r.add(Delivery{Channel: "whatsapp", To: to, Body: message})
	return nil
}

// RoundTrip answers every webhook with 200 and an empty JSON object
func (r *recorder) RoundTrip(req *http.Request) (*http.Response, error) {
	var body string
	if req.Body != nil {
		raw, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		req.Body.Close()
		body = string(raw)
	}
	r.add(Delivery{Channel: "webhook", To: req.Method + " " + req.URL.String(), Body: body})

	return &http.Response{
		StatusCode: http.StatusOK,
		Status:     "200 OK",
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader("{}")),
		Request:    req,
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
	}, nil
}

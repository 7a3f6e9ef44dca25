package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/davidmoltin/leadflow/internal/api/rest"
	"github.com/davidmoltin/leadflow/internal/api/rest/handlers"
	"github.com/davidmoltin/leadflow/internal/engine"
	"github.com/davidmoltin/leadflow/internal/models"
	"github.com/davidmoltin/leadflow/internal/queue"
	"github.com/davidmoltin/leadflow/internal/repository/memory"
	"github.com/davidmoltin/leadflow/internal/services"
	"github.com/davidmoltin/leadflow/pkg/logger"
)

const (
	testVerifyToken = "verify-me"
	testAppSecret   = "app-secret"
)

type outbox struct {
	mu     sync.Mutex
	emails []string
}

func (o *outbox) SendEmail(ctx context.Context, to, subject, body string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.emails = append(o.emails, to+": "+subject)
	return nil
}

func (o *outbox) Emails() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.emails...)
}

type staticChecker struct{ err error }

func (c staticChecker) HealthCheck(ctx context.Context) error { return c.err }

// testEnv serves the full API on top of the in-memory store
type testEnv struct {
	store    *memory.Store
	queue    *queue.MemoryQueue
	events   *engine.EventRouter
	executor *engine.WorkflowExecutor
	outbox   *outbox
	handler  http.Handler
}

func newTestEnv(t testing.TB) *testEnv {
	t.Helper()
	log := logger.NewForTesting()
	store := memory.NewStore(nil)
	q := queue.NewMemoryQueue(nil)
	mail := &outbox{}

	actions := engine.NewActionExecutor(log, nil,
		engine.NewEmailHandler(mail),
		engine.NewAddTagHandler(store),
		engine.NewRemoveTagHandler(store),
	)
	contextBuilder := engine.NewContextBuilder(store, log)
	executor := engine.NewWorkflowExecutor(contextBuilder, actions, store, store, q, log)
	events := engine.NewEventRouter(store, store, executor, contextBuilder, q, log, nil)

	schedules := services.NewScheduleService(store, log)
	leads := services.NewLeadService(store, events, log, nil)
	capture := services.NewLeadCaptureService(events, nil, store, store, log, nil)

	h := &handlers.Handlers{
		Health:    handlers.NewHealthHandler(log, "test", map[string]handlers.HealthChecker{"database": staticChecker{}}),
		Webhook:   handlers.NewWebhookHandler(log, capture, events, testVerifyToken, testAppSecret),
		Event:     handlers.NewEventHandler(log, events, store),
		Execution: handlers.NewExecutionHandler(log, executor, store),
		Workflow:  handlers.NewWorkflowHandler(log, store, schedules),
		Lead:      handlers.NewLeadHandler(log, leads),
		Schedule:  handlers.NewScheduleHandler(log, schedules),
	}
	router := rest.NewRouter(log, h, nil, rest.Options{Gatherer: prometheus.NewRegistry()})

	return &testEnv{
		store:    store,
		queue:    q,
		events:   events,
		executor: executor,
		outbox:   mail,
		handler:  router.Setup(),
	}
}

func (e *testEnv) do(t testing.TB, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case []byte:
		reader = bytes.NewReader(b)
	case string:
		reader = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

// drain runs queued jobs until nothing is due
func (e *testEnv) drain(t testing.TB) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < 1000; i++ {
		job, ok := e.queue.TryDequeue()
		if !ok {
			return
		}
		var err error
		switch job.Kind {
		case queue.JobProcessEvent:
			err = e.events.ProcessEvent(ctx, job.TargetID)
		case queue.JobExecuteStep:
			err = e.executor.ExecuteStep(ctx, job.TargetID)
		case queue.JobResumeStep:
			err = e.executor.ResumeStep(ctx, job.TargetID)
		default:
			err = errors.New("unknown job kind")
		}
		require.NoError(t, err, "job %s for %s", job.Kind, job.TargetID)
	}
	t.Fatal("queue did not drain")
}

func (e *testEnv) createWorkflow(t testing.TB, wf *models.Workflow) *models.Workflow {
	t.Helper()
	require.NoError(t, e.store.CreateWorkflow(context.Background(), wf))
	return wf
}

func (e *testEnv) createLead(t testing.TB, source string) *models.Lead {
	t.Helper()
	lead := &models.Lead{Name: "Jane Doe", Email: "jane@example.com", Status: "new", Source: source}
	require.NoError(t, e.store.CreateLead(context.Background(), lead, nil))
	return lead
}

func decode(t testing.TB, rec *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
}

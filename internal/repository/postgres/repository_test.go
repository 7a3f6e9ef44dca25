package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidmoltin/leadflow/internal/engine"
	"github.com/davidmoltin/leadflow/internal/models"
	"github.com/davidmoltin/leadflow/pkg/testutil"
)

var (
	_ engine.WorkflowRepository  = (*WorkflowRepository)(nil)
	_ engine.EventLogRepository  = (*EventRepository)(nil)
	_ engine.ExecutionRepository = (*ExecutionRepository)(nil)
	_ engine.LeadRepository      = (*LeadRepository)(nil)
)

func TestEventRepository_DedupAndClaim(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := testutil.Context(t)
	repo := NewEventRepository(db.DB)
	fb := testutil.NewFixtureBuilder()

	req := fb.EventRequest(uuid.New(), "fb:444")
	first := fb.EventLog(req)
	created, err := repo.CreateEventLog(ctx, first)
	require.NoError(t, err)
	assert.True(t, created)

	dup := fb.EventLog(req)
	created, err = repo.CreateEventLog(ctx, dup)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, dup.ID, "duplicate loads the stored event")

	claimed, err := repo.ClaimEventLog(ctx, first.ID)
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = repo.ClaimEventLog(ctx, first.ID)
	require.NoError(t, err)
	assert.False(t, claimed, "an event is claimed once")

	require.NoError(t, repo.FailEventLog(ctx, first.ID, "graph unavailable"))
	requeued, err := repo.RequeueEventLog(ctx, first.ID)
	require.NoError(t, err)
	assert.True(t, requeued)

	stored, err := repo.GetEventLogByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EventStatusPending, stored.Status)
	assert.Equal(t, "fb:444", *stored.DedupKey)

	stale, err := repo.ListStalePendingEventLogs(ctx, time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, first.ID, stale[0].ID)
}

func TestEventRepository_NotFound(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := NewEventRepository(db.DB)

	_, err := repo.GetEventLogByID(testutil.Context(t), uuid.New())
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestExecutionRepository_RunOncePerWorkflowAndEvent(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := testutil.Context(t)
	events := NewEventRepository(db.DB)
	repo := NewExecutionRepository(db.DB)
	fb := testutil.NewFixtureBuilder()

	event := fb.EventLog(fb.EventRequest(uuid.New(), ""))
	_, err := events.CreateEventLog(ctx, event)
	require.NoError(t, err)

	wf := fb.Workflow()
	run := newRun(wf, event.ID)
	created, err := repo.CreateExecution(ctx, run)
	require.NoError(t, err)
	assert.True(t, created)

	again := newRun(wf, event.ID)
	created, err = repo.CreateExecution(ctx, again)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, run.ID, again.ID)

	runs, total, err := repo.ListExecutions(ctx, models.ExecutionFilter{WorkflowID: &wf.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, runs, 1)
	assert.Equal(t, "tag_vip", runs[0].Definition.Actions[1].ID, "definition is frozen into the run")

	cancelled, err := repo.CancelExecution(ctx, run.ID, time.Now())
	require.NoError(t, err)
	assert.True(t, cancelled)

	run.ActionsExecuted = 3
	updated, err := repo.UpdateExecution(ctx, run)
	require.NoError(t, err)
	assert.False(t, updated, "terminal runs are not overwritten")
}

func TestExecutionRepository_StepTransitions(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := testutil.Context(t)
	events := NewEventRepository(db.DB)
	repo := NewExecutionRepository(db.DB)
	fb := testutil.NewFixtureBuilder()

	event := fb.EventLog(fb.EventRequest(uuid.New(), ""))
	_, err := events.CreateEventLog(ctx, event)
	require.NoError(t, err)
	wf := fb.Workflow()
	run := newRun(wf, event.ID)
	_, err = repo.CreateExecution(ctx, run)
	require.NoError(t, err)

	step := &models.WorkflowStepRun{
		ID:          uuid.New(),
		ExecutionID: run.ID,
		WorkflowID:  wf.ID,
		StepID:      "wait",
		StepType:    models.ActionDelay,
		Status:      models.StepStatusPending,
		CreatedAt:   time.Now().Add(-time.Hour),
	}
	require.NoError(t, repo.CreateStepRun(ctx, step))

	stale, err := repo.ListStalePendingStepRuns(ctx, time.Now(), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)

	resumeAt := time.Now().Add(-time.Minute)
	step.Status = models.StepStatusDelayed
	step.ResumeAt = &resumeAt
	step.Output = models.JSONB{"resume_at": resumeAt.Format(time.RFC3339)}
	ok, err := repo.TransitionStepRun(ctx, step, models.StepStatusPending)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.TransitionStepRun(ctx, step, models.StepStatusPending)
	require.NoError(t, err)
	assert.False(t, ok, "a stale transition is rejected")

	due, err := repo.ListDueDelayedStepRuns(ctx, time.Now(), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, step.ID, due[0].ID)
	assert.Equal(t, step.Output["resume_at"], due[0].Output["resume_at"])

	_, err = repo.CancelExecution(ctx, run.ID, time.Now())
	require.NoError(t, err)
	due, err = repo.ListDueDelayedStepRuns(ctx, time.Now(), 10)
	require.NoError(t, err)
	assert.Empty(t, due, "steps of cancelled runs never resume")
}

func TestLeadRepository_TagsAndFields(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := testutil.Context(t)
	repo := NewLeadRepository(db.DB)
	fb := testutil.NewFixtureBuilder()

	budget := &models.LeadField{Name: "budget", Label: "Budget", FieldType: "text"}
	require.NoError(t, repo.CreateLeadField(ctx, budget))

	lead := fb.Lead(func(l *models.Lead) { l.Tags = []string{"Existing"} })
	require.NoError(t, repo.CreateLead(ctx, lead, []models.LeadFieldValue{
		{ID: uuid.New(), LeadID: lead.ID, LeadFieldID: budget.ID, Value: "10k"},
	}))
	assert.ErrorIs(t, repo.CreateLead(ctx, lead, nil), models.ErrConflict)

	tags, err := repo.AddTags(ctx, lead.ID, []string{"existing", "VIP", "vip"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Existing", "VIP"}, tags)

	tags, err = repo.RemoveTags(ctx, lead.ID, []string{"EXISTING"})
	require.NoError(t, err)
	assert.Equal(t, []string{"VIP"}, tags)

	require.NoError(t, repo.UpdateLeadColumn(ctx, lead.ID, models.LeadColumnStatus, "qualified"))
	require.NoError(t, repo.SetCustomField(ctx, lead.ID, "budget", "20k"))
	assert.ErrorIs(t, repo.SetCustomField(ctx, lead.ID, "shoe_size", "42"), models.ErrUnknownField)

	stored, err := repo.GetLeadByID(ctx, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, "qualified", stored.Status)

	values, err := repo.GetLeadFieldValues(ctx, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"budget": "20k"}, values)

	_, err = repo.AddTags(ctx, uuid.New(), []string{"x"})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestWorkflowRepository_ActiveByTrigger(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := testutil.Context(t)
	repo := NewWorkflowRepository(db.DB)
	fb := testutil.NewFixtureBuilder()

	active := fb.Workflow()
	inactive := fb.Workflow(func(w *models.Workflow) { w.Active = false })
	require.NoError(t, repo.CreateWorkflow(ctx, active))
	require.NoError(t, repo.CreateWorkflow(ctx, inactive))

	matches, err := repo.ListActiveWorkflowsByTrigger(ctx, models.TriggerCreateNewLead)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, active.ID, matches[0].ID)

	require.NoError(t, repo.SetWorkflowActive(ctx, active.ID, false))
	matches, err = repo.ListActiveWorkflowsByTrigger(ctx, models.TriggerCreateNewLead)
	require.NoError(t, err)
	assert.Empty(t, matches)

	assert.ErrorIs(t, repo.SetWorkflowActive(ctx, uuid.New(), true), models.ErrNotFound)
}

func TestScheduleRepository_Due(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	workflows := NewWorkflowRepository(db.DB)
	repo := NewScheduleRepository(db.DB)
	fb := testutil.NewFixtureBuilder()

	wf := fb.Workflow()
	require.NoError(t, workflows.CreateWorkflow(ctx, wf))

	next := time.Now().Add(-time.Minute)
	schedule := &models.WorkflowSchedule{
		WorkflowID:     wf.ID,
		CronExpression: "*/5 * * * *",
		Timezone:       "UTC",
		Enabled:        true,
		NextTriggerAt:  &next,
	}
	require.NoError(t, repo.UpsertSchedule(ctx, schedule))

	due, err := repo.GetDueSchedules(ctx, time.Now())
	require.NoError(t, err)
	require.Len(t, due, 1)

	require.NoError(t, repo.UpdateNextTrigger(ctx, due[0].ID, time.Now(), time.Now().Add(5*time.Minute)))
	due, err = repo.GetDueSchedules(ctx, time.Now())
	require.NoError(t, err)
	assert.Empty(t, due)
}

func newRun(wf *models.Workflow, eventID uuid.UUID) *models.WorkflowExecution {
	head := "check_source"
	return &models.WorkflowExecution{
		ID:            uuid.New(),
		WorkflowID:    wf.ID,
		EventLogID:    eventID,
		TriggerType:   wf.Definition.Trigger.Type,
		Definition:    wf.Definition,
		Context:       models.JSONB{},
		Status:        models.ExecutionStatusRunning,
		CurrentStepID: &head,
		TotalActions:  len(wf.Definition.Actions),
		StartedAt:     time.Now(),
	}
}

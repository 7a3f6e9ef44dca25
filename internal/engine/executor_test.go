package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/davidmoltin/leadflow/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// email, wait 2 days, then WhatsApp only if the lead is still new
func delayedFollowUpWorkflow(t *testing.T, h *harness) *models.Workflow {
	return h.createWorkflow(t, true, newLeadTrigger(),
		emailAction("welcome", "wait"),
		delayAction("wait", "still-new", 2, models.DelayDays),
		statusCondition("still-new", "new", "nudge", ""),
		whatsAppAction("nudge", ""),
	)
}

func TestExecutor_DelayedFollowUp(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	wf := delayedFollowUpWorkflow(t, h)
	lead := h.createLead(t, "new")

	h.ingestNewLead(t, lead)
	h.drain(t)

	emails := h.sender.Emails()
	require.Len(t, emails, 1)
	assert.Equal(t, "jane@example.com", emails[0].To)
	assert.Equal(t, "Welcome Jane Doe", emails[0].Subject)

	runs := h.runsFor(t, wf.ID)
	require.Len(t, runs, 1)
	run := runs[0]
	assert.Equal(t, models.ExecutionStatusRunning, run.Status)

	steps := h.stepsFor(t, run.ID)
	assert.Equal(t, models.StepStatusCompleted, steps["welcome"].Status)
	require.Equal(t, models.StepStatusDelayed, steps["wait"].Status)
	require.NotNil(t, steps["wait"].ResumeAt)
	assert.Equal(t, h.clock.Now().Add(48*time.Hour), *steps["wait"].ResumeAt)

	// Nothing happens before the delay is due.
	h.clock.Advance(47 * time.Hour)
	h.drain(t)
	assert.Empty(t, h.sender.WhatsApps())

	h.clock.Advance(time.Hour)
	h.drain(t)

	messages := h.sender.WhatsApps()
	require.Len(t, messages, 1)
	assert.Equal(t, "+15550100", messages[0].To)
	assert.Equal(t, "Hi Jane Doe", messages[0].Body)

	run2, err := h.store.GetExecutionByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, run2.Status)
	assert.Equal(t, 4, run2.ActionsExecuted)
	assert.NotNil(t, run2.CompletedAt)

	steps = h.stepsFor(t, run.ID)
	assert.Equal(t, models.StepStatusCompleted, steps["wait"].Status)
	require.NotNil(t, steps["still-new"].Branch)
	assert.Equal(t, models.BranchYes, *steps["still-new"].Branch)
	assert.Equal(t, models.StepStatusCompleted, steps["nudge"].Status)
}

func TestExecutor_ConditionSeesLeadChangesMadeDuringDelay(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	wf := delayedFollowUpWorkflow(t, h)
	lead := h.createLead(t, "new")

	h.ingestNewLead(t, lead)
	h.drain(t)

	require.NoError(t, h.store.UpdateLeadColumn(ctx, lead.ID, models.LeadColumnStatus, "contacted"))
	h.clock.Advance(48 * time.Hour)
	h.drain(t)

	assert.Empty(t, h.sender.WhatsApps())

	run := h.runsFor(t, wf.ID)[0]
	assert.Equal(t, models.ExecutionStatusCompleted, run.Status)

	steps := h.stepsFor(t, run.ID)
	require.NotNil(t, steps["still-new"].Branch)
	assert.Equal(t, models.BranchNo, *steps["still-new"].Branch)
	_, ran := steps["nudge"]
	assert.False(t, ran, "no-branch is empty so nudge must not run")
}

func TestExecutor_ResumeAfterWorkflowDeletedIsAbandoned(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	wf := delayedFollowUpWorkflow(t, h)
	lead := h.createLead(t, "new")

	h.ingestNewLead(t, lead)
	h.drain(t)

	require.NoError(t, h.store.DeleteWorkflow(ctx, wf.ID))
	h.clock.Advance(48 * time.Hour)
	h.drain(t)

	assert.Empty(t, h.sender.WhatsApps())

	run := h.runsFor(t, wf.ID)[0]
	assert.Equal(t, models.ExecutionStatusRunning, run.Status)
	assert.Equal(t, models.StepStatusDelayed, h.stepsFor(t, run.ID)["wait"].Status)
}

func TestExecutor_CancelledRunDoesNotResume(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	wf := delayedFollowUpWorkflow(t, h)
	lead := h.createLead(t, "new")

	h.ingestNewLead(t, lead)
	h.drain(t)

	run := h.runsFor(t, wf.ID)[0]
	cancelled, err := h.executor.CancelRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCancelled, cancelled.Status)

	_, err = h.executor.CancelRun(ctx, run.ID)
	assert.ErrorIs(t, err, ErrRunNotActive)

	h.clock.Advance(48 * time.Hour)
	h.drain(t)

	assert.Empty(t, h.sender.WhatsApps())
	assert.Equal(t, models.StepStatusDelayed, h.stepsFor(t, run.ID)["wait"].Status)
}

func TestExecutor_FailedActionFailsRun(t *testing.T) {
	h := newHarness(t)
	h.sender.err = errors.New("smtp: connection refused")
	wf := h.createWorkflow(t, true, newLeadTrigger(),
		emailAction("welcome", "nudge"),
		whatsAppAction("nudge", ""),
	)
	lead := h.createLead(t, "new")

	h.ingestNewLead(t, lead)
	h.drain(t)

	run := h.runsFor(t, wf.ID)[0]
	assert.Equal(t, models.ExecutionStatusFailed, run.Status)
	require.NotNil(t, run.ErrorMessage)
	assert.Contains(t, *run.ErrorMessage, "welcome")
	assert.Contains(t, *run.ErrorMessage, "connection refused")

	steps := h.stepsFor(t, run.ID)
	assert.Equal(t, models.StepStatusFailed, steps["welcome"].Status)
	require.NotNil(t, steps["welcome"].ErrorMessage)
	_, ran := steps["nudge"]
	assert.False(t, ran)
}

func TestExecutor_StepJobsAreIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	wf := h.createWorkflow(t, true, newLeadTrigger(), emailAction("welcome", ""))
	lead := h.createLead(t, "new")

	h.ingestNewLead(t, lead)
	h.drain(t)

	run := h.runsFor(t, wf.ID)[0]
	step := h.stepsFor(t, run.ID)["welcome"]

	// A redelivered job for a finished step does nothing.
	require.NoError(t, h.executor.ExecuteStep(ctx, step.ID))
	require.NoError(t, h.executor.ResumeStep(ctx, step.ID))
	h.drain(t)

	assert.Len(t, h.sender.Emails(), 1)
}

func TestExecutor_StartRunRejectsInactiveWorkflow(t *testing.T) {
	h := newHarness(t)
	wf := h.createWorkflow(t, false, newLeadTrigger(), emailAction("welcome", ""))

	_, err := h.executor.StartRun(context.Background(), wf, &models.TriggerEventLog{}, nil)
	assert.ErrorIs(t, err, ErrWorkflowInactive)
}

func TestExecutor_StartRunOncePerWorkflowAndEvent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	wf := h.createWorkflow(t, true, newLeadTrigger(), emailAction("welcome", ""))
	lead := h.createLead(t, "new")
	event := &models.TriggerEventLog{ID: lead.ID, TriggerType: models.TriggerCreateNewLead}

	first, err := h.executor.StartRun(ctx, wf, event, map[string]interface{}{})
	require.NoError(t, err)
	second, err := h.executor.StartRun(ctx, wf, event, map[string]interface{}{})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, h.runsFor(t, wf.ID), 1)
}

func TestExecutor_RunUsesDefinitionSnapshot(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	wf := delayedFollowUpWorkflow(t, h)
	lead := h.createLead(t, "new")

	h.ingestNewLead(t, lead)
	h.drain(t)

	// Editing the workflow mid-run must not change the running instance.
	edited, err := h.store.GetWorkflowByID(ctx, wf.ID)
	require.NoError(t, err)
	edited.Definition.Actions = []models.Action{emailAction("welcome", "")}
	require.NoError(t, h.store.UpdateWorkflow(ctx, edited))

	h.clock.Advance(48 * time.Hour)
	h.drain(t)

	assert.Len(t, h.sender.WhatsApps(), 1)
}

func TestExecutor_LeadMutatingActions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	owner := "6f1c0a52-7d1b-4c1e-9a55-0d6f1b0c9e11"
	require.NoError(t, h.store.CreateLeadField(ctx, &models.LeadField{Name: "budget", Label: "Budget", FieldType: "number"}))

	wf := h.createWorkflow(t, true, newLeadTrigger(),
		models.Action{ID: "tag", Type: models.ActionAddTag, NextID: "untag", Config: models.TagAction{Tags: []string{"hot", "fb"}}},
		models.Action{ID: "untag", Type: models.ActionRemoveTag, NextID: "status", Config: models.TagAction{Tags: []string{"fb"}, Remove: true}},
		models.Action{ID: "status", Type: models.ActionUpdateField, NextID: "budget", Config: models.UpdateFieldAction{Field: "status", Value: "qualified"}},
		models.Action{ID: "budget", Type: models.ActionUpdateField, NextID: "assign", Config: models.UpdateFieldAction{Field: "budget", Value: 2500}},
		models.Action{ID: "assign", Type: models.ActionAssignToUser, Config: models.AssignToUserAction{UserID: owner}},
	)
	lead := h.createLead(t, "new")

	h.ingestNewLead(t, lead)
	h.drain(t)

	run := h.runsFor(t, wf.ID)[0]
	assert.Equal(t, models.ExecutionStatusCompleted, run.Status)

	updated, err := h.store.GetLeadByID(ctx, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"hot"}, updated.Tags)
	assert.Equal(t, "qualified", updated.Status)
	require.NotNil(t, updated.OwnerID)
	assert.Equal(t, owner, updated.OwnerID.String())

	values, err := h.store.GetLeadFieldValues(ctx, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, "2500", values["budget"])
}

func TestExecutor_DanglingNextIDEndsRun(t *testing.T) {
	h := newHarness(t)
	wf := h.createWorkflow(t, true, newLeadTrigger(), emailAction("welcome", "ghost"))
	lead := h.createLead(t, "new")

	h.ingestNewLead(t, lead)
	h.drain(t)

	runs := h.runsFor(t, wf.ID)
	require.Len(t, runs, 1)
	assert.Equal(t, models.ExecutionStatusCompleted, runs[0].Status)
	assert.Nil(t, runs[0].ErrorMessage)

	steps := h.stepsFor(t, runs[0].ID)
	require.Len(t, steps, 1)
	assert.Equal(t, models.StepStatusCompleted, steps["welcome"].Status)
	assert.Len(t, h.sender.Emails(), 1)
}

func TestExecutor_ConditionBranchToMissingActionEndsRun(t *testing.T) {
	h := newHarness(t)
	wf := h.createWorkflow(t, true, newLeadTrigger(), statusCondition("check", "new", "ghost", ""))
	lead := h.createLead(t, "new")

	h.ingestNewLead(t, lead)
	h.drain(t)

	runs := h.runsFor(t, wf.ID)
	require.Len(t, runs, 1)
	assert.Equal(t, models.ExecutionStatusCompleted, runs[0].Status)

	steps := h.stepsFor(t, runs[0].ID)
	require.Len(t, steps, 1)
	require.NotNil(t, steps["check"].Branch)
	assert.Equal(t, models.BranchYes, *steps["check"].Branch)
}

func TestExecutor_ResumeOfUnknownStepIsAbandoned(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	wf := h.createWorkflow(t, true, newLeadTrigger(),
		delayAction("wait", "bye", 1, models.DelayHours),
		emailAction("bye", ""),
	)
	lead := h.createLead(t, "new")

	h.ingestNewLead(t, lead)
	h.drain(t)

	run := h.runsFor(t, wf.ID)[0]
	step := h.stepsFor(t, run.ID)["wait"]
	require.Equal(t, models.StepStatusDelayed, step.Status)

	step.StepID = "ghost"
	updated, err := h.store.TransitionStepRun(ctx, &step, models.StepStatusDelayed)
	require.NoError(t, err)
	require.True(t, updated)

	h.clock.Advance(2 * time.Hour)
	require.NoError(t, h.executor.ResumeStep(ctx, step.ID))

	stored, err := h.store.GetStepRunByID(ctx, step.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StepStatusDelayed, stored.Status)
	assert.Equal(t, models.ExecutionStatusRunning, h.run(t, run.ID).Status)
	assert.Empty(t, h.sender.Emails())
}

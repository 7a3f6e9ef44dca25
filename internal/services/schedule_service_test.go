package services

import (
	"context"
	"testing"
	"time"

	"github.com/davidmoltin/leadflow/internal/models"
	"github.com/davidmoltin/leadflow/internal/repository/memory"
	"github.com/davidmoltin/leadflow/pkg/logger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scheduledWorkflow(cron string, active bool) *models.Workflow {
	return &models.Workflow{
		ID:     uuid.New(),
		Name:   "daily digest",
		Active: active,
		Definition: models.WorkflowDefinition{
			Trigger: models.Trigger{Type: models.TriggerSchedule, Config: models.ScheduleTrigger{Cron: cron}},
			Actions: []models.Action{{ID: "tag", Type: models.ActionAddTag, Config: models.TagAction{Tags: []string{"digest"}}}},
		},
	}
}

func newTestScheduleService(now time.Time) (*ScheduleService, *memory.Store) {
	store := memory.NewStore(func() time.Time { return now })
	svc := NewScheduleService(store, logger.NewForTesting())
	svc.now = func() time.Time { return now }
	return svc, store
}

func TestScheduleService_SyncCreatesAndRemoves(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 8, 30, 0, 0, time.UTC)
	svc, store := newTestScheduleService(now)
	wf := scheduledWorkflow("0 9 * * *", true)

	require.NoError(t, svc.SyncWorkflowSchedule(ctx, wf))

	schedule, err := store.GetScheduleByWorkflowID(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, "UTC", schedule.Timezone)
	require.NotNil(t, schedule.NextTriggerAt)
	assert.Equal(t, time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC), schedule.NextTriggerAt.UTC())

	wf.Active = false
	require.NoError(t, svc.SyncWorkflowSchedule(ctx, wf))
	_, err = store.GetScheduleByWorkflowID(ctx, wf.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestScheduleService_SyncRejectsInvalidCron(t *testing.T) {
	svc, _ := newTestScheduleService(time.Now())
	err := svc.SyncWorkflowSchedule(context.Background(), scheduledWorkflow("every day at nine", true))
	assert.ErrorContains(t, err, "invalid cron expression")
}

func TestScheduleService_DueAndMarkTriggered(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 8, 30, 0, 0, time.UTC)
	svc, _ := newTestScheduleService(now)
	wf := scheduledWorkflow("@hourly", true)
	require.NoError(t, svc.SyncWorkflowSchedule(ctx, wf))

	due, err := svc.GetDueSchedules(ctx)
	require.NoError(t, err)
	assert.Empty(t, due)

	later := now.Add(time.Hour)
	svc.now = func() time.Time { return later }

	due, err = svc.GetDueSchedules(ctx)
	require.NoError(t, err)
	require.Len(t, due, 1)

	require.NoError(t, svc.MarkTriggered(ctx, due[0]))

	due, err = svc.GetDueSchedules(ctx)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestScheduleService_GetNextRuns(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 8, 30, 0, 0, time.UTC)
	svc, _ := newTestScheduleService(now)
	wf := scheduledWorkflow("0 9 * * *", true)
	require.NoError(t, svc.SyncWorkflowSchedule(ctx, wf))

	runs, err := svc.GetNextRuns(ctx, wf.ID, 3)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, 24*time.Hour, runs[1].Sub(runs[0]))
	assert.Equal(t, 24*time.Hour, runs[2].Sub(runs[1]))
}

func TestScheduleService_ValidateCronExpression(t *testing.T) {
	svc, _ := newTestScheduleService(time.Now())

	tests := []struct {
		expr    string
		wantErr bool
	}{
		{"0 9 * * *", false},
		{"30 0 9 * * MON-FRI", false},
		{"@daily", false},
		{"* * *", true},
		{"", true},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			err := svc.ValidateCronExpression(tt.expr)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

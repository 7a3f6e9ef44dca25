package workers

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidmoltin/leadflow/internal/models"
	"github.com/davidmoltin/leadflow/internal/queue"
	"github.com/davidmoltin/leadflow/internal/repository/memory"
	"github.com/davidmoltin/leadflow/pkg/logger"
)

func seedRun(t *testing.T, store *memory.Store, status models.ExecutionStatus, now time.Time) *models.WorkflowExecution {
	t.Helper()
	ctx := context.Background()

	event := &models.TriggerEventLog{
		TriggerType: models.TriggerCreateNewLead,
		Payload:     models.JSONB{},
		Status:      models.EventStatusCompleted,
		ReceivedAt:  now,
	}
	_, err := store.CreateEventLog(ctx, event)
	require.NoError(t, err)

	run := &models.WorkflowExecution{
		ID:          uuid.New(),
		WorkflowID:  uuid.New(),
		EventLogID:  event.ID,
		TriggerType: models.TriggerCreateNewLead,
		Status:      status,
		StartedAt:   now,
	}
	_, err = store.CreateExecution(ctx, run)
	require.NoError(t, err)
	return run
}

func seedStep(t *testing.T, store *memory.Store, run *models.WorkflowExecution, status models.StepRunStatus, createdAt time.Time, resumeAt *time.Time) *models.WorkflowStepRun {
	t.Helper()
	step := &models.WorkflowStepRun{
		ID:          uuid.New(),
		ExecutionID: run.ID,
		WorkflowID:  run.WorkflowID,
		StepID:      "step-" + uuid.NewString()[:8],
		StepType:    models.ActionDelay,
		Status:      status,
		ResumeAt:    resumeAt,
		CreatedAt:   createdAt,
	}
	require.NoError(t, store.CreateStepRun(context.Background(), step))
	return step
}

func TestDelaySweeper_Sweep(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := memory.NewStore(nil)
	q := queue.NewMemoryQueue(func() time.Time { return now })

	running := seedRun(t, store, models.ExecutionStatusRunning, now.Add(-time.Hour))
	cancelled := seedRun(t, store, models.ExecutionStatusCancelled, now.Add(-time.Hour))

	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)
	due := seedStep(t, store, running, models.StepStatusDelayed, now.Add(-time.Hour), &past)
	seedStep(t, store, running, models.StepStatusDelayed, now.Add(-time.Hour), &future)
	seedStep(t, store, cancelled, models.StepStatusDelayed, now.Add(-time.Hour), &past)
	stalled := seedStep(t, store, running, models.StepStatusPending, now.Add(-10*time.Minute), nil)
	seedStep(t, store, running, models.StepStatusPending, now.Add(-10*time.Second), nil)

	staleEvent := &models.TriggerEventLog{
		TriggerType: models.TriggerCreateNewLead,
		Payload:     models.JSONB{},
		Status:      models.EventStatusPending,
		ReceivedAt:  now.Add(-10 * time.Minute),
	}
	_, err := store.CreateEventLog(ctx, staleEvent)
	require.NoError(t, err)
	_, err = store.CreateEventLog(ctx, &models.TriggerEventLog{
		TriggerType: models.TriggerCreateNewLead,
		Payload:     models.JSONB{},
		Status:      models.EventStatusPending,
		ReceivedAt:  now,
	})
	require.NoError(t, err)

	sweeper := NewDelaySweeper(store, q, logger.NewForTesting(), nil, SweeperOptions{})
	sweeper.now = func() time.Time { return now }

	assert.Equal(t, 3, sweeper.Sweep(ctx))

	got := map[queue.JobKind]uuid.UUID{}
	for {
		job, ok := q.TryDequeue()
		if !ok {
			break
		}
		got[job.Kind] = job.TargetID
	}
	assert.Equal(t, map[queue.JobKind]uuid.UUID{
		queue.JobResumeStep:   due.ID,
		queue.JobExecuteStep:  stalled.ID,
		queue.JobProcessEvent: staleEvent.ID,
	}, got)
}

func startStep(t *testing.T, store *memory.Store, step *models.WorkflowStepRun, at time.Time) {
	t.Helper()
	step.StartedAt = &at
	ok, err := store.TransitionStepRun(context.Background(), step, step.Status)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestDelaySweeper_RecoversInterruptedWork(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := memory.NewStore(nil)
	q := queue.NewMemoryQueue(func() time.Time { return now })

	busy := seedRun(t, store, models.ExecutionStatusRunning, now.Add(-3*time.Hour))
	interrupted := seedStep(t, store, busy, models.StepStatusRunning, now.Add(-2*time.Hour), nil)
	startStep(t, store, interrupted, now.Add(-2*time.Hour))
	working := seedStep(t, store, busy, models.StepStatusRunning, now.Add(-time.Minute), nil)
	startStep(t, store, working, now.Add(-time.Minute))

	orphan := seedRun(t, store, models.ExecutionStatusRunning, now.Add(-time.Hour))
	seedRun(t, store, models.ExecutionStatusRunning, now.Add(-10*time.Second))

	longClaim := now.Add(-30 * time.Minute)
	stuck := &models.TriggerEventLog{
		TriggerType: models.TriggerCreateNewLead,
		Payload:     models.JSONB{},
		Status:      models.EventStatusProcessing,
		Attempts:    1,
		ReceivedAt:  now.Add(-time.Hour),
		ClaimedAt:   &longClaim,
	}
	_, err := store.CreateEventLog(ctx, stuck)
	require.NoError(t, err)

	recentClaim := now.Add(-time.Minute)
	inFlight := &models.TriggerEventLog{
		TriggerType: models.TriggerCreateNewLead,
		Payload:     models.JSONB{},
		Status:      models.EventStatusProcessing,
		Attempts:    1,
		ReceivedAt:  now.Add(-time.Hour),
		ClaimedAt:   &recentClaim,
	}
	_, err = store.CreateEventLog(ctx, inFlight)
	require.NoError(t, err)

	sweeper := NewDelaySweeper(store, q, logger.NewForTesting(), nil, SweeperOptions{})
	sweeper.now = func() time.Time { return now }

	assert.Equal(t, 3, sweeper.Sweep(ctx))

	got := map[queue.JobKind]uuid.UUID{}
	for {
		job, ok := q.TryDequeue()
		if !ok {
			break
		}
		got[job.Kind] = job.TargetID
	}
	assert.Equal(t, map[queue.JobKind]uuid.UUID{
		queue.JobRecoverStep:  interrupted.ID,
		queue.JobRecoverRun:   orphan.ID,
		queue.JobProcessEvent: stuck.ID,
	}, got)

	released, err := store.GetEventLogByID(ctx, stuck.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EventStatusPending, released.Status)
	assert.Nil(t, released.ClaimedAt)

	untouched, err := store.GetEventLogByID(ctx, inFlight.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EventStatusProcessing, untouched.Status)

	// a second pass finds the released event through the pending scan only
	assert.Equal(t, 3, sweeper.Sweep(ctx))
}

func TestDelaySweeper_Lifecycle(t *testing.T) {
	store := memory.NewStore(nil)
	q := queue.NewMemoryQueue(nil)

	sweeper := NewDelaySweeper(store, q, logger.NewForTesting(), nil, SweeperOptions{Interval: 10 * time.Millisecond})
	sweeper.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	sweeper.Stop()

	ready, delayed := q.Len()
	assert.Zero(t, ready)
	assert.Zero(t, delayed)
}

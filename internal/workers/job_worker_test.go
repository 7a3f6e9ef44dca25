package workers

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidmoltin/leadflow/internal/queue"
	"github.com/davidmoltin/leadflow/pkg/logger"
)

type recordingRunner struct {
	mu       sync.Mutex
	events   []uuid.UUID
	executed []uuid.UUID
	resumed  []uuid.UUID
	failed   []uuid.UUID
	revived  []uuid.UUID
	panicOn  uuid.UUID
	failOn   uuid.UUID
}

func (r *recordingRunner) ProcessEvent(ctx context.Context, id uuid.UUID) error {
	if id == r.panicOn {
		panic("boom")
	}
	if id == r.failOn {
		return errors.New("storage unavailable")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, id)
	return nil
}

func (r *recordingRunner) ExecuteStep(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executed = append(r.executed, id)
	return nil
}

func (r *recordingRunner) ResumeStep(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resumed = append(r.resumed, id)
	return nil
}

func (r *recordingRunner) RecoverStep(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, id)
	return nil
}

func (r *recordingRunner) RecoverRun(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.revived = append(r.revived, id)
	return nil
}

func (r *recordingRunner) counts() (int, int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events), len(r.executed), len(r.resumed)
}

func TestJobWorker_DispatchesByKind(t *testing.T) {
	ctx := context.Background()
	q := queue.NewMemoryQueue(nil)
	runner := &recordingRunner{}

	worker := NewJobWorker(q, runner, runner, logger.NewForTesting(), nil, 2, 50*time.Millisecond)
	worker.Start(ctx)
	defer worker.Stop()

	require.NoError(t, q.Enqueue(ctx, queue.NewJob(queue.JobProcessEvent, uuid.New())))
	require.NoError(t, q.Enqueue(ctx, queue.NewJob(queue.JobExecuteStep, uuid.New())))
	require.NoError(t, q.Enqueue(ctx, queue.NewJob(queue.JobExecuteStep, uuid.New())))
	require.NoError(t, q.Enqueue(ctx, queue.NewJob(queue.JobResumeStep, uuid.New())))
	stuckStep, stuckRun := uuid.New(), uuid.New()
	require.NoError(t, q.Enqueue(ctx, queue.NewJob(queue.JobRecoverStep, stuckStep)))
	require.NoError(t, q.Enqueue(ctx, queue.NewJob(queue.JobRecoverRun, stuckRun)))

	assert.Eventually(t, func() bool {
		events, executed, resumed := runner.counts()
		runner.mu.Lock()
		defer runner.mu.Unlock()
		return events == 1 && executed == 2 && resumed == 1 && len(runner.failed) == 1 && len(runner.revived) == 1
	}, 2*time.Second, 10*time.Millisecond)

	runner.mu.Lock()
	defer runner.mu.Unlock()
	assert.Equal(t, []uuid.UUID{stuckStep}, runner.failed)
	assert.Equal(t, []uuid.UUID{stuckRun}, runner.revived)
}

func TestJobWorker_SurvivesPanicsAndErrors(t *testing.T) {
	ctx := context.Background()
	q := queue.NewMemoryQueue(nil)
	runner := &recordingRunner{panicOn: uuid.New(), failOn: uuid.New()}

	worker := NewJobWorker(q, runner, runner, logger.NewForTesting(), nil, 1, 50*time.Millisecond)
	worker.Start(ctx)
	defer worker.Stop()

	ok := uuid.New()
	require.NoError(t, q.Enqueue(ctx, queue.NewJob(queue.JobProcessEvent, runner.panicOn)))
	require.NoError(t, q.Enqueue(ctx, queue.NewJob(queue.JobProcessEvent, runner.failOn)))
	require.NoError(t, q.Enqueue(ctx, queue.Job{ID: uuid.New(), Kind: "bogus", TargetID: uuid.New()}))
	require.NoError(t, q.Enqueue(ctx, queue.NewJob(queue.JobProcessEvent, ok)))

	assert.Eventually(t, func() bool {
		runner.mu.Lock()
		defer runner.mu.Unlock()
		return len(runner.events) == 1 && runner.events[0] == ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestJobWorker_StopsWhenQueueCloses(t *testing.T) {
	q := queue.NewMemoryQueue(nil)
	worker := NewJobWorker(q, &recordingRunner{}, &recordingRunner{}, logger.NewForTesting(), nil, 3, time.Second)
	worker.Start(context.Background())

	q.Close()

	done := make(chan struct{})
	go func() {
		worker.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}

package workers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/davidmoltin/leadflow/internal/queue"
	"github.com/davidmoltin/leadflow/pkg/logger"
	"github.com/davidmoltin/leadflow/pkg/metrics"
)

// EventProcessor matches stored events against active workflows
type EventProcessor interface {
	ProcessEvent(ctx context.Context, eventID uuid.UUID) error
}

// StepRunner executes, resumes and recovers step runs
type StepRunner interface {
	ExecuteStep(ctx context.Context, stepRunID uuid.UUID) error
	ResumeStep(ctx context.Context, stepRunID uuid.UUID) error
	RecoverStep(ctx context.Context, stepRunID uuid.UUID) error
	RecoverRun(ctx context.Context, executionID uuid.UUID) error
}

const jobWorkerName = "job_worker"

// JobWorker drains the job queue with a fixed pool of goroutines
type JobWorker struct {
	queue       queue.Queue
	events      EventProcessor
	steps       StepRunner
	logger      *logger.Logger
	metrics     *metrics.Metrics
	concurrency int
	pollTimeout time.Duration
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// NewJobWorker creates a new job worker
func NewJobWorker(
	q queue.Queue,
	events EventProcessor,
	steps StepRunner,
	logger *logger.Logger,
	m *metrics.Metrics,
	concurrency int,
	pollTimeout time.Duration,
) *JobWorker {
	if concurrency <= 0 {
		concurrency = 4
	}
	if pollTimeout <= 0 {
		pollTimeout = 5 * time.Second
	}

	return &JobWorker{
		queue:       q,
		events:      events,
		steps:       steps,
		logger:      logger,
		metrics:     m,
		concurrency: concurrency,
		pollTimeout: pollTimeout,
	}
}

// Start starts the worker pool in the background
func (w *JobWorker) Start(ctx context.Context) {
	w.logger.Info("Starting job worker",
		logger.Int("concurrency", w.concurrency),
		logger.String("poll_timeout", w.pollTimeout.String()),
	)

	ctx, w.cancel = context.WithCancel(ctx)
	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.run(ctx)
	}
}

// Stop stops the pool and waits for in-flight jobs to finish
func (w *JobWorker) Stop() {
	w.logger.Info("Stopping job worker")
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	w.logger.Info("Job worker stopped")
}

func (w *JobWorker) run(ctx context.Context) {
	defer w.wg.Done()

	for {
		if ctx.Err() != nil {
			return
		}

		job, err := w.queue.Dequeue(ctx, w.pollTimeout)
		if err != nil {
			if errors.Is(err, queue.ErrClosed) || ctx.Err() != nil {
				return
			}
			w.logger.Errorf("Failed to dequeue job: %v", err)
			w.metrics.RecordWorkerError(jobWorkerName, "dequeue")
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}
		if job == nil {
			continue
		}

		w.handle(ctx, *job)
	}
}

// handle runs one job. Failures are logged and left to the sweeper, which
// finds the stalled work in storage.
func (w *JobWorker) handle(ctx context.Context, job queue.Job) {
	start := time.Now()
	status := "success"

	defer func() {
		if r := recover(); r != nil {
			status = "panic"
			w.logger.Errorf("Job %s (%s %s) panicked: %v", job.ID, job.Kind, job.TargetID, r)
			w.metrics.RecordWorkerError(jobWorkerName, "panic")
		}
		w.metrics.RecordWorkerJob(jobWorkerName, string(job.Kind), status, time.Since(start))
	}()

	if err := w.dispatch(ctx, job); err != nil {
		status = "error"
		w.logger.Errorf("Job %s (%s %s) failed: %v", job.ID, job.Kind, job.TargetID, err)
		w.metrics.RecordWorkerError(jobWorkerName, string(job.Kind))
	}
}

func (w *JobWorker) dispatch(ctx context.Context, job queue.Job) error {
	switch job.Kind {
	case queue.JobProcessEvent:
		return w.events.ProcessEvent(ctx, job.TargetID)
	case queue.JobExecuteStep:
		return w.steps.ExecuteStep(ctx, job.TargetID)
	case queue.JobResumeStep:
		return w.steps.ResumeStep(ctx, job.TargetID)
	case queue.JobRecoverStep:
		return w.steps.RecoverStep(ctx, job.TargetID)
	case queue.JobRecoverRun:
		return w.steps.RecoverRun(ctx, job.TargetID)
	default:
		return fmt.Errorf("unknown job kind %q", job.Kind)
	}
}

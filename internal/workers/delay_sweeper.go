package workers

import (
	"context"
	"time"

	"github.com/davidmoltin/leadflow/internal/models"
	"github.com/davidmoltin/leadflow/internal/queue"
	"github.com/davidmoltin/leadflow/pkg/logger"
	"github.com/davidmoltin/leadflow/pkg/metrics"
)

// SweepRepository lists work that storage says is due or stalled
type SweepRepository interface {
	ListDueDelayedStepRuns(ctx context.Context, now time.Time, limit int) ([]models.WorkflowStepRun, error)
	ListStalePendingStepRuns(ctx context.Context, createdBefore time.Time, limit int) ([]models.WorkflowStepRun, error)
	ListStaleRunningStepRuns(ctx context.Context, startedBefore time.Time, limit int) ([]models.WorkflowStepRun, error)
	ListStalledExecutions(ctx context.Context, idleSince time.Time, limit int) ([]models.WorkflowExecution, error)
	ListStalePendingEventLogs(ctx context.Context, receivedBefore time.Time, limit int) ([]models.TriggerEventLog, error)
	// ReleaseStaleEventLogs moves events claimed before the cutoff back to pending.
	ReleaseStaleEventLogs(ctx context.Context, claimedBefore time.Time, limit int) ([]models.TriggerEventLog, error)
}

const sweeperWorkerName = "delay_sweeper"

// DelaySweeper periodically re-enqueues due delays and work whose job was
// lost. Storage is the source of truth, so a delay survives a restart or a
// flushed queue. Steps running past StepTimeout and events processing past
// ClaimTimeout belong to a worker that is gone.
type DelaySweeper struct {
	repo         SweepRepository
	queue        queue.Queue
	logger       *logger.Logger
	metrics      *metrics.Metrics
	interval     time.Duration
	eventGrace   time.Duration
	stepGrace    time.Duration
	stepTimeout  time.Duration
	claimTimeout time.Duration
	batchSize    int
	now        func() time.Time
	stopCh     chan struct{}
	doneCh     chan struct{}
}

// SweeperOptions sizes a DelaySweeper. Zero values take defaults.
type SweeperOptions struct {
	Interval     time.Duration
	EventGrace   time.Duration
	StepGrace    time.Duration
	StepTimeout  time.Duration
	ClaimTimeout time.Duration
	BatchSize    int
}

// NewDelaySweeper creates a new delay sweeper
func NewDelaySweeper(
	repo SweepRepository,
	q queue.Queue,
	logger *logger.Logger,
	m *metrics.Metrics,
	opts SweeperOptions,
) *DelaySweeper {
	if opts.Interval == 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.EventGrace == 0 {
		opts.EventGrace = 2 * time.Minute
	}
	if opts.StepGrace == 0 {
		opts.StepGrace = 2 * time.Minute
	}
	if opts.StepTimeout == 0 {
		opts.StepTimeout = time.Hour
	}
	if opts.ClaimTimeout == 0 {
		opts.ClaimTimeout = 10 * time.Minute
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}

	return &DelaySweeper{
		repo:         repo,
		queue:        q,
		logger:       logger,
		metrics:      m,
		interval:     opts.Interval,
		eventGrace:   opts.EventGrace,
		stepGrace:    opts.StepGrace,
		stepTimeout:  opts.StepTimeout,
		claimTimeout: opts.ClaimTimeout,
		batchSize:    opts.BatchSize,
		now:          time.Now,
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
}

// Start starts the sweeper in the background
func (w *DelaySweeper) Start(ctx context.Context) {
	w.logger.Info("Starting delay sweeper",
		logger.String("interval", w.interval.String()),
		logger.Int("batch_size", w.batchSize),
	)

	go w.run(ctx)
}

// Stop stops the sweeper gracefully
func (w *DelaySweeper) Stop() {
	w.logger.Info("Stopping delay sweeper")
	close(w.stopCh)
	<-w.doneCh
	w.logger.Info("Delay sweeper stopped")
}

func (w *DelaySweeper) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// Run immediately on start
	w.Sweep(ctx)

	for {
		select {
		case <-ticker.C:
			w.Sweep(ctx)
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Sweep performs one pass and returns the number of jobs enqueued
func (w *DelaySweeper) Sweep(ctx context.Context) int {
	now := w.now()
	enqueued := 0

	due, err := w.repo.ListDueDelayedStepRuns(ctx, now, w.batchSize)
	if err != nil {
		w.logger.Errorf("Failed to list due delayed steps: %v", err)
		w.metrics.RecordWorkerError(sweeperWorkerName, "list_delayed")
	} else {
		w.metrics.SetDelayedSteps(len(due))
		for _, step := range due {
			enqueued += w.enqueue(ctx, queue.NewJob(queue.JobResumeStep, step.ID))
		}
	}

	stalledSteps, err := w.repo.ListStalePendingStepRuns(ctx, now.Add(-w.stepGrace), w.batchSize)
	if err != nil {
		w.logger.Errorf("Failed to list stalled steps: %v", err)
		w.metrics.RecordWorkerError(sweeperWorkerName, "list_steps")
	} else {
		for _, step := range stalledSteps {
			enqueued += w.enqueue(ctx, queue.NewJob(queue.JobExecuteStep, step.ID))
		}
	}

	interrupted, err := w.repo.ListStaleRunningStepRuns(ctx, now.Add(-w.stepTimeout), w.batchSize)
	if err != nil {
		w.logger.Errorf("Failed to list interrupted steps: %v", err)
		w.metrics.RecordWorkerError(sweeperWorkerName, "list_running")
	} else {
		for _, step := range interrupted {
			enqueued += w.enqueue(ctx, queue.NewJob(queue.JobRecoverStep, step.ID))
		}
	}

	stalledRuns, err := w.repo.ListStalledExecutions(ctx, now.Add(-w.stepGrace), w.batchSize)
	if err != nil {
		w.logger.Errorf("Failed to list stalled runs: %v", err)
		w.metrics.RecordWorkerError(sweeperWorkerName, "list_runs")
	} else {
		for _, run := range stalledRuns {
			enqueued += w.enqueue(ctx, queue.NewJob(queue.JobRecoverRun, run.ID))
		}
	}

	stalledEvents, err := w.repo.ListStalePendingEventLogs(ctx, now.Add(-w.eventGrace), w.batchSize)
	if err != nil {
		w.logger.Errorf("Failed to list stalled events: %v", err)
		w.metrics.RecordWorkerError(sweeperWorkerName, "list_events")
	} else {
		for _, event := range stalledEvents {
			enqueued += w.enqueue(ctx, queue.NewJob(queue.JobProcessEvent, event.ID))
		}
	}

	// Released after the pending scan so one sweep enqueues each event once.
	released, err := w.repo.ReleaseStaleEventLogs(ctx, now.Add(-w.claimTimeout), w.batchSize)
	if err != nil {
		w.logger.Errorf("Failed to release stale event claims: %v", err)
		w.metrics.RecordWorkerError(sweeperWorkerName, "release_events")
	} else {
		for _, event := range released {
			w.logger.Warnf("Event %s stuck in processing after %d attempt(s), retrying", event.ID, event.Attempts)
			enqueued += w.enqueue(ctx, queue.NewJob(queue.JobProcessEvent, event.ID))
		}
	}

	if enqueued > 0 {
		w.logger.Infof("Sweep enqueued %d job(s): due=%d, stalled_steps=%d, interrupted_steps=%d, stalled_runs=%d, released_events=%d, stalled_events=%d",
			enqueued, len(due), len(stalledSteps), len(interrupted), len(stalledRuns), len(released), len(stalledEvents))
	} else {
		w.logger.Debug("Sweep found nothing to enqueue")
	}
	return enqueued
}

func (w *DelaySweeper) enqueue(ctx context.Context, job queue.Job) int {
	if err := w.queue.Enqueue(ctx, job); err != nil {
		w.logger.Errorf("Failed to enqueue %s for %s: %v", job.Kind, job.TargetID, err)
		w.metrics.RecordWorkerError(sweeperWorkerName, "enqueue")
		return 0
	}
	w.metrics.RecordJobEnqueued(string(job.Kind), false)
	return 1
}

package queue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// JobKind identifies the work a job carries
type JobKind string

const (
	// JobProcessEvent matches a stored event against active workflows
	JobProcessEvent JobKind = "process_event"
	// JobExecuteStep executes a pending step run
	JobExecuteStep JobKind = "execute_step"
	// JobResumeStep resumes a delayed step run
	JobResumeStep JobKind = "resume_step"
	// JobRecoverStep fails a step run whose worker went away mid-action
	JobRecoverStep JobKind = "recover_step"
	// JobRecoverRun restarts a running run that has no step in flight
	JobRecoverRun JobKind = "recover_run"
)

// ErrClosed is returned by Dequeue once the queue has been closed
var ErrClosed = errors.New("queue closed")

// Job is a unit of background work. Jobs carry only ids; all state is
// read from storage when the job runs, so duplicate delivery is safe.
type Job struct {
	ID         uuid.UUID `json:"id"`
	Kind       JobKind   `json:"kind"`
	TargetID   uuid.UUID `json:"target_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// NewJob creates a job of kind for target
func NewJob(kind JobKind, target uuid.UUID) Job {
	return Job{
		ID:         uuid.New(),
		Kind:       kind,
		TargetID:   target,
		EnqueuedAt: time.Now().UTC(),
	}
}

// Queue is a job queue with support for delayed delivery
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	EnqueueAt(ctx context.Context, job Job, at time.Time) error
	// Dequeue blocks until a job is ready, ctx is done or wait elapses.
	// It returns (nil, nil) when wait elapses with nothing ready.
	Dequeue(ctx context.Context, wait time.Duration) (*Job, error)
}

package queue

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// MemoryQueue is an in-process Queue used by tests and the CLI simulator
type MemoryQueue struct {
	mu      sync.Mutex
	ready   []Job
	delayed delayedJobs
	notify  chan struct{}
	closed  bool
	now     func() time.Time
}

// NewMemoryQueue creates an empty in-memory queue. A nil now uses time.Now.
func NewMemoryQueue(now func() time.Time) *MemoryQueue {
	if now == nil {
		now = time.Now
	}
	return &MemoryQueue{
		notify: make(chan struct{}, 1),
		now:    now,
	}
}

// Enqueue adds a job that is ready immediately
func (q *MemoryQueue) Enqueue(ctx context.Context, job Job) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.ready = append(q.ready, job)
	q.mu.Unlock()
	q.signal()
	return nil
}

// EnqueueAt adds a job that becomes ready at at
func (q *MemoryQueue) EnqueueAt(ctx context.Context, job Job, at time.Time) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	heap.Push(&q.delayed, delayedJob{job: job, at: at})
	q.mu.Unlock()
	q.signal()
	return nil
}

// TryDequeue pops a ready job without blocking
func (q *MemoryQueue) TryDequeue() (*Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.promoteLocked()
	if len(q.ready) == 0 {
		return nil, false
	}
	job := q.ready[0]
	q.ready = q.ready[1:]
	return &job, true
}

// Dequeue waits for a ready job
func (q *MemoryQueue) Dequeue(ctx context.Context, wait time.Duration) (*Job, error) {
	deadline := time.NewTimer(wait)
	defer deadline.Stop()

	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, ErrClosed
		}
		q.mu.Unlock()

		if job, ok := q.TryDequeue(); ok {
			return job, nil
		}

		// Poll so delayed jobs are promoted even without a signal.
		poll := time.NewTimer(50 * time.Millisecond)
		select {
		case <-ctx.Done():
			poll.Stop()
			return nil, ctx.Err()
		case <-deadline.C:
			poll.Stop()
			return nil, nil
		case <-q.notify:
			poll.Stop()
		case <-poll.C:
		}
	}
}

// Len returns the number of ready and delayed jobs
func (q *MemoryQueue) Len() (ready, delayed int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ready), len(q.delayed)
}

// Close wakes blocked consumers and rejects further jobs
func (q *MemoryQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

func (q *MemoryQueue) promoteLocked() {
	now := q.now()
	for len(q.delayed) > 0 && !q.delayed[0].at.After(now) {
		d := heap.Pop(&q.delayed).(delayedJob)
		q.ready = append(q.ready, d.job)
	}
}

func (q *MemoryQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

type delayedJob struct {
	job Job
	at  time.Time
}

// delayedJobs is a min-heap ordered by due time
type delayedJobs []delayedJob

func (h delayedJobs) Len() int           { return len(h) }
func (h delayedJobs) Less(i, j int) bool { return h[i].at.Before(h[j].at) }
func (h delayedJobs) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *delayedJobs) Push(x interface{}) {
	*h = append(*h, x.(delayedJob))
}

func (h *delayedJobs) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

package download

import (
	"context"
	"sync"
)

// DefaultQueueSize bounds the number of jobs waiting for a worker.
const DefaultQueueSize = 1000

// Queue is a bounded FIFO of jobs. Producers never block: a full queue rejects the job.
type Queue struct {
	jobs chan Job

	mu     sync.RWMutex
	closed bool
}

func NewQueue(size int) *Queue {
	if size < 1 {
		size = DefaultQueueSize
	}
	return &Queue{jobs: make(chan Job, size)}
}

// TryEnqueue adds job without blocking. It reports false when the queue is full or closed.
func (q *Queue) TryEnqueue(job Job) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return false
	}
	select {
	case q.jobs <- job:
		return true
	default:
		return false
	}
}

// Dequeue blocks until a job is available. ok is false once the queue is closed
// and drained, or when ctx is done.
func (q *Queue) Dequeue(ctx context.Context) (job Job, ok bool) {
	select {
	case <-ctx.Done():
		return Job{}, false
	case job, ok = <-q.jobs:
		return job, ok
	}
}

// Close stops accepting jobs. Jobs already queued are still handed out.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
}

func (q *Queue) Len() int {
	return len(q.jobs)
}

func (q *Queue) Cap() int {
	return cap(q.jobs)
}

// Package queue hands task jobs from the gateway to the worker pool.
package queue

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrClosed is returned once the queue is closed and drained.
var ErrClosed = errors.New("queue closed")

// Job is one unit of work: execute the task with the given ID.
type Job struct {
	TaskID     string
	EnqueuedAt time.Time
}

// Queue is the job transport between the gateway and the worker.
type Queue interface {
	// Enqueue adds a job, blocking while the queue is full.
	Enqueue(ctx context.Context, job Job) error

	// Dequeue blocks until a job is available, the context ends, or
	// the queue closes. A closed queue is drained before ErrClosed.
	Dequeue(ctx context.Context) (Job, error)

	// Len reports jobs currently waiting.
	Len() int

	// Close stops the queue. Pending jobs remain dequeueable.
	Close() error
}

// MemoryQueue is a buffered in-process queue.
type MemoryQueue struct {
	ch   chan Job
	done chan struct{}
	once sync.Once
}

// NewMemoryQueue returns a queue holding up to buffer jobs.
func NewMemoryQueue(buffer int) *MemoryQueue {
	if buffer < 1 {
		buffer = 1
	}
	return &MemoryQueue{
		ch:   make(chan Job, buffer),
		done: make(chan struct{}),
	}
}

// Enqueue adds a job, blocking while the queue is full.
func (q *MemoryQueue) Enqueue(ctx context.Context, job Job) error {
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}
	select {
	case <-q.done:
		return ErrClosed
	default:
	}
	select {
	case q.ch <- job:
		return nil
	case <-q.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dequeue blocks until a job is available, the context ends, or the
// queue closes.
func (q *MemoryQueue) Dequeue(ctx context.Context) (Job, error) {
	select {
	case job := <-q.ch:
		return job, nil
	case <-q.done:
		// Drain jobs enqueued before the close.
		select {
		case job := <-q.ch:
			return job, nil
		default:
			return Job{}, ErrClosed
		}
	case <-ctx.Done():
		return Job{}, ctx.Err()
	}
}

// Len reports jobs currently waiting.
func (q *MemoryQueue) Len() int {
	return len(q.ch)
}

// Close stops the queue. Safe to call more than once.
func (q *MemoryQueue) Close() error {
	q.once.Do(func() { close(q.done) })
	return nil
}

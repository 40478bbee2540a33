package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	defaultQueueWorkers  = 2
	defaultQueueCapacity = 64
	defaultJobTimeout    = 10 * time.Second
)

// ErrQueueClosed is returned by Drain on a queue that was already drained.
var ErrQueueClosed = errors.New("jobs: work queue closed")

// WorkQueueConfig sizes the queue.
type WorkQueueConfig struct {
	Workers    int
	Capacity   int
	JobTimeout time.Duration
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

type queuedJob struct {
	name string
	run  func(context.Context) error
}

// WorkQueue runs fire-and-forget jobs on a fixed set of workers. Submit never blocks:
// when the buffer is full the job is refused.
type WorkQueue struct {
	jobs    chan queuedJob
	timeout time.Duration
	logger  func(context.Context, string, map[string]any)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewWorkQueue starts the workers.
func NewWorkQueue(cfg WorkQueueConfig) *WorkQueue {
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultQueueWorkers
	}
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = defaultQueueCapacity
	}
	timeout := cfg.JobTimeout
	if timeout <= 0 {
		timeout = defaultJobTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &WorkQueue{
		jobs:    make(chan queuedJob, capacity),
		timeout: timeout,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
	q.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go q.work()
	}
	return q
}

// Submit enqueues the job and reports whether it was accepted.
func (q *WorkQueue) Submit(name string, job func(context.Context) error) bool {
	if q == nil || job == nil {
		return false
	}
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return false
	}
	select {
	case q.jobs <- queuedJob{name: name, run: job}:
		return true
	default:
		return false
	}
}

// Drain stops accepting jobs and waits for queued ones to finish. When ctx ends first the
// remaining jobs see a cancelled context.
func (q *WorkQueue) Drain(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.closed = true
	close(q.jobs)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		<-done
		return ctx.Err()
	}
}

func (q *WorkQueue) work() {
	defer q.wg.Done()
	for job := range q.jobs {
		q.run(job)
	}
}

func (q *WorkQueue) run(job queuedJob) {
	ctx, cancel := context.WithTimeout(q.ctx, q.timeout)
	defer cancel()
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			q.logger(ctx, "jobs.panic", map[string]any{
				"job":   job.name,
				"panic": fmt.Sprint(r),
			})
		}
	}()
	if err := job.run(ctx); err != nil {
		q.logger(ctx, "jobs.failed", map[string]any{
			"job":      job.name,
			"error":    err.Error(),
			"duration": time.Since(start).String(),
		})
	}
}

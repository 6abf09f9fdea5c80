// Package async provides the bounded worker pool the order-flow archival
// fan-out runs on: a fixed set of worker goroutines draining a task
// channel, so a day's contract list is processed with capped upstream
// pressure and each contract is handled by exactly one worker.
package async

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Task is one unit of work: an identifier for logging plus the function
// a worker runs.
type Task struct {
	ID string
	Fn func(context.Context) error
}

// WorkerPool runs submitted tasks on a fixed number of goroutines. A
// task's error does not stop the pool; it is logged and the next task is
// picked up.
type WorkerPool struct {
	workers int
	tasks   chan Task
	wg      sync.WaitGroup
	log     zerolog.Logger
}

// NewWorkerPool sizes the pool. queueSize bounds how many tasks can be
// submitted ahead of the workers; Submit fails rather than blocks when
// the queue is full.
func NewWorkerPool(workers, queueSize int, log zerolog.Logger) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < workers {
		queueSize = workers
	}
	return &WorkerPool{
		workers: workers,
		tasks:   make(chan Task, queueSize),
		log:     log.With().Str("component", "worker_pool").Logger(),
	}
}

// Start launches the worker goroutines. They run until Drain closes the
// queue; a cancelled ctx makes the remaining queue drain as fast no-ops.
func (p *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
}

// Submit enqueues one task. It never blocks: a full queue is an error so
// a misconfigured caller surfaces immediately instead of stalling its
// scheduler slot.
func (p *WorkerPool) Submit(taskID string, fn func(context.Context) error) error {
	select {
	case p.tasks <- Task{ID: taskID, Fn: fn}:
		return nil
	default:
		return fmt.Errorf("worker pool: queue full, cannot submit %s", taskID)
	}
}

// Drain stops accepting tasks and blocks until every queued task has been
// processed and all workers have exited.
func (p *WorkerPool) Drain() {
	close(p.tasks)
	p.wg.Wait()
}

func (p *WorkerPool) worker(ctx context.Context) {
	defer p.wg.Done()
	for task := range p.tasks {
		if ctx.Err() != nil {
			p.log.Debug().Str("task", task.ID).Msg("context cancelled, skipping queued task")
			continue
		}
		if err := task.Fn(ctx); err != nil {
			p.log.Debug().Err(err).Str("task", task.ID).Msg("task failed")
		}
	}
}

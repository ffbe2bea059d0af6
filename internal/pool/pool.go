// Package pool provides a bounded worker pool for controlled concurrency.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

var (
	ErrPoolClosed = errors.New("pool is closed")
	ErrPoolFull   = errors.New("pool is full")
)

// Task represents a unit of work.
type Task func(ctx context.Context) error

// WorkerPool runs tasks on a fixed set of worker goroutines. Each submitted
// task gets a completion channel, which lets callers wait on whichever task
// finishes first.
type WorkerPool struct {
	maxWorkers  int
	taskQueue   chan taskWrapper
	workerCount atomic.Int32
	activeCount atomic.Int32
	closed      atomic.Bool
	wg          sync.WaitGroup

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64

	panicHandler func(any)
}

type taskWrapper struct {
	task   Task
	ctx    context.Context
	result chan error
}

// Config configures the pool.
type Config struct {
	MaxWorkers   int
	QueueSize    int
	PanicHandler func(any)
}

// DefaultConfig returns the concurrency bound used for team runs.
func DefaultConfig() Config {
	return Config{
		MaxWorkers: 3,
		QueueSize:  16,
	}
}

// New creates a worker pool. Workers are spawned lazily on submission.
func New(config Config) *WorkerPool {
	if config.MaxWorkers < 1 {
		config.MaxWorkers = 1
	}
	if config.QueueSize < 0 {
		config.QueueSize = 0
	}
	return &WorkerPool{
		maxWorkers:   config.MaxWorkers,
		taskQueue:    make(chan taskWrapper, config.QueueSize),
		panicHandler: config.PanicHandler,
	}
}

// Submit enqueues a task and returns a channel that receives the task's
// result exactly once. Blocks while the queue is full; returns ctx.Err()
// if ctx is cancelled before the task is accepted.
func (p *WorkerPool) Submit(ctx context.Context, task Task) (<-chan error, error) {
	if p.closed.Load() {
		return nil, ErrPoolClosed
	}

	p.submitted.Add(1)

	wrapper := taskWrapper{
		task:   task,
		ctx:    ctx,
		result: make(chan error, 1),
	}

	p.ensureWorker()

	select {
	case p.taskQueue <- wrapper:
		return wrapper.result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TrySubmit enqueues a task without blocking. Returns ErrPoolFull when the
// queue has no room.
func (p *WorkerPool) TrySubmit(ctx context.Context, task Task) (<-chan error, error) {
	if p.closed.Load() {
		return nil, ErrPoolClosed
	}

	p.submitted.Add(1)

	wrapper := taskWrapper{
		task:   task,
		ctx:    ctx,
		result: make(chan error, 1),
	}

	p.ensureWorker()

	select {
	case p.taskQueue <- wrapper:
		return wrapper.result, nil
	default:
		return nil, ErrPoolFull
	}
}

func (p *WorkerPool) ensureWorker() {
	for {
		current := p.workerCount.Load()
		if current >= int32(p.maxWorkers) {
			return
		}
		if p.workerCount.CompareAndSwap(current, current+1) {
			p.wg.Add(1)
			go p.worker()
			return
		}
	}
}

func (p *WorkerPool) worker() {
	defer p.wg.Done()
	defer p.workerCount.Add(-1)

	for wrapper := range p.taskQueue {
		p.activeCount.Add(1)
		err := p.run(wrapper)
		p.activeCount.Add(-1)

		wrapper.result <- err
		close(wrapper.result)

		if err != nil {
			p.failed.Add(1)
		} else {
			p.completed.Add(1)
		}
	}
}

func (p *WorkerPool) run(wrapper taskWrapper) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if p.panicHandler != nil {
				p.panicHandler(r)
			}
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()

	if err := wrapper.ctx.Err(); err != nil {
		return err
	}
	return wrapper.task(wrapper.ctx)
}

// Close stops accepting tasks and waits for queued work to drain.
func (p *WorkerPool) Close() {
	if p.closed.Swap(true) {
		return
	}
	close(p.taskQueue)
	p.wg.Wait()
}

// Stats returns a point-in-time snapshot of pool counters.
func (p *WorkerPool) Stats() Stats {
	return Stats{
		Workers:   int(p.workerCount.Load()),
		Active:    int(p.activeCount.Load()),
		Queued:    len(p.taskQueue),
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
	}
}

// Stats contains pool counters.
type Stats struct {
	Workers   int
	Active    int
	Queued    int
	Submitted int64
	Completed int64
	Failed    int64
}

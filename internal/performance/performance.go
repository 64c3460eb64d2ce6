// Package performance provides the worker pool and batching helpers used for
// concurrent account evaluation and bulk store writes.
package performance

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
)

// ErrPoolStopped is returned when submitting to a pool that is not running.
var ErrPoolStopped = errors.New("worker pool is not running")

// WorkerPool manages a pool of workers for concurrent task execution.
type WorkerPool struct {
	workers    int
	taskQueue  chan func()
	wg         sync.WaitGroup
	mu         sync.RWMutex
	running    atomic.Bool
	stopped    atomic.Bool
	tasksTotal atomic.Uint64
	tasksDone  atomic.Uint64
}

// NewWorkerPool creates a new worker pool with the specified number of workers.
// If workers is 0, it defaults to runtime.NumCPU().
func NewWorkerPool(workers int) *WorkerPool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	return &WorkerPool{
		workers:   workers,
		taskQueue: make(chan func(), workers*100),
	}
}

// Start starts the worker pool. A stopped pool cannot be restarted.
func (p *WorkerPool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped.Load() || p.running.Swap(true) {
		return
	}

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

func (p *WorkerPool) worker() {
	defer p.wg.Done()

	for task := range p.taskQueue {
		task()
		p.tasksDone.Add(1)
	}
}

// SubmitContext blocks until the task is queued or ctx is done.
// It returns ErrPoolStopped if the pool is not running.
func (p *WorkerPool) SubmitContext(ctx context.Context, task func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.running.Load() {
		return ErrPoolStopped
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case p.taskQueue <- task:
		p.tasksTotal.Add(1)
		return nil
	}
}

// Stop stops accepting tasks, runs the ones already queued and waits for all
// workers to finish.
func (p *WorkerPool) Stop() {
	p.mu.Lock()
	if !p.running.Swap(false) {
		p.mu.Unlock()
		return
	}
	p.stopped.Store(true)
	close(p.taskQueue)
	p.mu.Unlock()

	p.wg.Wait()
}

// Stats returns pool statistics.
func (p *WorkerPool) Stats() PoolStats {
	return PoolStats{
		Workers:    p.workers,
		Running:    p.running.Load(),
		TasksTotal: p.tasksTotal.Load(),
		TasksDone:  p.tasksDone.Load(),
		QueueLen:   len(p.taskQueue),
	}
}

// PoolStats contains worker pool statistics.
type PoolStats struct {
	Workers    int
	Running    bool
	TasksTotal uint64
	TasksDone  uint64
	QueueLen   int
}

// BatchProcessor groups items and hands them to a processor in fixed-size batches.
type BatchProcessor[T any] struct {
	batchSize int
	processor func([]T) error
	batch     []T
	mu        sync.Mutex
}

// NewBatchProcessor creates a new batch processor.
func NewBatchProcessor[T any](batchSize int, processor func([]T) error) *BatchProcessor[T] {
	if batchSize <= 0 {
		batchSize = 1
	}
	return &BatchProcessor[T]{
		batchSize: batchSize,
		processor: processor,
		batch:     make([]T, 0, batchSize),
	}
}

// Add adds an item to the batch. If the batch is full, it's processed.
func (b *BatchProcessor[T]) Add(item T) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.batch = append(b.batch, item)
	if len(b.batch) >= b.batchSize {
		return b.flush()
	}
	return nil
}

// Flush processes any remaining items in the batch.
func (b *BatchProcessor[T]) Flush() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.flush()
}

func (b *BatchProcessor[T]) flush() error {
	if len(b.batch) == 0 {
		return nil
	}

	err := b.processor(b.batch)
	b.batch = make([]T, 0, b.batchSize)
	return err
}

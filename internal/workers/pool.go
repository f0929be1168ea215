// Package workers provides a bounded goroutine pool for asynchronous
// simulation jobs.
package workers

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/quantdesk/portfolio-engine/pkg/types"
)

// Task is a unit of work. The context carries the per-task timeout and the
// pool's shutdown signal.
type Task interface {
	Execute(ctx context.Context) error
}

// TaskFunc adapts a function to the Task interface.
type TaskFunc func(ctx context.Context) error

// Execute implements Task.
func (f TaskFunc) Execute(ctx context.Context) error { return f(ctx) }

// Pool runs tasks on a fixed set of worker goroutines behind a bounded
// queue. Submission never blocks; a full queue is an error the caller
// handles.
type Pool struct {
	logger *zap.Logger
	config types.WorkersConfig

	taskQueue chan Task
	wg        sync.WaitGroup

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc

	// Counters, atomically updated.
	tasksSubmitted  atomic.Int64
	tasksCompleted  atomic.Int64
	tasksFailed     atomic.Int64
	panicsRecovered atomic.Int64
}

// PoolStats is a point-in-time snapshot of the pool counters.
type PoolStats struct {
	TasksSubmitted  int64 `json:"tasksSubmitted"`
	TasksCompleted  int64 `json:"tasksCompleted"`
	TasksFailed     int64 `json:"tasksFailed"`
	PanicsRecovered int64 `json:"panicsRecovered"`
	QueueLength     int   `json:"queueLength"`
}

// Pool errors.
var (
	ErrPoolStopped     = &PoolError{Message: "pool is stopped"}
	ErrQueueFull       = &PoolError{Message: "task queue is full"}
	ErrShutdownTimeout = &PoolError{Message: "shutdown timed out"}
)

// PoolError is a pool lifecycle or capacity error.
type PoolError struct {
	Message string
}

func (e *PoolError) Error() string { return e.Message }

// NewPool creates a worker pool. Call Start before submitting.
func NewPool(logger *zap.Logger, config types.WorkersConfig) *Pool {
	if config.PoolSize < 1 {
		config = types.DefaultWorkersConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		logger:    logger,
		config:    config,
		taskQueue: make(chan Task, config.QueueSize),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start launches the worker goroutines. Starting a running pool is a no-op.
func (p *Pool) Start() {
	if p.running.Swap(true) {
		return
	}

	p.logger.Info("Starting worker pool",
		zap.Int("workers", p.config.PoolSize),
		zap.Int("queueSize", p.config.QueueSize))

	for i := 0; i < p.config.PoolSize; i++ {
		p.wg.Add(1)
		go p.run(i)
	}
}

func (p *Pool) run(workerID int) {
	defer p.wg.Done()
	logger := p.logger.With(zap.Int("workerId", workerID))

	for {
		select {
		case <-p.ctx.Done():
			return
		case task, ok := <-p.taskQueue:
			if !ok {
				return
			}
			p.execute(logger, task)
		}
	}
}

// execute runs one task under the configured timeout with panic recovery.
func (p *Pool) execute(logger *zap.Logger, task Task) {
	ctx := p.ctx
	if p.config.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.JobTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			p.panicsRecovered.Add(1)
			p.tasksFailed.Add(1)
			logger.Error("Worker recovered from panic", zap.Any("panic", r))
		}
	}()

	if err := task.Execute(ctx); err != nil {
		p.tasksFailed.Add(1)
		logger.Debug("Task failed", zap.Error(err))
		return
	}
	p.tasksCompleted.Add(1)
}

// Submit queues a task without blocking.
func (p *Pool) Submit(task Task) error {
	if !p.running.Load() {
		return ErrPoolStopped
	}

	select {
	case p.taskQueue <- task:
		p.tasksSubmitted.Add(1)
		return nil
	default:
		return ErrQueueFull
	}
}

// SubmitFunc queues a function as a task.
func (p *Pool) SubmitFunc(fn func(ctx context.Context) error) error {
	return p.Submit(TaskFunc(fn))
}

// Stop drains the workers, waiting up to the configured stop timeout.
// Queued tasks that have not started are dropped.
func (p *Pool) Stop() error {
	if !p.running.Swap(false) {
		return nil
	}

	p.logger.Info("Stopping worker pool")
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("Worker pool stopped")
		return nil
	case <-time.After(p.config.StopTimeout):
		p.logger.Warn("Worker pool shutdown timed out",
			zap.Duration("timeout", p.config.StopTimeout))
		return ErrShutdownTimeout
	}
}

// IsRunning reports whether the pool accepts tasks.
func (p *Pool) IsRunning() bool {
	return p.running.Load()
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		TasksSubmitted:  p.tasksSubmitted.Load(),
		TasksCompleted:  p.tasksCompleted.Load(),
		TasksFailed:     p.tasksFailed.Load(),
		PanicsRecovered: p.panicsRecovered.Load(),
		QueueLength:     len(p.taskQueue),
	}
}

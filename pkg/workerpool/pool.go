// Package workerpool provides a bounded worker pool for controlled concurrency.
// Used for batch scoring and for recording served predictions off the request path.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrStopped is returned when submitting to a pool that is shutting down
	ErrStopped = errors.New("pool is shutting down")
	// ErrQueueFull is returned when the task queue has no room
	ErrQueueFull = errors.New("task queue is full")
)

// Task represents a unit of work to be processed
type Task[T any] struct {
	ID      string
	Payload T
	Context context.Context
}

// Result represents the outcome of task processing
type Result[R any] struct {
	TaskID   string
	Data     R
	Err      error
	Attempts int
}

// Success reports whether the task completed without error
func (r Result[R]) Success() bool { return r.Err == nil }

// WorkerFunc is the function signature for task processing
type WorkerFunc[T, R any] func(ctx context.Context, task *Task[T]) (R, error)

// Config holds worker pool configuration
type Config struct {
	// Workers is the number of concurrent workers
	Workers int
	// QueueSize is the size of the task queue
	QueueSize int
	// MaxRetries is the maximum number of retries for failed tasks
	MaxRetries int
	// RetryDelay is the delay before the first retry; later retries back off linearly
	RetryDelay time.Duration
	// Retryable decides whether a failed attempt is retried. Nil retries every error.
	Retryable func(err error) bool
	// CollectResults sends results of Submit tasks to Results()
	CollectResults bool
	// GracefulShutdownTimeout is the timeout for graceful shutdown
	GracefulShutdownTimeout time.Duration
}

// DefaultConfig returns defaults sized for a single client process
func DefaultConfig() Config {
	return Config{
		Workers:                 4,
		QueueSize:               256,
		MaxRetries:              0,
		RetryDelay:              100 * time.Millisecond,
		GracefulShutdownTimeout: 30 * time.Second,
	}
}

type envelope[T, R any] struct {
	task  *Task[T]
	reply chan Result[R]
}

// Pool manages a pool of workers for concurrent task processing
type Pool[T, R any] struct {
	config     Config
	workerFunc WorkerFunc[T, R]
	logger     *zap.Logger

	mu         sync.RWMutex
	stopped    bool
	taskChan   chan envelope[T, R]
	resultChan chan Result[R]
	wg         sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	// Metrics
	tasksSubmitted int64
	tasksCompleted int64
	tasksFailed    int64
	tasksRetried   int64
	activeWorkers  int64
	queueDepth     int64
}

// New creates a new worker pool
func New[T, R any](cfg Config, fn WorkerFunc[T, R], logger *zap.Logger) (*Pool[T, R], error) {
	if fn == nil {
		return nil, fmt.Errorf("worker function is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if cfg.GracefulShutdownTimeout <= 0 {
		cfg.GracefulShutdownTimeout = DefaultConfig().GracefulShutdownTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())

	pool := &Pool[T, R]{
		config:     cfg,
		workerFunc: fn,
		logger:     logger,
		taskChan:   make(chan envelope[T, R], cfg.QueueSize),
		resultChan: make(chan Result[R], cfg.QueueSize),
		ctx:        ctx,
		cancel:     cancel,
	}

	return pool, nil
}

// Start launches all workers
func (p *Pool[T, R]) Start() {
	for i := 0; i < p.config.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.logger.Debug("worker pool started",
		zap.Int("workers", p.config.Workers),
		zap.Int("queue_size", p.config.QueueSize))
}

// Submit adds a task to the queue without waiting for it
func (p *Pool[T, R]) Submit(task *Task[T]) error {
	return p.enqueue(envelope[T, R]{task: task})
}

func (p *Pool[T, R]) enqueue(env envelope[T, R]) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrStopped
	}

	select {
	case p.taskChan <- env:
		atomic.AddInt64(&p.tasksSubmitted, 1)
		atomic.AddInt64(&p.queueDepth, 1)
		return nil
	default:
		return ErrQueueFull
	}
}

// SubmitWait adds a task and waits for its result
func (p *Pool[T, R]) SubmitWait(ctx context.Context, task *Task[T]) (Result[R], error) {
	reply := make(chan Result[R], 1)
	if err := p.enqueue(envelope[T, R]{task: task, reply: reply}); err != nil {
		return Result[R]{TaskID: task.ID}, err
	}

	select {
	case <-ctx.Done():
		return Result[R]{TaskID: task.ID}, ctx.Err()
	case result := <-reply:
		return result, nil
	}
}

// Results returns the result channel for Submit tasks when CollectResults is set.
// It is closed by Stop.
func (p *Pool[T, R]) Results() <-chan Result[R] {
	return p.resultChan
}

// Stop gracefully shuts down the pool. Queued tasks are still processed
// until the shutdown timeout expires.
func (p *Pool[T, R]) Stop() error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.taskChan)
	p.mu.Unlock()

	p.logger.Debug("stopping worker pool")

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
		p.logger.Debug("worker pool stopped gracefully")
	case <-time.After(p.config.GracefulShutdownTimeout):
		p.logger.Warn("worker pool shutdown timed out")
		err = fmt.Errorf("worker pool shutdown timed out after %s", p.config.GracefulShutdownTimeout)
		// abandon in-flight work
		p.cancel()
		<-done
	}
	p.cancel()

	close(p.resultChan)
	return err
}

// worker is the main worker goroutine
func (p *Pool[T, R]) worker(id int) {
	defer p.wg.Done()

	atomic.AddInt64(&p.activeWorkers, 1)
	defer atomic.AddInt64(&p.activeWorkers, -1)

	for env := range p.taskChan {
		atomic.AddInt64(&p.queueDepth, -1)
		p.processTask(id, env)
	}
}

// processTask handles a single task with retries
func (p *Pool[T, R]) processTask(workerID int, env envelope[T, R]) {
	task := env.task
	ctx := task.Context
	if ctx == nil {
		ctx = p.ctx
	}

	result := Result[R]{TaskID: task.ID}
	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			result.Err = err
			break
		}

		result.Attempts = attempt + 1
		result.Data, result.Err = p.workerFunc(ctx, task)
		if result.Err == nil || !p.retryable(result.Err) || attempt == p.config.MaxRetries {
			break
		}

		atomic.AddInt64(&p.tasksRetried, 1)
		p.logger.Debug("retrying task",
			zap.String("task_id", task.ID),
			zap.Int("attempt", attempt+1),
			zap.Error(result.Err))

		select {
		case <-ctx.Done():
		case <-time.After(p.config.RetryDelay * time.Duration(attempt+1)):
		}
	}

	if result.Err == nil {
		atomic.AddInt64(&p.tasksCompleted, 1)
	} else {
		atomic.AddInt64(&p.tasksFailed, 1)
		p.logger.Debug("task failed",
			zap.String("task_id", task.ID),
			zap.Int("worker_id", workerID),
			zap.Int("attempts", result.Attempts),
			zap.Error(result.Err))
	}

	if env.reply != nil {
		env.reply <- result
		return
	}
	if !p.config.CollectResults {
		return
	}
	// Send result (non-blocking)
	select {
	case p.resultChan <- result:
	default:
		p.logger.Warn("result channel full, dropping result",
			zap.String("task_id", task.ID))
	}
}

func (p *Pool[T, R]) retryable(err error) bool {
	if p.config.Retryable == nil {
		return true
	}
	return p.config.Retryable(err)
}

// Stats returns current pool statistics
type Stats struct {
	TasksSubmitted int64
	TasksCompleted int64
	TasksFailed    int64
	TasksRetried   int64
	ActiveWorkers  int64
	QueueDepth     int64
	QueueCapacity  int
	Workers        int
}

// Stats returns current pool statistics
func (p *Pool[T, R]) Stats() Stats {
	return Stats{
		TasksSubmitted: atomic.LoadInt64(&p.tasksSubmitted),
		TasksCompleted: atomic.LoadInt64(&p.tasksCompleted),
		TasksFailed:    atomic.LoadInt64(&p.tasksFailed),
		TasksRetried:   atomic.LoadInt64(&p.tasksRetried),
		ActiveWorkers:  atomic.LoadInt64(&p.activeWorkers),
		QueueDepth:     atomic.LoadInt64(&p.queueDepth),
		QueueCapacity:  p.config.QueueSize,
		Workers:        p.config.Workers,
	}
}

// IsHealthy returns true if the pool is operating normally
func (p *Pool[T, R]) IsHealthy() bool {
	stats := p.Stats()
	// Healthy if queue isn't backing up significantly
	return float64(stats.QueueDepth)/float64(stats.QueueCapacity) < 0.9
}

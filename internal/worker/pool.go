package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"moodjournal/internal/metrics"
)

// Task is a unit of background work. Process is retried on error.
type Task interface {
	Type() string
	Process(ctx context.Context) error
}

// Dispatcher accepts tasks for asynchronous processing.
// Submit returns false when the task was not accepted.
type Dispatcher interface {
	Submit(task Task) bool
}

// Options configures a Pool.
type Options struct {
	Workers    int
	QueueSize  int
	MaxRetries int
	RetryDelay time.Duration
}

// Pool runs tasks on a fixed set of goroutines fed by a bounded queue.
type Pool struct {
	opts   Options
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	started bool
	stopped bool
	tasks   chan Task

	deadLetter   []Task
	deadLetterMu sync.Mutex
}

// PoolStats holds monitoring information about the pool.
type PoolStats struct {
	Workers     int
	QueueLength int
	DeadLetters int
}

// NewPool creates a pool. Call Start before submitting.
func NewPool(opts Options, logger *zap.Logger) *Pool {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		opts:   opts,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		tasks:  make(chan Task, opts.QueueSize),
	}
}

// Start launches the worker goroutines.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.stopped {
		return
	}
	p.started = true
	for i := 0; i < p.opts.Workers; i++ {
		p.wg.Add(1)
		go p.workerLoop()
	}
}

// Stop refuses new tasks and drains the queue. When ctx expires first the
// in-flight tasks are cancelled and ctx.Err() is returned.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.tasks)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return ctx.Err()
	}
}

// Submit queues a task. It returns false when the queue is full or the
// pool is stopped.
func (p *Pool) Submit(task Task) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return false
	}
	select {
	case p.tasks <- task:
		metrics.TaskQueueDepth.Set(float64(len(p.tasks)))
		return true
	default:
		p.logger.Warn("task_rejected", zap.String("task_type", task.Type()), zap.Int("queue_size", p.opts.QueueSize))
		metrics.TasksCompleted.WithLabelValues(task.Type(), "rejected").Inc()
		return false
	}
}

func (p *Pool) workerLoop() {
	defer p.wg.Done()
	for task := range p.tasks {
		metrics.TaskQueueDepth.Set(float64(len(p.tasks)))
		p.process(task)
	}
}

func (p *Pool) process(task Task) {
	metrics.TasksInFlight.Inc()
	defer metrics.TasksInFlight.Dec()

	err := runWithRetry(p.ctx, task, p.opts.MaxRetries, p.opts.RetryDelay, p.logger)
	if err == nil {
		metrics.TasksCompleted.WithLabelValues(task.Type(), "success").Inc()
		return
	}

	metrics.TasksCompleted.WithLabelValues(task.Type(), "failed").Inc()
	p.logger.Error("task_dead_lettered", zap.String("task_type", task.Type()), zap.Error(err))
	p.deadLetterMu.Lock()
	p.deadLetter = append(p.deadLetter, task)
	p.deadLetterMu.Unlock()
}

// runWithRetry runs task up to maxRetries+1 times, sleeping delay between
// attempts. Cancellation of ctx ends the loop early.
func runWithRetry(ctx context.Context, task Task, maxRetries int, delay time.Duration, logger *zap.Logger) error {
	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return errors.Join(err, ctx.Err())
			case <-time.After(delay):
			}
		}
		if err = task.Process(ctx); err == nil {
			return nil
		}
		logger.Warn("task_attempt_failed",
			zap.String("task_type", task.Type()),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
	return err
}

// DeadLetterCount returns the number of tasks that exhausted their retries.
func (p *Pool) DeadLetterCount() int {
	p.deadLetterMu.Lock()
	defer p.deadLetterMu.Unlock()
	return len(p.deadLetter)
}

// Workers returns the number of worker goroutines.
func (p *Pool) Workers() int {
	return p.opts.Workers
}

// Stats returns current statistics about the pool.
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Workers:     p.opts.Workers,
		QueueLength: len(p.tasks),
		DeadLetters: p.DeadLetterCount(),
	}
}

// Inline runs every task synchronously in Submit. Used in tests and when
// the pool is disabled.
type Inline struct {
	MaxRetries int
	Logger     *zap.Logger
}

func (d Inline) Submit(task Task) bool {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := runWithRetry(context.Background(), task, d.MaxRetries, 0, logger); err != nil {
		metrics.TasksCompleted.WithLabelValues(task.Type(), "failed").Inc()
		logger.Error("task_failed", zap.String("task_type", task.Type()), zap.Error(err))
		return true
	}
	metrics.TasksCompleted.WithLabelValues(task.Type(), "success").Inc()
	return true
}

// Func adapts a function to Task.
type Func struct {
	Name string
	Fn   func(ctx context.Context) error
}

func (f Func) Type() string { return f.Name }

func (f Func) Process(ctx context.Context) error { return f.Fn(ctx) }

package bulkhead

import (
	"context"
	"sync"
	"time"

	"github.com/core-tools/hsu-agentplane-go/pkg/errors"
	"github.com/core-tools/hsu-agentplane-go/pkg/logging"
)

// threadPoolQueueSize is the internal queue depth for the thread-pool
// strategy, where excess calls queue inside the pool rather than being
// rejected.
const threadPoolQueueSize = 1024

type poolTask struct {
	ctx       context.Context
	operation Operation
	result    chan error
	submitted time.Time
}

// poolBulkhead implements the ThreadPool and Queue strategies: a fixed pool
// of MaxConcurrent workers fed from a channel. The Queue variant bounds the
// channel at MaxQueueSize and rejects immediately at capacity; the
// ThreadPool variant queues excess calls inside the pool. Both apply the
// configured timeout to the per-call result wait.
type poolBulkhead struct {
	config  Config
	tasks   chan poolTask
	metrics *metrics
	logger  logging.Logger
	bounded bool

	wg     sync.WaitGroup
	mutex  sync.RWMutex
	closed bool
}

func newPoolBulkhead(config Config, bounded bool, logger logging.Logger) *poolBulkhead {
	strategy := StrategyThreadPool
	queueSize := threadPoolQueueSize
	if bounded {
		strategy = StrategyQueue
		queueSize = config.MaxQueueSize
	}

	b := &poolBulkhead{
		config:  config,
		tasks:   make(chan poolTask, queueSize),
		metrics: newMetrics(config.Name, strategy),
		logger:  logger,
		bounded: bounded,
	}

	b.wg.Add(config.MaxConcurrent)
	for i := 0; i < config.MaxConcurrent; i++ {
		go b.worker()
	}
	return b
}

func (b *poolBulkhead) worker() {
	defer b.wg.Done()
	for task := range b.tasks {
		b.metrics.enterExecution(time.Since(task.submitted))

		executionStart := time.Now()
		err := task.operation(task.ctx)
		b.metrics.exitExecution(time.Since(executionStart), err)

		task.result <- err
	}
}

func (b *poolBulkhead) Name() string {
	return b.config.Name
}

func (b *poolBulkhead) Execute(ctx context.Context, operation Operation) error {
	if ctx == nil {
		return errors.NewValidationError("context cannot be nil", nil).WithContext("name", b.config.Name)
	}

	b.metrics.recordSubmission()

	task := poolTask{
		ctx:       ctx,
		operation: operation,
		result:    make(chan error, 1),
		submitted: time.Now(),
	}

	timer := time.NewTimer(b.config.Timeout)
	defer timer.Stop()

	if err := b.submit(ctx, task, timer); err != nil {
		return err
	}

	select {
	case err := <-task.result:
		return err
	case <-timer.C:
		// The worker keeps running the operation; it is bound to its own
		// context. The caller only stops waiting for the result.
		b.metrics.recordTimeout()
		b.logger.Warnf("Result wait timed out, waited: %v", time.Since(task.submitted))
		return &TimeoutError{Name: b.config.Name, Waited: time.Since(task.submitted)}
	case <-ctx.Done():
		return errors.NewCancelledError("bulkhead result wait cancelled", ctx.Err()).WithContext("name", b.config.Name)
	}
}

// submit enqueues a task. The read lock is held across the channel send so
// that Close never closes the task channel with a send in flight.
func (b *poolBulkhead) submit(ctx context.Context, task poolTask, timer *time.Timer) error {
	b.mutex.RLock()
	defer b.mutex.RUnlock()

	if b.closed {
		return errors.NewConflictError("bulkhead is closed", nil).WithContext("name", b.config.Name)
	}

	if b.bounded {
		// Bounded queue: no blocking, reject immediately at capacity.
		select {
		case b.tasks <- task:
			return nil
		default:
			b.metrics.recordRejection()
			b.logger.Warnf("Queue full, rejecting submission, max_queue_size: %d", b.config.MaxQueueSize)
			return &FullError{Name: b.config.Name}
		}
	}

	select {
	case b.tasks <- task:
		return nil
	case <-timer.C:
		b.metrics.recordTimeout()
		return &TimeoutError{Name: b.config.Name, Waited: time.Since(task.submitted)}
	case <-ctx.Done():
		return errors.NewCancelledError("bulkhead submission cancelled", ctx.Err()).WithContext("name", b.config.Name)
	}
}

func (b *poolBulkhead) Metrics() MetricsSnapshot {
	return b.metrics.snapshot()
}

func (b *poolBulkhead) Health() HealthStatus {
	return b.metrics.health()
}

// Close stops accepting submissions, drains queued tasks and waits for the
// owned workers to finish.
func (b *poolBulkhead) Close() error {
	b.mutex.Lock()
	if b.closed {
		b.mutex.Unlock()
		return nil
	}
	b.closed = true
	close(b.tasks)
	b.mutex.Unlock()

	b.wg.Wait()
	b.logger.Infof("Worker pool drained, workers: %d", b.config.MaxConcurrent)
	return nil
}

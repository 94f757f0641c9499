package bulkhead

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/core-tools/hsu-agentplane-go/pkg/errors"
	"github.com/core-tools/hsu-agentplane-go/pkg/logging"
)

// semaphoreBulkhead implements the Semaphore and AsyncSemaphore strategies
// over a weighted semaphore of MaxConcurrent permits. The blocking variant
// bounds the permit wait only by the configured timeout; the async variant
// additionally observes caller cancellation during the wait.
type semaphoreBulkhead struct {
	config  Config
	sem     *semaphore.Weighted
	metrics *metrics
	logger  logging.Logger
	async   bool
}

func newSemaphoreBulkhead(config Config, async bool, logger logging.Logger) *semaphoreBulkhead {
	strategy := StrategySemaphore
	if async {
		strategy = StrategyAsyncSemaphore
	}
	return &semaphoreBulkhead{
		config:  config,
		sem:     semaphore.NewWeighted(int64(config.MaxConcurrent)),
		metrics: newMetrics(config.Name, strategy),
		logger:  logger,
		async:   async,
	}
}

func (b *semaphoreBulkhead) Name() string {
	return b.config.Name
}

func (b *semaphoreBulkhead) Execute(ctx context.Context, operation Operation) error {
	if ctx == nil {
		return errors.NewValidationError("context cannot be nil", nil).WithContext("name", b.config.Name)
	}

	b.metrics.recordSubmission()

	parent := context.Background()
	if b.async {
		parent = ctx
	}
	acquireCtx, cancel := context.WithTimeout(parent, b.config.Timeout)
	defer cancel()

	queueStart := time.Now()
	if err := b.sem.Acquire(acquireCtx, 1); err != nil {
		waited := time.Since(queueStart)
		if b.async && ctx.Err() != nil {
			b.logger.Debugf("Permit wait cancelled, waited: %v", waited)
			return errors.NewCancelledError("bulkhead wait cancelled", ctx.Err()).WithContext("name", b.config.Name)
		}
		b.metrics.recordTimeout()
		b.logger.Warnf("Permit wait timed out, waited: %v, max_concurrent: %d", waited, b.config.MaxConcurrent)
		return &TimeoutError{Name: b.config.Name, Waited: waited}
	}
	defer b.sem.Release(1)

	b.metrics.enterExecution(time.Since(queueStart))

	executionStart := time.Now()
	err := operation(ctx)
	b.metrics.exitExecution(time.Since(executionStart), err)
	return err
}

func (b *semaphoreBulkhead) Metrics() MetricsSnapshot {
	return b.metrics.snapshot()
}

func (b *semaphoreBulkhead) Health() HealthStatus {
	return b.metrics.health()
}

// Close is a no-op for semaphore strategies: there is no owned worker pool.
func (b *semaphoreBulkhead) Close() error {
	return nil
}

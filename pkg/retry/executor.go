package retry

import (
	"context"
	stderrors "errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/core-tools/hsu-agentplane-go/pkg/errors"
	"github.com/core-tools/hsu-agentplane-go/pkg/logging"
)

func errorsIs(err, target error) bool {
	return stderrors.Is(err, target)
}

// Operation is a unit of work protected by the executor. It must respect the
// provided context.
type Operation func(ctx context.Context) error

// Attempt records one execution of the protected operation. Attempts are
// collected into the exhaustion error so callers see the full history.
type Attempt struct {
	Number        int           `json:"number"`
	ComputedDelay time.Duration `json:"computed_delay"`
	Err           error         `json:"-"`
	Duration      time.Duration `json:"duration"`
	Timestamp     time.Time     `json:"timestamp"`
}

// ExhaustedError is returned when every allowed attempt has failed.
type ExhaustedError struct {
	Name     string
	Attempts []Attempt
	LastErr  error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry exhausted, name: %s, attempts: %d, last error: %v",
		e.Name, len(e.Attempts), e.LastErr)
}

func (e *ExhaustedError) Unwrap() error {
	return e.LastErr
}

// IsExhaustedError reports whether err is a retry exhaustion.
func IsExhaustedError(err error) bool {
	var exhausted *ExhaustedError
	return stderrors.As(err, &exhausted)
}

// Snapshot is a point-in-time view of executor totals, used only for
// reporting, never for control decisions.
type Snapshot struct {
	Name            string        `json:"name"`
	TotalExecutions int64         `json:"total_executions"`
	TotalAttempts   int64         `json:"total_attempts"`
	TotalRetries    int64         `json:"total_retries"`
	TotalExhausted  int64         `json:"total_exhausted"`
	AverageDelay    time.Duration `json:"average_delay"`
}

// Executor performs bounded retry with backoff and jitter around a single
// class of cross-process calls.
type Executor struct {
	name   string
	config Config
	logger logging.Logger
	rng    *rand.Rand

	mutex           sync.Mutex
	totalExecutions int64
	totalAttempts   int64
	totalRetries    int64
	totalExhausted  int64
	totalDelay      time.Duration
	delaySamples    int64
}

// NewExecutor creates an executor for a named call class.
func NewExecutor(name string, config Config, logger logging.Logger) (*Executor, error) {
	config.SetDefaults()
	if err := Validate(config); err != nil {
		return nil, errors.NewValidationError("invalid retry configuration", err).WithContext("name", name)
	}
	return &Executor{
		name:   name,
		config: config,
		logger: logger,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// Name returns the executor's call-class name.
func (e *Executor) Name() string {
	return e.name
}

// Execute runs the operation, retrying retryable failures with the
// configured backoff until success, exhaustion, or context cancellation.
// A non-retryable error terminates after exactly one attempt.
func (e *Executor) Execute(ctx context.Context, operation Operation) error {
	if ctx == nil {
		return errors.NewValidationError("context cannot be nil", nil).WithContext("name", e.name)
	}

	e.mutex.Lock()
	e.totalExecutions++
	e.mutex.Unlock()

	attempts := make([]Attempt, 0, e.config.MaxAttempts)
	var lastErr error

	for attempt := 1; attempt <= e.config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return errors.NewCancelledError("retry cancelled", err).WithContext("name", e.name)
		}

		started := time.Now()
		err := operation(ctx)
		duration := time.Since(started)

		e.mutex.Lock()
		e.totalAttempts++
		e.mutex.Unlock()

		record := Attempt{
			Number:    attempt,
			Err:       err,
			Duration:  duration,
			Timestamp: started,
		}

		if err == nil {
			e.logger.Debugf("Operation succeeded, name: %s, attempt: %d/%d", e.name, attempt, e.config.MaxAttempts)
			return nil
		}
		lastErr = err

		if !e.config.Classifier.IsRetryable(err) {
			attempts = append(attempts, record)
			e.logger.Debugf("Non-retryable error, name: %s, attempt: %d, error: %v", e.name, attempt, err)
			return err
		}

		if attempt == e.config.MaxAttempts {
			attempts = append(attempts, record)
			break
		}

		delay := applyJitter(computeDelay(attempt, e.config), e.config, e.rng)
		record.ComputedDelay = delay
		attempts = append(attempts, record)

		e.mutex.Lock()
		e.totalRetries++
		e.totalDelay += delay
		e.delaySamples++
		e.mutex.Unlock()

		e.logger.Warnf("Operation failed, retrying, name: %s, attempt: %d/%d, delay: %v, error: %v",
			e.name, attempt, e.config.MaxAttempts, delay, err)

		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return errors.NewCancelledError("retry cancelled during delay", ctx.Err()).WithContext("name", e.name)
			}
		}
	}

	e.mutex.Lock()
	e.totalExhausted++
	e.mutex.Unlock()

	e.logger.Errorf("Retry exhausted, name: %s, attempts: %d, last error: %v",
		e.name, len(attempts), lastErr)

	return &ExhaustedError{
		Name:     e.name,
		Attempts: attempts,
		LastErr:  lastErr,
	}
}

// Metrics returns a snapshot of running totals.
func (e *Executor) Metrics() Snapshot {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	var average time.Duration
	if e.delaySamples > 0 {
		average = e.totalDelay / time.Duration(e.delaySamples)
	}
	return Snapshot{
		Name:            e.name,
		TotalExecutions: e.totalExecutions,
		TotalAttempts:   e.totalAttempts,
		TotalRetries:    e.totalRetries,
		TotalExhausted:  e.totalExhausted,
		AverageDelay:    average,
	}
}

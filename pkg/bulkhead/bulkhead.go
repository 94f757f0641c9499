package bulkhead

import (
	"context"
	"fmt"
	"time"

	"github.com/core-tools/hsu-agentplane-go/pkg/errors"
	"github.com/core-tools/hsu-agentplane-go/pkg/logging"
)

// Strategy selects the isolation mechanism, fixed at construction.
type Strategy string

const (
	StrategySemaphore      Strategy = "semaphore"
	StrategyAsyncSemaphore Strategy = "async_semaphore"
	StrategyThreadPool     Strategy = "thread_pool"
	StrategyQueue          Strategy = "queue"
)

// Operation is a unit of work bounded by the bulkhead.
type Operation func(ctx context.Context) error

// Bulkhead bounds simultaneous operations of one class so a stalled
// collaborator cannot exhaust the whole control plane.
type Bulkhead interface {
	Name() string
	Execute(ctx context.Context, operation Operation) error
	Metrics() MetricsSnapshot
	Health() HealthStatus
	Close() error
}

type Config struct {
	Name          string        `yaml:"name"`
	Strategy      Strategy      `yaml:"strategy"`
	MaxConcurrent int           `yaml:"max_concurrent"`
	MaxQueueSize  int           `yaml:"max_queue_size"`

	// Timeout bounds the permit/queue wait for semaphore strategies and the
	// result wait for pool strategies.
	Timeout time.Duration `yaml:"timeout"`
}

// SetDefaults fills zero values with defaults, preserving explicit settings.
// MaxQueueSize is deliberately left alone: zero is a meaningful setting for
// the queue strategy (reject whenever all workers are busy).
func (c *Config) SetDefaults() {
	if c.Strategy == "" {
		c.Strategy = StrategySemaphore
	}
	if c.MaxConcurrent == 0 {
		c.MaxConcurrent = 10
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
}

// Validate checks configuration invariants.
func Validate(config Config) error {
	if config.Name == "" {
		return errors.NewValidationError("bulkhead name cannot be empty", nil)
	}
	if config.MaxConcurrent < 1 {
		return errors.NewValidationError("max_concurrent must be at least 1", nil)
	}
	if config.MaxQueueSize < 0 {
		return errors.NewValidationError("max_queue_size cannot be negative", nil)
	}
	if config.Timeout <= 0 {
		return errors.NewValidationError("timeout must be positive", nil)
	}
	switch config.Strategy {
	case StrategySemaphore, StrategyAsyncSemaphore, StrategyThreadPool, StrategyQueue:
	default:
		return errors.NewValidationError("unsupported bulkhead strategy: "+string(config.Strategy), nil)
	}
	return nil
}

// New creates a bulkhead for the configured strategy.
func New(config Config, logger logging.Logger) (Bulkhead, error) {
	config.SetDefaults()
	if err := Validate(config); err != nil {
		return nil, errors.NewValidationError("invalid bulkhead configuration", err).WithContext("name", config.Name)
	}

	logger = logging.NewPrefixedLogger("bulkhead: "+config.Name+" , ", logger)

	switch config.Strategy {
	case StrategySemaphore:
		return newSemaphoreBulkhead(config, false, logger), nil
	case StrategyAsyncSemaphore:
		return newSemaphoreBulkhead(config, true, logger), nil
	case StrategyThreadPool:
		return newPoolBulkhead(config, false, logger), nil
	case StrategyQueue:
		return newPoolBulkhead(config, true, logger), nil
	}
	return nil, errors.NewInternalError(fmt.Sprintf("unreachable strategy: %s", config.Strategy), nil)
}

// FullError is caller-visible backpressure from a saturated bounded queue.
// It is never retried internally; any retry-on-backpressure is composed
// externally by the caller.
type FullError struct {
	Name string
}

func (e *FullError) Error() string {
	return fmt.Sprintf("bulkhead full, name: %s", e.Name)
}

// TimeoutError is returned when the permit or result wait exceeded the
// configured bound.
type TimeoutError struct {
	Name   string
	Waited time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("bulkhead timeout, name: %s, waited: %v", e.Name, e.Waited)
}

// IsFullError reports whether err is bulkhead rejection backpressure.
func IsFullError(err error) bool {
	var full *FullError
	return errorsAs(err, &full)
}

// IsTimeoutError reports whether err is a bulkhead wait timeout.
func IsTimeoutError(err error) bool {
	var timeout *TimeoutError
	return errorsAs(err, &timeout)
}

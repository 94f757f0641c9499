package retry

import (
	"time"

	"github.com/core-tools/hsu-agentplane-go/pkg/errors"
)

// BackoffStrategy selects the delay-growth function applied between attempts.
type BackoffStrategy string

const (
	BackoffExponential BackoffStrategy = "exponential"
	BackoffLinear      BackoffStrategy = "linear"
	BackoffFixed       BackoffStrategy = "fixed"
	BackoffFibonacci   BackoffStrategy = "fibonacci"
)

// JitterMode selects the randomized perturbation applied to a computed delay.
type JitterMode string

const (
	JitterNone         JitterMode = "none"
	JitterUniform      JitterMode = "uniform"
	JitterExponential  JitterMode = "exponential"
	JitterDecorrelated JitterMode = "decorrelated"
)

// Classifier decides whether a failed attempt may be retried.
// Order of precedence: a custom predicate overrides everything; otherwise a
// match against NonRetryable short-circuits to failure, a match against
// Retryable allows a retry, and anything else falls back to the default
// transient set (network, timeout, IO).
type Classifier struct {
	NonRetryable []error
	Retryable    []error
	Custom       func(error) bool
}

// IsRetryable applies the classification rules to an attempt error.
func (c *Classifier) IsRetryable(err error) bool {
	if c == nil {
		return errors.IsTransient(err)
	}
	if c.Custom != nil {
		return c.Custom(err)
	}
	for _, target := range c.NonRetryable {
		if matches(err, target) {
			return false
		}
	}
	for _, target := range c.Retryable {
		if matches(err, target) {
			return true
		}
	}
	if len(c.Retryable) > 0 {
		// An explicit retryable list is exhaustive.
		return false
	}
	return errors.IsTransient(err)
}

func matches(err, target error) bool {
	return err == target || errorsIs(err, target)
}

type Config struct {
	MaxAttempts int `yaml:"max_attempts"`

	// BaseDelay of zero means "use the default". A negative value requests
	// a literal zero delay (immediate retries).
	BaseDelay time.Duration `yaml:"base_delay"`

	MaxDelay        time.Duration   `yaml:"max_delay"`
	ExponentialBase float64         `yaml:"exponential_base"`
	Strategy        BackoffStrategy `yaml:"strategy"`
	Jitter          JitterMode      `yaml:"jitter"`
	JitterMax       float64         `yaml:"jitter_max"`

	// Classifier is not configurable from YAML; it is wired in code.
	Classifier *Classifier `yaml:"-"`
}

// DefaultConfig returns the defaults used for cross-process calls when the
// configuration file leaves a retry section empty.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:     3,
		BaseDelay:       1 * time.Second,
		MaxDelay:        30 * time.Second,
		ExponentialBase: 2.0,
		Strategy:        BackoffExponential,
		Jitter:          JitterUniform,
		JitterMax:       0.2,
	}
}

// SetDefaults fills zero values with defaults, preserving explicit settings.
func (c *Config) SetDefaults() {
	defaults := DefaultConfig()
	if c.MaxAttempts == 0 {
		c.MaxAttempts = defaults.MaxAttempts
	}
	if c.BaseDelay == 0 {
		c.BaseDelay = defaults.BaseDelay
	} else if c.BaseDelay < 0 {
		c.BaseDelay = 0
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = defaults.MaxDelay
	}
	if c.ExponentialBase == 0 {
		c.ExponentialBase = defaults.ExponentialBase
	}
	if c.Strategy == "" {
		c.Strategy = defaults.Strategy
	}
	if c.Jitter == "" {
		c.Jitter = defaults.Jitter
	}
	if c.JitterMax == 0 {
		c.JitterMax = defaults.JitterMax
	}
}

// Validate checks configuration invariants.
func Validate(config Config) error {
	if config.MaxAttempts < 1 {
		return errors.NewValidationError("max_attempts must be at least 1", nil)
	}
	if config.BaseDelay < 0 {
		return errors.NewValidationError("base_delay cannot be negative", nil)
	}
	if config.MaxDelay < 0 {
		return errors.NewValidationError("max_delay cannot be negative", nil)
	}
	if config.MaxDelay > 0 && config.MaxDelay < config.BaseDelay {
		return errors.NewValidationError("max_delay cannot be smaller than base_delay", nil)
	}
	if config.JitterMax < 0 || config.JitterMax > 1 {
		return errors.NewValidationError("jitter_max must be within [0, 1]", nil)
	}
	switch config.Strategy {
	case BackoffExponential, BackoffLinear, BackoffFixed, BackoffFibonacci:
	default:
		return errors.NewValidationError("unsupported backoff strategy: "+string(config.Strategy), nil)
	}
	switch config.Jitter {
	case JitterNone, JitterUniform, JitterExponential, JitterDecorrelated:
	default:
		return errors.NewValidationError("unsupported jitter mode: "+string(config.Jitter), nil)
	}
	if config.Strategy == BackoffExponential && config.ExponentialBase <= 1.0 {
		return errors.NewValidationError("exponential_base must be greater than 1.0", nil)
	}
	return nil
}

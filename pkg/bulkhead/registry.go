package bulkhead

import (
	"sync"

	"github.com/core-tools/hsu-agentplane-go/pkg/errors"
	"github.com/core-tools/hsu-agentplane-go/pkg/logging"
)

// Registry is an explicit collection of bulkheads keyed by name. Like the
// retry manager it is created once at process start, injected into the
// orchestrators, and closed at shutdown; there is no module-level default.
type Registry struct {
	logger    logging.Logger
	mutex     sync.Mutex
	bulkheads map[string]Bulkhead
}

func NewRegistry(logger logging.Logger) *Registry {
	return &Registry{
		logger:    logger,
		bulkheads: make(map[string]Bulkhead),
	}
}

// Register creates and registers a bulkhead from config.
func (r *Registry) Register(config Config) (Bulkhead, error) {
	b, err := New(config, r.logger)
	if err != nil {
		return nil, err
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.bulkheads[b.Name()]; exists {
		// The pool strategies spin up workers in New; shut them down again.
		_ = b.Close()
		return nil, errors.NewConflictError("bulkhead already registered", nil).WithContext("name", b.Name())
	}
	r.bulkheads[b.Name()] = b

	r.logger.Infof("Bulkhead registered, name: %s, strategy: %s, max_concurrent: %d",
		b.Name(), config.Strategy, config.MaxConcurrent)
	return b, nil
}

// Get returns a registered bulkhead by name.
func (r *Registry) Get(name string) (Bulkhead, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	b, exists := r.bulkheads[name]
	if !exists {
		return nil, errors.NewNotFoundError("bulkhead not found", nil).WithContext("name", name)
	}
	return b, nil
}

// Snapshots returns metrics for every registered bulkhead.
func (r *Registry) Snapshots() map[string]MetricsSnapshot {
	r.mutex.Lock()
	bulkheadsCopy := make(map[string]Bulkhead, len(r.bulkheads))
	for name, b := range r.bulkheads {
		bulkheadsCopy[name] = b
	}
	r.mutex.Unlock()

	result := make(map[string]MetricsSnapshot, len(bulkheadsCopy))
	for name, b := range bulkheadsCopy {
		result[name] = b.Metrics()
	}
	return result
}

// Close shuts down every registered bulkhead, draining owned worker pools.
func (r *Registry) Close() error {
	r.mutex.Lock()
	bulkheadsCopy := make([]Bulkhead, 0, len(r.bulkheads))
	for _, b := range r.bulkheads {
		bulkheadsCopy = append(bulkheadsCopy, b)
	}
	r.mutex.Unlock()

	errorCollection := errors.NewErrorCollection()
	for _, b := range bulkheadsCopy {
		if err := b.Close(); err != nil {
			r.logger.Errorf("Failed to close bulkhead, name: %s, error: %v", b.Name(), err)
			errorCollection.Add(err)
		}
	}
	return errorCollection.ToError()
}

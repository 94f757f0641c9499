package retry

import (
	"sync"

	"github.com/core-tools/hsu-agentplane-go/pkg/errors"
	"github.com/core-tools/hsu-agentplane-go/pkg/logging"
)

// Manager is an explicit registry of retry executors keyed by call-class
// name. It is created once at process start, injected into the orchestrators
// at construction, and torn down at shutdown. There is no module-level
// default instance.
type Manager struct {
	logger    logging.Logger
	mutex     sync.Mutex
	executors map[string]*Executor
}

func NewManager(logger logging.Logger) *Manager {
	return &Manager{
		logger:    logger,
		executors: make(map[string]*Executor),
	}
}

// Register creates and registers an executor under a unique name.
func (m *Manager) Register(name string, config Config) (*Executor, error) {
	executor, err := NewExecutor(name, config, logging.NewPrefixedLogger("retry: "+name+" , ", m.logger))
	if err != nil {
		return nil, err
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if _, exists := m.executors[name]; exists {
		return nil, errors.NewConflictError("retry executor already registered", nil).WithContext("name", name)
	}
	m.executors[name] = executor

	m.logger.Infof("Retry executor registered, name: %s, strategy: %s, jitter: %s, max_attempts: %d",
		name, config.Strategy, config.Jitter, config.MaxAttempts)
	return executor, nil
}

// Get returns a registered executor by name.
func (m *Manager) Get(name string) (*Executor, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	executor, exists := m.executors[name]
	if !exists {
		return nil, errors.NewNotFoundError("retry executor not found", nil).WithContext("name", name)
	}
	return executor, nil
}

// Snapshots returns metrics for every registered executor.
func (m *Manager) Snapshots() map[string]Snapshot {
	m.mutex.Lock()
	executorsCopy := make(map[string]*Executor, len(m.executors))
	for name, executor := range m.executors {
		executorsCopy[name] = executor
	}
	m.mutex.Unlock()

	result := make(map[string]Snapshot, len(executorsCopy))
	for name, executor := range executorsCopy {
		result[name] = executor.Metrics()
	}
	return result
}

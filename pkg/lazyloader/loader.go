package lazyloader

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"

	"github.com/core-tools/hsu-agentplane-go/pkg/bulkhead"
	"github.com/core-tools/hsu-agentplane-go/pkg/errors"
	"github.com/core-tools/hsu-agentplane-go/pkg/logging"
	"github.com/core-tools/hsu-agentplane-go/pkg/monitoring"
	"github.com/core-tools/hsu-agentplane-go/pkg/process"
	"github.com/core-tools/hsu-agentplane-go/pkg/retry"
	"github.com/core-tools/hsu-agentplane-go/pkg/units"
)

// LoadState is a unit's lifecycle state as tracked by the lazy loader.
type LoadState string

const (
	LoadStateUnloaded LoadState = "unloaded"
	LoadStateQueued   LoadState = "queued"
	LoadStateLoading  LoadState = "loading"
	LoadStateLoaded   LoadState = "loaded"
)

// ProcessSupervisor is the process-management surface the loader needs.
// *process.Supervisor satisfies it.
type ProcessSupervisor interface {
	Start(ctx context.Context, spec units.UnitSpec) (*process.Handle, error)
	Stop(ctx context.Context, handle *process.Handle) error
	IsAlive(handle *process.Handle) bool
}

// HealthProber answers one health probe. *monitoring.Prober satisfies it.
type HealthProber interface {
	Probe(ctx context.Context, target monitoring.ProbeTarget, timeout time.Duration) monitoring.ProbeResult
}

// Options tunes lazy activation timing.
type Options struct {
	// StartupTimeout bounds one load attempt, spawn through healthy.
	StartupTimeout time.Duration `yaml:"startup_timeout,omitempty"`

	// HealthPollInterval is the pause between health probes during a load.
	HealthPollInterval time.Duration `yaml:"health_poll_interval,omitempty"`

	// ProbeTimeout bounds a single probe round-trip.
	ProbeTimeout time.Duration `yaml:"probe_timeout,omitempty"`

	// MonitorInterval is the crash-scan period for loaded units.
	MonitorInterval time.Duration `yaml:"monitor_interval,omitempty"`

	// KeywordTable maps task-type keywords to candidate units. Empty uses
	// DefaultKeywordTable.
	KeywordTable map[string][]string `yaml:"keyword_table,omitempty"`
}

func (o *Options) SetDefaults() {
	if o.StartupTimeout == 0 {
		o.StartupTimeout = 60 * time.Second
	}
	if o.HealthPollInterval == 0 {
		o.HealthPollInterval = 5 * time.Second
	}
	if o.ProbeTimeout == 0 {
		o.ProbeTimeout = 5 * time.Second
	}
	if o.MonitorInterval == 0 {
		o.MonitorInterval = 30 * time.Second
	}
	if o.KeywordTable == nil {
		o.KeywordTable = DefaultKeywordTable()
	}
}

// Dependencies are the loader's collaborators. Source, Notifier, Retrier
// and SpawnGuard are optional; nil skips that layer.
type Dependencies struct {
	Supervisor ProcessSupervisor
	Prober     HealthProber
	Source     EventSource
	Notifier   LoadNotifier
	Retrier    *retry.Executor
	SpawnGuard bulkhead.Bulkhead
}

type loadRequest struct {
	unitName    string
	requestID   string
	requestedBy string
}

type unitRecord struct {
	spec   units.UnitSpec
	state  LoadState
	handle *process.Handle
}

// LazyLoader activates units on observed demand instead of at startup. It
// runs three loops: event intake (coordinator stream), queue drain (FIFO
// loads with depth-first dependency activation), and a crash monitor that
// demotes and re-queues units whose process died.
type LazyLoader struct {
	options Options
	deps    Dependencies
	logger  logging.Logger

	mu        sync.Mutex
	records   map[string]*unitRecord
	specOrder []string
	queue     []loadRequest

	queueSignal chan struct{}
	cancel      context.CancelFunc
	wg          conc.WaitGroup
}

func NewLazyLoader(options Options, specs []units.UnitSpec, deps Dependencies, logger logging.Logger) *LazyLoader {
	options.SetDefaults()

	loader := &LazyLoader{
		options:     options,
		deps:        deps,
		logger:      logger,
		records:     make(map[string]*unitRecord, len(specs)),
		queueSignal: make(chan struct{}, 1),
	}
	for _, spec := range specs {
		loader.records[spec.Name] = &unitRecord{spec: spec, state: LoadStateUnloaded}
		loader.specOrder = append(loader.specOrder, spec.Name)
	}
	return loader
}

// Start launches the loader's background loops. It does not block.
func (l *LazyLoader) Start(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel

	if l.deps.Source != nil {
		l.wg.Go(func() { l.intakeLoop(loopCtx) })
	}
	l.wg.Go(func() { l.drainLoop(loopCtx) })
	l.wg.Go(func() { l.monitorLoop(loopCtx) })

	l.logger.Infof("Lazy loader started, units: %d", len(l.records))
}

// Shutdown stops all loops and terminates the loader's children.
func (l *LazyLoader) Shutdown(ctx context.Context) error {
	l.logger.Infof("Lazy loader shutting down")
	if l.cancel != nil {
		l.cancel()
	}
	if l.deps.Source != nil {
		if err := l.deps.Source.Close(); err != nil {
			l.logger.Warnf("Failed to close event source, error: %v", err)
		}
	}
	l.wg.Wait()

	collection := errors.NewErrorCollection()
	l.mu.Lock()
	handles := make(map[string]*process.Handle)
	for name, record := range l.records {
		if record.handle != nil {
			handles[name] = record.handle
			record.handle = nil
			record.state = LoadStateUnloaded
		}
	}
	l.mu.Unlock()

	for name, handle := range handles {
		l.logger.Infof("Stopping unit, id: %s", name)
		if err := l.deps.Supervisor.Stop(ctx, handle); err != nil {
			l.logger.Errorf("Failed to stop unit, id: %s, error: %v", name, err)
			collection.Add(err)
		}
	}
	return collection.ToError()
}

// Request enqueues a load for the named unit. Units already queued,
// loading, or loaded are left alone.
func (l *LazyLoader) Request(unitName, requestedBy string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enqueueLocked(unitName, requestedBy)
}

func (l *LazyLoader) enqueueLocked(unitName, requestedBy string) error {
	record, ok := l.records[unitName]
	if !ok {
		return errors.NewNotFoundError("unknown unit", nil).WithContext("unit", unitName)
	}
	if record.state != LoadStateUnloaded {
		l.logger.Debugf("Dropping duplicate load request, id: %s, state: %s", unitName, record.state)
		return nil
	}

	request := loadRequest{
		unitName:    unitName,
		requestID:   uuid.NewString(),
		requestedBy: requestedBy,
	}
	record.state = LoadStateQueued
	l.queue = append(l.queue, request)
	l.logger.Infof("Queued unit load, id: %s, request id: %s, requested by: %s",
		unitName, request.requestID, requestedBy)

	select {
	case l.queueSignal <- struct{}{}:
	default:
	}
	return nil
}

// States returns the per-unit load states in declaration order.
func (l *LazyLoader) States() map[string]LoadState {
	l.mu.Lock()
	defer l.mu.Unlock()
	states := make(map[string]LoadState, len(l.records))
	for name, record := range l.records {
		states[name] = record.state
	}
	return states
}

func (l *LazyLoader) intakeLoop(ctx context.Context) {
	for {
		frame, err := l.deps.Source.Next(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			l.logger.Warnf("Event stream read failed, error: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		event, err := ParseFrame(frame)
		if err != nil {
			l.logger.Warnf("Dropping malformed event frame, error: %v", err)
			continue
		}
		l.dispatch(event)
	}
}

func (l *LazyLoader) dispatch(event Event) {
	switch event.Type {
	case EventTypeAgentRequest:
		if err := l.Request(event.AgentRequest.AgentName, event.AgentRequest.RequestedBy); err != nil {
			l.logger.Warnf("Ignoring load request for unknown unit, id: %s", event.AgentRequest.AgentName)
		}
	case EventTypeTask:
		candidates := MapTaskToUnits(event.Task.Type, l.options.KeywordTable)
		if len(candidates) == 0 {
			l.logger.Debugf("No units mapped for task, task type: %s", event.Task.Type)
			return
		}
		for _, name := range candidates {
			if err := l.Request(name, "task:"+event.Task.Type); err != nil {
				l.logger.Warnf("Ignoring task candidate for unknown unit, id: %s", name)
			}
		}
	}
}

func (l *LazyLoader) drainLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.queueSignal:
		}

		for {
			l.mu.Lock()
			if len(l.queue) == 0 {
				l.mu.Unlock()
				break
			}
			request := l.queue[0]
			l.queue = l.queue[1:]
			l.mu.Unlock()

			if ctx.Err() != nil {
				return
			}
			l.processRequest(ctx, request)
		}
	}
}

func (l *LazyLoader) processRequest(ctx context.Context, request loadRequest) {
	l.logger.Infof("Loading unit, id: %s, request id: %s", request.unitName, request.requestID)

	if err := l.ensureLoaded(ctx, request.unitName, make(map[string]bool)); err != nil {
		l.logger.Errorf("Failed to load unit, id: %s, request id: %s, error: %v",
			request.unitName, request.requestID, err)
	}
}

// ensureLoaded activates a unit, depth-first activating its declared
// dependencies beforehand. Only the drain loop calls it, so at most one
// load chain runs at a time.
func (l *LazyLoader) ensureLoaded(ctx context.Context, name string, visiting map[string]bool) error {
	if visiting[name] {
		return errors.NewValidationError("dependency cycle during lazy activation", nil).WithContext("unit", name)
	}
	visiting[name] = true
	defer delete(visiting, name)

	l.mu.Lock()
	record, ok := l.records[name]
	if !ok {
		l.mu.Unlock()
		// Undeclared dependency names are treated as already satisfied.
		l.logger.Warnf("Dependency is not a managed unit, treating as satisfied, id: %s", name)
		return nil
	}
	if record.state == LoadStateLoaded {
		l.mu.Unlock()
		return nil
	}
	spec := record.spec
	l.mu.Unlock()

	demote := func() {
		l.mu.Lock()
		record.state = LoadStateUnloaded
		record.handle = nil
		l.mu.Unlock()
	}

	// Dependencies are activated first; the unit stays out of Loading until
	// everything it declares is Loaded.
	for _, dependency := range spec.Dependencies {
		if err := l.ensureLoaded(ctx, dependency, visiting); err != nil {
			demote()
			return err
		}
	}

	l.mu.Lock()
	record.state = LoadStateLoading
	l.mu.Unlock()

	loadStart := time.Now()
	loadCtx, cancel := context.WithTimeout(ctx, l.options.StartupTimeout)
	defer cancel()

	var handle *process.Handle
	spawn := func(ctx context.Context) error {
		started, err := l.deps.Supervisor.Start(ctx, spec)
		if err != nil {
			return err
		}
		handle = started
		return nil
	}

	if err := l.executeGuarded(loadCtx, spawn); err != nil {
		demote()
		return err
	}

	if err := l.waitHealthy(loadCtx, spec); err != nil {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer stopCancel()
		if stopErr := l.deps.Supervisor.Stop(stopCtx, handle); stopErr != nil {
			l.logger.Errorf("Failed to stop unhealthy unit, id: %s, error: %v", name, stopErr)
		}
		demote()
		return err
	}

	l.mu.Lock()
	record.handle = handle
	record.state = LoadStateLoaded
	l.mu.Unlock()

	loadTime := time.Since(loadStart)
	l.logger.Infof("Unit loaded, id: %s, PID: %d, load time: %s", name, handle.PID, loadTime)

	if l.deps.Notifier != nil {
		l.deps.Notifier.NotifyLoaded(ctx, name, loadTime)
	}
	return nil
}

func (l *LazyLoader) executeGuarded(ctx context.Context, spawn func(ctx context.Context) error) error {
	operation := spawn
	if l.deps.SpawnGuard != nil {
		inner := operation
		operation = func(ctx context.Context) error {
			return l.deps.SpawnGuard.Execute(ctx, bulkhead.Operation(inner))
		}
	}
	if l.deps.Retrier != nil {
		return l.deps.Retrier.Execute(ctx, retry.Operation(operation))
	}
	return operation(ctx)
}

func (l *LazyLoader) waitHealthy(ctx context.Context, spec units.UnitSpec) error {
	target := monitoring.ProbeTarget{Name: spec.Name, Address: spec.HealthAddress()}

	ticker := time.NewTicker(l.options.HealthPollInterval)
	defer ticker.Stop()

	for {
		result := l.deps.Prober.Probe(ctx, target, l.options.ProbeTimeout)
		if result.IsHealthy() {
			return nil
		}

		select {
		case <-ctx.Done():
			// Caller cancellation (loader shutdown) is not a health verdict.
			if ctx.Err() == context.Canceled {
				return errors.NewCancelledError("health wait cancelled", ctx.Err()).
					WithContext("unit", spec.Name)
			}
			return errors.NewHealthTimeoutError("unit did not become healthy within startup timeout", nil).
				WithContext("unit", spec.Name).
				WithContext("last_status", string(result.Status))
		case <-ticker.C:
		}
	}
}

// monitorLoop demotes loaded units whose process exited and re-queues them
// exactly once per crash.
func (l *LazyLoader) monitorLoop(ctx context.Context) {
	ticker := time.NewTicker(l.options.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.scanForCrashes()
		}
	}
}

func (l *LazyLoader) scanForCrashes() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, name := range l.specOrder {
		record := l.records[name]
		if record.state != LoadStateLoaded || record.handle == nil {
			continue
		}
		if l.deps.Supervisor.IsAlive(record.handle) {
			continue
		}

		l.logger.Errorf("Loaded unit exited, re-queueing, id: %s, PID: %d", name, record.handle.PID)
		record.handle = nil
		record.state = LoadStateUnloaded
		if err := l.enqueueLocked(name, "crash-recovery"); err != nil {
			l.logger.Errorf("Failed to re-queue crashed unit, id: %s, error: %v", name, err)
		}
	}
}

package orchestrator

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/core-tools/hsu-agentplane-go/pkg/bulkhead"
	"github.com/core-tools/hsu-agentplane-go/pkg/depgraph"
	"github.com/core-tools/hsu-agentplane-go/pkg/errors"
	"github.com/core-tools/hsu-agentplane-go/pkg/logging"
	"github.com/core-tools/hsu-agentplane-go/pkg/monitoring"
	"github.com/core-tools/hsu-agentplane-go/pkg/process"
	"github.com/core-tools/hsu-agentplane-go/pkg/retry"
	"github.com/core-tools/hsu-agentplane-go/pkg/units"
)

// Phase is the orchestrator's own lifecycle during a stack bring-up.
type Phase string

const (
	PhaseIdle           Phase = "idle"
	PhaseResolving      Phase = "resolving"
	PhaseStarting       Phase = "starting"
	PhaseWaitingHealthy Phase = "waiting_healthy"
	PhaseReady          Phase = "ready"
	PhaseFailed         Phase = "failed"
)

// ProcessSupervisor is the process-management surface the orchestrator
// needs. *process.Supervisor satisfies it.
type ProcessSupervisor interface {
	Start(ctx context.Context, spec units.UnitSpec) (*process.Handle, error)
	Stop(ctx context.Context, handle *process.Handle) error
	Monitor(handle *process.Handle) <-chan process.Exit
}

// HealthProber answers one health probe. *monitoring.Prober satisfies it.
type HealthProber interface {
	Probe(ctx context.Context, target monitoring.ProbeTarget, timeout time.Duration) monitoring.ProbeResult
}

// CircuitBreaker guards individual unit starts when the deployment already
// runs one. The orchestrator consumes the breaker, it never implements one.
type CircuitBreaker interface {
	Execute(operation func() error) error
}

// Options tunes stack bring-up timing.
type Options struct {
	// HealthWaitTimeout bounds how long a freshly started unit gets to
	// report healthy before its start counts as failed.
	HealthWaitTimeout time.Duration `yaml:"health_wait_timeout,omitempty"`

	// HealthPollInterval is the pause between health probes while waiting.
	HealthPollInterval time.Duration `yaml:"health_poll_interval,omitempty"`

	// ProbeTimeout bounds a single probe round-trip.
	ProbeTimeout time.Duration `yaml:"probe_timeout,omitempty"`
}

func (o *Options) SetDefaults() {
	if o.HealthWaitTimeout == 0 {
		o.HealthWaitTimeout = 60 * time.Second
	}
	if o.HealthPollInterval == 0 {
		o.HealthPollInterval = 5 * time.Second
	}
	if o.ProbeTimeout == 0 {
		o.ProbeTimeout = 5 * time.Second
	}
}

// Dependencies are the collaborators a stack orchestrator drives. Retrier,
// SpawnGuard and Breaker are optional; nil skips that layer.
type Dependencies struct {
	Supervisor ProcessSupervisor
	Prober     HealthProber
	Retrier    *retry.Executor
	SpawnGuard bulkhead.Bulkhead
	Breaker    CircuitBreaker
}

type unitEntry struct {
	spec   units.UnitSpec
	state  units.RuntimeState
	handle *process.Handle
}

// Orchestrator brings a stack of units up level by level: dependencies
// start and report healthy before their dependents spawn. A required unit
// failing fails the bring-up and rolls back everything already started.
type Orchestrator struct {
	options  Options
	deps     Dependencies
	resolver *depgraph.Resolver
	logger   logging.Logger

	mu         sync.Mutex
	phase      Phase
	entries    map[string]*unitEntry
	specOrder  []string
	startOrder []string
}

func NewOrchestrator(options Options, deps Dependencies, logger logging.Logger) *Orchestrator {
	options.SetDefaults()
	return &Orchestrator{
		options:  options,
		deps:     deps,
		resolver: depgraph.NewResolver(logger),
		logger:   logger,
		phase:    PhaseIdle,
		entries:  make(map[string]*unitEntry),
	}
}

// Phase returns the orchestrator's current lifecycle phase.
func (o *Orchestrator) Phase() Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phase
}

func (o *Orchestrator) setPhase(phase Phase) {
	o.mu.Lock()
	o.phase = phase
	o.mu.Unlock()
}

// StartAll resolves the dependency graph of the given specs and starts the
// units level by level. Units on the same level start concurrently; the
// next level begins only after the current one is healthy. Returns once the
// whole stack is ready or the bring-up failed and was rolled back.
func (o *Orchestrator) StartAll(ctx context.Context, specs []units.UnitSpec) error {
	o.mu.Lock()
	switch o.phase {
	case PhaseResolving, PhaseStarting, PhaseWaitingHealthy:
		o.mu.Unlock()
		return errors.NewConflictError("stack bring-up already in progress", nil)
	case PhaseReady:
		o.mu.Unlock()
		return errors.NewConflictError("stack is already running, stop it first", nil)
	}
	o.phase = PhaseResolving
	o.entries = make(map[string]*unitEntry, len(specs))
	o.specOrder = o.specOrder[:0]
	o.startOrder = o.startOrder[:0]

	names := make([]string, 0, len(specs))
	dependencies := make(map[string][]string, len(specs))
	for _, spec := range specs {
		o.entries[spec.Name] = &unitEntry{
			spec:  spec,
			state: units.RuntimeState{Status: units.StatusUnloaded},
		}
		o.specOrder = append(o.specOrder, spec.Name)
		names = append(names, spec.Name)
		dependencies[spec.Name] = spec.Dependencies
	}
	o.mu.Unlock()

	levels, err := o.resolver.Resolve(names, dependencies)
	if err != nil {
		o.setPhase(PhaseFailed)
		return err
	}

	for levelIndex, level := range levels {
		o.logger.Infof("Starting level %d, units: %v", levelIndex, level)

		o.setPhase(PhaseStarting)
		if err := o.startLevel(ctx, level); err != nil {
			o.failAndRollback(err)
			return err
		}

		o.setPhase(PhaseWaitingHealthy)
		if err := o.awaitLevelHealthy(ctx, level); err != nil {
			o.failAndRollback(err)
			return err
		}
	}

	o.setPhase(PhaseReady)
	o.logger.Infof("Stack is ready, units: %d", len(specs))
	return nil
}

func (o *Orchestrator) startLevel(ctx context.Context, level []string) error {
	group, groupCtx := errgroup.WithContext(ctx)
	for _, name := range level {
		name := name
		group.Go(func() error {
			return o.startUnit(groupCtx, name)
		})
	}
	return group.Wait()
}

func (o *Orchestrator) startUnit(ctx context.Context, name string) error {
	o.mu.Lock()
	entry := o.entries[name]
	spec := entry.spec
	if err := entry.state.Transition(units.StatusLoading); err != nil {
		o.mu.Unlock()
		return err
	}
	o.mu.Unlock()

	var handle *process.Handle
	spawn := func(ctx context.Context) error {
		started, err := o.deps.Supervisor.Start(ctx, spec)
		if err != nil {
			return err
		}
		handle = started
		return nil
	}

	err := o.executeGuarded(ctx, spawn)
	if err != nil {
		o.logger.Errorf("Failed to start unit, id: %s, error: %v", name, err)
		o.markCrashed(name)
		if spec.Required {
			return errors.NewSpawnError("required unit failed to start", err).WithContext("unit", name)
		}
		o.logger.Warnf("Optional unit failed to start, continuing, id: %s", name)
		return nil
	}

	o.mu.Lock()
	entry.handle = handle
	entry.state.PID = handle.PID
	entry.state.StartedAt = handle.StartedAt
	o.startOrder = append(o.startOrder, name)
	o.mu.Unlock()

	go o.watchExit(name, handle)
	return nil
}

// executeGuarded layers the configured resilience around a spawn: retries
// outermost, then the spawn bulkhead, then the circuit breaker.
func (o *Orchestrator) executeGuarded(ctx context.Context, spawn func(ctx context.Context) error) error {
	operation := spawn
	if o.deps.Breaker != nil {
		inner := operation
		operation = func(ctx context.Context) error {
			return o.deps.Breaker.Execute(func() error {
				return inner(ctx)
			})
		}
	}
	if o.deps.SpawnGuard != nil {
		inner := operation
		operation = func(ctx context.Context) error {
			return o.deps.SpawnGuard.Execute(ctx, bulkhead.Operation(inner))
		}
	}
	if o.deps.Retrier != nil {
		return o.deps.Retrier.Execute(ctx, retry.Operation(operation))
	}
	return operation(ctx)
}

func (o *Orchestrator) awaitLevelHealthy(ctx context.Context, level []string) error {
	group, groupCtx := errgroup.WithContext(ctx)
	for _, name := range level {
		name := name

		o.mu.Lock()
		entry := o.entries[name]
		started := entry.handle != nil && entry.state.Status == units.StatusLoading
		required := entry.spec.Required
		o.mu.Unlock()
		if !started {
			continue
		}

		group.Go(func() error {
			err := o.waitHealthy(groupCtx, name)
			if err == nil {
				return nil
			}
			o.markCrashed(name)
			if required {
				return err
			}
			o.logger.Warnf("Optional unit did not become healthy, continuing, id: %s, error: %v", name, err)
			return nil
		})
	}
	return group.Wait()
}

func (o *Orchestrator) waitHealthy(ctx context.Context, name string) error {
	o.mu.Lock()
	entry := o.entries[name]
	target := monitoring.ProbeTarget{Name: name, Address: entry.spec.HealthAddress()}
	o.mu.Unlock()

	deadline := time.Now().Add(o.options.HealthWaitTimeout)
	ticker := time.NewTicker(o.options.HealthPollInterval)
	defer ticker.Stop()

	for {
		result := o.deps.Prober.Probe(ctx, target, o.options.ProbeTimeout)
		if result.IsHealthy() {
			o.mu.Lock()
			err := entry.state.Transition(units.StatusRunning)
			if err == nil {
				entry.state.LastHealthAt = time.Now()
			}
			o.mu.Unlock()
			if err != nil {
				return err
			}
			o.logger.Infof("Unit is healthy, id: %s", name)
			return nil
		}

		if !time.Now().Before(deadline) {
			return errors.NewHealthTimeoutError("unit did not become healthy in time", nil).
				WithContext("unit", name).
				WithContext("last_status", string(result.Status))
		}

		select {
		case <-ctx.Done():
			return errors.NewCancelledError("health wait cancelled", ctx.Err()).WithContext("unit", name)
		case <-ticker.C:
		}
	}
}

// watchExit demotes a unit that dies outside an orchestrated stop.
func (o *Orchestrator) watchExit(name string, handle *process.Handle) {
	exit := <-o.deps.Supervisor.Monitor(handle)

	o.mu.Lock()
	defer o.mu.Unlock()

	entry, ok := o.entries[name]
	if !ok || entry.handle != handle {
		return
	}
	if entry.state.Status != units.StatusRunning && entry.state.Status != units.StatusLoading {
		return
	}

	o.logger.Errorf("Unit crashed, id: %s, exit code: %d, output tail: %s", name, exit.Code, exit.Output)
	if err := entry.state.Transition(units.StatusCrashed); err == nil {
		entry.handle = nil
	}
}

func (o *Orchestrator) markCrashed(name string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	entry := o.entries[name]
	if entry.state.Status == units.StatusLoading || entry.state.Status == units.StatusRunning {
		_ = entry.state.Transition(units.StatusCrashed)
	}
}

func (o *Orchestrator) failAndRollback(cause error) {
	o.setPhase(PhaseFailed)
	o.logger.Errorf("Stack bring-up failed, rolling back started units, error: %v", cause)

	rollbackCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	o.stopStarted(rollbackCtx)
}

// stopStarted stops every started unit in reverse start order.
func (o *Orchestrator) stopStarted(ctx context.Context) *errors.ErrorCollection {
	o.mu.Lock()
	order := make([]string, len(o.startOrder))
	copy(order, o.startOrder)
	o.mu.Unlock()

	collection := errors.NewErrorCollection()
	for i := len(order) - 1; i >= 0; i-- {
		name := order[i]

		o.mu.Lock()
		entry := o.entries[name]
		handle := entry.handle
		o.mu.Unlock()
		if handle == nil {
			continue
		}

		o.logger.Infof("Stopping unit, id: %s", name)
		if err := o.deps.Supervisor.Stop(ctx, handle); err != nil {
			o.logger.Errorf("Failed to stop unit, id: %s, error: %v", name, err)
			collection.Add(err)
			continue
		}

		o.mu.Lock()
		entry.handle = nil
		switch entry.state.Status {
		case units.StatusRunning:
			_ = entry.state.Transition(units.StatusStopped)
		case units.StatusLoading:
			_ = entry.state.Transition(units.StatusCrashed)
		}
		o.mu.Unlock()
	}

	o.mu.Lock()
	o.startOrder = o.startOrder[:0]
	o.mu.Unlock()

	return collection
}

// StopAll stops the whole stack in reverse start order.
func (o *Orchestrator) StopAll(ctx context.Context) error {
	o.logger.Infof("Stopping stack")
	collection := o.stopStarted(ctx)
	o.setPhase(PhaseIdle)
	return collection.ToError()
}

// Snapshot is the externally visible stack status.
type Snapshot struct {
	Phase Phase                 `json:"phase"`
	Units []units.StateSnapshot `json:"units"`
}

// Status reports the current phase and per-unit states in declaration
// order.
func (o *Orchestrator) Status() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	snapshot := Snapshot{
		Phase: o.phase,
		Units: make([]units.StateSnapshot, 0, len(o.specOrder)),
	}
	for _, name := range o.specOrder {
		entry := o.entries[name]
		snapshot.Units = append(snapshot.Units, units.StateSnapshot{
			Name:         name,
			Status:       entry.state.Status,
			PID:          entry.state.PID,
			StartedAt:    entry.state.StartedAt,
			LastHealthAt: entry.state.LastHealthAt,
		})
	}
	return snapshot
}

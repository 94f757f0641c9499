package master

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/core-tools/hsu-agentplane-go/pkg/bulkhead"
	"github.com/core-tools/hsu-agentplane-go/pkg/errors"
	"github.com/core-tools/hsu-agentplane-go/pkg/lazyloader"
	"github.com/core-tools/hsu-agentplane-go/pkg/logging"
	"github.com/core-tools/hsu-agentplane-go/pkg/monitoring"
	"github.com/core-tools/hsu-agentplane-go/pkg/orchestrator"
	"github.com/core-tools/hsu-agentplane-go/pkg/process"
	"github.com/core-tools/hsu-agentplane-go/pkg/retry"
	"github.com/core-tools/hsu-agentplane-go/pkg/units"
)

const spawnRetrierName = "spawn"

// Master is the assembled agent control plane: supervisor, health prober,
// startup orchestrator, optional lazy loader, and the operator HTTP
// surface.
type Master struct {
	config *MasterConfig
	logger logging.Logger

	retryManager *retry.Manager
	bulkheads    *bulkhead.Registry
	supervisor   *process.Supervisor
	prober       *monitoring.Prober
	orchestrator *orchestrator.Orchestrator
	loader       *lazyloader.LazyLoader

	monitorsMu sync.Mutex
	monitors   map[string]*monitoring.HealthMonitor

	server *http.Server
}

func NewMaster(config *MasterConfig, logger logging.Logger) (*Master, error) {
	if err := ValidateConfig(config); err != nil {
		return nil, err
	}

	retryManager := retry.NewManager(logging.NewPrefixedLogger("retry: ", logger))
	spawnRetrier, err := retryManager.Register(spawnRetrierName, config.Retry)
	if err != nil {
		return nil, err
	}

	bulkheads := bulkhead.NewRegistry(logging.NewPrefixedLogger("bulkhead: ", logger))
	spawnGuard, err := bulkheads.Register(config.SpawnBulkhead)
	if err != nil {
		return nil, err
	}

	supervisor := process.NewSupervisor(config.Supervisor, logging.NewPrefixedLogger("supervisor: ", logger))
	prober := monitoring.NewProber(logging.NewPrefixedLogger("prober: ", logger))

	stackOrchestrator := orchestrator.NewOrchestrator(config.Orchestrator, orchestrator.Dependencies{
		Supervisor: supervisor,
		Prober:     prober,
		Retrier:    spawnRetrier,
		SpawnGuard: spawnGuard,
	}, logging.NewPrefixedLogger("orchestrator: ", logger))

	master := &Master{
		config:       config,
		logger:       logger,
		retryManager: retryManager,
		bulkheads:    bulkheads,
		supervisor:   supervisor,
		prober:       prober,
		orchestrator: stackOrchestrator,
		monitors:     make(map[string]*monitoring.HealthMonitor),
	}
	return master, nil
}

// Start brings up the operator HTTP surface and, when configured, the lazy
// loader with its coordinator event stream.
func (m *Master) Start(ctx context.Context) error {
	if m.config.LazyLoading.Enabled {
		if err := m.startLazyLoader(ctx); err != nil {
			return err
		}
	}

	m.server = &http.Server{
		Addr:    m.config.Control.ListenAddr,
		Handler: m.newRouter(),
	}

	go func() {
		m.logger.Infof("Operator surface listening, addr: %s", m.config.Control.ListenAddr)
		if err := m.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			m.logger.Errorf("Operator surface failed, error: %v", err)
		}
	}()

	return nil
}

func (m *Master) startLazyLoader(ctx context.Context) error {
	lazyConfig := m.config.LazyLoading

	source, err := lazyloader.NewWebSocketSource(ctx, lazyConfig.CoordinatorURL,
		logging.NewPrefixedLogger("event source: ", m.logger))
	if err != nil {
		return err
	}

	spawnRetrier, err := m.retryManager.Get(spawnRetrierName)
	if err != nil {
		return err
	}
	spawnGuard, err := m.bulkheads.Get(m.config.SpawnBulkhead.Name)
	if err != nil {
		return err
	}

	deps := lazyloader.Dependencies{
		Supervisor: m.supervisor,
		Prober:     m.prober,
		Source:     source,
		Retrier:    spawnRetrier,
		SpawnGuard: spawnGuard,
	}
	if lazyConfig.ObservabilityURL != "" {
		deps.Notifier = lazyloader.NewObservabilityNotifier(
			lazyConfig.ObservabilityURL,
			lazyConfig.LoaderName,
			logging.NewPrefixedLogger("notifier: ", m.logger),
		)
	}

	m.loader = lazyloader.NewLazyLoader(lazyConfig.Options, m.config.Units, deps,
		logging.NewPrefixedLogger("lazy loader: ", m.logger))
	m.loader.Start(ctx)
	return nil
}

// StartStack brings the configured stack to Ready and puts every running
// unit under periodic health monitoring.
func (m *Master) StartStack(ctx context.Context) error {
	if err := m.orchestrator.StartAll(ctx, m.config.Units); err != nil {
		return err
	}
	m.startMonitors()
	return nil
}

// StopStack shuts the stack down in reverse start order.
func (m *Master) StopStack(ctx context.Context) error {
	m.stopMonitors()
	return m.orchestrator.StopAll(ctx)
}

func (m *Master) startMonitors() {
	running := make(map[string]bool)
	for _, unit := range m.orchestrator.Status().Units {
		if unit.Status == units.StatusRunning {
			running[unit.Name] = true
		}
	}

	m.monitorsMu.Lock()
	defer m.monitorsMu.Unlock()
	for _, spec := range m.config.Units {
		if !running[spec.Name] {
			continue
		}
		if _, ok := m.monitors[spec.Name]; ok {
			continue
		}
		m.monitors[spec.Name] = m.startMonitorLocked(spec)
	}
}

func (m *Master) startMonitorLocked(spec units.UnitSpec) *monitoring.HealthMonitor {
	monitor := monitoring.NewHealthMonitor(
		monitoring.ProbeTarget{Name: spec.Name, Address: spec.HealthAddress()},
		m.config.Monitoring,
		m.prober,
		logging.NewPrefixedLogger("monitor: ", m.logger),
	)
	monitor.Start(context.Background())
	return monitor
}

func (m *Master) stopMonitors() {
	m.monitorsMu.Lock()
	monitors := m.monitors
	m.monitors = make(map[string]*monitoring.HealthMonitor)
	m.monitorsMu.Unlock()

	for _, monitor := range monitors {
		monitor.Stop()
	}
}

func (m *Master) monitorStates() map[string]monitoring.MonitorState {
	m.monitorsMu.Lock()
	defer m.monitorsMu.Unlock()
	if len(m.monitors) == 0 {
		return nil
	}
	states := make(map[string]monitoring.MonitorState, len(m.monitors))
	for name, monitor := range m.monitors {
		states[name] = monitor.State()
	}
	return states
}

// StatusReport is the operator status payload: per-unit state, live health
// monitor readings, plus retry and bulkhead metrics snapshots.
type StatusReport struct {
	Stack     orchestrator.Snapshot               `json:"stack"`
	Health    map[string]monitoring.MonitorState  `json:"health,omitempty"`
	LazyUnits map[string]lazyloader.LoadState     `json:"lazy_units,omitempty"`
	Retry     map[string]retry.Snapshot           `json:"retry"`
	Bulkheads map[string]bulkhead.MetricsSnapshot `json:"bulkheads"`
}

func (m *Master) Status() StatusReport {
	report := StatusReport{
		Stack:     m.orchestrator.Status(),
		Health:    m.monitorStates(),
		Retry:     m.retryManager.Snapshots(),
		Bulkheads: m.bulkheads.Snapshots(),
	}
	if m.loader != nil {
		report.LazyUnits = m.loader.States()
	}
	return report
}

// Units exposes the configured unit specs.
func (m *Master) Units() []units.UnitSpec {
	return m.config.Units
}

// Stop tears the control plane down: HTTP surface, lazy loader children,
// then the stack itself.
func (m *Master) Stop(ctx context.Context) error {
	collection := errors.NewErrorCollection()

	if m.server != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := m.server.Shutdown(shutdownCtx); err != nil {
			m.logger.Warnf("Operator surface shutdown failed, error: %v", err)
			collection.Add(err)
		}
		cancel()
	}

	if m.loader != nil {
		if err := m.loader.Shutdown(ctx); err != nil {
			collection.Add(err)
		}
	}

	m.stopMonitors()
	if err := m.orchestrator.StopAll(ctx); err != nil {
		collection.Add(err)
	}

	if err := m.bulkheads.Close(); err != nil {
		collection.Add(err)
	}

	m.logger.Infof("Master stopped")
	return collection.ToError()
}

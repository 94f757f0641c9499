package monitoring

import (
	"context"
	"sync"
	"time"

	"github.com/core-tools/hsu-agentplane-go/pkg/logging"
)

type MonitorOptions struct {
	Interval     time.Duration `yaml:"interval"`
	Timeout      time.Duration `yaml:"timeout"`
	InitialDelay time.Duration `yaml:"initial_delay"`
}

// MonitorState tracks the last observed probe outcome plus failure streaks,
// surfaced by the operator status query.
type MonitorState struct {
	Result               ProbeResult `json:"result"`
	LastCheck            time.Time   `json:"last_check"`
	ConsecutiveFailures  int         `json:"consecutive_failures"`
	ConsecutiveSuccesses int         `json:"consecutive_successes"`
}

// HealthMonitor periodically probes one unit and keeps its last-known state.
// It never restarts anything itself; owners read State and decide.
type HealthMonitor struct {
	target   ProbeTarget
	options  MonitorOptions
	prober   *Prober
	logger   logging.Logger
	stopChan chan struct{}
	wg       sync.WaitGroup
	mutex    sync.Mutex
	state    MonitorState
}

func NewHealthMonitor(target ProbeTarget, options MonitorOptions, prober *Prober, logger logging.Logger) *HealthMonitor {
	if options.Interval <= 0 {
		options.Interval = 30 * time.Second
	}
	if options.Timeout <= 0 {
		options.Timeout = 5 * time.Second
	}
	return &HealthMonitor{
		target:   target,
		options:  options,
		prober:   prober,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

func (m *HealthMonitor) Start(ctx context.Context) {
	m.logger.Infof("Starting health monitor, name: %s, interval: %v", m.target.Name, m.options.Interval)
	m.wg.Add(1)
	go m.loop(ctx)
}

func (m *HealthMonitor) Stop() {
	m.logger.Infof("Stopping health monitor, name: %s", m.target.Name)
	close(m.stopChan)
	m.wg.Wait()
}

// State returns a copy of the last-known state; it always answers, even
// mid-failure.
func (m *HealthMonitor) State() MonitorState {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.state
}

func (m *HealthMonitor) loop(ctx context.Context) {
	defer m.wg.Done()

	if m.options.InitialDelay > 0 {
		select {
		case <-time.After(m.options.InitialDelay):
		case <-m.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}

	ticker := time.NewTicker(m.options.Interval)
	defer ticker.Stop()

	m.performCheck(ctx)

	for {
		select {
		case <-ticker.C:
			m.performCheck(ctx)
		case <-m.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (m *HealthMonitor) performCheck(ctx context.Context) {
	result := m.prober.Probe(ctx, m.target, m.options.Timeout)

	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.state.Result = result
	m.state.LastCheck = time.Now()

	if result.IsHealthy() {
		m.state.ConsecutiveSuccesses++
		if m.state.ConsecutiveFailures > 0 {
			m.logger.Infof("Health recovered, name: %s, after_failures: %d",
				m.target.Name, m.state.ConsecutiveFailures)
		}
		m.state.ConsecutiveFailures = 0
	} else {
		m.state.ConsecutiveFailures++
		m.state.ConsecutiveSuccesses = 0
		m.logger.Warnf("Health check failed, name: %s, status: %s, consecutive_failures: %d, reason: %s",
			m.target.Name, result.Status, m.state.ConsecutiveFailures, result.Reason)
	}
}

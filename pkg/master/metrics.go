package master

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/core-tools/hsu-agentplane-go/pkg/units"
)

// controlPlaneCollector exposes retry, bulkhead, and unit-state snapshots
// to Prometheus. Snapshots are taken at scrape time.
type controlPlaneCollector struct {
	master *Master

	retryExecutions *prometheus.Desc
	retryAttempts   *prometheus.Desc
	retryRetries    *prometheus.Desc
	retryExhausted  *prometheus.Desc

	bulkheadOperations *prometheus.Desc
	bulkheadRejected   *prometheus.Desc
	bulkheadTimeouts   *prometheus.Desc
	bulkheadConcurrent *prometheus.Desc

	unitUp *prometheus.Desc
}

func newControlPlaneCollector(master *Master) *controlPlaneCollector {
	return &controlPlaneCollector{
		master: master,
		retryExecutions: prometheus.NewDesc(
			"agentplane_retry_executions_total",
			"Completed retry-wrapped executions per executor.",
			[]string{"executor"}, nil,
		),
		retryAttempts: prometheus.NewDesc(
			"agentplane_retry_attempts_total",
			"Individual attempts across all executions per executor.",
			[]string{"executor"}, nil,
		),
		retryRetries: prometheus.NewDesc(
			"agentplane_retry_retries_total",
			"Attempts beyond the first per executor.",
			[]string{"executor"}, nil,
		),
		retryExhausted: prometheus.NewDesc(
			"agentplane_retry_exhausted_total",
			"Executions that ran out of attempts per executor.",
			[]string{"executor"}, nil,
		),
		bulkheadOperations: prometheus.NewDesc(
			"agentplane_bulkhead_operations_total",
			"Operations submitted per bulkhead.",
			[]string{"bulkhead", "strategy"}, nil,
		),
		bulkheadRejected: prometheus.NewDesc(
			"agentplane_bulkhead_rejected_total",
			"Operations rejected at submission per bulkhead.",
			[]string{"bulkhead", "strategy"}, nil,
		),
		bulkheadTimeouts: prometheus.NewDesc(
			"agentplane_bulkhead_timeouts_total",
			"Operations that timed out waiting per bulkhead.",
			[]string{"bulkhead", "strategy"}, nil,
		),
		bulkheadConcurrent: prometheus.NewDesc(
			"agentplane_bulkhead_concurrent_operations",
			"Currently executing operations per bulkhead.",
			[]string{"bulkhead", "strategy"}, nil,
		),
		unitUp: prometheus.NewDesc(
			"agentplane_unit_up",
			"Whether the unit is in the running state.",
			[]string{"unit"}, nil,
		),
	}
}

func (c *controlPlaneCollector) Describe(descs chan<- *prometheus.Desc) {
	descs <- c.retryExecutions
	descs <- c.retryAttempts
	descs <- c.retryRetries
	descs <- c.retryExhausted
	descs <- c.bulkheadOperations
	descs <- c.bulkheadRejected
	descs <- c.bulkheadTimeouts
	descs <- c.bulkheadConcurrent
	descs <- c.unitUp
}

func (c *controlPlaneCollector) Collect(metrics chan<- prometheus.Metric) {
	for name, snapshot := range c.master.retryManager.Snapshots() {
		metrics <- prometheus.MustNewConstMetric(
			c.retryExecutions, prometheus.CounterValue, float64(snapshot.TotalExecutions), name)
		metrics <- prometheus.MustNewConstMetric(
			c.retryAttempts, prometheus.CounterValue, float64(snapshot.TotalAttempts), name)
		metrics <- prometheus.MustNewConstMetric(
			c.retryRetries, prometheus.CounterValue, float64(snapshot.TotalRetries), name)
		metrics <- prometheus.MustNewConstMetric(
			c.retryExhausted, prometheus.CounterValue, float64(snapshot.TotalExhausted), name)
	}

	for name, snapshot := range c.master.bulkheads.Snapshots() {
		strategy := string(snapshot.Strategy)
		metrics <- prometheus.MustNewConstMetric(
			c.bulkheadOperations, prometheus.CounterValue, float64(snapshot.TotalOperations), name, strategy)
		metrics <- prometheus.MustNewConstMetric(
			c.bulkheadRejected, prometheus.CounterValue, float64(snapshot.RejectedOperations), name, strategy)
		metrics <- prometheus.MustNewConstMetric(
			c.bulkheadTimeouts, prometheus.CounterValue, float64(snapshot.TimeoutOperations), name, strategy)
		metrics <- prometheus.MustNewConstMetric(
			c.bulkheadConcurrent, prometheus.GaugeValue, float64(snapshot.ConcurrentOperations), name, strategy)
	}

	for _, unit := range c.master.orchestrator.Status().Units {
		up := 0.0
		if unit.Status == units.StatusRunning {
			up = 1.0
		}
		metrics <- prometheus.MustNewConstMetric(c.unitUp, prometheus.GaugeValue, up, unit.Name)
	}
}

package bulkhead

import (
	stderrors "errors"
	"sync"
	"time"
)

func errorsAs(err error, target interface{}) bool {
	return stderrors.As(err, target)
}

// historyCap bounds the rolling duration histories; oldest entries are
// evicted first.
const historyCap = 1000

type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// MetricsSnapshot is a point-in-time copy of bulkhead counters and running
// averages. It is used only for reporting, never for control decisions.
type MetricsSnapshot struct {
	Name                 string        `json:"name"`
	Strategy             Strategy      `json:"strategy"`
	TotalOperations      int64         `json:"total_operations"`
	SuccessfulOperations int64         `json:"successful_operations"`
	FailedOperations     int64         `json:"failed_operations"`
	TimeoutOperations    int64         `json:"timeout_operations"`
	RejectedOperations   int64         `json:"rejected_operations"`
	ConcurrentOperations int           `json:"concurrent_operations"`
	MaxConcurrentReached int           `json:"max_concurrent_reached"`
	AverageExecutionTime time.Duration `json:"average_execution_time"`
	AverageQueueTime     time.Duration `json:"average_queue_time"`
}

type metrics struct {
	name     string
	strategy Strategy

	mutex                sync.Mutex
	totalOperations      int64
	successfulOperations int64
	failedOperations     int64
	timeoutOperations    int64
	rejectedOperations   int64
	concurrentOperations int
	maxConcurrentReached int
	executionTimes       []time.Duration
	queueTimes           []time.Duration
}

func newMetrics(name string, strategy Strategy) *metrics {
	return &metrics{
		name:     name,
		strategy: strategy,
	}
}

func (m *metrics) recordSubmission() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.totalOperations++
}

// enterExecution marks the transition from waiting to executing. The
// concurrent counter is maintained under the shared lock around the
// protected region; max_concurrent_reached is a running high-water mark.
func (m *metrics) enterExecution(queueTime time.Duration) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.queueTimes = appendBounded(m.queueTimes, queueTime)
	m.concurrentOperations++
	if m.concurrentOperations > m.maxConcurrentReached {
		m.maxConcurrentReached = m.concurrentOperations
	}
}

func (m *metrics) exitExecution(executionTime time.Duration, err error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.executionTimes = appendBounded(m.executionTimes, executionTime)
	m.concurrentOperations--
	if err != nil {
		m.failedOperations++
	} else {
		m.successfulOperations++
	}
}

func (m *metrics) recordTimeout() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.timeoutOperations++
}

func (m *metrics) recordRejection() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.rejectedOperations++
}

func (m *metrics) snapshot() MetricsSnapshot {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return MetricsSnapshot{
		Name:                 m.name,
		Strategy:             m.strategy,
		TotalOperations:      m.totalOperations,
		SuccessfulOperations: m.successfulOperations,
		FailedOperations:     m.failedOperations,
		TimeoutOperations:    m.timeoutOperations,
		RejectedOperations:   m.rejectedOperations,
		ConcurrentOperations: m.concurrentOperations,
		MaxConcurrentReached: m.maxConcurrentReached,
		AverageExecutionTime: average(m.executionTimes),
		AverageQueueTime:     average(m.queueTimes),
	}
}

// health derives the health classification from success, timeout and
// rejection rates: healthy above 0.9 success with timeouts below 0.05 and
// rejections below 0.01; degraded above 0.7 success with timeouts below 0.15
// and rejections below 0.05; otherwise unhealthy.
func (m *metrics) health() HealthStatus {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.totalOperations == 0 {
		return HealthHealthy
	}

	total := float64(m.totalOperations)
	successRate := float64(m.successfulOperations) / total
	timeoutRate := float64(m.timeoutOperations) / total
	rejectionRate := float64(m.rejectedOperations) / total

	if successRate > 0.9 && timeoutRate < 0.05 && rejectionRate < 0.01 {
		return HealthHealthy
	}
	if successRate > 0.7 && timeoutRate < 0.15 && rejectionRate < 0.05 {
		return HealthDegraded
	}
	return HealthUnhealthy
}

func appendBounded(history []time.Duration, value time.Duration) []time.Duration {
	if len(history) >= historyCap {
		history = history[1:]
	}
	return append(history, value)
}

func average(history []time.Duration) time.Duration {
	if len(history) == 0 {
		return 0
	}
	var sum time.Duration
	for _, value := range history {
		sum += value
	}
	return sum / time.Duration(len(history))
}

package bulkhead

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/core-tools/hsu-agentplane-go/pkg/errors"
)

// Simple test logger that implements logging.Logger interface
type TestLogger struct{}

func (l *TestLogger) Debugf(format string, args ...interface{}) {}
func (l *TestLogger) Infof(format string, args ...interface{})  {}
func (l *TestLogger) Warnf(format string, args ...interface{})  {}
func (l *TestLogger) Errorf(format string, args ...interface{}) {}

func newTestBulkhead(t *testing.T, config Config) Bulkhead {
	b, err := New(config, &TestLogger{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestSemaphoreNeverExceedsMaxConcurrent(t *testing.T) {
	b := newTestBulkhead(t, Config{
		Name:          "test",
		Strategy:      StrategySemaphore,
		MaxConcurrent: 1,
		Timeout:       5 * time.Second,
	})

	var concurrent int32
	var maxSeen int32

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = b.Execute(context.Background(), func(ctx context.Context) error {
				current := atomic.AddInt32(&concurrent, 1)
				for {
					seen := atomic.LoadInt32(&maxSeen)
					if current <= seen || atomic.CompareAndSwapInt32(&maxSeen, seen, current) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&concurrent, -1)
				return nil
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&maxSeen))

	snapshot := b.Metrics()
	assert.Equal(t, int64(8), snapshot.TotalOperations)
	assert.Equal(t, int64(8), snapshot.SuccessfulOperations)
	assert.Equal(t, 1, snapshot.MaxConcurrentReached)
	assert.Equal(t, 0, snapshot.ConcurrentOperations)
}

func TestSemaphoreExtraCallerTimesOut(t *testing.T) {
	b := newTestBulkhead(t, Config{
		Name:          "test",
		Strategy:      StrategySemaphore,
		MaxConcurrent: 1,
		Timeout:       30 * time.Millisecond,
	})

	release := make(chan struct{})
	occupied := make(chan struct{})
	go func() {
		_ = b.Execute(context.Background(), func(ctx context.Context) error {
			close(occupied)
			<-release
			return nil
		})
	}()
	<-occupied

	// The second caller must never run immediately: it waits and times out.
	err := b.Execute(context.Background(), func(ctx context.Context) error { return nil })
	close(release)

	require.Error(t, err)
	assert.True(t, IsTimeoutError(err))
	assert.Equal(t, int64(1), b.Metrics().TimeoutOperations)
}

func TestAsyncSemaphoreObservesCancellation(t *testing.T) {
	b := newTestBulkhead(t, Config{
		Name:          "test",
		Strategy:      StrategyAsyncSemaphore,
		MaxConcurrent: 1,
		Timeout:       5 * time.Second,
	})

	release := make(chan struct{})
	occupied := make(chan struct{})
	go func() {
		_ = b.Execute(context.Background(), func(ctx context.Context) error {
			close(occupied)
			<-release
			return nil
		})
	}()
	<-occupied

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := b.Execute(ctx, func(ctx context.Context) error { return nil })
	close(release)

	require.Error(t, err)
	assert.True(t, errors.IsCancelledError(err))
}

func TestThreadPoolQueuesExcessCalls(t *testing.T) {
	b := newTestBulkhead(t, Config{
		Name:          "test",
		Strategy:      StrategyThreadPool,
		MaxConcurrent: 2,
		Timeout:       5 * time.Second,
	})

	var completed int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := b.Execute(context.Background(), func(ctx context.Context) error {
				time.Sleep(2 * time.Millisecond)
				atomic.AddInt32(&completed, 1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(10), atomic.LoadInt32(&completed))
	snapshot := b.Metrics()
	assert.Equal(t, int64(10), snapshot.SuccessfulOperations)
	assert.LessOrEqual(t, snapshot.MaxConcurrentReached, 2)
}

func TestThreadPoolResultWaitTimeout(t *testing.T) {
	b := newTestBulkhead(t, Config{
		Name:          "test",
		Strategy:      StrategyThreadPool,
		MaxConcurrent: 1,
		Timeout:       20 * time.Millisecond,
	})

	release := make(chan struct{})
	defer close(release)

	err := b.Execute(context.Background(), func(ctx context.Context) error {
		<-release
		return nil
	})

	require.Error(t, err)
	assert.True(t, IsTimeoutError(err))
}

func TestQueueRejectsAtCapacity(t *testing.T) {
	b := newTestBulkhead(t, Config{
		Name:          "test",
		Strategy:      StrategyQueue,
		MaxConcurrent: 1,
		MaxQueueSize:  0,
		Timeout:       5 * time.Second,
	})

	release := make(chan struct{})
	occupied := make(chan struct{})
	go func() {
		_ = b.Execute(context.Background(), func(ctx context.Context) error {
			close(occupied)
			<-release
			return nil
		})
	}()
	<-occupied

	// With a zero-capacity queue, every submission while the only worker is
	// busy is rejected immediately.
	for i := 0; i < 5; i++ {
		err := b.Execute(context.Background(), func(ctx context.Context) error { return nil })
		require.Error(t, err)
		assert.True(t, IsFullError(err))
	}
	close(release)

	assert.Equal(t, int64(5), b.Metrics().RejectedOperations)
}

func TestQueueDrainsBacklogWithinCapacity(t *testing.T) {
	b := newTestBulkhead(t, Config{
		Name:          "test",
		Strategy:      StrategyQueue,
		MaxConcurrent: 2,
		MaxQueueSize:  16,
		Timeout:       5 * time.Second,
	})

	var completed int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := b.Execute(context.Background(), func(ctx context.Context) error {
				atomic.AddInt32(&completed, 1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(10), atomic.LoadInt32(&completed))
}

func TestCloseRejectsNewSubmissions(t *testing.T) {
	b, err := New(Config{
		Name:          "test",
		Strategy:      StrategyQueue,
		MaxConcurrent: 1,
		MaxQueueSize:  4,
		Timeout:       time.Second,
	}, &TestLogger{})
	require.NoError(t, err)

	require.NoError(t, b.Close())
	require.NoError(t, b.Close()) // idempotent

	err = b.Execute(context.Background(), func(ctx context.Context) error { return nil })
	require.Error(t, err)
	assert.True(t, errors.IsConflictError(err))
}

func TestHealthThresholds(t *testing.T) {
	m := newMetrics("test", StrategySemaphore)
	assert.Equal(t, HealthHealthy, m.health())

	// 100 operations, all successful.
	for i := 0; i < 100; i++ {
		m.recordSubmission()
		m.enterExecution(0)
		m.exitExecution(time.Millisecond, nil)
	}
	assert.Equal(t, HealthHealthy, m.health())

	// Push success rate into the degraded band.
	for i := 0; i < 20; i++ {
		m.recordSubmission()
		m.enterExecution(0)
		m.exitExecution(time.Millisecond, assert.AnError)
	}
	assert.Equal(t, HealthDegraded, m.health())

	// Pile on rejections until unhealthy.
	for i := 0; i < 20; i++ {
		m.recordSubmission()
		m.recordRejection()
	}
	assert.Equal(t, HealthUnhealthy, m.health())
}

func TestHistoryEvictionIsBounded(t *testing.T) {
	m := newMetrics("test", StrategySemaphore)
	for i := 0; i < historyCap+100; i++ {
		m.recordSubmission()
		m.enterExecution(time.Duration(i))
		m.exitExecution(time.Duration(i), nil)
	}
	assert.Len(t, m.executionTimes, historyCap)
	assert.Len(t, m.queueTimes, historyCap)
}

func TestRegistryLifecycle(t *testing.T) {
	registry := NewRegistry(&TestLogger{})

	b, err := registry.Register(Config{Name: "spawns", Strategy: StrategySemaphore, MaxConcurrent: 2})
	require.NoError(t, err)

	got, err := registry.Get("spawns")
	require.NoError(t, err)
	assert.Same(t, b, got)

	_, err = registry.Register(Config{Name: "spawns", Strategy: StrategyQueue, MaxConcurrent: 1})
	require.Error(t, err)
	assert.True(t, errors.IsConflictError(err))

	_, err = registry.Get("missing")
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))

	_ = b.Execute(context.Background(), func(ctx context.Context) error { return nil })
	snapshots := registry.Snapshots()
	require.Contains(t, snapshots, "spawns")
	assert.Equal(t, int64(1), snapshots["spawns"].TotalOperations)

	require.NoError(t, registry.Close())
}

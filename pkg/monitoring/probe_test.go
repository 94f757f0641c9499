package monitoring

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Simple test logger that implements logging.Logger interface
type TestLogger struct{}

func (l *TestLogger) Debugf(format string, args ...interface{}) {}
func (l *TestLogger) Infof(format string, args ...interface{})  {}
func (l *TestLogger) Warnf(format string, args ...interface{})  {}
func (l *TestLogger) Errorf(format string, args ...interface{}) {}

// startFakeUnit runs a minimal health endpoint that answers every
// health_check request with the given status. A nil handler hangs without
// replying.
func startFakeUnit(t *testing.T, status string, hang bool) string {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { listener.Close() })

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				line, err := bufio.NewReader(conn).ReadBytes('\n')
				if err != nil {
					return
				}
				var request map[string]string
				if err := json.Unmarshal(line, &request); err != nil {
					return
				}
				if request["action"] != "health_check" || hang {
					return // no reply
				}
				reply, _ := json.Marshal(map[string]string{"status": status})
				_, _ = conn.Write(append(reply, '\n'))
			}(conn)
		}
	}()

	return listener.Addr().String()
}

func TestProbeHealthyOnOKStatus(t *testing.T) {
	address := startFakeUnit(t, "ok", false)
	prober := NewProber(&TestLogger{})

	result := prober.Probe(context.Background(), ProbeTarget{Name: "unit", Address: address}, time.Second)
	assert.Equal(t, ProbeHealthy, result.Status)
	assert.True(t, result.IsHealthy())
}

func TestProbeHealthyOnSuccessStatus(t *testing.T) {
	address := startFakeUnit(t, "success", false)
	prober := NewProber(&TestLogger{})

	result := prober.Probe(context.Background(), ProbeTarget{Name: "unit", Address: address}, time.Second)
	assert.Equal(t, ProbeHealthy, result.Status)
}

func TestProbeUnhealthyOnNegativeStatus(t *testing.T) {
	address := startFakeUnit(t, "overloaded", false)
	prober := NewProber(&TestLogger{})

	result := prober.Probe(context.Background(), ProbeTarget{Name: "unit", Address: address}, time.Second)

	// A received-but-negative answer is Unhealthy, never Unreachable.
	assert.Equal(t, ProbeUnhealthy, result.Status)
	assert.Contains(t, result.Reason, "overloaded")
}

func TestProbeUnreachableWhenNothingListens(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	address := listener.Addr().String()
	listener.Close() // free the port so the dial fails

	prober := NewProber(&TestLogger{})
	result := prober.Probe(context.Background(), ProbeTarget{Name: "unit", Address: address}, 200*time.Millisecond)
	assert.Equal(t, ProbeUnreachable, result.Status)
}

func TestProbeUnreachableOnSilentPeer(t *testing.T) {
	address := startFakeUnit(t, "ok", true)
	prober := NewProber(&TestLogger{})

	started := time.Now()
	result := prober.Probe(context.Background(), ProbeTarget{Name: "unit", Address: address}, 100*time.Millisecond)

	// No reply within the timeout is Unreachable, never Unhealthy.
	assert.Equal(t, ProbeUnreachable, result.Status)
	assert.Less(t, time.Since(started), time.Second)
}

func TestHealthMonitorTracksState(t *testing.T) {
	address := startFakeUnit(t, "ok", false)

	monitor := NewHealthMonitor(
		ProbeTarget{Name: "unit", Address: address},
		MonitorOptions{Interval: 10 * time.Millisecond, Timeout: time.Second},
		NewProber(&TestLogger{}),
		&TestLogger{},
	)
	monitor.Start(context.Background())
	defer monitor.Stop()

	require.Eventually(t, func() bool {
		state := monitor.State()
		return state.Result.IsHealthy() && state.ConsecutiveSuccesses >= 1
	}, time.Second, 10*time.Millisecond)

	state := monitor.State()
	assert.Equal(t, 0, state.ConsecutiveFailures)
	assert.False(t, state.LastCheck.IsZero())
}

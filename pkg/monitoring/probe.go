package monitoring

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/core-tools/hsu-agentplane-go/pkg/logging"
)

// ProbeStatus is the outcome classification of a single health probe.
type ProbeStatus string

const (
	// ProbeHealthy means the unit answered with a positive status.
	ProbeHealthy ProbeStatus = "healthy"

	// ProbeUnhealthy means the unit answered, but negatively. The process is
	// alive and talking; its health endpoint reports a problem.
	ProbeUnhealthy ProbeStatus = "unhealthy"

	// ProbeUnreachable means no well-formed answer arrived within the
	// timeout. Distinct from ProbeUnhealthy: an unreachable unit may warrant
	// a lower-level diagnostic (is the port even open) before declaring the
	// process dead.
	ProbeUnreachable ProbeStatus = "unreachable"
)

// ProbeResult is the explicit outcome of one probe; callers branch on
// Status rather than parsing error strings.
type ProbeResult struct {
	Status ProbeStatus `json:"status"`
	Reason string      `json:"reason,omitempty"`
}

func (r ProbeResult) IsHealthy() bool {
	return r.Status == ProbeHealthy
}

// ProbeTarget identifies a unit's health endpoint.
type ProbeTarget struct {
	Name    string
	Address string
}

// healthRequest is the minimal envelope every unit understands, regardless
// of its private wire protocol.
type healthRequest struct {
	Action string `json:"action"`
}

type healthResponse struct {
	Status string `json:"status"`
}

// Prober performs bounded-timeout liveness/readiness checks over a unit's
// declared health channel: one JSON line request, one JSON line reply.
type Prober struct {
	logger logging.Logger
}

func NewProber(logger logging.Logger) *Prober {
	return &Prober{logger: logger}
}

// Probe sends {"action":"health_check"} to the target and classifies the
// reply. The timeout bounds the whole exchange; there is no unbounded wait.
func (p *Prober) Probe(ctx context.Context, target ProbeTarget, timeout time.Duration) ProbeResult {
	p.logger.Debugf("Probing unit, name: %s, address: %s, timeout: %v", target.Name, target.Address, timeout)

	deadline := time.Now().Add(timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}

	dialer := net.Dialer{Deadline: deadline}
	conn, err := dialer.DialContext(ctx, "tcp", target.Address)
	if err != nil {
		return ProbeResult{
			Status: ProbeUnreachable,
			Reason: fmt.Sprintf("dial failed: %v", err),
		}
	}
	defer conn.Close()

	if err := conn.SetDeadline(deadline); err != nil {
		return ProbeResult{
			Status: ProbeUnreachable,
			Reason: fmt.Sprintf("failed to set deadline: %v", err),
		}
	}

	request, err := json.Marshal(healthRequest{Action: "health_check"})
	if err != nil {
		return ProbeResult{
			Status: ProbeUnreachable,
			Reason: fmt.Sprintf("failed to encode request: %v", err),
		}
	}
	if _, err := conn.Write(append(request, '\n')); err != nil {
		return ProbeResult{
			Status: ProbeUnreachable,
			Reason: fmt.Sprintf("write failed: %v", err),
		}
	}

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil && len(line) == 0 {
		return ProbeResult{
			Status: ProbeUnreachable,
			Reason: fmt.Sprintf("no reply within %v: %v", timeout, err),
		}
	}

	var response healthResponse
	if err := json.Unmarshal(line, &response); err != nil {
		return ProbeResult{
			Status: ProbeUnreachable,
			Reason: fmt.Sprintf("malformed reply: %v", err),
		}
	}
	if response.Status == "" {
		return ProbeResult{
			Status: ProbeUnreachable,
			Reason: "reply is missing status field",
		}
	}

	switch response.Status {
	case "ok", "success":
		return ProbeResult{Status: ProbeHealthy}
	default:
		return ProbeResult{
			Status: ProbeUnhealthy,
			Reason: fmt.Sprintf("unit reported status: %s", response.Status),
		}
	}
}

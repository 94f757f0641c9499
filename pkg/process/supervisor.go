package process

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/core-tools/hsu-agentplane-go/pkg/errors"
	"github.com/core-tools/hsu-agentplane-go/pkg/logging"
	"github.com/core-tools/hsu-agentplane-go/pkg/units"
)

const (
	// outputTailLines bounds the per-process output buffer kept for crash
	// reports. Full log capture belongs to an external collector.
	outputTailLines = 200

	// occupantGraceTimeout is how long a stale port occupant gets to exit
	// after SIGTERM before it is killed.
	occupantGraceTimeout = 2 * time.Second
)

// Exit describes how a supervised process terminated.
type Exit struct {
	Code   int
	Output string
	Err    error
	At     time.Time
}

// Handle identifies a running supervised process. It is created by
// Supervisor.Start and stays valid after the process exits.
type Handle struct {
	UnitName  string
	PID       int
	StartedAt time.Time

	process *os.Process

	mu     sync.Mutex
	output []string

	done chan struct{}
	exit Exit
}

// Wait returns a channel closed once the process has exited.
func (h *Handle) Wait() <-chan struct{} {
	return h.done
}

// Exit returns the exit record and true once the process has exited.
func (h *Handle) Exit() (Exit, bool) {
	select {
	case <-h.done:
		return h.exit, true
	default:
		return Exit{}, false
	}
}

func (h *Handle) appendOutput(line string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.output = append(h.output, line)
	if len(h.output) > outputTailLines {
		h.output = h.output[len(h.output)-outputTailLines:]
	}
}

func (h *Handle) outputTail() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return strings.Join(h.output, "\n")
}

// SupervisorOptions tunes process startup and shutdown behavior.
type SupervisorOptions struct {
	// GracefulTimeout is how long Stop waits after SIGTERM before killing
	// the process group.
	GracefulTimeout time.Duration `yaml:"graceful_timeout,omitempty"`
}

func (o *SupervisorOptions) SetDefaults() {
	if o.GracefulTimeout == 0 {
		o.GracefulTimeout = 10 * time.Second
	}
}

// Supervisor spawns unit processes in their own process groups, verifies
// their ports are free beforehand, and terminates them as whole trees.
type Supervisor struct {
	options SupervisorOptions
	logger  logging.Logger
}

func NewSupervisor(options SupervisorOptions, logger logging.Logger) *Supervisor {
	options.SetDefaults()
	return &Supervisor{
		options: options,
		logger:  logger,
	}
}

// Start ensures the unit's ports are free, spawns the unit's executable
// with its ports and extra environment injected, and begins collecting its
// output. The spawned process outlives ctx: its lifetime is managed by Stop,
// ctx only bounds the startup work itself.
func (s *Supervisor) Start(ctx context.Context, spec units.UnitSpec) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.NewCancelledError("start cancelled", err).WithContext("unit", spec.Name)
	}

	for _, port := range []int{spec.Port, spec.HealthPort} {
		if err := s.ensurePortFree(port); err != nil {
			s.logger.Errorf("Port not available, unit: %s, port: %d, error: %v", spec.Name, port, err)
			return nil, errors.NewSpawnError("required port is not free", err).WithContext("unit", spec.Name)
		}
	}

	if err := ensureExecutable(spec.ExecutablePath); err != nil {
		return nil, errors.NewSpawnError("executable is not runnable", err).WithContext("unit", spec.Name)
	}

	workDir := spec.WorkingDirectory
	if workDir == "" {
		absPath, err := filepath.Abs(spec.ExecutablePath)
		if err != nil {
			return nil, errors.NewIOError("failed to resolve executable path", err).WithContext("unit", spec.Name)
		}
		workDir = filepath.Dir(absPath)
	}

	env := os.Environ()
	env = append(env,
		fmt.Sprintf("PORT=%d", spec.Port),
		fmt.Sprintf("HEALTH_PORT=%d", spec.HealthPort),
		fmt.Sprintf("UNIT_NAME=%s", spec.Name),
	)
	for key, value := range spec.Environment {
		env = append(env, fmt.Sprintf("%s=%s", key, value))
	}

	cmd := exec.Command(spec.ExecutablePath, spec.Args...)
	cmd.Dir = workDir
	cmd.Env = env
	setupProcessAttributes(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.NewSpawnError("failed to create stdout pipe", err).WithContext("unit", spec.Name)
	}
	cmd.Stderr = cmd.Stdout

	s.logger.Debugf("Spawning process, unit: %s, executable path: '%s', args: %v, working directory: '%s'",
		spec.Name, spec.ExecutablePath, spec.Args, workDir)

	if err := cmd.Start(); err != nil {
		return nil, errors.NewSpawnError("failed to start the process", err).
			WithContext("unit", spec.Name).
			WithContext("executable_path", spec.ExecutablePath)
	}

	handle := &Handle{
		UnitName:  spec.Name,
		PID:       cmd.Process.Pid,
		StartedAt: time.Now(),
		process:   cmd.Process,
		done:      make(chan struct{}),
	}

	s.logger.Infof("Spawned process, unit: %s, PID: %d", spec.Name, handle.PID)

	go s.collectOutput(handle, stdout)
	go s.waitForExit(handle, cmd)

	return handle, nil
}

func (s *Supervisor) collectOutput(handle *Handle, stdout io.ReadCloser) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 256*1024)
	for scanner.Scan() {
		handle.appendOutput(scanner.Text())
	}
}

func (s *Supervisor) waitForExit(handle *Handle, cmd *exec.Cmd) {
	err := cmd.Wait()

	exit := Exit{
		Output: handle.outputTail(),
		At:     time.Now(),
	}
	if err != nil {
		exit.Err = err
		if exitErr, ok := err.(*exec.ExitError); ok {
			exit.Code = exitErr.ExitCode()
		} else {
			exit.Code = -1
		}
	}

	s.logger.Infof("Process exited, unit: %s, PID: %d, exit code: %d", handle.UnitName, handle.PID, exit.Code)

	handle.exit = exit
	close(handle.done)
}

// Monitor delivers the unit's exit record on the returned channel. Multiple
// monitors of the same handle each receive the record.
func (s *Supervisor) Monitor(handle *Handle) <-chan Exit {
	exitChan := make(chan Exit, 1)
	go func() {
		<-handle.done
		exitChan <- handle.exit
	}()
	return exitChan
}

// IsAlive reports whether the supervised process still exists.
func (s *Supervisor) IsAlive(handle *Handle) bool {
	select {
	case <-handle.done:
		return false
	default:
	}
	running, err := isProcessRunning(handle.PID)
	if err != nil {
		s.logger.Warnf("Liveness check failed, unit: %s, PID: %d, error: %v", handle.UnitName, handle.PID, err)
		return false
	}
	return running
}

// Stop terminates the process group gracefully, escalating to a kill after
// the configured timeout.
func (s *Supervisor) Stop(ctx context.Context, handle *Handle) error {
	select {
	case <-handle.done:
		return nil
	default:
	}

	s.logger.Infof("Stopping process, unit: %s, PID: %d", handle.UnitName, handle.PID)

	if err := sendTerminationSignal(handle.PID); err != nil {
		s.logger.Warnf("Failed to signal process, unit: %s, PID: %d, error: %v", handle.UnitName, handle.PID, err)
	}

	graceTimer := time.NewTimer(s.options.GracefulTimeout)
	defer graceTimer.Stop()

	select {
	case <-handle.done:
		return nil
	case <-ctx.Done():
		return errors.NewCancelledError("stop cancelled", ctx.Err()).WithContext("unit", handle.UnitName)
	case <-graceTimer.C:
	}

	s.logger.Warnf("Graceful stop timed out, killing process group, unit: %s, PID: %d", handle.UnitName, handle.PID)

	if err := killProcessGroup(handle.PID); err != nil {
		s.logger.Warnf("Failed to kill process group, unit: %s, PID: %d, error: %v", handle.UnitName, handle.PID, err)
	}

	killTimer := time.NewTimer(s.options.GracefulTimeout)
	defer killTimer.Stop()

	select {
	case <-handle.done:
		return nil
	case <-ctx.Done():
		return errors.NewCancelledError("stop cancelled", ctx.Err()).WithContext("unit", handle.UnitName)
	case <-killTimer.C:
		return errors.NewTimeoutError("process did not exit after kill", nil).
			WithContext("unit", handle.UnitName).
			WithContext("pid", handle.PID)
	}
}

// ensurePortFree verifies the port can be bound. If an occupant holds it,
// the occupant is terminated (SIGTERM, then SIGKILL after a grace period)
// and the check retried. A port that stays occupied is a PortConflict.
func (s *Supervisor) ensurePortFree(port int) error {
	if s.portBindable(port) {
		return nil
	}

	pids, err := portOccupants(port)
	if err != nil {
		s.logger.Warnf("Failed to identify port occupant, port: %d, error: %v", port, err)
		return errors.NewPortConflictError("port is occupied by an unidentified process", err).WithContext("port", port)
	}

	for _, pid := range pids {
		s.logger.Warnf("Terminating stale port occupant, port: %d, PID: %d", port, pid)
		if err := sendTerminationSignal(pid); err != nil {
			s.logger.Warnf("Failed to signal port occupant, port: %d, PID: %d, error: %v", port, pid, err)
		}
	}

	deadline := time.Now().Add(occupantGraceTimeout)
	for time.Now().Before(deadline) {
		if s.portBindable(port) {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	for _, pid := range pids {
		if err := killProcessGroup(pid); err != nil {
			s.logger.Warnf("Failed to kill port occupant, port: %d, PID: %d, error: %v", port, pid, err)
		}
	}
	time.Sleep(100 * time.Millisecond)

	if s.portBindable(port) {
		return nil
	}

	return errors.NewPortConflictError("port is still occupied after occupant cleanup", nil).WithContext("port", port)
}

func (s *Supervisor) portBindable(port int) bool {
	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return false
	}
	listener.Close()
	return true
}

// ensureExecutable checks the file exists and carries an execute bit,
// setting one when missing.
func ensureExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return errors.NewIOError("executable does not exist", err).WithContext("path", path)
	}
	mode := info.Mode()
	if mode&0111 != 0 {
		return nil
	}
	if err := os.Chmod(path, mode|0111); err != nil {
		return errors.NewIOError("failed to make file executable", err).WithContext("path", path)
	}
	return nil
}

package units

import (
	"fmt"
	"time"

	"github.com/core-tools/hsu-agentplane-go/pkg/errors"
)

// Status is a unit's runtime lifecycle state as tracked by its owning
// orchestrator.
type Status string

const (
	StatusUnloaded Status = "unloaded"
	StatusLoading  Status = "loading"
	StatusRunning  Status = "running"
	StatusCrashed  Status = "crashed"
	StatusStopped  Status = "stopped"
)

// legal transitions: Unloaded->Loading; Loading->{Running,Crashed};
// Running->{Crashed,Stopped}; Crashed->Loading (auto-restart) or terminal.
var allowedTransitions = map[Status][]Status{
	StatusUnloaded: {StatusLoading},
	StatusLoading:  {StatusRunning, StatusCrashed},
	StatusRunning:  {StatusCrashed, StatusStopped},
	StatusCrashed:  {StatusLoading},
	StatusStopped:  {},
}

// CanTransition reports whether from -> to is a legal lifecycle transition.
func CanTransition(from, to Status) bool {
	for _, allowed := range allowedTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// RuntimeState tracks one unit's mutable runtime information. It is
// exclusively owned by the orchestrator that activated the unit and is only
// mutated under that owner's lock; RuntimeState itself carries no lock.
type RuntimeState struct {
	Status       Status
	PID          int
	StartedAt    time.Time
	LastHealthAt time.Time
}

// Transition moves the state to a new status, enforcing the legal
// transition set.
func (s *RuntimeState) Transition(to Status) error {
	if !CanTransition(s.Status, to) {
		return errors.NewValidationError(
			fmt.Sprintf("illegal state transition: %s -> %s", s.Status, to), nil,
		)
	}
	s.Status = to
	return nil
}

// StateSnapshot is a copyable view of a unit's runtime state for status
// queries.
type StateSnapshot struct {
	Name         string    `json:"name"`
	Status       Status    `json:"status"`
	PID          int       `json:"pid,omitempty"`
	StartedAt    time.Time `json:"started_at,omitempty"`
	LastHealthAt time.Time `json:"last_health_at,omitempty"`
}

package lazyloader

import (
	"encoding/json"
	"strings"

	"github.com/core-tools/hsu-agentplane-go/pkg/errors"
)

// EventType identifies a coordinator event frame.
type EventType string

const (
	// EventTypeAgentRequest is a direct load request for a named unit.
	EventTypeAgentRequest EventType = "agent_request"

	// EventTypeTask is a coarse task descriptor mapped to candidate units
	// through the keyword table.
	EventTypeTask EventType = "task"
)

// AgentRequestEvent asks for one unit by name.
type AgentRequestEvent struct {
	AgentName   string `json:"agent_name"`
	RequestedBy string `json:"requested_by"`
}

// TaskEvent describes work whose serving units are not named directly.
type TaskEvent struct {
	Type     string                 `json:"type"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Event is one parsed coordinator frame; exactly one payload field is set,
// matching Type.
type Event struct {
	Type         EventType
	AgentRequest *AgentRequestEvent
	Task         *TaskEvent
}

// ParseFrame parses a coordinator text frame of the form
// "<event_type>:<json-payload>".
func ParseFrame(frame string) (Event, error) {
	eventType, payload, found := strings.Cut(frame, ":")
	if !found {
		return Event{}, errors.NewValidationError("event frame has no type separator", nil).
			WithContext("frame", frame)
	}

	switch EventType(eventType) {
	case EventTypeAgentRequest:
		var request AgentRequestEvent
		if err := json.Unmarshal([]byte(payload), &request); err != nil {
			return Event{}, errors.NewValidationError("malformed agent_request payload", err)
		}
		if request.AgentName == "" {
			return Event{}, errors.NewValidationError("agent_request without agent_name", nil)
		}
		return Event{Type: EventTypeAgentRequest, AgentRequest: &request}, nil

	case EventTypeTask:
		var task TaskEvent
		if err := json.Unmarshal([]byte(payload), &task); err != nil {
			return Event{}, errors.NewValidationError("malformed task payload", err)
		}
		if task.Type == "" {
			return Event{}, errors.NewValidationError("task without type", nil)
		}
		return Event{Type: EventTypeTask, Task: &task}, nil

	default:
		return Event{}, errors.NewValidationError("unrecognized event type", nil).
			WithContext("event_type", eventType)
	}
}

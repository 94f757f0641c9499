package lazyloader

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/core-tools/hsu-agentplane-go/pkg/errors"
)

func TestParseFrameAgentRequest(t *testing.T) {
	event, err := ParseFrame(`agent_request:{"agent_name":"code-agent","requested_by":"coordinator"}`)
	require.NoError(t, err)
	assert.Equal(t, EventTypeAgentRequest, event.Type)
	require.NotNil(t, event.AgentRequest)
	assert.Equal(t, "code-agent", event.AgentRequest.AgentName)
	assert.Equal(t, "coordinator", event.AgentRequest.RequestedBy)
	assert.Nil(t, event.Task)
}

func TestParseFrameTask(t *testing.T) {
	event, err := ParseFrame(`task:{"type":"code-review","metadata":{"repo":"x"}}`)
	require.NoError(t, err)
	assert.Equal(t, EventTypeTask, event.Type)
	require.NotNil(t, event.Task)
	assert.Equal(t, "code-review", event.Task.Type)
	assert.Equal(t, "x", event.Task.Metadata["repo"])
}

func TestParseFrameErrors(t *testing.T) {
	tests := []struct {
		name  string
		frame string
	}{
		{"no separator", "just-text"},
		{"unknown type", `heartbeat:{"ok":true}`},
		{"malformed agent_request json", `agent_request:{not json`},
		{"agent_request without name", `agent_request:{"requested_by":"x"}`},
		{"malformed task json", `task:[1,2`},
		{"task without type", `task:{"metadata":{}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseFrame(tt.frame)
			require.Error(t, err)
			assert.True(t, errors.IsValidationError(err))
		})
	}
}

func TestMapTaskToUnits(t *testing.T) {
	table := map[string][]string{
		"code":     {"code-agent"},
		"research": {"research-agent", "browser-agent"},
		"browse":   {"browser-agent"},
	}

	assert.Equal(t, []string{"code-agent"}, MapTaskToUnits("code-review", table))
	assert.Equal(t, []string{"code-agent"}, MapTaskToUnits("CODE-REVIEW", table))

	// Overlapping keywords yield each candidate once.
	candidates := MapTaskToUnits("browse-research", table)
	assert.Equal(t, []string{"browser-agent", "research-agent"}, candidates)

	assert.Empty(t, MapTaskToUnits("unrelated", table))
	assert.Empty(t, MapTaskToUnits("code", nil))
}

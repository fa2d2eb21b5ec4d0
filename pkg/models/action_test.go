package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseActionConfig(t *testing.T) {
	tests := []struct {
		name     string
		config   map[string]any
		expected ActionConfig
	}{
		{
			name:     "missing action type defaults to log",
			config:   map[string]any{"message": "hello"},
			expected: LogConfig{Message: "hello"},
		},
		{
			name:     "nil config defaults to log",
			config:   nil,
			expected: LogConfig{},
		},
		{
			name: "http request upper-cases method",
			config: map[string]any{
				"actionType": "http_request",
				"url":        "https://example.com",
				"method":     "post",
				"headers":    map[string]any{"X-Token": "abc"},
				"body":       map[string]any{"a": 1},
			},
			expected: HTTPRequestConfig{
				URL:     "https://example.com",
				Method:  "POST",
				Headers: map[string]string{"X-Token": "abc"},
				Body:    map[string]any{"a": 1},
			},
		},
		{
			name:     "http request defaults to GET",
			config:   map[string]any{"actionType": "http_request", "url": "https://example.com"},
			expected: HTTPRequestConfig{URL: "https://example.com", Method: "GET"},
		},
		{
			name:   "unknown action type keeps raw config",
			config: map[string]any{"actionType": "slack_message", "channel": "#ops"},
			expected: UnknownActionConfig{
				Type: "slack_message",
				Raw:  map[string]any{"actionType": "slack_message", "channel": "#ops"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseActionConfig(tt.config))
		})
	}
}

func TestPositionDistance(t *testing.T) {
	a := Position{X: 0, Y: 0}
	b := Position{X: 30, Y: 40}

	assert.InDelta(t, 50.0, a.Distance(b), 1e-9)
	assert.InDelta(t, 50.0, b.Distance(a), 1e-9)
}

func TestWorkflowNodesByType(t *testing.T) {
	wf := &Workflow{
		Nodes: []*Node{
			{ID: "t1", Type: NodeTypeTrigger},
			{ID: "a1", Type: NodeTypeAction},
			{ID: "c1", Type: NodeTypeCondition},
			{ID: "a2", Type: NodeTypeAction},
		},
	}

	actions := wf.NodesByType(NodeTypeAction)
	require.Len(t, actions, 2)
	assert.Equal(t, "a1", actions[0].ID)
	assert.Equal(t, "a2", actions[1].ID)
	assert.Len(t, wf.NodesByType(NodeTypeTrigger), 1)
}

func TestWebhookMatchesMethod(t *testing.T) {
	w := &Webhook{Method: "POST"}

	assert.True(t, w.MatchesMethod("post"))
	assert.False(t, w.MatchesMethod("GET"))
	assert.True(t, ValidWebhookMethod("get"))
	assert.False(t, ValidWebhookMethod("PUT"))
}

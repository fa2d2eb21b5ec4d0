package services

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorKinds(t *testing.T) {
	tests := []struct {
		err      error
		kind     error
		message string
	}{
		{ErrWorkflowNotFound, ErrNotFound, "Workflow not found"},
		{ErrExecutionNotFound, ErrNotFound, "Execution not found"},
		{ErrWebhookNotFound, ErrNotFound, "Webhook not found"},
		{ErrWorkflowDisabled, ErrDisabled, "Workflow is disabled"},
		{ErrWebhookDisabled, ErrDisabled, "Webhook is disabled"},
		{ErrTriggerNodeRequired, ErrValidation, "Workflow must have at least one trigger node"},
		{ErrNodesTooClose, ErrValidation, "Nodes are positioned too close together"},
		{ErrDanglingConnection, ErrValidation, "Connection references non-existent node"},
		{&MethodMismatchError{Expected: "POST", Got: "GET"}, ErrMethodMismatch, "Method not allowed. Expected POST, got GET"},
	}

	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			wrapped := fmt.Errorf("handler: %w", tt.err)

			assert.Equal(t, tt.message, tt.err.Error())
			assert.ErrorIs(t, wrapped, tt.kind)

			kinds := 0
			for _, kind := range []error{ErrNotFound, ErrDisabled, ErrMethodMismatch, ErrValidation, ErrExecutionFailure} {
				if errors.Is(tt.err, kind) {
					kinds++
				}
			}

			assert.Equal(t, 1, kinds)
		})
	}
}

func TestNodeExecutionError(t *testing.T) {
	cause := errors.New("HTTP request requires URL")
	err := &NodeExecutionError{NodeID: "n1", NodeName: "Call API", Err: cause}

	assert.Equal(t, "HTTP request requires URL", err.Error())
	assert.True(t, IsExecutionFailure(err))
	assert.ErrorIs(t, err, cause)
	assert.False(t, IsValidationError(err))
}

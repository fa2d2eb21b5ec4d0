// Package protocol defines the contracts between the executor and action implementations.
package protocol

import (
	"context"
	"log/slog"

	"github.com/dukex/autoflow/pkg/models"
)

// ActionInput is what an action sees of the run it belongs to.
type ActionInput struct {
	WorkflowID  string
	ExecutionID string
	NodeID      string
	TriggerData any
}

type Action interface {
	Execute(ctx context.Context, input ActionInput, logger *slog.Logger) (any, error)
}

// ActionFactory builds actions of one actionType from parsed node config.
type ActionFactory interface {
	ID() string
	Name() string
	Description() string
	Schema() map[string]any
	Create(config models.ActionConfig) (Action, error)
}

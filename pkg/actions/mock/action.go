// Package mock provides the stand-in action for action types without an implementation.
package mock

import (
	"context"
	"log/slog"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/protocol"
)

type ActionFactory struct{}

func NewActionFactory() *ActionFactory {
	return &ActionFactory{}
}

func (*ActionFactory) ID() string {
	return "mock"
}

func (*ActionFactory) Name() string {
	return "Mock"
}

func (*ActionFactory) Description() string {
	return "Succeeds without side effects. Used for action types with no implementation."
}

func (*ActionFactory) Schema() map[string]any {
	return map[string]any{"type": "object"}
}

func (*ActionFactory) Create(config models.ActionConfig) (protocol.Action, error) {
	action := &Action{Type: config.ActionType()}
	if unknown, ok := config.(models.UnknownActionConfig); ok {
		action.Config = unknown.Raw
	}

	return action, nil
}

type Action struct {
	Type   string
	Config map[string]any
}

func (a *Action) Execute(ctx context.Context, input protocol.ActionInput, logger *slog.Logger) (any, error) {
	logger.WarnContext(ctx, "No implementation for action type, returning mock result",
		"action_type", a.Type,
		"node_id", input.NodeID,
	)

	return &models.MockResult{
		Success:     true,
		Message:     "Action " + a.Type + " executed (mock)",
		Config:      a.Config,
		TriggerData: input.TriggerData,
	}, nil
}

// Package logaction provides the log action.
package logaction

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/protocol"
)

const DefaultMessage = "Workflow executed successfully"

func NewActionFactory() *ActionFactory {
	return &ActionFactory{now: time.Now}
}

type ActionFactory struct {
	now func() time.Time
}

func (*ActionFactory) ID() string {
	return models.ActionTypeLog
}

func (*ActionFactory) Name() string {
	return "Log"
}

func (*ActionFactory) Description() string {
	return "Writes a message to the worker log."
}

func (*ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"actionType": map[string]any{
				"type":  "string",
				"const": models.ActionTypeLog,
			},
			"message": map[string]any{
				"type":    "string",
				"default": DefaultMessage,
			},
		},
	}
}

func (f *ActionFactory) Create(config models.ActionConfig) (protocol.Action, error) {
	cfg, ok := config.(models.LogConfig)
	if !ok {
		return nil, fmt.Errorf("unexpected config %T for %s", config, f.ID())
	}

	return NewAction(cfg, f.now), nil
}

type Action struct {
	Message string

	now func() time.Time
}

func NewAction(config models.LogConfig, now func() time.Time) *Action {
	message := config.Message
	if message == "" {
		message = DefaultMessage
	}

	if now == nil {
		now = time.Now
	}

	return &Action{Message: message, now: now}
}

func (a *Action) Execute(ctx context.Context, input protocol.ActionInput, logger *slog.Logger) (any, error) {
	logger = logger.With("action_type", models.ActionTypeLog, "node_id", input.NodeID)
	logger.InfoContext(ctx, a.Message, "execution_id", input.ExecutionID)

	return &models.LogResult{
		Message:     a.Message,
		Timestamp:   a.now().UTC(),
		TriggerData: input.TriggerData,
	}, nil
}

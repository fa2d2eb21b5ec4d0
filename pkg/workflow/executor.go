// Package workflow runs a workflow's nodes for one execution.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/otelhelper"
	"github.com/dukex/autoflow/pkg/persistence"
	"github.com/dukex/autoflow/pkg/protocol"
	"github.com/dukex/autoflow/pkg/registry"
	"github.com/dukex/autoflow/pkg/services"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// StatusTracker records execution status transitions. *services.Execution implements it.
type StatusTracker interface {
	UpdateExecutionStatus(ctx context.Context, executionID string, status models.ExecutionStatus, errMsg *string) error
}

type Executor struct {
	persistence persistence.Persistence
	tracker     StatusTracker
	registry    *registry.Registry
	tracer      trace.Tracer
	logger      *slog.Logger
}

func NewExecutor(
	persistence persistence.Persistence,
	tracker StatusTracker,
	registry *registry.Registry,
	tracer trace.Tracer,
	logger *slog.Logger,
) *Executor {
	return &Executor{
		persistence: persistence,
		tracker:     tracker,
		registry:    registry,
		tracer:      tracer,
		logger:      logger.With("module", "workflow_executor"),
	}
}

// ExecuteWorkflow runs every ACTION node of the workflow in stored order and records the outcome
// on the execution. The first failing node stops the run.
func (e *Executor) ExecuteWorkflow(
	ctx context.Context,
	workflowID, executionID string,
	triggerData any,
) (*models.ExecutionResult, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "workflow.execute",
		attribute.String(otelhelper.WorkflowIDKey, workflowID),
		attribute.String(otelhelper.ExecutionIDKey, executionID),
	)
	defer span.End()

	logger := e.logger.With("workflow_id", workflowID, "execution_id", executionID)
	logger.InfoContext(ctx, "Starting workflow execution")

	workflow, err := e.loadWorkflow(ctx, workflowID)
	if err != nil {
		otelhelper.SetError(span, err)
		e.fail(ctx, logger, executionID, err)

		return nil, err
	}

	for _, node := range workflow.NodesByType(models.NodeTypeTrigger) {
		logger.InfoContext(ctx, "Trigger node", "node_id", node.ID, "node_name", node.Name)
	}

	actions := workflow.NodesByType(models.NodeTypeAction)

	results := make([]models.NodeResult, 0, len(actions))

	for _, node := range actions {
		result, err := e.executeNode(ctx, logger, workflowID, executionID, node, triggerData)
		if err != nil {
			nodeErr := &services.NodeExecutionError{NodeID: node.ID, NodeName: node.Name, Err: err}

			otelhelper.SetError(span, nodeErr, attribute.String(otelhelper.NodeIDKey, node.ID))
			e.fail(ctx, logger, executionID, nodeErr)

			return nil, nodeErr
		}

		results = append(results, models.NodeResult{
			NodeID:   node.ID,
			NodeName: node.Name,
			Success:  true,
			Result:   result,
		})
	}

	if err := e.tracker.UpdateExecutionStatus(ctx, executionID, models.ExecutionStatusSuccess, nil); err != nil {
		otelhelper.SetError(span, err)

		return nil, fmt.Errorf("failed to mark execution %s as successful: %w", executionID, err)
	}

	logger.InfoContext(ctx, "Workflow execution completed", "nodes_executed", len(results))

	return &models.ExecutionResult{
		Success:     true,
		ExecutionID: executionID,
		Results:     results,
	}, nil
}

func (e *Executor) loadWorkflow(ctx context.Context, workflowID string) (*models.Workflow, error) {
	workflow, err := e.persistence.WorkflowRepository().GetByID(ctx, workflowID)
	if err != nil {
		if errors.Is(err, persistence.ErrWorkflowNotFound) {
			return nil, services.ErrWorkflowNotFound
		}

		return nil, fmt.Errorf("failed to load workflow %s: %w", workflowID, err)
	}

	if !workflow.Enabled {
		return nil, services.ErrWorkflowDisabled
	}

	return workflow, nil
}

// executeNode dispatches on node type. Only ACTION nodes have side effects.
func (e *Executor) executeNode(
	ctx context.Context,
	logger *slog.Logger,
	workflowID, executionID string,
	node *models.Node,
	triggerData any,
) (any, error) {
	switch node.Type {
	case models.NodeTypeAction:
		return e.executeAction(ctx, logger, workflowID, executionID, node, triggerData)
	case models.NodeTypeCondition:
		return &models.ConditionResult{Condition: true, Message: "Condition evaluated"}, nil
	default:
		return &models.SkippedResult{Skipped: true, Reason: "Node type not implemented"}, nil
	}
}

func (e *Executor) executeAction(
	ctx context.Context,
	logger *slog.Logger,
	workflowID, executionID string,
	node *models.Node,
	triggerData any,
) (any, error) {
	config := models.ParseActionConfig(node.Config)

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "workflow.action",
		attribute.String(otelhelper.NodeIDKey, node.ID),
		attribute.String(otelhelper.ActionTypeKey, config.ActionType()),
	)
	defer span.End()

	logger = logger.With("node_id", node.ID, "node_name", node.Name, "action_type", config.ActionType())
	logger.InfoContext(ctx, "Executing action node")

	action, err := e.registry.CreateAction(config)
	if err != nil {
		otelhelper.SetError(span, err)
		logger.ErrorContext(ctx, "Failed to create action", "error", err)

		return nil, err
	}

	result, err := action.Execute(ctx, protocol.ActionInput{
		WorkflowID:  workflowID,
		ExecutionID: executionID,
		NodeID:      node.ID,
		TriggerData: triggerData,
	}, logger)
	if err != nil {
		otelhelper.SetError(span, err)
		logger.ErrorContext(ctx, "Action failed", "error", err)

		return nil, err
	}

	return result, nil
}

// fail records the execution as FAILED with the error's own message.
func (e *Executor) fail(ctx context.Context, logger *slog.Logger, executionID string, cause error) {
	logger.ErrorContext(ctx, "Workflow execution failed", "error", cause)

	msg := cause.Error()
	if err := e.tracker.UpdateExecutionStatus(ctx, executionID, models.ExecutionStatusFailed, &msg); err != nil {
		logger.ErrorContext(ctx, "Failed to mark execution as failed", "error", err)
	}
}

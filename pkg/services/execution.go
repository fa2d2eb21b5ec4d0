package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/persistence"
	"github.com/dukex/autoflow/pkg/queue"
	"github.com/google/uuid"
)

// ExecutionHistoryLimit bounds GetWorkflowExecutions.
const ExecutionHistoryLimit = 50

// Execution tracks workflow runs and hands them to the job queue.
type Execution struct {
	persistence persistence.Persistence
	queue       queue.Queue
	logger      *slog.Logger
}

// NewExecution creates a new execution tracker.
func NewExecution(persistence persistence.Persistence, queue queue.Queue, logger *slog.Logger) *Execution {
	return &Execution{
		persistence: persistence,
		queue:       queue,
		logger:      logger.With("module", "execution_service"),
	}
}

// QueuedExecution is the outcome of QueueWorkflow.
type QueuedExecution struct {
	Execution *models.Execution `json:"execution"`
	JobID     string            `json:"jobId"`
}

// CreateExecution records a RUNNING execution. A nil payload is stored as an empty object.
func (e *Execution) CreateExecution(ctx context.Context, workflowID string, triggerData any) (*models.Execution, error) {
	if _, err := e.persistence.WorkflowRepository().GetByID(ctx, workflowID); err != nil {
		return nil, translateWorkflowErr(err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate execution ID: %w", err)
	}

	if triggerData == nil {
		triggerData = map[string]any{}
	}

	execution := &models.Execution{
		ID:         id.String(),
		WorkflowID: workflowID,
		Status:     models.ExecutionStatusRunning,
		Data:       triggerData,
		StartedAt:  time.Now().UTC(),
	}

	if err := e.persistence.ExecutionRepository().Create(ctx, execution); err != nil {
		return nil, fmt.Errorf("failed to create execution: %w", err)
	}

	return execution, nil
}

// UpdateExecutionStatus sets the status; finishedAt is stamped for every status but RUNNING.
func (e *Execution) UpdateExecutionStatus(
	ctx context.Context,
	executionID string,
	status models.ExecutionStatus,
	errMsg *string,
) error {
	var finishedAt *time.Time

	if status.Terminal() {
		now := time.Now().UTC()
		finishedAt = &now
	}

	err := e.persistence.ExecutionRepository().UpdateStatus(ctx, executionID, status, errMsg, finishedAt)
	if err != nil {
		if persistence.IsExecutionNotFound(err) {
			return ErrExecutionNotFound
		}

		return fmt.Errorf("failed to update execution %s: %w", executionID, err)
	}

	return nil
}

// GetExecution returns the execution joined with its workflow, nodes and connections.
func (e *Execution) GetExecution(ctx context.Context, executionID string) (*models.Execution, error) {
	execution, err := e.persistence.ExecutionRepository().GetByID(ctx, executionID)
	if err != nil {
		if persistence.IsExecutionNotFound(err) {
			return nil, ErrExecutionNotFound
		}

		return nil, fmt.Errorf("failed to get execution %s: %w", executionID, err)
	}

	workflow, err := e.persistence.WorkflowRepository().GetByID(ctx, execution.WorkflowID)
	if err != nil {
		return nil, translateWorkflowErr(err)
	}

	execution.Workflow = workflow

	return execution, nil
}

// GetWorkflowExecutions returns up to 50 executions, newest first, of a workflow the user owns.
func (e *Execution) GetWorkflowExecutions(ctx context.Context, workflowID, userID string) ([]*models.Execution, error) {
	if _, err := ownedWorkflow(ctx, e.persistence, workflowID, userID); err != nil {
		return nil, err
	}

	executions, err := e.persistence.ExecutionRepository().ListByWorkflow(ctx, workflowID, ExecutionHistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions of workflow %s: %w", workflowID, err)
	}

	return executions, nil
}

// QueueWorkflow persists a RUNNING execution and then enqueues the job that will run it.
// When enqueueing fails the execution stays RUNNING.
func (e *Execution) QueueWorkflow(
	ctx context.Context,
	workflowID, userID string,
	triggerType models.TriggerType,
	triggerData any,
) (*QueuedExecution, error) {
	if !triggerType.Valid() {
		return nil, ErrInvalidTriggerType
	}

	execution, err := e.CreateExecution(ctx, workflowID, triggerData)
	if err != nil {
		return nil, err
	}

	jobID, err := e.queue.Enqueue(ctx, &models.Job{
		WorkflowID:  workflowID,
		UserID:      userID,
		ExecutionID: execution.ID,
		TriggerData: triggerData,
		TriggerType: triggerType,
	})
	if err != nil {
		e.logger.ErrorContext(ctx, "failed to enqueue workflow",
			"workflow_id", workflowID, "execution_id", execution.ID, "error", err)

		return nil, fmt.Errorf("failed to enqueue workflow %s: %w", workflowID, err)
	}

	e.logger.InfoContext(ctx, "workflow queued for execution",
		"workflow_id", workflowID,
		"execution_id", execution.ID,
		"job_id", jobID,
		"trigger_type", triggerType,
	)

	return &QueuedExecution{Execution: execution, JobID: jobID}, nil
}

func translateWorkflowErr(err error) error {
	if persistence.IsWorkflowNotFound(err) {
		return ErrWorkflowNotFound
	}

	return fmt.Errorf("failed to get workflow: %w", err)
}

// ownedWorkflow loads a workflow and hides it from anyone but its owner.
func ownedWorkflow(ctx context.Context, p persistence.Persistence, workflowID, userID string) (*models.Workflow, error) {
	workflow, err := p.WorkflowRepository().GetByID(ctx, workflowID)
	if err != nil {
		return nil, translateWorkflowErr(err)
	}

	if workflow.UserID != userID {
		return nil, ErrWorkflowNotFound
	}

	return workflow, nil
}

package services

import (
	"errors"
	"log/slog"
	"testing"

	"github.com/dukex/autoflow/pkg/mocks"
	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/persistence/file"
	"github.com/dukex/autoflow/pkg/queue"
	"github.com/dukex/autoflow/pkg/queue/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	persistence *file.Persistence
	queue       *memory.Queue
	workflows   *Workflow
	executions  *Execution
	webhooks    *Webhook
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	p := file.NewPersistence(t.TempDir())
	q := memory.New(queue.DefaultOptions())
	logger := slog.New(slog.DiscardHandler)
	executions := NewExecution(p, q, logger)

	return &fixture{
		persistence: p,
		queue:       q,
		workflows:   NewWorkflow(p),
		executions:  executions,
		webhooks:    NewWebhook(p, executions, logger),
	}
}

func (f *fixture) workflow(t *testing.T, userID string) *models.Workflow {
	t.Helper()

	workflow, err := f.workflows.Create(t.Context(), userID, validInput())
	require.NoError(t, err)

	return workflow
}

func TestExecution_CreateExecution(t *testing.T) {
	f := newFixture(t)
	workflow := f.workflow(t, "user-1")

	execution, err := f.executions.CreateExecution(t.Context(), workflow.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusRunning, execution.Status)
	assert.Equal(t, map[string]any{}, execution.Data)
	assert.Nil(t, execution.FinishedAt)

	_, err = f.executions.CreateExecution(t.Context(), "missing", nil)
	assert.ErrorIs(t, err, ErrWorkflowNotFound)
}

func TestExecution_UpdateExecutionStatus(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	workflow := f.workflow(t, "user-1")

	execution, err := f.executions.CreateExecution(ctx, workflow.ID, map[string]any{"a": 1})
	require.NoError(t, err)

	require.NoError(t, f.executions.UpdateExecutionStatus(ctx, execution.ID, models.ExecutionStatusRunning, nil))

	loaded, err := f.executions.GetExecution(ctx, execution.ID)
	require.NoError(t, err)
	assert.Nil(t, loaded.FinishedAt)

	msg := "HTTP request requires URL"
	require.NoError(t, f.executions.UpdateExecutionStatus(ctx, execution.ID, models.ExecutionStatusFailed, &msg))

	loaded, err = f.executions.GetExecution(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, loaded.Status)
	require.NotNil(t, loaded.FinishedAt)
	require.NotNil(t, loaded.Error)
	assert.Equal(t, msg, *loaded.Error)
	require.NotNil(t, loaded.Workflow)
	assert.Equal(t, workflow.ID, loaded.Workflow.ID)
	assert.Len(t, loaded.Workflow.Nodes, 2)
	assert.Len(t, loaded.Workflow.Connections, 1)

	err = f.executions.UpdateExecutionStatus(ctx, "missing", models.ExecutionStatusSuccess, nil)
	assert.ErrorIs(t, err, ErrExecutionNotFound)

	_, err = f.executions.GetExecution(ctx, "missing")
	assert.ErrorIs(t, err, ErrExecutionNotFound)
	assert.True(t, IsNotFound(err))
}

func TestExecution_QueueWorkflow(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	workflow := f.workflow(t, "user-1")

	payload := map[string]any{"order": 42}

	queued, err := f.executions.QueueWorkflow(ctx, workflow.ID, "user-1", models.TriggerTypeManual, payload)
	require.NoError(t, err)
	assert.NotEmpty(t, queued.JobID)
	assert.Equal(t, models.ExecutionStatusRunning, queued.Execution.Status)

	delivery, err := f.queue.Reserve(ctx)
	require.NoError(t, err)
	assert.Equal(t, queued.JobID, delivery.ID)
	assert.Equal(t, &models.Job{
		WorkflowID:  workflow.ID,
		UserID:      "user-1",
		ExecutionID: queued.Execution.ID,
		TriggerData: payload,
		TriggerType: models.TriggerTypeManual,
	}, delivery.Job)

	_, err = f.executions.QueueWorkflow(ctx, workflow.ID, "user-1", "cron", nil)
	assert.ErrorIs(t, err, ErrInvalidTriggerType)
}

func TestExecution_QueueWorkflow_EnqueueFailureLeavesRunning(t *testing.T) {
	p := file.NewPersistence(t.TempDir())
	q := &mocks.MockQueue{}
	q.On("Enqueue", mock.Anything, mock.Anything).Return("", errors.New("broker down"))

	executions := NewExecution(p, q, slog.New(slog.DiscardHandler))

	workflow, err := NewWorkflow(p).Create(t.Context(), "user-1", validInput())
	require.NoError(t, err)

	_, err = executions.QueueWorkflow(t.Context(), workflow.ID, "user-1", models.TriggerTypeManual, nil)
	require.ErrorContains(t, err, "broker down")

	history, err := executions.GetWorkflowExecutions(t.Context(), workflow.ID, "user-1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.ExecutionStatusRunning, history[0].Status)
	q.AssertExpectations(t)
}

func TestExecution_GetWorkflowExecutions(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	workflow := f.workflow(t, "user-1")

	for range ExecutionHistoryLimit + 5 {
		_, err := f.executions.CreateExecution(ctx, workflow.ID, nil)
		require.NoError(t, err)
	}

	history, err := f.executions.GetWorkflowExecutions(ctx, workflow.ID, "user-1")
	require.NoError(t, err)
	require.Len(t, history, ExecutionHistoryLimit)

	for i := 1; i < len(history); i++ {
		assert.False(t, history[i].StartedAt.After(history[i-1].StartedAt))
	}

	_, err = f.executions.GetWorkflowExecutions(ctx, workflow.ID, "user-2")
	assert.ErrorIs(t, err, ErrWorkflowNotFound)
}

package workflow

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/persistence/file"
	"github.com/dukex/autoflow/pkg/queue"
	"github.com/dukex/autoflow/pkg/queue/memory"
	"github.com/dukex/autoflow/pkg/registry"
	"github.com/dukex/autoflow/pkg/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
)

type testEnv struct {
	persistence *file.Persistence
	executions  *services.Execution
	executor    *Executor
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)
	p := file.NewPersistence(t.TempDir())
	executions := services.NewExecution(p, memory.New(queue.DefaultOptions()), logger)

	return &testEnv{
		persistence: p,
		executions:  executions,
		executor: NewExecutor(
			p,
			executions,
			registry.NewDefault(logger, nil),
			noop.NewTracerProvider().Tracer("test"),
			logger,
		),
	}
}

// run saves a workflow with a trigger followed by the given action configs and executes it.
func (env *testEnv) run(
	t *testing.T,
	enabled bool,
	actions ...map[string]any,
) (*models.Workflow, *models.Execution, *models.ExecutionResult, error) {
	t.Helper()

	ctx := context.Background()

	workflow := &models.Workflow{
		Title:   "Executor test",
		Enabled: true,
		UserID:  "user-1",
		Nodes: []*models.Node{
			{ID: "trigger", Type: models.NodeTypeTrigger, Name: "Start", Config: map[string]any{"triggerType": "manual"}},
		},
	}

	for i, config := range actions {
		workflow.Nodes = append(workflow.Nodes, &models.Node{
			ID:       "action-" + string(rune('a'+i)),
			Type:     models.NodeTypeAction,
			Name:     "Action " + string(rune('A'+i)),
			Position: models.Position{X: float64(100 * (i + 1))},
			Config:   config,
		})
	}

	require.NoError(t, env.persistence.WorkflowRepository().Save(ctx, workflow))

	execution, err := env.executions.CreateExecution(ctx, workflow.ID, map[string]any{"source": "test"})
	require.NoError(t, err)

	if !enabled {
		require.NoError(t, env.persistence.WorkflowRepository().SetEnabled(ctx, workflow.ID, false))
	}

	result, runErr := env.executor.ExecuteWorkflow(ctx, workflow.ID, execution.ID, execution.Data)

	stored, err := env.executions.GetExecution(ctx, execution.ID)
	require.NoError(t, err)

	return workflow, stored, result, runErr
}

func TestExecuteWorkflow_LogSuccess(t *testing.T) {
	env := newTestEnv(t)

	_, execution, result, err := env.run(t, true, map[string]any{"actionType": "log", "message": "hi"})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, execution.ID, result.ExecutionID)
	require.Len(t, result.Results, 1)
	assert.Equal(t, "action-a", result.Results[0].NodeID)
	assert.Equal(t, "Action A", result.Results[0].NodeName)
	assert.True(t, result.Results[0].Success)

	logResult, ok := result.Results[0].Result.(*models.LogResult)
	require.True(t, ok)
	assert.Equal(t, "hi", logResult.Message)
	assert.Equal(t, map[string]any{"source": "test"}, logResult.TriggerData)

	assert.Equal(t, models.ExecutionStatusSuccess, execution.Status)
	assert.NotNil(t, execution.FinishedAt)
	assert.Nil(t, execution.Error)
}

func TestExecuteWorkflow_RunsActionsInStoredOrder(t *testing.T) {
	var received []map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		received = append(received, body)

		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	env := newTestEnv(t)

	_, execution, result, err := env.run(t, true,
		map[string]any{"actionType": "http_request", "url": server.URL, "method": "POST", "body": map[string]any{"step": 1.0}},
		map[string]any{"actionType": "http_request", "url": server.URL, "method": "POST"},
		map[string]any{"actionType": "slack_message", "channel": "#ops"},
	)
	require.NoError(t, err)

	require.Len(t, result.Results, 3)
	assert.Equal(t, []string{"action-a", "action-b", "action-c"}, []string{
		result.Results[0].NodeID, result.Results[1].NodeID, result.Results[2].NodeID,
	})

	require.Len(t, received, 2)
	assert.Equal(t, map[string]any{"step": 1.0}, received[0])
	assert.Equal(t, map[string]any{"source": "test"}, received[1])

	response := result.Results[0].Result.(*models.HTTPResponse)
	assert.Equal(t, http.StatusAccepted, response.Status)

	mockResult := result.Results[2].Result.(*models.MockResult)
	assert.Equal(t, "Action slack_message executed (mock)", mockResult.Message)

	assert.Equal(t, models.ExecutionStatusSuccess, execution.Status)
}

func TestExecuteWorkflow_NodeFailureStopsRun(t *testing.T) {
	calls := 0

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
	}))
	defer server.Close()

	env := newTestEnv(t)

	_, execution, result, err := env.run(t, true,
		map[string]any{"actionType": "http_request"},
		map[string]any{"actionType": "http_request", "url": server.URL},
	)

	require.Error(t, err)
	assert.Nil(t, result)
	assert.True(t, services.IsExecutionFailure(err))
	assert.Equal(t, "HTTP request requires URL", err.Error())

	var nodeErr *services.NodeExecutionError
	require.ErrorAs(t, err, &nodeErr)
	assert.Equal(t, "action-a", nodeErr.NodeID)

	assert.Zero(t, calls)
	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
	require.NotNil(t, execution.Error)
	assert.Equal(t, "HTTP request requires URL", *execution.Error)
	assert.NotNil(t, execution.FinishedAt)
}

func TestExecuteWorkflow_Disabled(t *testing.T) {
	env := newTestEnv(t)

	_, execution, result, err := env.run(t, false, map[string]any{"actionType": "log"})

	require.ErrorIs(t, err, services.ErrWorkflowDisabled)
	assert.True(t, services.IsDisabled(err))
	assert.Nil(t, result)

	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
	require.NotNil(t, execution.Error)
	assert.Equal(t, "Workflow is disabled", *execution.Error)
}

func TestExecuteWorkflow_WorkflowNotFound(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	workflow, _, _, err := env.run(t, true)
	require.NoError(t, err)

	execution, err := env.executions.CreateExecution(ctx, workflow.ID, nil)
	require.NoError(t, err)

	_, err = env.executor.ExecuteWorkflow(ctx, "missing-workflow", execution.ID, nil)
	require.ErrorIs(t, err, services.ErrWorkflowNotFound)
	assert.True(t, services.IsNotFound(err))

	stored, err := env.executions.GetExecution(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, stored.Status)
	assert.Equal(t, "Workflow not found", *stored.Error)
}

func TestExecuteWorkflow_NoActions(t *testing.T) {
	env := newTestEnv(t)

	_, execution, result, err := env.run(t, true)
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Empty(t, result.Results)
	assert.Equal(t, models.ExecutionStatusSuccess, execution.Status)
}

func TestExecuteWorkflow_OnlyActionNodesProduceResults(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	workflow := &models.Workflow{
		Title:   "Mixed nodes",
		Enabled: true,
		UserID:  "user-1",
		Nodes: []*models.Node{
			{ID: "a1", Type: models.NodeTypeAction, Name: "First", Config: map[string]any{"actionType": "log"}},
			{ID: "c1", Type: models.NodeTypeCondition, Name: "Check"},
			{ID: "t1", Type: models.NodeTypeTrigger, Name: "Start"},
			{ID: "a2", Type: models.NodeTypeAction, Name: "Second", Config: map[string]any{"actionType": "log"}},
		},
	}
	require.NoError(t, env.persistence.WorkflowRepository().Save(ctx, workflow))

	execution, err := env.executions.CreateExecution(ctx, workflow.ID, map[string]any{})
	require.NoError(t, err)

	result, err := env.executor.ExecuteWorkflow(ctx, workflow.ID, execution.ID, execution.Data)
	require.NoError(t, err)

	require.Len(t, result.Results, 2)
	assert.Equal(t, "a1", result.Results[0].NodeID)
	assert.Equal(t, "a2", result.Results[1].NodeID)
}

func TestExecuteNode_NonActionTypes(t *testing.T) {
	env := newTestEnv(t)
	logger := slog.New(slog.DiscardHandler)

	result, err := env.executor.executeNode(context.Background(), logger, "wf", "exec",
		&models.Node{ID: "c", Type: models.NodeTypeCondition}, nil)
	require.NoError(t, err)
	assert.Equal(t, &models.ConditionResult{Condition: true, Message: "Condition evaluated"}, result)

	result, err = env.executor.executeNode(context.Background(), logger, "wf", "exec",
		&models.Node{ID: "t", Type: models.NodeTypeTrigger}, nil)
	require.NoError(t, err)
	assert.Equal(t, &models.SkippedResult{Skipped: true, Reason: "Node type not implemented"}, result)
}

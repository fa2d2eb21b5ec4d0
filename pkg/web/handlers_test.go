package web

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
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
	"github.com/dukex/autoflow/pkg/workflow"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
)

const testUser = "user-1"

type testServer struct {
	app         *fiber.App
	queue       *memory.Queue
	persistence *file.Persistence
	executions  *services.Execution
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)
	p := file.NewPersistence(t.TempDir())
	q := memory.New(queue.DefaultOptions())
	executions := services.NewExecution(p, q, logger)

	handlers := NewAPIHandlers(
		services.NewWorkflow(p),
		executions,
		services.NewWebhook(p, executions, logger),
		q,
		registry.NewDefault(logger, nil),
		validator.New(validator.WithRequiredStructEnabled()),
		logger,
	)

	app := fiber.New()
	Routes(app, handlers)

	return &testServer{app: app, queue: q, persistence: p, executions: executions}
}

func (s *testServer) do(t *testing.T, method, path, userID string, body any) (int, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)

		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	if userID != "" {
		req.Header.Set(UserHeader, userID)
	}

	resp, err := s.app.Test(req)
	require.NoError(t, err)

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	payload := map[string]any{}

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &payload), string(raw))
	}

	return resp.StatusCode, payload
}

func workflowBody(title string) map[string]any {
	return map[string]any{
		"title": title,
		"nodes": []map[string]any{
			{"id": "t", "type": "TRIGGER", "name": "Start", "position": map[string]any{"x": 0, "y": 0}},
			{
				"id": "a", "type": "ACTION", "name": "Log", "position": map[string]any{"x": 200, "y": 0},
				"config": map[string]any{"actionType": "log", "message": "hi"},
			},
		},
		"connections": []map[string]any{{"sourceId": "t", "targetId": "a"}},
	}
}

func dataField(t *testing.T, payload map[string]any, key string) map[string]any {
	t.Helper()

	data, ok := payload["data"].(map[string]any)
	require.True(t, ok, "missing data envelope: %v", payload)

	value, ok := data[key].(map[string]any)
	require.True(t, ok, "missing %s in data: %v", key, data)

	return value
}

func (s *testServer) createWorkflow(t *testing.T, userID string) string {
	t.Helper()

	status, payload := s.do(t, http.MethodPost, "/api/workflows", userID, workflowBody("Test workflow"))
	require.Equal(t, http.StatusCreated, status, payload)

	id, _ := dataField(t, payload, "workflow")["id"].(string)
	require.NotEmpty(t, id)

	return id
}

func TestAPI_RequiresUser(t *testing.T) {
	s := setupTestServer(t)

	status, payload := s.do(t, http.MethodGet, "/api/workflows", "", nil)

	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "unauthorized", payload["type"])
}

func TestAPI_HealthCheck(t *testing.T) {
	s := setupTestServer(t)

	status, payload := s.do(t, http.MethodGet, "/health", "", nil)

	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "healthy", payload["status"])
}

func TestAPI_WorkflowLifecycle(t *testing.T) {
	s := setupTestServer(t)
	id := s.createWorkflow(t, testUser)

	status, payload := s.do(t, http.MethodGet, "/api/workflows/"+id, testUser, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Test workflow", dataField(t, payload, "workflow")["title"])

	status, _ = s.do(t, http.MethodGet, "/api/workflows/"+id, "someone-else", nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, payload = s.do(t, http.MethodPut, "/api/workflows/"+id, testUser, map[string]any{"title": "Renamed"})
	require.Equal(t, http.StatusOK, status, payload)
	assert.Equal(t, "Renamed", dataField(t, payload, "workflow")["title"])

	status, payload = s.do(t, http.MethodPatch, "/api/workflows/"+id+"/toggle", testUser, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, dataField(t, payload, "workflow")["enabled"])

	status, payload = s.do(t, http.MethodPost, "/api/workflows/"+id+"/duplicate", testUser, nil)
	require.Equal(t, http.StatusCreated, status)
	assert.NotEqual(t, id, dataField(t, payload, "workflow")["id"])

	status, payload = s.do(t, http.MethodGet, "/api/workflows", testUser, nil)
	require.Equal(t, http.StatusOK, status)

	data, _ := payload["data"].(map[string]any)
	assert.Len(t, data["workflows"], 2)

	status, _ = s.do(t, http.MethodDelete, "/api/workflows/"+id, testUser, nil)
	assert.Equal(t, http.StatusOK, status)

	status, _ = s.do(t, http.MethodGet, "/api/workflows/"+id, testUser, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAPI_CreateWorkflow_Validation(t *testing.T) {
	s := setupTestServer(t)

	status, payload := s.do(t, http.MethodPost, "/api/workflows", testUser, map[string]any{"nodes": []any{}})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "validation_error", payload["type"])

	noTrigger := workflowBody("No trigger")
	noTrigger["nodes"] = []map[string]any{{"id": "a", "type": "ACTION", "name": "Log"}}
	noTrigger["connections"] = []map[string]any{}

	status, payload = s.do(t, http.MethodPost, "/api/workflows", testUser, noTrigger)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, services.ErrTriggerNodeRequired.Error(), payload["detail"])
}

func TestAPI_TriggerManual(t *testing.T) {
	s := setupTestServer(t)
	id := s.createWorkflow(t, testUser)

	status, payload := s.do(t, http.MethodPost, "/api/triggers/manual/"+id, testUser, map[string]any{"n": 1})
	require.Equal(t, http.StatusOK, status, payload)

	data, _ := payload["data"].(map[string]any)
	executionID, _ := data["executionId"].(string)
	assert.NotEmpty(t, executionID)
	assert.NotEmpty(t, data["jobId"])

	waiting, _, _ := s.queue.Depth()
	assert.Equal(t, 1, waiting)

	status, payload = s.do(t, http.MethodGet, "/api/triggers/execution/"+executionID, testUser, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, string(models.ExecutionStatusRunning), dataField(t, payload, "execution")["status"])

	status, payload = s.do(t, http.MethodGet, "/api/triggers/execution/"+executionID, "someone-else", nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "Access denied", payload["detail"])

	status, payload = s.do(t, http.MethodGet, "/api/workflows/"+id+"/executions", testUser, nil)
	require.Equal(t, http.StatusOK, status)

	data, _ = payload["data"].(map[string]any)
	assert.Len(t, data["executions"], 1)
}

func TestAPI_TriggerManual_Errors(t *testing.T) {
	s := setupTestServer(t)
	id := s.createWorkflow(t, testUser)

	status, _ := s.do(t, http.MethodPost, "/api/triggers/manual/missing", testUser, nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = s.do(t, http.MethodPost, "/api/triggers/manual/"+id, "someone-else", nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = s.do(t, http.MethodPatch, "/api/workflows/"+id+"/toggle", testUser, nil)
	require.Equal(t, http.StatusOK, status)

	status, payload := s.do(t, http.MethodPost, "/api/triggers/manual/"+id, testUser, nil)
	require.Equal(t, http.StatusOK, status, payload)

	waiting, _, _ := s.queue.Depth()
	assert.Equal(t, 1, waiting)

	delivery, err := s.queue.Reserve(t.Context())
	require.NoError(t, err)

	logger := slog.New(slog.DiscardHandler)
	executor := workflow.NewExecutor(
		s.persistence,
		s.executions,
		registry.NewDefault(logger, nil),
		noop.NewTracerProvider().Tracer("test"),
		logger,
	)

	_, err = executor.ExecuteWorkflow(t.Context(), delivery.Job.WorkflowID, delivery.Job.ExecutionID, delivery.Job.TriggerData)
	require.ErrorIs(t, err, services.ErrWorkflowDisabled)

	execution, err := s.executions.GetExecution(t.Context(), delivery.Job.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
	require.NotNil(t, execution.Error)
	assert.Equal(t, "Workflow is disabled", *execution.Error)
}

func TestAPI_WebhookFlow(t *testing.T) {
	s := setupTestServer(t)
	id := s.createWorkflow(t, testUser)

	status, payload := s.do(t, http.MethodPost, "/api/triggers/webhook/"+id, testUser, nil)
	require.Equal(t, http.StatusCreated, status, payload)

	webhook := dataField(t, payload, "webhook")
	path, _ := webhook["path"].(string)
	webhookID, _ := webhook["id"].(string)

	assert.Equal(t, http.MethodPost, webhook["method"])
	assert.Contains(t, path, models.WebhookPathPrefix)

	status, payload = s.do(t, http.MethodPost, path, "", map[string]any{"order": 42})
	require.Equal(t, http.StatusOK, status, payload)
	assert.Equal(t, true, payload["success"])
	assert.NotEmpty(t, payload["executionId"])

	status, payload = s.do(t, http.MethodGet, path, "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, status)
	assert.Equal(t, "method_not_allowed", payload["type"])

	status, _ = s.do(t, http.MethodPost, models.WebhookPathPrefix+"unknown", "", nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = s.do(t, http.MethodPatch, "/api/triggers/webhooks/"+webhookID+"/toggle", testUser, nil)
	require.Equal(t, http.StatusOK, status)

	status, payload = s.do(t, http.MethodPost, path, "", nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, services.ErrWebhookDisabled.Error(), payload["detail"])

	status, payload = s.do(t, http.MethodGet, "/api/triggers/webhook/"+id, testUser, nil)
	require.Equal(t, http.StatusOK, status)

	data, _ := payload["data"].(map[string]any)
	assert.Len(t, data["webhooks"], 1)

	status, _ = s.do(t, http.MethodDelete, "/api/triggers/webhooks/"+webhookID, testUser, nil)
	assert.Equal(t, http.StatusOK, status)

	status, _ = s.do(t, http.MethodPost, path, "", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAPI_Webhook_InvalidJSON(t *testing.T) {
	s := setupTestServer(t)
	id := s.createWorkflow(t, testUser)

	_, payload := s.do(t, http.MethodPost, "/api/triggers/webhook/"+id, testUser, map[string]any{"method": "post"})
	path, _ := dataField(t, payload, "webhook")["path"].(string)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString("{not json"))
	resp, err := s.app.Test(req)
	require.NoError(t, err)

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_CreateWebhook_InvalidMethod(t *testing.T) {
	s := setupTestServer(t)
	id := s.createWorkflow(t, testUser)

	status, payload := s.do(t, http.MethodPost, "/api/triggers/webhook/"+id, testUser, map[string]any{"method": "PUT"})

	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, services.ErrInvalidMethod.Error(), payload["detail"])
}

func TestAPI_GetActions(t *testing.T) {
	s := setupTestServer(t)

	status, payload := s.do(t, http.MethodGet, "/api/actions", testUser, nil)
	require.Equal(t, http.StatusOK, status)

	data, _ := payload["data"].(map[string]any)
	actions, _ := data["actions"].([]any)
	require.Len(t, actions, 2)

	first, _ := actions[0].(map[string]any)
	assert.Equal(t, "http_request", first["id"])
}

func TestAPI_GetJobs(t *testing.T) {
	s := setupTestServer(t)
	ctx := context.Background()

	_, err := s.queue.Enqueue(ctx, &models.Job{WorkflowID: "wf-1", UserID: testUser, ExecutionID: "exec-1", TriggerType: models.TriggerTypeManual})
	require.NoError(t, err)
	_, err = s.queue.Enqueue(ctx, &models.Job{WorkflowID: "wf-2", UserID: "someone-else", ExecutionID: "exec-2", TriggerType: models.TriggerTypeManual})
	require.NoError(t, err)

	for range 2 {
		delivery, err := s.queue.Reserve(ctx)
		require.NoError(t, err)
		require.NoError(t, s.queue.Complete(ctx, delivery, nil))
	}

	status, payload := s.do(t, http.MethodGet, "/api/queue/jobs", testUser, nil)
	require.Equal(t, http.StatusOK, status)

	data, _ := payload["data"].(map[string]any)
	jobs, _ := data["jobs"].([]any)
	require.Len(t, jobs, 1)

	job, _ := jobs[0].(map[string]any)
	assert.Equal(t, "exec-1", job["executionId"])

	status, _ = s.do(t, http.MethodGet, "/api/queue/jobs?state=stalled", testUser, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

// Package web exposes the workflow, trigger and webhook HTTP API.
package web

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/queue"
	"github.com/dukex/autoflow/pkg/registry"
	"github.com/dukex/autoflow/pkg/services"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

// UserHeader carries the authenticated user id, set by the gateway in front of the API.
const UserHeader = "X-User-ID"

const userLocal = "userID"

type APIHandlers struct {
	workflows  *services.Workflow
	executions *services.Execution
	webhooks   *services.Webhook
	queue      queue.Queue
	registry   *registry.Registry
	validator  *validator.Validate
	logger     *slog.Logger
}

func NewAPIHandlers(
	workflows *services.Workflow,
	executions *services.Execution,
	webhooks *services.Webhook,
	q queue.Queue,
	registry *registry.Registry,
	validator *validator.Validate,
	logger *slog.Logger,
) *APIHandlers {
	return &APIHandlers{
		workflows:  workflows,
		executions: executions,
		webhooks:   webhooks,
		queue:      q,
		registry:   registry,
		validator:  validator,
		logger:     logger.With("module", "web"),
	}
}

// RequireUser rejects requests without a user id.
func (h *APIHandlers) RequireUser(c fiber.Ctx) error {
	userID := strings.TrimSpace(c.Get(UserHeader))
	if userID == "" {
		return unauthorized(c, "Authorization required")
	}

	c.Locals(userLocal, userID)

	return c.Next()
}

func currentUser(c fiber.Ctx) string {
	userID, _ := c.Locals(userLocal).(string)

	return userID
}

// jsonBody decodes the request body. An empty body decodes to an empty object.
func jsonBody(c fiber.Ctx) (any, error) {
	raw := c.Body()
	if len(raw) == 0 {
		return map[string]any{}, nil
	}

	var body any
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, err
	}

	return body, nil
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	persistenceCheck, persistenceOK := h.workflows.HealthCheck(c.Context())

	queueCheck, queueOK := "Queue is healthy", true
	if err := h.queue.HealthCheck(c.Context()); err != nil {
		queueCheck, queueOK = "Queue is unhealthy: "+err.Error(), false
	}

	status := "unhealthy"
	httpStatus := http.StatusServiceUnavailable

	if persistenceOK && queueOK {
		status = "healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status": status,
		"checkers": fiber.Map{
			"persistence": persistenceCheck,
			"queue":       queueCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	workflows, err := h.workflows.ListByOwner(c.Context(), currentUser(c))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(ok("Workflows retrieved successfully", fiber.Map{"workflows": workflows}))
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	workflow, err := h.workflows.FetchByID(c.Context(), c.Params("id"), currentUser(c))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(ok("Workflow retrieved successfully", fiber.Map{"workflow": workflow}))
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	var req services.CreateWorkflowInput
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	workflow, err := h.workflows.Create(c.Context(), currentUser(c), req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(ok("Workflow created successfully", fiber.Map{"workflow": workflow}))
}

func (h *APIHandlers) UpdateWorkflow(c fiber.Ctx) error {
	var req services.UpdateWorkflowInput
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	workflow, err := h.workflows.Update(c.Context(), c.Params("id"), currentUser(c), req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(ok("Workflow updated successfully", fiber.Map{"workflow": workflow}))
}

func (h *APIHandlers) DeleteWorkflow(c fiber.Ctx) error {
	if err := h.workflows.Delete(c.Context(), c.Params("id"), currentUser(c)); err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(ok("Workflow deleted successfully", nil))
}

func (h *APIHandlers) ToggleWorkflow(c fiber.Ctx) error {
	workflow, err := h.workflows.Toggle(c.Context(), c.Params("id"), currentUser(c))
	if err != nil {
		return handleServiceError(c, err)
	}

	state := "disabled"
	if workflow.Enabled {
		state = "enabled"
	}

	return c.JSON(ok("Workflow "+state+" successfully", fiber.Map{"workflow": workflow}))
}

func (h *APIHandlers) DuplicateWorkflow(c fiber.Ctx) error {
	workflow, err := h.workflows.Duplicate(c.Context(), c.Params("id"), currentUser(c))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(ok("Workflow duplicated successfully", fiber.Map{"workflow": workflow}))
}

func (h *APIHandlers) GetWorkflowExecutions(c fiber.Ctx) error {
	executions, err := h.executions.GetWorkflowExecutions(c.Context(), c.Params("id"), currentUser(c))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(ok("Executions retrieved successfully", fiber.Map{"executions": executions}))
}

// TriggerManual queues a run of a workflow the caller owns. The request body becomes the trigger data.
func (h *APIHandlers) TriggerManual(c fiber.Ctx) error {
	workflowID := c.Params("workflowId")
	userID := currentUser(c)

	triggerData, err := jsonBody(c)
	if err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if _, err := h.workflows.FetchByID(c.Context(), workflowID, userID); err != nil {
		return handleServiceError(c, err)
	}

	queued, err := h.executions.QueueWorkflow(c.Context(), workflowID, userID, models.TriggerTypeManual, triggerData)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(ok("Workflow queued for manual execution", fiber.Map{
		"executionId": queued.Execution.ID,
		"jobId":       queued.JobID,
	}))
}

func (h *APIHandlers) CreateWebhook(c fiber.Ctx) error {
	var req CreateWebhookRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	webhook, err := h.webhooks.CreateWebhookWithSchema(
		c.Context(), c.Params("workflowId"), currentUser(c), req.Method, req.Schema)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(ok("Webhook created successfully", fiber.Map{"webhook": webhook}))
}

func (h *APIHandlers) GetWebhooks(c fiber.Ctx) error {
	webhooks, err := h.webhooks.GetWorkflowWebhooks(c.Context(), c.Params("workflowId"), currentUser(c))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(ok("Webhooks retrieved successfully", fiber.Map{"webhooks": webhooks}))
}

func (h *APIHandlers) ToggleWebhook(c fiber.Ctx) error {
	webhook, err := h.webhooks.ToggleWebhook(c.Context(), c.Params("webhookId"), currentUser(c))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(ok("Webhook toggled successfully", fiber.Map{"webhook": webhook}))
}

func (h *APIHandlers) DeleteWebhook(c fiber.Ctx) error {
	if err := h.webhooks.DeleteWebhook(c.Context(), c.Params("webhookId"), currentUser(c)); err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(ok("Webhook deleted successfully", nil))
}

// ReceiveWebhook is the public ingress. The full request path identifies the webhook.
func (h *APIHandlers) ReceiveWebhook(c fiber.Ctx) error {
	body, err := jsonBody(c)
	if err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	headers := make(map[string]string)
	for key, values := range c.GetReqHeaders() {
		headers[strings.ToLower(key)] = strings.Join(values, ", ")
	}

	result, err := h.webhooks.ProcessWebhookTrigger(c.Context(), c.Path(), c.Method(), body, headers, c.Queries())
	if err != nil {
		h.logger.WarnContext(c.Context(), "Webhook trigger rejected", "path", c.Path(), "method", c.Method(), "error", err)

		return handleServiceError(c, err)
	}

	return c.JSON(WebhookTriggerResponse{
		Success:     true,
		Message:     result.Message,
		ExecutionID: result.ExecutionID,
		JobID:       result.JobID,
	})
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	execution, err := h.executions.GetExecution(c.Context(), c.Params("executionId"))
	if err != nil {
		return handleServiceError(c, err)
	}

	if execution.Workflow == nil || execution.Workflow.UserID != currentUser(c) {
		return forbidden(c, "Access denied")
	}

	return c.JSON(ok("Execution retrieved successfully", fiber.Map{"execution": execution}))
}

// GetJobs lists the retained completed or failed jobs.
func (h *APIHandlers) GetJobs(c fiber.Ctx) error {
	var (
		records []*queue.Record
		err     error
	)

	switch state := c.Query("state", "completed"); state {
	case "completed":
		records, err = h.queue.Completed(c.Context())
	case "failed":
		records, err = h.queue.Failed(c.Context())
	default:
		return badRequest(c, "state must be completed or failed")
	}

	if err != nil {
		return internalError(c, err)
	}

	userID := currentUser(c)
	jobs := make([]JobResponse, 0, len(records))

	for _, record := range records {
		if record.Job == nil || record.Job.UserID != userID {
			continue
		}

		job := JobResponse{
			ID:           record.ID,
			WorkflowID:   record.Job.WorkflowID,
			ExecutionID:  record.Job.ExecutionID,
			TriggerType:  string(record.Job.TriggerType),
			AttemptsMade: record.AttemptsMade,
			FailedReason: record.FailedReason,
		}
		if record.FinishedAt != nil {
			job.FinishedAt = record.FinishedAt.Format(time.RFC3339)
		}

		jobs = append(jobs, job)
	}

	return c.JSON(ok("Jobs retrieved successfully", fiber.Map{"jobs": jobs}))
}

func (h *APIHandlers) GetActions(c fiber.Ctx) error {
	factories := h.registry.Actions()

	actions := make([]ActionResponse, 0, len(factories))
	for _, factory := range factories {
		actions = append(actions, ActionResponse{
			ID:          factory.ID(),
			Name:        factory.Name(),
			Description: factory.Description(),
			Schema:      factory.Schema(),
		})
	}

	return c.JSON(ok("Actions retrieved successfully", fiber.Map{"actions": actions}))
}


package web

import (
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
)

// Routes mounts the API on app.
func Routes(app fiber.Router, h *APIHandlers) {
	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get("/health", h.HealthCheck)

	app.All("/webhook/*", h.ReceiveWebhook)

	api := app.Group("/api", h.RequireUser)

	w := api.Group("/workflows")
	w.Get("/", h.GetWorkflows)
	w.Post("/", h.CreateWorkflow)
	w.Get("/:id", h.GetWorkflow)
	w.Put("/:id", h.UpdateWorkflow)
	w.Delete("/:id", h.DeleteWorkflow)
	w.Patch("/:id/toggle", h.ToggleWorkflow)
	w.Post("/:id/duplicate", h.DuplicateWorkflow)
	w.Get("/:id/executions", h.GetWorkflowExecutions)

	t := api.Group("/triggers")
	t.Post("/manual/:workflowId", h.TriggerManual)
	t.Post("/webhook/:workflowId", h.CreateWebhook)
	t.Get("/webhook/:workflowId", h.GetWebhooks)
	t.Patch("/webhooks/:webhookId/toggle", h.ToggleWebhook)
	t.Delete("/webhooks/:webhookId", h.DeleteWebhook)
	t.Get("/execution/:executionId", h.GetExecution)

	api.Get("/actions", h.GetActions)
	api.Get("/queue/jobs", h.GetJobs)
}

package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/persistence"
	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"
)

// Webhook resolves inbound webhook requests to queued workflow runs.
type Webhook struct {
	persistence persistence.Persistence
	executions  *Execution
	logger      *slog.Logger
}

// NewWebhook creates a new webhook resolver.
func NewWebhook(persistence persistence.Persistence, executions *Execution, logger *slog.Logger) *Webhook {
	return &Webhook{
		persistence: persistence,
		executions:  executions,
		logger:      logger.With("module", "webhook_service"),
	}
}

// WebhookTriggerResult is returned once an inbound call has been queued.
type WebhookTriggerResult struct {
	Message     string `json:"message"`
	ExecutionID string `json:"executionId"`
	JobID       string `json:"jobId"`
}

// CreateWebhook registers a webhook on a workflow owned by userID. An empty method means POST.
func (w *Webhook) CreateWebhook(ctx context.Context, workflowID, userID, method string) (*models.Webhook, error) {
	return w.CreateWebhookWithSchema(ctx, workflowID, userID, method, nil)
}

// CreateWebhookWithSchema is CreateWebhook with a JSON schema inbound bodies must satisfy.
func (w *Webhook) CreateWebhookWithSchema(
	ctx context.Context,
	workflowID, userID, method string,
	schema map[string]any,
) (*models.Webhook, error) {
	if method == "" {
		method = http.MethodPost
	}

	if !models.ValidWebhookMethod(method) {
		return nil, ErrInvalidMethod
	}

	if schema != nil {
		if _, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schema)); err != nil {
			return nil, &SchemaError{Details: []string{err.Error()}}
		}
	}

	if _, err := ownedWorkflow(ctx, w.persistence, workflowID, userID); err != nil {
		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate webhook ID: %w", err)
	}

	webhook := &models.Webhook{
		ID:         id.String(),
		WorkflowID: workflowID,
		Path:       models.WebhookPathPrefix + uuid.NewString(),
		Method:     strings.ToUpper(method),
		Enabled:    true,
		Schema:     schema,
		CreatedAt:  time.Now().UTC(),
	}

	if err := w.persistence.WebhookRepository().Create(ctx, webhook); err != nil {
		return nil, fmt.Errorf("failed to create webhook: %w", err)
	}

	w.logger.InfoContext(ctx, "webhook created", "workflow_id", workflowID, "webhook_id", webhook.ID, "path", webhook.Path)

	return webhook, nil
}

// Resolve finds the webhook registered at exactly path.
func (w *Webhook) Resolve(ctx context.Context, path string) (*models.Webhook, error) {
	webhook, err := w.persistence.WebhookRepository().GetByPath(ctx, path)
	if err != nil {
		if persistence.IsWebhookNotFound(err) {
			return nil, ErrWebhookNotFound
		}

		return nil, fmt.Errorf("failed to resolve webhook %s: %w", path, err)
	}

	return webhook, nil
}

// ProcessWebhookTrigger validates an inbound call and queues the workflow on behalf of its owner.
func (w *Webhook) ProcessWebhookTrigger(
	ctx context.Context,
	path, method string,
	body any,
	headers map[string]string,
	_ map[string]string,
) (*WebhookTriggerResult, error) {
	webhook, err := w.Resolve(ctx, path)
	if err != nil {
		return nil, err
	}

	if !webhook.Enabled {
		return nil, ErrWebhookDisabled
	}

	workflow, err := w.persistence.WorkflowRepository().GetByID(ctx, webhook.WorkflowID)
	if err != nil {
		return nil, translateWorkflowErr(err)
	}

	if !workflow.Enabled {
		return nil, ErrWorkflowDisabled
	}

	if !webhook.MatchesMethod(method) {
		return nil, &MethodMismatchError{Expected: webhook.Method, Got: method}
	}

	if err := validatePayload(webhook.Schema, body); err != nil {
		return nil, err
	}

	// The query string is not forwarded.
	triggerData := map[string]any{
		"webhook": map[string]any{
			"path":       webhook.Path,
			"method":     webhook.Method,
			"receivedAt": time.Now().UTC().Format(time.RFC3339Nano),
		},
		"body":    body,
		"headers": headers,
		"query":   map[string]any{},
	}

	queued, err := w.executions.QueueWorkflow(ctx, webhook.WorkflowID, workflow.UserID, models.TriggerTypeWebhook, triggerData)
	if err != nil {
		return nil, err
	}

	w.logger.InfoContext(ctx, "webhook triggered",
		"path", path, "workflow_id", webhook.WorkflowID, "execution_id", queued.Execution.ID)

	return &WebhookTriggerResult{
		Message:     "Webhook received and workflow queued",
		ExecutionID: queued.Execution.ID,
		JobID:       queued.JobID,
	}, nil
}

func validatePayload(schema map[string]any, body any) error {
	if schema == nil {
		return nil
	}

	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(body))
	if err != nil {
		return &SchemaError{Details: []string{err.Error()}}
	}

	if result.Valid() {
		return nil
	}

	details := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		details = append(details, desc.String())
	}

	return &SchemaError{Details: details}
}

// GetWorkflowWebhooks lists the webhooks of a workflow the user owns, newest first.
func (w *Webhook) GetWorkflowWebhooks(ctx context.Context, workflowID, userID string) ([]*models.Webhook, error) {
	if _, err := ownedWorkflow(ctx, w.persistence, workflowID, userID); err != nil {
		return nil, err
	}

	webhooks, err := w.persistence.WebhookRepository().ListByWorkflow(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhooks: %w", err)
	}

	return webhooks, nil
}

// ToggleWebhook flips the enabled flag of a webhook whose workflow the user owns.
func (w *Webhook) ToggleWebhook(ctx context.Context, webhookID, userID string) (*models.Webhook, error) {
	webhook, err := w.ownedWebhook(ctx, webhookID, userID)
	if err != nil {
		return nil, err
	}

	webhook.Enabled = !webhook.Enabled

	if err := w.persistence.WebhookRepository().SetEnabled(ctx, webhookID, webhook.Enabled); err != nil {
		return nil, fmt.Errorf("failed to toggle webhook %s: %w", webhookID, err)
	}

	return webhook, nil
}

// DeleteWebhook removes a webhook whose workflow the user owns.
func (w *Webhook) DeleteWebhook(ctx context.Context, webhookID, userID string) error {
	if _, err := w.ownedWebhook(ctx, webhookID, userID); err != nil {
		return err
	}

	if err := w.persistence.WebhookRepository().Delete(ctx, webhookID); err != nil {
		return fmt.Errorf("failed to delete webhook %s: %w", webhookID, err)
	}

	return nil
}

// ownedWebhook re-checks ownership through the parent workflow; foreign webhooks look missing.
func (w *Webhook) ownedWebhook(ctx context.Context, webhookID, userID string) (*models.Webhook, error) {
	webhook, err := w.persistence.WebhookRepository().GetByID(ctx, webhookID)
	if err != nil {
		if persistence.IsWebhookNotFound(err) {
			return nil, ErrWebhookNotFound
		}

		return nil, fmt.Errorf("failed to get webhook %s: %w", webhookID, err)
	}

	if _, err := ownedWorkflow(ctx, w.persistence, webhook.WorkflowID, userID); err != nil {
		if errors.Is(err, ErrWorkflowNotFound) {
			return nil, ErrWebhookNotFound
		}

		return nil, err
	}

	return webhook, nil
}

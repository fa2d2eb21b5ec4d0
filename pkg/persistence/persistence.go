// Package persistence provides the storage abstraction for workflows, executions and webhooks.
package persistence

import (
	"context"
	"time"

	"github.com/dukex/autoflow/pkg/models"
)

// Persistence groups the repositories backed by one store.
type Persistence interface {
	WorkflowRepository() WorkflowRepository
	ExecutionRepository() ExecutionRepository
	WebhookRepository() WebhookRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// WorkflowRepository stores workflows together with their nodes and connections.
type WorkflowRepository interface {
	// GetByID returns the workflow with nodes in stored order and its connections.
	GetByID(ctx context.Context, id string) (*models.Workflow, error)
	ListByOwner(ctx context.Context, userID string) ([]*models.Workflow, error)
	ListEnabled(ctx context.Context) ([]*models.Workflow, error)
	// Save upserts the workflow and atomically replaces its nodes and connections.
	Save(ctx context.Context, workflow *models.Workflow) error
	SetEnabled(ctx context.Context, id string, enabled bool) error
	// Delete removes the workflow and everything that belongs to it.
	Delete(ctx context.Context, id string) error
}

// ExecutionRepository stores execution records.
type ExecutionRepository interface {
	Create(ctx context.Context, execution *models.Execution) error
	UpdateStatus(
		ctx context.Context,
		id string,
		status models.ExecutionStatus,
		errMsg *string,
		finishedAt *time.Time,
	) error
	GetByID(ctx context.Context, id string) (*models.Execution, error)
	// ListByWorkflow returns executions newest first, at most limit of them.
	ListByWorkflow(ctx context.Context, workflowID string, limit int) ([]*models.Execution, error)
}

// WebhookRepository stores webhook registrations.
type WebhookRepository interface {
	Create(ctx context.Context, webhook *models.Webhook) error
	GetByID(ctx context.Context, id string) (*models.Webhook, error)
	GetByPath(ctx context.Context, path string) (*models.Webhook, error)
	// ListByWorkflow returns webhooks newest first.
	ListByWorkflow(ctx context.Context, workflowID string) ([]*models.Webhook, error)
	SetEnabled(ctx context.Context, id string, enabled bool) error
	Delete(ctx context.Context, id string) error
}

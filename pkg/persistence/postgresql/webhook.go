package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/persistence"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

const uniqueViolation = "23505"

// WebhookRepository handles webhook registrations.
type WebhookRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewWebhookRepository creates a new webhook repository.
func NewWebhookRepository(db *sql.DB, logger *slog.Logger) *WebhookRepository {
	return &WebhookRepository{db: db, logger: logger}
}

func (r *WebhookRepository) Create(ctx context.Context, webhook *models.Webhook) error {
	var schemaJSON any

	if webhook.Schema != nil {
		encoded, err := json.Marshal(webhook.Schema)
		if err != nil {
			return fmt.Errorf("failed to marshal webhook schema: %w", err)
		}

		schemaJSON = encoded
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO webhooks (id, workflow_id, path, method, enabled, schema, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		webhook.ID,
		webhook.WorkflowID,
		webhook.Path,
		webhook.Method,
		webhook.Enabled,
		schemaJSON,
		webhook.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("failed to create webhook %s: %w", webhook.Path, persistence.ErrWebhookPathTaken)
		}

		return fmt.Errorf("failed to insert webhook %s: %w", webhook.ID, err)
	}

	return nil
}

func (r *WebhookRepository) GetByID(ctx context.Context, id string) (*models.Webhook, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("webhook %s: %w", id, persistence.ErrWebhookNotFound)
	}

	return r.get(ctx, "id", id)
}

// GetByPath looks a webhook up by exact path.
func (r *WebhookRepository) GetByPath(ctx context.Context, path string) (*models.Webhook, error) {
	return r.get(ctx, "path", path)
}

func (r *WebhookRepository) get(ctx context.Context, column, value string) (*models.Webhook, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, workflow_id, path, method, enabled, schema, created_at
		FROM webhooks
		WHERE `+column+` = $1
	`, value)

	webhook, err := scanWebhook(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("webhook %s: %w", value, persistence.ErrWebhookNotFound)
		}

		return nil, fmt.Errorf("failed to scan webhook: %w", err)
	}

	return webhook, nil
}

func (r *WebhookRepository) ListByWorkflow(ctx context.Context, workflowID string) ([]*models.Webhook, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, workflow_id, path, method, enabled, schema, created_at
		FROM webhooks
		WHERE workflow_id = $1
		ORDER BY created_at DESC
	`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to query webhooks: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	webhooks := make([]*models.Webhook, 0)

	for rows.Next() {
		webhook, err := scanWebhook(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan webhook: %w", err)
		}

		webhooks = append(webhooks, webhook)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating webhooks: %w", err)
	}

	return webhooks, nil
}

func (r *WebhookRepository) SetEnabled(ctx context.Context, id string, enabled bool) error {
	result, err := r.db.ExecContext(ctx, "UPDATE webhooks SET enabled = $2 WHERE id = $1", id, enabled)
	if err != nil {
		return fmt.Errorf("failed to update webhook %s: %w", id, err)
	}

	return expectAffected(result, fmt.Errorf("webhook %s: %w", id, persistence.ErrWebhookNotFound))
}

func (r *WebhookRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM webhooks WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete webhook %s: %w", id, err)
	}

	return expectAffected(result, fmt.Errorf("webhook %s: %w", id, persistence.ErrWebhookNotFound))
}

func scanWebhook(row rowScanner) (*models.Webhook, error) {
	var (
		webhook    models.Webhook
		schemaJSON []byte
	)

	err := row.Scan(
		&webhook.ID,
		&webhook.WorkflowID,
		&webhook.Path,
		&webhook.Method,
		&webhook.Enabled,
		&schemaJSON,
		&webhook.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(schemaJSON) > 0 {
		if err := json.Unmarshal(schemaJSON, &webhook.Schema); err != nil {
			return nil, fmt.Errorf("failed to unmarshal webhook schema: %w", err)
		}
	}

	return &webhook, nil
}

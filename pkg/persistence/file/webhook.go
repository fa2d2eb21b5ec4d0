package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sort"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/persistence"
)

const webhooksDir = "webhooks"

// WebhookRepository stores one file per webhook. Path lookups scan the directory.
type WebhookRepository struct {
	store *store
}

func (wr *WebhookRepository) Create(_ context.Context, webhook *models.Webhook) error {
	wr.store.mu.Lock()
	defer wr.store.mu.Unlock()

	existing, err := wr.byPath(webhook.Path)
	if err != nil && !errors.Is(err, persistence.ErrWebhookNotFound) {
		return err
	}

	if existing != nil {
		return fmt.Errorf("failed to create webhook %s: %w", webhook.Path, persistence.ErrWebhookPathTaken)
	}

	return wr.store.write(webhooksDir, webhook.ID, webhook)
}

func (wr *WebhookRepository) GetByID(_ context.Context, id string) (*models.Webhook, error) {
	wr.store.mu.RLock()
	defer wr.store.mu.RUnlock()

	return getWebhook(wr.store, id)
}

func (wr *WebhookRepository) GetByPath(_ context.Context, path string) (*models.Webhook, error) {
	wr.store.mu.RLock()
	defer wr.store.mu.RUnlock()

	return wr.byPath(path)
}

func (wr *WebhookRepository) byPath(path string) (*models.Webhook, error) {
	webhooks, err := listWebhooks(wr.store, "")
	if err != nil {
		return nil, err
	}

	for _, webhook := range webhooks {
		if webhook.Path == path {
			return webhook, nil
		}
	}

	return nil, fmt.Errorf("webhook %s: %w", path, persistence.ErrWebhookNotFound)
}

func (wr *WebhookRepository) ListByWorkflow(_ context.Context, workflowID string) ([]*models.Webhook, error) {
	wr.store.mu.RLock()
	defer wr.store.mu.RUnlock()

	webhooks, err := listWebhooks(wr.store, workflowID)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(webhooks, func(i, j int) bool {
		return webhooks[i].CreatedAt.After(webhooks[j].CreatedAt)
	})

	return webhooks, nil
}

func (wr *WebhookRepository) SetEnabled(_ context.Context, id string, enabled bool) error {
	wr.store.mu.Lock()
	defer wr.store.mu.Unlock()

	webhook, err := getWebhook(wr.store, id)
	if err != nil {
		return err
	}

	webhook.Enabled = enabled

	return wr.store.write(webhooksDir, id, webhook)
}

func (wr *WebhookRepository) Delete(_ context.Context, id string) error {
	wr.store.mu.Lock()
	defer wr.store.mu.Unlock()

	if _, err := getWebhook(wr.store, id); err != nil {
		return err
	}

	return wr.store.remove(webhooksDir, id)
}

func getWebhook(s *store, id string) (*models.Webhook, error) {
	var webhook models.Webhook

	err := s.read(webhooksDir, id, &webhook)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("webhook %s: %w", id, persistence.ErrWebhookNotFound)
		}

		return nil, fmt.Errorf("failed to fetch webhook %s: %w", id, err)
	}

	return &webhook, nil
}

// listWebhooks returns every webhook, or only those of workflowID when it is not empty.
func listWebhooks(s *store, workflowID string) ([]*models.Webhook, error) {
	ids, err := s.ids(webhooksDir)
	if err != nil {
		return nil, err
	}

	webhooks := make([]*models.Webhook, 0)

	for _, id := range ids {
		webhook, err := getWebhook(s, id)
		if err != nil {
			return nil, err
		}

		if workflowID == "" || webhook.WorkflowID == workflowID {
			webhooks = append(webhooks, webhook)
		}
	}

	return webhooks, nil
}

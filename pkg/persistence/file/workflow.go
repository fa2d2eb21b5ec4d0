package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"time"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/persistence"
	"github.com/google/uuid"
)

const workflowsDir = "workflows"

// WorkflowRepository keeps each workflow, nodes and connections included, in a single file.
type WorkflowRepository struct {
	store *store
}

// GetByID retrieves a workflow by its ID from the file system.
func (wr *WorkflowRepository) GetByID(_ context.Context, id string) (*models.Workflow, error) {
	wr.store.mu.RLock()
	defer wr.store.mu.RUnlock()

	return wr.get(id)
}

func (wr *WorkflowRepository) get(id string) (*models.Workflow, error) {
	var workflow models.Workflow

	err := wr.store.read(workflowsDir, id, &workflow)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
		}

		return nil, fmt.Errorf("failed to fetch workflow %s: %w", id, err)
	}

	return &workflow, nil
}

func (wr *WorkflowRepository) all() ([]*models.Workflow, error) {
	ids, err := wr.store.ids(workflowsDir)
	if err != nil {
		return nil, err
	}

	workflows := make([]*models.Workflow, 0, len(ids))

	for _, id := range ids {
		workflow, err := wr.get(id)
		if err != nil {
			return nil, fmt.Errorf("failed to load workflow %s: %w", id, err)
		}

		workflows = append(workflows, workflow)
	}

	sort.SliceStable(workflows, func(i, j int) bool {
		return workflows[i].CreatedAt.After(workflows[j].CreatedAt)
	})

	return workflows, nil
}

// ListByOwner returns the workflows of a user, newest first.
func (wr *WorkflowRepository) ListByOwner(_ context.Context, userID string) ([]*models.Workflow, error) {
	wr.store.mu.RLock()
	defer wr.store.mu.RUnlock()

	workflows, err := wr.all()
	if err != nil {
		return nil, err
	}

	owned := make([]*models.Workflow, 0, len(workflows))

	for _, workflow := range workflows {
		if workflow.UserID == userID {
			owned = append(owned, workflow)
		}
	}

	return owned, nil
}

func (wr *WorkflowRepository) ListEnabled(_ context.Context) ([]*models.Workflow, error) {
	wr.store.mu.RLock()
	defer wr.store.mu.RUnlock()

	workflows, err := wr.all()
	if err != nil {
		return nil, err
	}

	enabled := make([]*models.Workflow, 0, len(workflows))

	for _, workflow := range workflows {
		if workflow.Enabled {
			enabled = append(enabled, workflow)
		}
	}

	return enabled, nil
}

// Save writes the whole workflow document, replacing any previous nodes and connections.
func (wr *WorkflowRepository) Save(_ context.Context, workflow *models.Workflow) error {
	wr.store.mu.Lock()
	defer wr.store.mu.Unlock()

	now := time.Now().UTC()
	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	if workflow.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate workflow ID: %w", err)
		}

		workflow.ID = id.String()
	}

	if workflow.Nodes == nil {
		workflow.Nodes = make([]*models.Node, 0)
	}

	if workflow.Connections == nil {
		workflow.Connections = make([]*models.Connection, 0)
	}

	for _, node := range workflow.Nodes {
		node.WorkflowID = workflow.ID
	}

	for _, connection := range workflow.Connections {
		connection.WorkflowID = workflow.ID
	}

	return wr.store.write(workflowsDir, workflow.ID, workflow)
}

func (wr *WorkflowRepository) SetEnabled(_ context.Context, id string, enabled bool) error {
	wr.store.mu.Lock()
	defer wr.store.mu.Unlock()

	workflow, err := wr.get(id)
	if err != nil {
		return err
	}

	workflow.Enabled = enabled
	workflow.UpdatedAt = time.Now().UTC()

	return wr.store.write(workflowsDir, id, workflow)
}

// Delete removes a workflow along with its executions and webhooks.
func (wr *WorkflowRepository) Delete(_ context.Context, id string) error {
	wr.store.mu.Lock()
	defer wr.store.mu.Unlock()

	if _, err := wr.get(id); err != nil {
		return err
	}

	executions, err := listExecutions(wr.store, id)
	if err != nil {
		return err
	}

	for _, execution := range executions {
		if err := wr.store.remove(executionsDir, execution.ID); err != nil {
			return err
		}
	}

	webhooks, err := listWebhooks(wr.store, id)
	if err != nil {
		return err
	}

	for _, webhook := range webhooks {
		if err := wr.store.remove(webhooksDir, webhook.ID); err != nil {
			return err
		}
	}

	return wr.store.remove(workflowsDir, id)
}

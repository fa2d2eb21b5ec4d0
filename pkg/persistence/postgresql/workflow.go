package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/persistence"
	"github.com/google/uuid"
)

const workflowColumns = `
			id
		  , title
		  , description
		  , enabled
		  , user_id
		  , created_at
		  , updated_at
`

// WorkflowRepository handles workflow-related database operations.
type WorkflowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(db *sql.DB, logger *slog.Logger) *WorkflowRepository {
	return &WorkflowRepository{db: db, logger: logger}
}

// GetByID returns the workflow with its nodes, in stored order, and connections.
func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*models.Workflow, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
	}

	query := `SELECT ` + workflowColumns + ` FROM workflows WHERE id = $1`

	workflow, err := r.scanWorkflow(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
		}

		return nil, fmt.Errorf("failed to scan workflow: %w", err)
	}

	if err := r.loadNodesAndConnections(ctx, workflow); err != nil {
		return nil, err
	}

	return workflow, nil
}

// ListByOwner returns the workflows of a user, newest first.
func (r *WorkflowRepository) ListByOwner(ctx context.Context, userID string) ([]*models.Workflow, error) {
	query := `SELECT ` + workflowColumns + ` FROM workflows WHERE user_id = $1 ORDER BY created_at DESC`

	return r.list(ctx, query, userID)
}

func (r *WorkflowRepository) ListEnabled(ctx context.Context) ([]*models.Workflow, error) {
	query := `SELECT ` + workflowColumns + ` FROM workflows WHERE enabled = true ORDER BY created_at DESC`

	return r.list(ctx, query)
}

func (r *WorkflowRepository) list(ctx context.Context, query string, args ...any) ([]*models.Workflow, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	workflows := make([]*models.Workflow, 0)

	for rows.Next() {
		workflow, err := r.scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}

		workflows = append(workflows, workflow)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workflows: %w", err)
	}

	for _, workflow := range workflows {
		if err := r.loadNodesAndConnections(ctx, workflow); err != nil {
			return nil, err
		}
	}

	return workflows, nil
}

// Save upserts the workflow row and replaces nodes and connections in one transaction.
func (r *WorkflowRepository) Save(ctx context.Context, workflow *models.Workflow) (err error) {
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

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO workflows (id, title, description, enabled, user_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			enabled = EXCLUDED.enabled,
			user_id = EXCLUDED.user_id,
			updated_at = EXCLUDED.updated_at
	`,
		workflow.ID,
		workflow.Title,
		workflow.Description,
		workflow.Enabled,
		workflow.UserID,
		workflow.CreatedAt,
		workflow.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save workflow base: %w", err)
	}

	_, err = tx.ExecContext(ctx, "DELETE FROM workflow_connections WHERE workflow_id = $1", workflow.ID)
	if err != nil {
		return fmt.Errorf("failed to delete existing connections: %w", err)
	}

	_, err = tx.ExecContext(ctx, "DELETE FROM workflow_nodes WHERE workflow_id = $1", workflow.ID)
	if err != nil {
		return fmt.Errorf("failed to delete existing nodes: %w", err)
	}

	for i, node := range workflow.Nodes {
		node.WorkflowID = workflow.ID

		configJSON, err := json.Marshal(nonNilConfig(node.Config))
		if err != nil {
			return fmt.Errorf("failed to marshal node %s config: %w", node.ID, err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO workflow_nodes (workflow_id, id, node_type, name, position_x, position_y, config, sort_order)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, workflow.ID, node.ID, node.Type, node.Name, node.Position.X, node.Position.Y, configJSON, i)
		if err != nil {
			return fmt.Errorf("failed to save node %s: %w", node.ID, err)
		}
	}

	for _, connection := range workflow.Connections {
		connection.WorkflowID = workflow.ID

		_, err = tx.ExecContext(ctx, `
			INSERT INTO workflow_connections (workflow_id, id, source_node_id, target_node_id)
			VALUES ($1, $2, $3, $4)
		`, workflow.ID, connection.ID, connection.SourceID, connection.TargetID)
		if err != nil {
			return fmt.Errorf("failed to save connection %s: %w", connection.ID, err)
		}
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func (r *WorkflowRepository) SetEnabled(ctx context.Context, id string, enabled bool) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE workflows SET enabled = $2, updated_at = $3 WHERE id = $1",
		id, enabled, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to update workflow %s: %w", id, err)
	}

	return expectAffected(result, persistence.NewWorkflowError("SetEnabled", id, persistence.ErrWorkflowNotFound))
}

// Delete removes the workflow; nodes, connections, executions and webhooks cascade.
func (r *WorkflowRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM workflows WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete workflow %s: %w", id, err)
	}

	return expectAffected(result, persistence.NewWorkflowError("Delete", id, persistence.ErrWorkflowNotFound))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *WorkflowRepository) scanWorkflow(row rowScanner) (*models.Workflow, error) {
	var workflow models.Workflow

	err := row.Scan(
		&workflow.ID,
		&workflow.Title,
		&workflow.Description,
		&workflow.Enabled,
		&workflow.UserID,
		&workflow.CreatedAt,
		&workflow.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &workflow, nil
}

func (r *WorkflowRepository) loadNodesAndConnections(ctx context.Context, workflow *models.Workflow) error {
	nodes, err := r.nodes(ctx, workflow.ID)
	if err != nil {
		return fmt.Errorf("failed to load nodes for workflow %s: %w", workflow.ID, err)
	}

	connections, err := r.connections(ctx, workflow.ID)
	if err != nil {
		return fmt.Errorf("failed to load connections for workflow %s: %w", workflow.ID, err)
	}

	workflow.Nodes = nodes
	workflow.Connections = connections

	return nil
}

func (r *WorkflowRepository) nodes(ctx context.Context, workflowID string) ([]*models.Node, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, node_type, name, position_x, position_y, config
		FROM workflow_nodes
		WHERE workflow_id = $1
		ORDER BY sort_order
	`, workflowID)
	if err != nil {
		return nil, err
	}

	defer closeRows(ctx, r.logger, rows)

	nodes := make([]*models.Node, 0)

	for rows.Next() {
		var (
			node       models.Node
			configJSON []byte
		)

		err := rows.Scan(&node.ID, &node.Type, &node.Name, &node.Position.X, &node.Position.Y, &configJSON)
		if err != nil {
			return nil, err
		}

		if err := json.Unmarshal(configJSON, &node.Config); err != nil {
			return nil, fmt.Errorf("failed to unmarshal node %s config: %w", node.ID, err)
		}

		node.WorkflowID = workflowID
		nodes = append(nodes, &node)
	}

	return nodes, rows.Err()
}

func (r *WorkflowRepository) connections(ctx context.Context, workflowID string) ([]*models.Connection, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, source_node_id, target_node_id
		FROM workflow_connections
		WHERE workflow_id = $1
		ORDER BY id
	`, workflowID)
	if err != nil {
		return nil, err
	}

	defer closeRows(ctx, r.logger, rows)

	connections := make([]*models.Connection, 0)

	for rows.Next() {
		connection := models.Connection{WorkflowID: workflowID}

		if err := rows.Scan(&connection.ID, &connection.SourceID, &connection.TargetID); err != nil {
			return nil, err
		}

		connections = append(connections, &connection)
	}

	return connections, rows.Err()
}

func nonNilConfig(config map[string]any) map[string]any {
	if config == nil {
		return map[string]any{}
	}

	return config
}

// expectAffected returns notFound when the statement touched no row.
func expectAffected(result sql.Result, notFound error) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 0 {
		return notFound
	}

	return nil
}

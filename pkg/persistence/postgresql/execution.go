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

// ExecutionRepository handles execution records.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

func (r *ExecutionRepository) Create(ctx context.Context, execution *models.Execution) error {
	dataJSON, err := json.Marshal(execution.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal execution data: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO executions (id, workflow_id, status, data, error, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		execution.ID,
		execution.WorkflowID,
		execution.Status,
		dataJSON,
		execution.Error,
		execution.StartedAt,
		execution.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert execution %s: %w", execution.ID, err)
	}

	return nil
}

func (r *ExecutionRepository) UpdateStatus(
	ctx context.Context,
	id string,
	status models.ExecutionStatus,
	errMsg *string,
	finishedAt *time.Time,
) error {
	notFound := persistence.NewExecutionError("UpdateStatus", id, persistence.ErrExecutionNotFound)
	if _, err := uuid.Parse(id); err != nil {
		return notFound
	}

	result, err := r.db.ExecContext(ctx,
		"UPDATE executions SET status = $2, error = $3, finished_at = $4 WHERE id = $1",
		id, status, errMsg, finishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update execution %s: %w", id, err)
	}

	return expectAffected(result, notFound)
}

func (r *ExecutionRepository) GetByID(ctx context.Context, id string) (*models.Execution, error) {
	notFound := persistence.NewExecutionError("GetByID", id, persistence.ErrExecutionNotFound)
	if _, err := uuid.Parse(id); err != nil {
		return nil, notFound
	}

	row := r.db.QueryRowContext(ctx, `
		SELECT id, workflow_id, status, data, error, started_at, finished_at
		FROM executions
		WHERE id = $1
	`, id)

	execution, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound
		}

		return nil, fmt.Errorf("failed to scan execution: %w", err)
	}

	return execution, nil
}

func (r *ExecutionRepository) ListByWorkflow(ctx context.Context, workflowID string, limit int) ([]*models.Execution, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, workflow_id, status, data, error, started_at, finished_at
		FROM executions
		WHERE workflow_id = $1
		ORDER BY started_at DESC
		LIMIT $2
	`, workflowID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	executions := make([]*models.Execution, 0)

	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		executions = append(executions, execution)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return executions, nil
}

func scanExecution(row rowScanner) (*models.Execution, error) {
	var (
		execution  models.Execution
		dataJSON   []byte
		errMsg     sql.NullString
		finishedAt sql.NullTime
	)

	err := row.Scan(
		&execution.ID,
		&execution.WorkflowID,
		&execution.Status,
		&dataJSON,
		&errMsg,
		&execution.StartedAt,
		&finishedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(dataJSON, &execution.Data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution data: %w", err)
	}

	if errMsg.Valid {
		execution.Error = &errMsg.String
	}

	if finishedAt.Valid {
		execution.FinishedAt = &finishedAt.Time
	}

	return &execution, nil
}

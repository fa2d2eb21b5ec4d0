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
)

const executionsDir = "executions"

// ExecutionRepository stores one file per execution.
type ExecutionRepository struct {
	store *store
}

func (er *ExecutionRepository) Create(_ context.Context, execution *models.Execution) error {
	er.store.mu.Lock()
	defer er.store.mu.Unlock()

	return er.store.write(executionsDir, execution.ID, execution)
}

func (er *ExecutionRepository) UpdateStatus(
	_ context.Context,
	id string,
	status models.ExecutionStatus,
	errMsg *string,
	finishedAt *time.Time,
) error {
	er.store.mu.Lock()
	defer er.store.mu.Unlock()

	execution, err := getExecution(er.store, id)
	if err != nil {
		return err
	}

	execution.Status = status
	execution.Error = errMsg
	execution.FinishedAt = finishedAt

	return er.store.write(executionsDir, id, execution)
}

func (er *ExecutionRepository) GetByID(_ context.Context, id string) (*models.Execution, error) {
	er.store.mu.RLock()
	defer er.store.mu.RUnlock()

	return getExecution(er.store, id)
}

func (er *ExecutionRepository) ListByWorkflow(_ context.Context, workflowID string, limit int) ([]*models.Execution, error) {
	er.store.mu.RLock()
	defer er.store.mu.RUnlock()

	executions, err := listExecutions(er.store, workflowID)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(executions, func(i, j int) bool {
		return executions[i].StartedAt.After(executions[j].StartedAt)
	})

	if limit > 0 && len(executions) > limit {
		executions = executions[:limit]
	}

	return executions, nil
}

func getExecution(s *store, id string) (*models.Execution, error) {
	var execution models.Execution

	err := s.read(executionsDir, id, &execution)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, persistence.NewExecutionError("GetByID", id, persistence.ErrExecutionNotFound)
		}

		return nil, fmt.Errorf("failed to fetch execution %s: %w", id, err)
	}

	return &execution, nil
}

func listExecutions(s *store, workflowID string) ([]*models.Execution, error) {
	ids, err := s.ids(executionsDir)
	if err != nil {
		return nil, err
	}

	executions := make([]*models.Execution, 0)

	for _, id := range ids {
		execution, err := getExecution(s, id)
		if err != nil {
			return nil, err
		}

		if execution.WorkflowID == workflowID {
			executions = append(executions, execution)
		}
	}

	return executions, nil
}

// Package file provides file-based persistence for workflows, executions and webhooks.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dukex/autoflow/pkg/persistence"
)

// Persistence implements persistence.Persistence on top of JSON files, one per record.
type Persistence struct {
	root          string
	workflowRepo  *WorkflowRepository
	executionRepo *ExecutionRepository
	webhookRepo   *WebhookRepository
}

// NewPersistence creates a new instance of Persistence with the specified root directory.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)
	store := &store{root: cleanRoot, mu: &sync.RWMutex{}}

	return &Persistence{
		root:          cleanRoot,
		workflowRepo:  &WorkflowRepository{store: store},
		executionRepo: &ExecutionRepository{store: store},
		webhookRepo:   &WebhookRepository{store: store},
	}
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck checks if the file persistence layer is healthy by verifying the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

func (fp *Persistence) WorkflowRepository() persistence.WorkflowRepository {
	return fp.workflowRepo
}

func (fp *Persistence) ExecutionRepository() persistence.ExecutionRepository {
	return fp.executionRepo
}

func (fp *Persistence) WebhookRepository() persistence.WebhookRepository {
	return fp.webhookRepo
}

// store serialises access to the directory tree. Writes go through a temp file
// and a rename so readers never observe a partial record.
type store struct {
	root string
	mu   *sync.RWMutex
}

func (s *store) path(kind, id string) string {
	return filepath.Clean(filepath.Join(s.root, kind, id+".json"))
}

func (s *store) read(kind, id string, v any) error {
	body, err := os.ReadFile(s.path(kind, id))
	if err != nil {
		return err
	}

	err = json.Unmarshal(body, v)
	if err != nil {
		return fmt.Errorf("failed to unmarshal %s %s: %w", kind, id, err)
	}

	return nil
}

func (s *store) write(kind, id string, v any) error {
	dir := filepath.Join(s.root, kind)

	err := os.MkdirAll(dir, 0750)
	if err != nil {
		return fmt.Errorf("failed to create %s directory: %w", kind, err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s %s: %w", kind, id, err)
	}

	tmp, err := os.CreateTemp(dir, id+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s %s: %w", kind, id, err)
	}

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("failed to write %s %s: %w", kind, id, err)
	}

	if err = tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("failed to close %s %s: %w", kind, id, err)
	}

	return os.Rename(tmp.Name(), s.path(kind, id))
}

func (s *store) remove(kind, id string) error {
	err := os.Remove(s.path(kind, id))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete %s %s: %w", kind, id, err)
	}

	return nil
}

// ids lists record ids of a kind in directory order.
func (s *store) ids(kind string) ([]string, error) {
	matches, err := fs.Glob(os.DirFS(filepath.Join(s.root, kind)), "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list %s files: %w", kind, err)
	}

	ids := make([]string, 0, len(matches))
	for _, match := range matches {
		ids = append(ids, strings.TrimSuffix(match, ".json"))
	}

	return ids, nil
}

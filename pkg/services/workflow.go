package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/persistence"
	"github.com/google/uuid"
)

// MinNodeDistance is the smallest allowed distance between any two nodes of a workflow.
const MinNodeDistance = 50.0

var ErrInvalidNodeType = newKindError("Invalid node type", ErrValidation)

// Workflow manages workflow definitions.
type Workflow struct {
	persistence persistence.Persistence
}

// NewWorkflow creates a new workflow service.
func NewWorkflow(persistence persistence.Persistence) *Workflow {
	return &Workflow{
		persistence: persistence,
	}
}

// NodeInput is a node as submitted by a client. ID only links connections inside the payload.
type NodeInput struct {
	ID       string          `json:"id"`
	Type     models.NodeType `json:"type"     validate:"required,oneof=TRIGGER ACTION CONDITION"`
	Name     string          `json:"name"     validate:"required,min=1"`
	Position models.Position `json:"position"`
	Config   map[string]any  `json:"config"`
}

type ConnectionInput struct {
	SourceID string `json:"sourceId" validate:"required"`
	TargetID string `json:"targetId" validate:"required"`
}

type CreateWorkflowInput struct {
	Title       string            `json:"title"       validate:"required,min=1,max=255"`
	Description string            `json:"description"`
	Enabled     *bool             `json:"enabled"`
	Nodes       []NodeInput       `json:"nodes"       validate:"required,dive"`
	Connections []ConnectionInput `json:"connections" validate:"dive"`
}

// UpdateWorkflowInput changes only what is set. Nodes and Connections, when set, replace
// the stored ones wholesale; replacing nodes without connections drops the connections.
type UpdateWorkflowInput struct {
	Title       *string           `json:"title"       validate:"omitempty,min=1,max=255"`
	Description *string           `json:"description"`
	Enabled     *bool             `json:"enabled"`
	Nodes       []NodeInput       `json:"nodes"       validate:"omitempty,dive"`
	Connections []ConnectionInput `json:"connections" validate:"omitempty,dive"`
}

// HealthCheck checks the health of the persistence layer.
func (w *Workflow) HealthCheck(ctx context.Context) (string, bool) {
	if w.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := w.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// ValidateWorkflow checks the structural rules every stored workflow satisfies.
func ValidateWorkflow(nodes []NodeInput, connections []ConnectionInput) error {
	hasTrigger := false

	for _, node := range nodes {
		if !node.Type.Valid() {
			return ErrInvalidNodeType
		}

		if node.Type == models.NodeTypeTrigger {
			hasTrigger = true
		}
	}

	if !hasTrigger {
		return ErrTriggerNodeRequired
	}

	for i := range nodes {
		for j := i + 1; j < len(nodes); j++ {
			if nodes[i].Position.Distance(nodes[j].Position) < MinNodeDistance {
				return ErrNodesTooClose
			}
		}
	}

	return validateConnections(nodeIDs(nodes), connections)
}

func nodeIDs(nodes []NodeInput) map[string]struct{} {
	ids := make(map[string]struct{}, len(nodes))

	for _, node := range nodes {
		if node.ID != "" {
			ids[node.ID] = struct{}{}
		}
	}

	return ids
}

func validateConnections(ids map[string]struct{}, connections []ConnectionInput) error {
	for _, connection := range connections {
		_, sourceOK := ids[connection.SourceID]
		_, targetOK := ids[connection.TargetID]

		if !sourceOK || !targetOK {
			return ErrDanglingConnection
		}
	}

	return nil
}

// buildNodes issues fresh ids and returns the client id to stored id mapping.
func buildNodes(inputs []NodeInput) ([]*models.Node, map[string]string) {
	nodes := make([]*models.Node, 0, len(inputs))
	remap := make(map[string]string, len(inputs))

	for _, input := range inputs {
		id := uuid.NewString()
		if input.ID != "" {
			remap[input.ID] = id
		}

		config := input.Config
		if config == nil {
			config = map[string]any{}
		}

		nodes = append(nodes, &models.Node{
			ID:       id,
			Type:     input.Type,
			Name:     input.Name,
			Position: input.Position,
			Config:   config,
		})
	}

	return nodes, remap
}

func buildConnections(inputs []ConnectionInput, remap map[string]string) []*models.Connection {
	connections := make([]*models.Connection, 0, len(inputs))

	for _, input := range inputs {
		connections = append(connections, &models.Connection{
			ID:       uuid.NewString(),
			SourceID: remap[input.SourceID],
			TargetID: remap[input.TargetID],
		})
	}

	return connections
}

// Create validates and stores a new workflow owned by userID.
func (w *Workflow) Create(ctx context.Context, userID string, input CreateWorkflowInput) (*models.Workflow, error) {
	if err := ValidateWorkflow(input.Nodes, input.Connections); err != nil {
		return nil, err
	}

	enabled := true
	if input.Enabled != nil {
		enabled = *input.Enabled
	}

	nodes, remap := buildNodes(input.Nodes)

	workflow := &models.Workflow{
		Title:       input.Title,
		Description: input.Description,
		Enabled:     enabled,
		UserID:      userID,
		Nodes:       nodes,
		Connections: buildConnections(input.Connections, remap),
	}

	if err := w.persistence.WorkflowRepository().Save(ctx, workflow); err != nil {
		return nil, fmt.Errorf("failed to create workflow: %w", err)
	}

	return workflow, nil
}

// FetchByID returns a workflow owned by userID.
func (w *Workflow) FetchByID(ctx context.Context, id, userID string) (*models.Workflow, error) {
	return ownedWorkflow(ctx, w.persistence, id, userID)
}

// ListByOwner returns the user's workflows, most recently updated first.
func (w *Workflow) ListByOwner(ctx context.Context, userID string) ([]*models.Workflow, error) {
	workflows, err := w.persistence.WorkflowRepository().ListByOwner(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	sort.SliceStable(workflows, func(i, j int) bool {
		return workflows[i].UpdatedAt.After(workflows[j].UpdatedAt)
	})

	return workflows, nil
}

// Update applies the set fields of input to a workflow owned by userID.
func (w *Workflow) Update(ctx context.Context, id, userID string, input UpdateWorkflowInput) (*models.Workflow, error) {
	workflow, err := ownedWorkflow(ctx, w.persistence, id, userID)
	if err != nil {
		return nil, err
	}

	switch {
	case input.Nodes != nil:
		if err := ValidateWorkflow(input.Nodes, input.Connections); err != nil {
			return nil, err
		}

		nodes, remap := buildNodes(input.Nodes)
		workflow.Nodes = nodes
		workflow.Connections = buildConnections(input.Connections, remap)
	case input.Connections != nil:
		ids := make(map[string]struct{}, len(workflow.Nodes))
		remap := make(map[string]string, len(workflow.Nodes))

		for _, node := range workflow.Nodes {
			ids[node.ID] = struct{}{}
			remap[node.ID] = node.ID
		}

		if err := validateConnections(ids, input.Connections); err != nil {
			return nil, err
		}

		workflow.Connections = buildConnections(input.Connections, remap)
	}

	if input.Title != nil {
		workflow.Title = *input.Title
	}

	if input.Description != nil {
		workflow.Description = *input.Description
	}

	if input.Enabled != nil {
		workflow.Enabled = *input.Enabled
	}

	if err := w.persistence.WorkflowRepository().Save(ctx, workflow); err != nil {
		return nil, fmt.Errorf("failed to update workflow: %w", err)
	}

	return workflow, nil
}

// Delete removes a workflow owned by userID together with its executions and webhooks.
func (w *Workflow) Delete(ctx context.Context, id, userID string) error {
	if _, err := ownedWorkflow(ctx, w.persistence, id, userID); err != nil {
		return err
	}

	if err := w.persistence.WorkflowRepository().Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}

	return nil
}

// Toggle flips the enabled flag. Jobs already queued are not affected until they run.
func (w *Workflow) Toggle(ctx context.Context, id, userID string) (*models.Workflow, error) {
	workflow, err := ownedWorkflow(ctx, w.persistence, id, userID)
	if err != nil {
		return nil, err
	}

	workflow.Enabled = !workflow.Enabled
	workflow.UpdatedAt = time.Now().UTC()

	if err := w.persistence.WorkflowRepository().SetEnabled(ctx, id, workflow.Enabled); err != nil {
		return nil, fmt.Errorf("failed to toggle workflow: %w", err)
	}

	return workflow, nil
}

// Duplicate copies a workflow as "<title> (Copy)", disabled.
func (w *Workflow) Duplicate(ctx context.Context, id, userID string) (*models.Workflow, error) {
	original, err := ownedWorkflow(ctx, w.persistence, id, userID)
	if err != nil {
		return nil, err
	}

	disabled := false
	input := CreateWorkflowInput{
		Title:       original.Title + " (Copy)",
		Description: original.Description,
		Enabled:     &disabled,
		Nodes:       make([]NodeInput, 0, len(original.Nodes)),
		Connections: make([]ConnectionInput, 0, len(original.Connections)),
	}

	for _, node := range original.Nodes {
		input.Nodes = append(input.Nodes, NodeInput{
			ID:       node.ID,
			Type:     node.Type,
			Name:     node.Name,
			Position: node.Position,
			Config:   node.Config,
		})
	}

	for _, connection := range original.Connections {
		input.Connections = append(input.Connections, ConnectionInput{
			SourceID: connection.SourceID,
			TargetID: connection.TargetID,
		})
	}

	return w.Create(ctx, userID, input)
}

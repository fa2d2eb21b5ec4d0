// Package models defines the domain models for workflow automation and execution.
package models

import (
	"math"
	"time"
)

// Workflow is an ownable collection of nodes and connections that can be toggled on and off.
type Workflow struct {
	ID          string        `json:"id"`
	Title       string        `json:"title"                 validate:"required,min=1"`
	Description string        `json:"description,omitempty"`
	Enabled     bool          `json:"enabled"`
	UserID      string        `json:"user_id"`
	Nodes       []*Node       `json:"nodes"`
	Connections []*Connection `json:"connections"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// NodeType is the kind of unit of work a node represents.
type NodeType string

const (
	NodeTypeTrigger   NodeType = "TRIGGER"
	NodeTypeAction    NodeType = "ACTION"
	NodeTypeCondition NodeType = "CONDITION"
)

// Valid reports whether t is one of the known node types.
func (t NodeType) Valid() bool {
	switch t {
	case NodeTypeTrigger, NodeTypeAction, NodeTypeCondition:
		return true
	default:
		return false
	}
}

// Position is the editor placement of a node, in arbitrary 2-D units.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Distance returns the Euclidean distance between p and o.
func (p Position) Distance(o Position) float64 {
	return math.Hypot(p.X-o.X, p.Y-o.Y)
}

// Node is a typed unit of work owned by a workflow.
type Node struct {
	ID         string         `json:"id"`
	WorkflowID string         `json:"workflow_id"`
	Type       NodeType       `json:"type"        validate:"required,oneof=TRIGGER ACTION CONDITION"`
	Name       string         `json:"name"        validate:"required,min=1"`
	Position   Position       `json:"position"`
	Config     map[string]any `json:"config"`
}

// Connection is a declared edge between two nodes of the same workflow.
// Connections are persisted but do not drive execution order.
type Connection struct {
	ID         string `json:"id"`
	WorkflowID string `json:"workflow_id"`
	SourceID   string `json:"source_id"   validate:"required"`
	TargetID   string `json:"target_id"   validate:"required"`
}

// NodesByType returns the nodes of the given type in stored order.
func (w *Workflow) NodesByType(nodeType NodeType) []*Node {
	nodes := make([]*Node, 0, len(w.Nodes))

	for _, node := range w.Nodes {
		if node.Type == nodeType {
			nodes = append(nodes, node)
		}
	}

	return nodes
}

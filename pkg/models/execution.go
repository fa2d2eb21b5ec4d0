package models

import "time"

// ExecutionStatus is the lifecycle state of a single workflow run.
type ExecutionStatus string

const (
	ExecutionStatusRunning ExecutionStatus = "RUNNING"
	ExecutionStatusSuccess ExecutionStatus = "SUCCESS"
	ExecutionStatusFailed  ExecutionStatus = "FAILED"
	// ExecutionStatusCancelled is reserved; nothing produces it yet.
	ExecutionStatusCancelled ExecutionStatus = "CANCELLED"
)

// Terminal reports whether s ends an execution.
func (s ExecutionStatus) Terminal() bool {
	return s != ExecutionStatusRunning
}

// Execution is the durable record of one run attempt of a workflow.
type Execution struct {
	ID         string          `json:"id"`
	WorkflowID string          `json:"workflow_id"`
	Status     ExecutionStatus `json:"status"`
	Data       any             `json:"data"`
	Error      *string         `json:"error,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt *time.Time      `json:"finished_at"`

	// Workflow is only populated by lookups that join the definition for auditing.
	Workflow *Workflow `json:"workflow,omitempty"`
}

// NodeResult is the outcome of a single executed node.
type NodeResult struct {
	NodeID   string `json:"nodeId"`
	NodeName string `json:"nodeName"`
	Success  bool   `json:"success"`
	Result   any    `json:"result"`
}

// ExecutionResult is returned by the executor when every action node succeeded.
type ExecutionResult struct {
	Success     bool         `json:"success"`
	ExecutionID string       `json:"executionId"`
	Results     []NodeResult `json:"results"`
}

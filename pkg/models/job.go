package models

// TriggerType is the origin of a workflow run.
type TriggerType string

const (
	TriggerTypeManual   TriggerType = "manual"
	TriggerTypeWebhook  TriggerType = "webhook"
	TriggerTypeSchedule TriggerType = "schedule"
)

// Valid reports whether t is a known trigger type.
func (t TriggerType) Valid() bool {
	switch t {
	case TriggerTypeManual, TriggerTypeWebhook, TriggerTypeSchedule:
		return true
	default:
		return false
	}
}

// Job is the queue-level unit of work. It is never stored in the execution store.
type Job struct {
	WorkflowID  string      `json:"workflowId"`
	UserID      string      `json:"userId"`
	ExecutionID string      `json:"executionId"`
	TriggerData any         `json:"triggerData,omitempty"`
	TriggerType TriggerType `json:"triggerType"`
}

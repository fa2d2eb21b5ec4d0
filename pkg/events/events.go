// Package events defines the execution lifecycle events published by workers.
package events

import (
	"time"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/google/uuid"
)

type EventType string

const Topic = "autoflow.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	ExecutionStartedEvent   EventType = "execution.started"
	ExecutionCompletedEvent EventType = "execution.completed"
	ExecutionFailedEvent    EventType = "execution.failed"
	WorkerErrorEvent        EventType = "worker.error"
)

type BaseEvent struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	WorkflowID string    `json:"workflow_id,omitempty"`
	WorkerID   string    `json:"worker_id,omitempty"`
}

func (e BaseEvent) GetWorkflowID() string {
	return e.WorkflowID
}

type ExecutionStarted struct {
	BaseEvent

	ExecutionID string             `json:"execution_id"`
	JobID       string             `json:"job_id"`
	Attempt     int                `json:"attempt"`
	TriggerType models.TriggerType `json:"trigger_type"`
}

func (e ExecutionStarted) GetType() EventType {
	return ExecutionStartedEvent
}

type ExecutionCompleted struct {
	BaseEvent

	ExecutionID string                  `json:"execution_id"`
	JobID       string                  `json:"job_id"`
	Result      *models.ExecutionResult `json:"result,omitempty"`
	Duration    time.Duration           `json:"duration"`
}

func (e ExecutionCompleted) GetType() EventType {
	return ExecutionCompletedEvent
}

type ExecutionFailed struct {
	BaseEvent

	ExecutionID string        `json:"execution_id"`
	JobID       string        `json:"job_id"`
	Error       string        `json:"error"`
	Attempt     int           `json:"attempt"`
	Retrying    bool          `json:"retrying"`
	Duration    time.Duration `json:"duration"`
}

func (e ExecutionFailed) GetType() EventType {
	return ExecutionFailedEvent
}

// WorkerError reports a broker failure that is not tied to a job.
type WorkerError struct {
	BaseEvent

	Error string `json:"error"`
}

func (e WorkerError) GetType() EventType {
	return WorkerErrorEvent
}

func NewBaseEvent(eventType EventType, workflowID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		WorkflowID: workflowID,
	}
}

// New returns an empty event of the given type to decode into, or nil for unknown types.
func New(eventType EventType) any {
	switch eventType {
	case ExecutionStartedEvent:
		return &ExecutionStarted{}
	case ExecutionCompletedEvent:
		return &ExecutionCompleted{}
	case ExecutionFailedEvent:
		return &ExecutionFailed{}
	case WorkerErrorEvent:
		return &WorkerError{}
	default:
		return nil
	}
}

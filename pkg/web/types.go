package web

// Response is the envelope of every successful API response.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func ok(message string, data any) Response {
	return Response{Success: true, Message: message, Data: data}
}

// CreateWebhookRequest is the body of POST /api/triggers/webhook/:workflowId.
// An empty method means POST.
type CreateWebhookRequest struct {
	Method string         `json:"method"`
	Schema map[string]any `json:"schema,omitempty"`
}

// WebhookTriggerResponse is returned by the public webhook ingress.
type WebhookTriggerResponse struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	ExecutionID string `json:"executionId"`
	JobID       string `json:"jobId"`
}

// JobResponse is a retained queue record.
type JobResponse struct {
	ID           string `json:"id"`
	WorkflowID   string `json:"workflowId"`
	ExecutionID  string `json:"executionId"`
	TriggerType  string `json:"triggerType"`
	AttemptsMade int    `json:"attemptsMade"`
	FailedReason string `json:"failedReason,omitempty"`
	FinishedAt   string `json:"finishedAt,omitempty"`
}

// ActionResponse describes a registered action type.
type ActionResponse struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Schema      map[string]any `json:"schema"`
}

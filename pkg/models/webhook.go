package models

import (
	"net/http"
	"strings"
	"time"
)

// WebhookPathPrefix is prepended to every generated webhook path.
const WebhookPathPrefix = "/webhook/"

// Webhook maps an inbound path and method to a workflow.
type Webhook struct {
	ID         string         `json:"id"`
	WorkflowID string         `json:"workflow_id"`
	Path       string         `json:"path"`
	Method     string         `json:"method"`
	Enabled    bool           `json:"enabled"`
	Schema     map[string]any `json:"schema,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// ValidWebhookMethod reports whether method is accepted for webhooks.
func ValidWebhookMethod(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodGet, http.MethodPost:
		return true
	default:
		return false
	}
}

// MatchesMethod compares the configured verb with an inbound one, ignoring case.
func (w *Webhook) MatchesMethod(method string) bool {
	return strings.EqualFold(w.Method, method)
}

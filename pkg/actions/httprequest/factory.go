package httprequest

import (
	"fmt"
	"net/http"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/protocol"
)

// ActionFactory creates http_request actions sharing one HTTP client.
type ActionFactory struct {
	client *http.Client
}

// NewActionFactory creates a factory. A nil client gets a default one with a 30s timeout.
func NewActionFactory(client *http.Client) *ActionFactory {
	return &ActionFactory{client: client}
}

func (f *ActionFactory) Create(config models.ActionConfig) (protocol.Action, error) {
	cfg, ok := config.(models.HTTPRequestConfig)
	if !ok {
		return nil, fmt.Errorf("unexpected config %T for %s", config, f.ID())
	}

	return NewAction(cfg, f.client)
}

func (f *ActionFactory) ID() string {
	return models.ActionTypeHTTPRequest
}

func (f *ActionFactory) Name() string {
	return "HTTP Request"
}

func (f *ActionFactory) Description() string {
	return "Performs an HTTP request to a URL with optional headers and a JSON body."
}

// Schema returns the JSON schema for configuring this action.
func (f *ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"actionType": map[string]any{
				"type":  "string",
				"const": models.ActionTypeHTTPRequest,
			},
			"url": map[string]any{
				"title":       "URL",
				"type":        "string",
				"description": "The URL to send the HTTP request to.",
				"examples":    []string{"https://api.example.com/users"},
			},
			"method": map[string]any{
				"type":        "string",
				"description": "HTTP method to use",
				"default":     http.MethodGet,
				"enum":        []string{"GET", "POST", "PUT", "DELETE", "PATCH", "HEAD", "OPTIONS"},
			},
			"headers": map[string]any{
				"type":        "object",
				"description": "HTTP headers to include in the request. Content-Type defaults to application/json.",
				"additionalProperties": map[string]any{
					"type": "string",
				},
			},
			"body": map[string]any{
				"description": "JSON body sent for non-GET requests. The trigger payload is sent when omitted.",
			},
		},
		"required": []string{"url"},
	}
}

package models

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	ActionTypeHTTPRequest = "http_request"
	ActionTypeLog         = "log"
)

// ActionConfig is the parsed configuration of an ACTION node, keyed by actionType.
type ActionConfig interface {
	ActionType() string
}

type HTTPRequestConfig struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    any               `json:"body,omitempty"`
}

func (HTTPRequestConfig) ActionType() string { return ActionTypeHTTPRequest }

type LogConfig struct {
	Message string `json:"message,omitempty"`
}

func (LogConfig) ActionType() string { return ActionTypeLog }

// UnknownActionConfig carries the raw config of an action type nothing implements.
type UnknownActionConfig struct {
	Type string         `json:"actionType"`
	Raw  map[string]any `json:"config"`
}

func (c UnknownActionConfig) ActionType() string { return c.Type }

// ParseActionConfig turns a node's free-form config into its typed variant.
// A missing actionType is treated as a log action.
func ParseActionConfig(config map[string]any) ActionConfig {
	actionType, _ := config["actionType"].(string)
	if actionType == "" {
		actionType = ActionTypeLog
	}

	switch actionType {
	case ActionTypeHTTPRequest:
		cfg := HTTPRequestConfig{
			URL:    stringValue(config["url"]),
			Method: strings.ToUpper(stringValue(config["method"])),
			Body:   config["body"],
		}
		if cfg.Method == "" {
			cfg.Method = http.MethodGet
		}

		if headers, ok := config["headers"].(map[string]any); ok {
			cfg.Headers = make(map[string]string, len(headers))
			for k, v := range headers {
				cfg.Headers[k] = stringValue(v)
			}
		}

		return cfg
	case ActionTypeLog:
		return LogConfig{Message: stringValue(config["message"])}
	default:
		return UnknownActionConfig{Type: actionType, Raw: config}
	}
}

func stringValue(v any) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return value
	default:
		return fmt.Sprint(value)
	}
}

// HTTPResponse is the result of an http_request action.
type HTTPResponse struct {
	Status     int               `json:"status"`
	StatusText string            `json:"statusText"`
	Headers    map[string]string `json:"headers"`
	Body       string            `json:"body"`
}

// LogResult is the result of a log action.
type LogResult struct {
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	TriggerData any       `json:"triggerData"`
}

// MockResult is returned for action types with no implementation.
type MockResult struct {
	Success     bool           `json:"success"`
	Message     string         `json:"message"`
	Config      map[string]any `json:"config"`
	TriggerData any            `json:"triggerData"`
}

type ConditionResult struct {
	Condition bool   `json:"condition"`
	Message   string `json:"message"`
}

type SkippedResult struct {
	Skipped bool   `json:"skipped"`
	Reason  string `json:"reason"`
}

// Package httprequest provides the http_request action.
package httprequest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/protocol"
)

const defaultTimeoutSeconds = 30

var (
	// ErrURLRequired is returned when the node config has no url.
	ErrURLRequired = errors.New("HTTP request requires URL")
	// ErrRequestFailed wraps any failure to send the request or read the response.
	ErrRequestFailed = errors.New("HTTP request failed")
)

// Action sends one HTTP request per execution. Non-2xx responses are results, not errors.
type Action struct {
	URL     string
	Method  string
	Headers map[string]string
	Body    any

	client *http.Client
}

var _ protocol.Action = (*Action)(nil)

// NewAction creates an Action from a parsed http_request config.
func NewAction(config models.HTTPRequestConfig, client *http.Client) (*Action, error) {
	if config.URL == "" {
		return nil, ErrURLRequired
	}

	method := strings.ToUpper(config.Method)
	if method == "" {
		method = http.MethodGet
	}

	if client == nil {
		client = &http.Client{Timeout: defaultTimeoutSeconds * time.Second}
	}

	return &Action{
		URL:     config.URL,
		Method:  method,
		Headers: config.Headers,
		Body:    config.Body,
		client:  client,
	}, nil
}

// Execute performs the request and returns a models.HTTPResponse.
func (a *Action) Execute(ctx context.Context, input protocol.ActionInput, logger *slog.Logger) (any, error) {
	logger = logger.With("module", "http_request_action", "node_id", input.NodeID)
	logger.InfoContext(ctx, "Executing HTTP request", "method", a.Method, "url", a.URL)

	req, err := a.buildRequest(ctx, input.TriggerData)
	if err != nil {
		return nil, err
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, failed(err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, failed(err)
	}

	logger.InfoContext(ctx, "HTTP request completed", "status", resp.StatusCode, "body_length", len(bodyBytes))

	return &models.HTTPResponse{
		Status:     resp.StatusCode,
		StatusText: statusText(resp),
		Headers:    flattenHeaders(resp.Header),
		Body:       string(bodyBytes),
	}, nil
}

func (a *Action) buildRequest(ctx context.Context, triggerData any) (*http.Request, error) {
	var body io.Reader

	if a.Method != http.MethodGet {
		payload := a.Body
		if payload == nil {
			payload = triggerData
		}

		if payload != nil {
			encoded, err := json.Marshal(payload)
			if err != nil {
				return nil, failed(err)
			}

			body = bytes.NewReader(encoded)
		}
	}

	req, err := http.NewRequestWithContext(ctx, a.Method, a.URL, body)
	if err != nil {
		return nil, failed(err)
	}

	req.Header.Set("Content-Type", "application/json")

	for key, value := range a.Headers {
		req.Header.Set(key, value)
	}

	return req, nil
}

func failed(err error) error {
	return fmt.Errorf("%w: %w", ErrRequestFailed, err)
}

// statusText returns the reason phrase without the leading status code.
func statusText(resp *http.Response) string {
	return strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
}

func flattenHeaders(header http.Header) map[string]string {
	headers := make(map[string]string, len(header))
	for key, values := range header {
		headers[strings.ToLower(key)] = strings.Join(values, ", ")
	}

	return headers
}

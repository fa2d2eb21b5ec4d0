package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dukex/autoflow/pkg/events"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventPrinter(t *testing.T) {
	var out bytes.Buffer

	printer := newEventPrinter(&out, "")

	event := &events.ExecutionStarted{
		BaseEvent:   events.NewBaseEvent(events.ExecutionStartedEvent, "wf-1"),
		ExecutionID: "exec-1",
	}
	require.NoError(t, printer.handle(context.Background(), event))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &decoded))
	assert.Equal(t, "exec-1", decoded["execution_id"])
	assert.Equal(t, "wf-1", decoded["workflow_id"])
}

func TestEventPrinter_FiltersWorkflow(t *testing.T) {
	var out bytes.Buffer

	printer := newEventPrinter(&out, "wf-2")

	other := &events.ExecutionFailed{BaseEvent: events.NewBaseEvent(events.ExecutionFailedEvent, "wf-1")}
	require.NoError(t, printer.handle(context.Background(), other))
	assert.Empty(t, out.String())

	match := &events.ExecutionFailed{BaseEvent: events.NewBaseEvent(events.ExecutionFailedEvent, "wf-2")}
	require.NoError(t, printer.handle(context.Background(), match))
	assert.NotEmpty(t, out.String())
}

func TestMetricsMux(t *testing.T) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "autoflow_test_total", Help: "test"}))

	mux := metricsMux(reg)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "autoflow_test_total 0")

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/livez", nil))
	assert.Equal(t, "OK", rec.Body.String())
}

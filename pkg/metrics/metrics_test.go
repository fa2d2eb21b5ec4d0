package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.JobsStarted.Inc()
	m.JobsFinished.WithLabelValues(OutcomeSuccess).Inc()
	m.WorkerErrors.Add(2)

	assert.InDelta(t, 1, testutil.ToFloat64(m.JobsStarted), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.JobsFinished.WithLabelValues(OutcomeSuccess)), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.WorkerErrors), 0)

	assert.Panics(t, func() { New(reg) })
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.JobsActive.Set(3)

	server := httptest.NewServer(Handler(reg))
	defer server.Close()

	resp, err := http.Get(server.URL)
	require.NoError(t, err)

	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "autoflow_jobs_active 3")
}

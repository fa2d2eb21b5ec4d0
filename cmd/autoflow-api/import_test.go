package main

import (
	"context"
	"strings"
	"testing"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/persistence/file"
	"github.com/dukex/autoflow/pkg/services"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const workflowYAML = `
workflows:
  - title: Order notifications
    description: Posts new orders to the CRM
    nodes:
      - id: hook
        type: TRIGGER
        name: Order webhook
        position: [0, 0]
        config:
          triggerType: webhook
      - id: notify
        type: ACTION
        name: Notify CRM
        position: [200, 0]
        config:
          actionType: http_request
          url: https://crm.example.com/orders
          method: POST
          headers:
            X-Source: autoflow
    connections:
      - from: hook
        to: notify
  - title: Nightly report
    enabled: false
    nodes:
      - id: cron
        type: TRIGGER
        name: Every night
        config:
          triggerType: schedule
          cron: "0 2 * * *"
`

func TestParseWorkflowFile(t *testing.T) {
	inputs, err := parseWorkflowFile(strings.NewReader(workflowYAML))
	require.NoError(t, err)
	require.Len(t, inputs, 2)

	orders := inputs[0]
	assert.Equal(t, "Order notifications", orders.Title)
	assert.Nil(t, orders.Enabled)
	require.Len(t, orders.Nodes, 2)
	assert.Equal(t, models.NodeTypeAction, orders.Nodes[1].Type)
	assert.InDelta(t, 200.0, orders.Nodes[1].Position.X, 0)
	assert.Equal(t, "http_request", orders.Nodes[1].Config["actionType"])
	assert.Equal(t, map[string]any{"X-Source": "autoflow"}, orders.Nodes[1].Config["headers"])
	assert.Equal(t, []services.ConnectionInput{{SourceID: "hook", TargetID: "notify"}}, orders.Connections)

	nightly := inputs[1]
	require.NotNil(t, nightly.Enabled)
	assert.False(t, *nightly.Enabled)
}

func TestParseWorkflowFile_Empty(t *testing.T) {
	_, err := parseWorkflowFile(strings.NewReader("workflows: []\n"))
	require.ErrorIs(t, err, errNoWorkflows)

	_, err = parseWorkflowFile(strings.NewReader("workflows: ["))
	require.Error(t, err)
}

func TestImportWorkflows(t *testing.T) {
	ctx := context.Background()
	p := file.NewPersistence(t.TempDir())
	workflows := services.NewWorkflow(p)

	inputs, err := parseWorkflowFile(strings.NewReader(workflowYAML))
	require.NoError(t, err)

	created, err := importWorkflows(ctx, workflows, validator.New(validator.WithRequiredStructEnabled()), "user-1", inputs)
	require.NoError(t, err)
	require.Len(t, created, 2)

	owned, err := workflows.ListByOwner(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, owned, 2)
}

func TestImportWorkflows_ValidatesBeforeCreating(t *testing.T) {
	ctx := context.Background()
	p := file.NewPersistence(t.TempDir())
	workflows := services.NewWorkflow(p)

	inputs, err := parseWorkflowFile(strings.NewReader(workflowYAML))
	require.NoError(t, err)

	inputs[1].Nodes[0].Type = models.NodeTypeAction

	_, err = importWorkflows(ctx, workflows, validator.New(validator.WithRequiredStructEnabled()), "user-1", inputs)
	require.ErrorIs(t, err, services.ErrTriggerNodeRequired)

	owned, err := workflows.ListByOwner(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, owned)
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dukex/autoflow/pkg/cmd"
	"github.com/dukex/autoflow/pkg/log"
	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/services"
	"github.com/go-playground/validator/v10"
	cli "github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

var errNoWorkflows = errors.New("file contains no workflows")

// workflowFile is the YAML layout accepted by the import command.
type workflowFile struct {
	Workflows []workflowDefinition `yaml:"workflows"`
}

type workflowDefinition struct {
	Title       string                 `yaml:"title"`
	Description string                 `yaml:"description"`
	Enabled     *bool                  `yaml:"enabled"`
	Nodes       []nodeDefinition       `yaml:"nodes"`
	Connections []connectionDefinition `yaml:"connections"`
}

type nodeDefinition struct {
	ID       string         `yaml:"id"`
	Type     string         `yaml:"type"`
	Name     string         `yaml:"name"`
	Position [2]float64     `yaml:"position"`
	Config   map[string]any `yaml:"config"`
}

type connectionDefinition struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

func (d workflowDefinition) input() services.CreateWorkflowInput {
	input := services.CreateWorkflowInput{
		Title:       d.Title,
		Description: d.Description,
		Enabled:     d.Enabled,
		Nodes:       make([]services.NodeInput, 0, len(d.Nodes)),
		Connections: make([]services.ConnectionInput, 0, len(d.Connections)),
	}

	for _, node := range d.Nodes {
		input.Nodes = append(input.Nodes, services.NodeInput{
			ID:       node.ID,
			Type:     models.NodeType(node.Type),
			Name:     node.Name,
			Position: models.Position{X: node.Position[0], Y: node.Position[1]},
			Config:   node.Config,
		})
	}

	for _, connection := range d.Connections {
		input.Connections = append(input.Connections, services.ConnectionInput{
			SourceID: connection.From,
			TargetID: connection.To,
		})
	}

	return input
}

func parseWorkflowFile(r io.Reader) ([]services.CreateWorkflowInput, error) {
	var file workflowFile
	if err := yaml.NewDecoder(r).Decode(&file); err != nil {
		return nil, fmt.Errorf("failed to decode workflow file: %w", err)
	}

	if len(file.Workflows) == 0 {
		return nil, errNoWorkflows
	}

	inputs := make([]services.CreateWorkflowInput, 0, len(file.Workflows))
	for _, definition := range file.Workflows {
		inputs = append(inputs, definition.input())
	}

	return inputs, nil
}

// importWorkflows validates every definition before creating any of them.
func importWorkflows(
	ctx context.Context,
	workflows *services.Workflow,
	validate *validator.Validate,
	userID string,
	inputs []services.CreateWorkflowInput,
) ([]*models.Workflow, error) {
	for i, input := range inputs {
		if err := validate.Struct(input); err != nil {
			return nil, fmt.Errorf("workflow %d (%q): %w", i, input.Title, err)
		}

		if err := services.ValidateWorkflow(input.Nodes, input.Connections); err != nil {
			return nil, fmt.Errorf("workflow %d (%q): %w", i, input.Title, err)
		}
	}

	created := make([]*models.Workflow, 0, len(inputs))

	for _, input := range inputs {
		workflow, err := workflows.Create(ctx, userID, input)
		if err != nil {
			return created, fmt.Errorf("failed to create workflow %q: %w", input.Title, err)
		}

		created = append(created, workflow)
	}

	return created, nil
}

func importCommand() *cli.Command {
	return &cli.Command{
		Name:      "import",
		Usage:     "Create workflows from a YAML file",
		ArgsUsage: "<file.yaml>",
		Flags: []cli.Flag{
			databaseURLFlag(),
			&cli.StringFlag{
				Name:     "user-id",
				Usage:    "Owner of the imported workflows",
				Required: true,
				Sources:  cli.EnvVars("AUTOFLOW_USER_ID"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			logger := log.WithModule("import")

			path := command.Args().First()
			if path == "" {
				return cli.Exit("missing workflow file", 1)
			}

			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer func() { _ = f.Close() }()

			inputs, err := parseWorkflowFile(f)
			if err != nil {
				return err
			}

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := persistence.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			created, err := importWorkflows(
				ctx,
				services.NewWorkflow(persistence),
				validator.New(validator.WithRequiredStructEnabled()),
				command.String("user-id"),
				inputs,
			)
			for _, workflow := range created {
				logger.InfoContext(ctx, "Workflow imported", "workflow_id", workflow.ID, "title", workflow.Title)
			}

			return err
		},
	}
}

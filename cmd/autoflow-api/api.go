package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/dukex/autoflow/pkg/cmd"
	"github.com/dukex/autoflow/pkg/log"
	"github.com/dukex/autoflow/pkg/persistence"
	"github.com/dukex/autoflow/pkg/queue"
	"github.com/dukex/autoflow/pkg/registry"
	"github.com/dukex/autoflow/pkg/services"
	"github.com/dukex/autoflow/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/logger"
	cli "github.com/urfave/cli/v3"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	queue       queue.Queue
	registry    *registry.Registry
	validate    *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	q queue.Queue,
	registry *registry.Registry,
) *API {
	return &API{
		persistence: persistence,
		queue:       q,
		logger:      logger,
		registry:    registry,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	executionService := services.NewExecution(a.persistence, a.queue, a.logger)

	handlers := web.NewAPIHandlers(
		services.NewWorkflow(a.persistence),
		executionService,
		services.NewWebhook(a.persistence, executionService, a.logger),
		a.queue,
		a.registry,
		a.validate,
		a.logger,
	)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Autoflow API")
	})

	web.Routes(app, handlers)

	return app
}

// Start serves until ctx is cancelled, then drains open connections.
func (a *API) Start(ctx context.Context, port int) error {
	app := a.App()

	go func() {
		<-ctx.Done()

		if err := app.Shutdown(); err != nil {
			a.logger.Error("Failed to shut down API server", "error", err)
		}
	}()

	return app.Listen(":"+strconv.Itoa(port), fiber.ListenConfig{DisableStartupMessage: true})
}

const defaultPort = 9091

func runCommand() *cli.Command {
	return &cli.Command{
		Name:    "run",
		Aliases: []string{"r"},
		Usage:   "Start the API server",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			databaseURLFlag(),
			&cli.StringFlag{
				Name:     "queue-url",
				Usage:    "Job queue URL (redis://host:6379/0)",
				Required: true,
				Sources:  cli.EnvVars("QUEUE_URL", "REDIS_URL"),
			},
		},
		Action: runAPI,
	}
}

func runAPI(ctx context.Context, command *cli.Command) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := log.WithModule("autoflow-api")

	logger.InfoContext(ctx, "Initializing Autoflow API")

	persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return err
	}

	defer func() {
		err := persistence.Close(context.WithoutCancel(ctx))
		if err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	q, err := cmd.NewQueue(ctx, logger, command.String("queue-url"), queue.DefaultOptions())
	if err != nil {
		return err
	}

	defer func() {
		if err := q.Close(); err != nil {
			logger.ErrorContext(ctx, "Failed to close queue", "error", err)
		}
	}()

	api := NewAPI(logger, persistence, q, registry.NewDefault(logger, nil))

	port := command.Int("port")
	logger.InfoContext(ctx, "API listening", "port", port)

	if err := api.Start(ctx, port); err != nil {
		return fmt.Errorf("api server stopped: %w", err)
	}

	return nil
}

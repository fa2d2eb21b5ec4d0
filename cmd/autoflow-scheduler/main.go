// Package main provides the Autoflow scheduler, which queues runs of cron-triggered workflows.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukex/autoflow/pkg/cmd"
	"github.com/dukex/autoflow/pkg/log"
	"github.com/dukex/autoflow/pkg/queue"
	"github.com/dukex/autoflow/pkg/scheduler"
	"github.com/dukex/autoflow/pkg/services"
	cli "github.com/urfave/cli/v3"
)

func main() {
	cmd := &cli.Command{
		Name:                  "autoflow-scheduler",
		EnableShellCompletion: true,
		Usage:                 "Queue workflow runs on their cron schedules",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:     "queue-url",
				Usage:    "Job queue URL (redis://host:6379/0)",
				Required: true,
				Sources:  cli.EnvVars("QUEUE_URL", "REDIS_URL"),
			},
			&cli.DurationFlag{
				Name:    "sync-interval",
				Usage:   "How often schedules are reloaded from persistence",
				Value:   time.Minute,
				Sources: cli.EnvVars("SCHEDULE_SYNC_INTERVAL"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log format (text, json)",
				Value:   "text",
				Sources: cli.EnvVars("LOG_FORMAT"),
			},
		},
		Action: run,
	}

	err := cmd.Run(context.Background(), os.Args)
	if err != nil {
		log.WithModule("autoflow-scheduler").Error("Command failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, command *cli.Command) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Setup(command.String("log-level"), command.String("log-format"))

	logger := log.WithModule("autoflow-scheduler")

	logger.InfoContext(ctx, "Initializing Autoflow Scheduler")

	persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return err
	}

	defer func() {
		if err := persistence.Close(context.WithoutCancel(ctx)); err != nil {
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

	s := scheduler.New(persistence, services.NewExecution(persistence, q, logger), logger)

	return s.Run(ctx, command.Duration("sync-interval"))
}

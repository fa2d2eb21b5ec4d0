package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/dukex/autoflow/pkg/cmd"
	"github.com/dukex/autoflow/pkg/log"
	"github.com/dukex/autoflow/pkg/metrics"
	"github.com/dukex/autoflow/pkg/otelhelper"
	"github.com/dukex/autoflow/pkg/queue"
	"github.com/dukex/autoflow/pkg/registry"
	"github.com/dukex/autoflow/pkg/services"
	"github.com/dukex/autoflow/pkg/worker"
	"github.com/dukex/autoflow/pkg/workflow"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	cli "github.com/urfave/cli/v3"
)

const shutdownTimeout = 10 * time.Second

func runCommand() *cli.Command {
	return &cli.Command{
		Name:    "run",
		Aliases: []string{"r"},
		Usage:   "Start processing jobs",
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Sources: cli.EnvVars("WORKER_ID"),
			},
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
			&cli.IntFlag{
				Name:    "concurrency",
				Aliases: []string{"c"},
				Usage:   "Maximum number of jobs processed at once",
				Value:   worker.DefaultOptions().Concurrency,
				Sources: cli.EnvVars("WORKER_CONCURRENCY"),
			},
			&cli.IntFlag{
				Name:    "attempts",
				Usage:   "Attempts per job before it is marked failed",
				Value:   queue.DefaultOptions().Attempts,
				Sources: cli.EnvVars("JOB_ATTEMPTS"),
			},
			&cli.DurationFlag{
				Name:    "http-timeout",
				Usage:   "Timeout of outbound HTTP request actions",
				Value:   30 * time.Second,
				Sources: cli.EnvVars("HTTP_TIMEOUT"),
			},
			&cli.IntFlag{
				Name:    "metrics-port",
				Usage:   "Port of the Prometheus metrics endpoint (0 disables it)",
				Value:   9092,
				Sources: cli.EnvVars("METRICS_PORT"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Export traces over OTLP/HTTP",
				Sources: cli.EnvVars("TRACING_ENABLED"),
			},
		}, eventBusFlags()...),
		Action: runWorker,
	}
}

func runWorker(ctx context.Context, command *cli.Command) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	workerID := command.String("worker-id")
	if workerID == "" {
		workerID = "worker-" + uuid.New().String()[:8]
	}

	logger := log.WithModule("autoflow-worker").With("worker_id", workerID)

	logger.InfoContext(ctx, "Initializing Autoflow Worker")

	tracer, shutdownTracer, err := otelhelper.NewTracer(ctx, "autoflow-worker", command.Bool("tracing"))
	if err != nil {
		return fmt.Errorf("failed to initialize tracer: %w", err)
	}

	defer func() {
		if err := shutdownTracer(context.WithoutCancel(ctx)); err != nil {
			logger.ErrorContext(ctx, "Failed to shut down tracer", "error", err)
		}
	}()

	persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return err
	}

	defer func() {
		if err := persistence.Close(context.WithoutCancel(ctx)); err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	queueOpts := queue.DefaultOptions()
	queueOpts.Attempts = command.Int("attempts")

	q, err := cmd.NewQueue(ctx, logger, command.String("queue-url"), queueOpts)
	if err != nil {
		return err
	}

	defer func() {
		if err := q.Close(); err != nil {
			logger.ErrorContext(ctx, "Failed to close queue", "error", err)
		}
	}()

	eventBus, err := cmd.NewEventBus(command.String("event-bus"), command.StringSlice("kafka-brokers"), "autoflow-worker", logger)
	if err != nil {
		return err
	}

	defer func() {
		if err := eventBus.Close(); err != nil {
			logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	if port := command.Int("metrics-port"); port > 0 {
		server := &http.Server{
			Addr:              ":" + strconv.Itoa(port),
			Handler:           metricsMux(reg),
			ReadHeaderTimeout: 5 * time.Second,
		}

		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.ErrorContext(ctx, "Metrics server stopped", "error", err)
			}
		}()

		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()

			_ = server.Shutdown(shutdownCtx)
		}()
	}

	executions := services.NewExecution(persistence, q, logger)
	executor := workflow.NewExecutor(
		persistence,
		executions,
		registry.NewDefault(logger, &http.Client{Timeout: command.Duration("http-timeout")}),
		tracer,
		logger,
	)

	w := worker.New(q, executor, logger, worker.Options{
		WorkerID:    workerID,
		Concurrency: command.Int("concurrency"),
		Tracer:      tracer,
		Observer: worker.Observers{
			worker.NewLogObserver(logger),
			worker.NewMetricsObserver(metrics.New(reg)),
			worker.NewEventObserver(eventBus, workerID, logger),
		},
	})

	return w.Run(ctx)
}

func metricsMux(gatherer prometheus.Gatherer) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(gatherer))
	mux.HandleFunc("/livez", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("OK"))
	})

	return mux
}

// Package worker consumes workflow jobs from the queue with bounded concurrency.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/otelhelper"
	"github.com/dukex/autoflow/pkg/queue"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"
)

// Handler executes one workflow run. *workflow.Executor implements it.
type Handler interface {
	ExecuteWorkflow(ctx context.Context, workflowID, executionID string, triggerData any) (*models.ExecutionResult, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, workflowID, executionID string, triggerData any) (*models.ExecutionResult, error)

func (f HandlerFunc) ExecuteWorkflow(
	ctx context.Context,
	workflowID, executionID string,
	triggerData any,
) (*models.ExecutionResult, error) {
	return f(ctx, workflowID, executionID, triggerData)
}

type Options struct {
	WorkerID    string
	Concurrency int
	// ExtendInterval is how often the lock of a running job is renewed.
	ExtendInterval time.Duration
	// MaxBrokerBackoff caps the wait between reserve attempts while the broker is failing.
	MaxBrokerBackoff time.Duration
	Observer         Observer
	Tracer           trace.Tracer
}

func DefaultOptions() Options {
	return Options{
		Concurrency:      5,
		ExtendInterval:   queue.DefaultOptions().LockDuration / 2,
		MaxBrokerBackoff: 2 * time.Second,
	}
}

type Worker struct {
	queue   queue.Queue
	handler Handler
	opts    Options
	logger  *slog.Logger
}

func New(q queue.Queue, handler Handler, logger *slog.Logger, opts Options) *Worker {
	defaults := DefaultOptions()

	if opts.Concurrency <= 0 {
		opts.Concurrency = defaults.Concurrency
	}

	if opts.ExtendInterval <= 0 {
		opts.ExtendInterval = defaults.ExtendInterval
	}

	if opts.MaxBrokerBackoff <= 0 {
		opts.MaxBrokerBackoff = defaults.MaxBrokerBackoff
	}

	if opts.Tracer == nil {
		opts.Tracer = noop.NewTracerProvider().Tracer("worker")
	}

	logger = logger.With("module", "worker", "worker_id", opts.WorkerID)

	if opts.Observer == nil {
		opts.Observer = NewLogObserver(logger)
	}

	return &Worker{
		queue:   q,
		handler: handler,
		opts:    opts,
		logger:  logger,
	}
}

// Run reserves and processes jobs until ctx is cancelled or the queue is closed, then waits
// for in-flight jobs. A reserved job waits for a free slot while the pool is full.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.InfoContext(ctx, "Worker started", "concurrency", w.opts.Concurrency)

	group := new(errgroup.Group)
	group.SetLimit(w.opts.Concurrency)

	brokerBackoff := w.newBrokerBackoff()

	for ctx.Err() == nil {
		delivery, err := w.queue.Reserve(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrNoJob) {
				brokerBackoff.Reset()

				continue
			}

			if ctx.Err() != nil {
				break
			}

			if errors.Is(err, queue.ErrClosed) {
				w.logger.WarnContext(ctx, "Queue closed, stopping worker")

				break
			}

			w.opts.Observer.Error(ctx, fmt.Errorf("failed to reserve job: %w", err))
			w.sleep(ctx, brokerBackoff.NextBackOff())

			continue
		}

		brokerBackoff.Reset()

		// Jobs outlive the dispatch loop: no cancellation after pickup.
		jobCtx := context.WithoutCancel(ctx)
		stopExtending := w.keepLocked(jobCtx, delivery)

		group.Go(func() error {
			defer stopExtending()

			w.process(jobCtx, delivery)

			return nil
		})
	}

	w.logger.Info("Worker stopping, waiting for in-flight jobs")

	err := group.Wait()

	w.logger.Info("Worker stopped")

	return err
}

func (w *Worker) newBrokerBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = min(100*time.Millisecond, w.opts.MaxBrokerBackoff)
	b.MaxInterval = w.opts.MaxBrokerBackoff
	b.MaxElapsedTime = 0
	b.Reset()

	return b
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// keepLocked renews the delivery lock until the returned stop function is called.
func (w *Worker) keepLocked(ctx context.Context, delivery *queue.Delivery) func() {
	done := make(chan struct{})

	var wg sync.WaitGroup

	wg.Add(1)

	go func() {
		defer wg.Done()

		ticker := time.NewTicker(w.opts.ExtendInterval)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := w.queue.Extend(ctx, delivery); err != nil {
					w.logger.WarnContext(ctx, "Failed to extend job lock", "job_id", delivery.ID, "error", err)
				}
			}
		}
	}()

	return func() {
		close(done)
		wg.Wait()
	}
}

func (w *Worker) process(ctx context.Context, delivery *queue.Delivery) {
	job := delivery.Job

	ctx, span := otelhelper.StartSpan(ctx, w.opts.Tracer, "worker.process_job",
		attribute.String(otelhelper.JobIDKey, delivery.ID),
		attribute.Int(otelhelper.AttemptKey, delivery.Attempt),
		attribute.String(otelhelper.WorkflowIDKey, job.WorkflowID),
		attribute.String(otelhelper.ExecutionIDKey, job.ExecutionID),
		attribute.String(otelhelper.TriggerTypeKey, string(job.TriggerType)),
		attribute.String(otelhelper.WorkerIDKey, w.opts.WorkerID),
	)
	defer span.End()

	w.opts.Observer.Started(ctx, delivery)

	started := time.Now()
	result, err := w.execute(ctx, job)
	elapsed := time.Since(started)

	if err != nil {
		otelhelper.SetError(span, err)

		retrying, failErr := w.queue.Fail(ctx, delivery, err)
		if failErr != nil {
			w.opts.Observer.Error(ctx, fmt.Errorf("failed to record failure of job %s: %w", delivery.ID, failErr))
		}

		w.opts.Observer.Failed(ctx, delivery, err, retrying, elapsed)

		return
	}

	if err := w.queue.Complete(ctx, delivery, result); err != nil {
		w.opts.Observer.Error(ctx, fmt.Errorf("failed to complete job %s: %w", delivery.ID, err))
	}

	w.opts.Observer.Completed(ctx, delivery, result, elapsed)
}

// execute runs the handler, turning a panic into a job failure.
func (w *Worker) execute(ctx context.Context, job *models.Job) (result *models.ExecutionResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("workflow execution panicked: %v", r)
		}
	}()

	return w.handler.ExecuteWorkflow(ctx, job.WorkflowID, job.ExecutionID, job.TriggerData)
}

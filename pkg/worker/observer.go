package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/dukex/autoflow/pkg/eventbus"
	"github.com/dukex/autoflow/pkg/events"
	"github.com/dukex/autoflow/pkg/metrics"
	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/queue"
)

// Observer is notified of job outcomes. Implementations must be safe for concurrent use.
type Observer interface {
	Started(ctx context.Context, delivery *queue.Delivery)
	Completed(ctx context.Context, delivery *queue.Delivery, result *models.ExecutionResult, elapsed time.Duration)
	Failed(ctx context.Context, delivery *queue.Delivery, err error, retrying bool, elapsed time.Duration)
	// Error reports broker failures not attributable to a job outcome.
	Error(ctx context.Context, err error)
}

// Observers fans every notification out to each observer in order.
type Observers []Observer

func (o Observers) Started(ctx context.Context, delivery *queue.Delivery) {
	for _, observer := range o {
		observer.Started(ctx, delivery)
	}
}

func (o Observers) Completed(
	ctx context.Context,
	delivery *queue.Delivery,
	result *models.ExecutionResult,
	elapsed time.Duration,
) {
	for _, observer := range o {
		observer.Completed(ctx, delivery, result, elapsed)
	}
}

func (o Observers) Failed(ctx context.Context, delivery *queue.Delivery, err error, retrying bool, elapsed time.Duration) {
	for _, observer := range o {
		observer.Failed(ctx, delivery, err, retrying, elapsed)
	}
}

func (o Observers) Error(ctx context.Context, err error) {
	for _, observer := range o {
		observer.Error(ctx, err)
	}
}

type LogObserver struct {
	logger *slog.Logger
}

func NewLogObserver(logger *slog.Logger) *LogObserver {
	return &LogObserver{logger: logger}
}

func (o *LogObserver) with(delivery *queue.Delivery) *slog.Logger {
	return o.logger.With(
		"job_id", delivery.ID,
		"workflow_id", delivery.Job.WorkflowID,
		"execution_id", delivery.Job.ExecutionID,
		"attempt", delivery.Attempt,
	)
}

func (o *LogObserver) Started(ctx context.Context, delivery *queue.Delivery) {
	o.with(delivery).InfoContext(ctx, "Processing workflow job", "trigger_type", delivery.Job.TriggerType)
}

func (o *LogObserver) Completed(
	ctx context.Context,
	delivery *queue.Delivery,
	_ *models.ExecutionResult,
	elapsed time.Duration,
) {
	o.with(delivery).InfoContext(ctx, "Job completed", "duration", elapsed)
}

func (o *LogObserver) Failed(ctx context.Context, delivery *queue.Delivery, err error, retrying bool, elapsed time.Duration) {
	o.with(delivery).ErrorContext(ctx, "Job failed", "error", err, "retrying", retrying, "duration", elapsed)
}

func (o *LogObserver) Error(ctx context.Context, err error) {
	o.logger.ErrorContext(ctx, "Worker error", "error", err)
}

type MetricsObserver struct {
	metrics *metrics.Metrics
}

func NewMetricsObserver(m *metrics.Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) Started(context.Context, *queue.Delivery) {
	o.metrics.JobsStarted.Inc()
	o.metrics.JobsActive.Inc()
}

func (o *MetricsObserver) Completed(_ context.Context, _ *queue.Delivery, _ *models.ExecutionResult, elapsed time.Duration) {
	o.finish(metrics.OutcomeSuccess, elapsed)
}

func (o *MetricsObserver) Failed(_ context.Context, _ *queue.Delivery, _ error, retrying bool, elapsed time.Duration) {
	outcome := metrics.OutcomeFailed
	if retrying {
		outcome = metrics.OutcomeRetrying
	}

	o.finish(outcome, elapsed)
}

func (o *MetricsObserver) Error(context.Context, error) {
	o.metrics.WorkerErrors.Inc()
}

func (o *MetricsObserver) finish(outcome string, elapsed time.Duration) {
	o.metrics.JobsActive.Dec()
	o.metrics.JobsFinished.WithLabelValues(outcome).Inc()
	o.metrics.JobDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// EventObserver publishes job outcomes on the event bus keyed by workflow id.
// Publish failures are logged and never affect the job.
type EventObserver struct {
	bus      eventbus.EventPublisher
	workerID string
	logger   *slog.Logger
}

func NewEventObserver(bus eventbus.EventPublisher, workerID string, logger *slog.Logger) *EventObserver {
	return &EventObserver{
		bus:      bus,
		workerID: workerID,
		logger:   logger,
	}
}

func (o *EventObserver) base(eventType events.EventType, workflowID string) events.BaseEvent {
	base := events.NewBaseEvent(eventType, workflowID)
	base.WorkerID = o.workerID

	return base
}

func (o *EventObserver) Started(ctx context.Context, delivery *queue.Delivery) {
	o.publish(ctx, delivery.Job.WorkflowID, events.ExecutionStarted{
		BaseEvent:   o.base(events.ExecutionStartedEvent, delivery.Job.WorkflowID),
		ExecutionID: delivery.Job.ExecutionID,
		JobID:       delivery.ID,
		Attempt:     delivery.Attempt,
		TriggerType: delivery.Job.TriggerType,
	})
}

func (o *EventObserver) Completed(
	ctx context.Context,
	delivery *queue.Delivery,
	result *models.ExecutionResult,
	elapsed time.Duration,
) {
	o.publish(ctx, delivery.Job.WorkflowID, events.ExecutionCompleted{
		BaseEvent:   o.base(events.ExecutionCompletedEvent, delivery.Job.WorkflowID),
		ExecutionID: delivery.Job.ExecutionID,
		JobID:       delivery.ID,
		Result:      result,
		Duration:    elapsed,
	})
}

func (o *EventObserver) Failed(ctx context.Context, delivery *queue.Delivery, err error, retrying bool, elapsed time.Duration) {
	o.publish(ctx, delivery.Job.WorkflowID, events.ExecutionFailed{
		BaseEvent:   o.base(events.ExecutionFailedEvent, delivery.Job.WorkflowID),
		ExecutionID: delivery.Job.ExecutionID,
		JobID:       delivery.ID,
		Error:       err.Error(),
		Attempt:     delivery.Attempt,
		Retrying:    retrying,
		Duration:    elapsed,
	})
}

func (o *EventObserver) Error(ctx context.Context, err error) {
	o.publish(ctx, o.workerID, events.WorkerError{
		BaseEvent: o.base(events.WorkerErrorEvent, ""),
		Error:     err.Error(),
	})
}

func (o *EventObserver) publish(ctx context.Context, key string, event eventbus.Event) {
	if err := o.bus.Publish(ctx, key, event); err != nil {
		o.logger.WarnContext(ctx, "Failed to publish event", "event_type", event.GetType(), "error", err)
	}
}

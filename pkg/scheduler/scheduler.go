// Package scheduler queues workflow runs from TRIGGER nodes configured with a cron expression.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/persistence"
	"github.com/dukex/autoflow/pkg/services"
	"github.com/robfig/cron/v3"
)

// Queuer starts workflow runs. *services.Execution implements it.
type Queuer interface {
	QueueWorkflow(
		ctx context.Context,
		workflowID, userID string,
		triggerType models.TriggerType,
		triggerData any,
	) (*services.QueuedExecution, error)
}

// Schedule is one registered cron entry.
type Schedule struct {
	WorkflowID string
	NodeID     string
	UserID     string
	Cron       string

	entryID cron.EntryID
}

type Scheduler struct {
	persistence persistence.Persistence
	queuer      Queuer
	cron        *cron.Cron
	logger      *slog.Logger

	mu        sync.Mutex
	schedules map[string]*Schedule
}

func New(p persistence.Persistence, queuer Queuer, logger *slog.Logger) *Scheduler {
	logger = logger.With("module", "scheduler")
	cronLog := &cronLogger{logger: logger}

	return &Scheduler{
		persistence: p,
		queuer:      queuer,
		cron: cron.New(cron.WithChain(
			cron.SkipIfStillRunning(cronLog),
			cron.Recover(cronLog),
		), cron.WithLogger(cronLog)),
		logger:    logger,
		schedules: make(map[string]*Schedule),
	}
}

// ScheduleConfig extracts the cron expression of a schedule TRIGGER node.
func ScheduleConfig(node *models.Node) (string, bool) {
	if node.Type != models.NodeTypeTrigger {
		return "", false
	}

	triggerType, _ := node.Config["triggerType"].(string)
	if models.TriggerType(triggerType) != models.TriggerTypeSchedule {
		return "", false
	}

	expr, _ := node.Config["cron"].(string)

	return expr, expr != ""
}

// Sync makes the registered entries match the schedule nodes of all enabled workflows.
// Nodes with an invalid cron expression are logged and skipped.
func (s *Scheduler) Sync(ctx context.Context) error {
	workflows, err := s.persistence.WorkflowRepository().ListEnabled(ctx)
	if err != nil {
		return fmt.Errorf("failed to list enabled workflows: %w", err)
	}

	desired := make(map[string]*Schedule)

	for _, workflow := range workflows {
		for _, node := range workflow.Nodes {
			expr, ok := ScheduleConfig(node)
			if !ok {
				continue
			}

			desired[workflow.ID+"/"+node.ID] = &Schedule{
				WorkflowID: workflow.ID,
				NodeID:     node.ID,
				UserID:     workflow.UserID,
				Cron:       expr,
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, current := range s.schedules {
		want, ok := desired[key]
		if ok && want.Cron == current.Cron && want.UserID == current.UserID {
			delete(desired, key)

			continue
		}

		s.cron.Remove(current.entryID)
		delete(s.schedules, key)
		s.logger.InfoContext(ctx, "Removed schedule", "workflow_id", current.WorkflowID, "node_id", current.NodeID)
	}

	for key, schedule := range desired {
		entryID, err := s.cron.AddFunc(schedule.Cron, s.fire(schedule))
		if err != nil {
			s.logger.WarnContext(ctx, "Invalid cron expression, skipping schedule",
				"workflow_id", schedule.WorkflowID,
				"node_id", schedule.NodeID,
				"cron", schedule.Cron,
				"error", err,
			)

			continue
		}

		schedule.entryID = entryID
		s.schedules[key] = schedule
		s.logger.InfoContext(ctx, "Added schedule",
			"workflow_id", schedule.WorkflowID, "node_id", schedule.NodeID, "cron", schedule.Cron)
	}

	return nil
}

// Schedules returns a copy of the registered entries.
func (s *Scheduler) Schedules() []Schedule {
	s.mu.Lock()
	defer s.mu.Unlock()

	schedules := make([]Schedule, 0, len(s.schedules))
	for _, schedule := range s.schedules {
		schedules = append(schedules, *schedule)
	}

	return schedules
}

// Run syncs, starts the cron loop and resyncs every interval until ctx ends.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) error {
	if err := s.Sync(ctx); err != nil {
		return err
	}

	s.cron.Start()
	s.logger.InfoContext(ctx, "Scheduler started", "sync_interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			<-s.cron.Stop().Done()
			s.logger.Info("Scheduler stopped")

			return nil
		case <-ticker.C:
			if err := s.Sync(ctx); err != nil {
				s.logger.ErrorContext(ctx, "Failed to sync schedules", "error", err)
			}
		}
	}
}

func (s *Scheduler) fire(schedule *Schedule) func() {
	return func() {
		s.trigger(context.Background(), schedule, time.Now().UTC())
	}
}

func (s *Scheduler) trigger(ctx context.Context, schedule *Schedule, firedAt time.Time) {
	triggerData := map[string]any{
		"schedule": map[string]any{
			"cron":    schedule.Cron,
			"firedAt": firedAt.Format(time.RFC3339),
			"nodeId":  schedule.NodeID,
		},
	}

	queued, err := s.queuer.QueueWorkflow(ctx, schedule.WorkflowID, schedule.UserID, models.TriggerTypeSchedule, triggerData)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to queue scheduled workflow",
			"workflow_id", schedule.WorkflowID, "node_id", schedule.NodeID, "error", err)

		return
	}

	s.logger.InfoContext(ctx, "Scheduled workflow queued",
		"workflow_id", schedule.WorkflowID,
		"execution_id", queued.Execution.ID,
		"job_id", queued.JobID,
	)
}

// cronLogger routes cron's own logging to slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}

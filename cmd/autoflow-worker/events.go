package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dukex/autoflow/pkg/cmd"
	"github.com/dukex/autoflow/pkg/events"
	"github.com/dukex/autoflow/pkg/log"
	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"
)

var lifecycleEvents = []events.EventType{
	events.ExecutionStartedEvent,
	events.ExecutionCompletedEvent,
	events.ExecutionFailedEvent,
	events.WorkerErrorEvent,
}

func eventsCommand() *cli.Command {
	return &cli.Command{
		Name:  "events",
		Usage: "Print worker lifecycle events as JSON lines",
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:  "workflow-id",
				Usage: "Only print events of this workflow",
			},
		}, eventBusFlags()...),
		Action: func(ctx context.Context, command *cli.Command) error {
			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger := log.WithModule("events")

			// A fresh consumer group per tail so every running tail sees every event.
			bus, err := cmd.NewEventBus(
				command.String("event-bus"), command.StringSlice("kafka-brokers"), "autoflow-events-"+uuid.NewString()[:8], logger)
			if err != nil {
				return err
			}

			defer func() {
				if err := bus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			printer := newEventPrinter(os.Stdout, command.String("workflow-id"))
			for _, eventType := range lifecycleEvents {
				if err := bus.Handle(eventType, printer.handle); err != nil {
					return err
				}
			}

			if err := bus.Subscribe(ctx); err != nil {
				return fmt.Errorf("failed to subscribe: %w", err)
			}

			<-ctx.Done()

			return nil
		},
	}
}

// eventPrinter writes one JSON document per event.
type eventPrinter struct {
	mu         sync.Mutex
	encoder    *json.Encoder
	workflowID string
}

func newEventPrinter(w io.Writer, workflowID string) *eventPrinter {
	return &eventPrinter{encoder: json.NewEncoder(w), workflowID: workflowID}
}

func (p *eventPrinter) handle(_ context.Context, event any) error {
	if p.workflowID != "" {
		if e, ok := event.(interface{ GetWorkflowID() string }); ok && e.GetWorkflowID() != p.workflowID {
			return nil
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	return p.encoder.Encode(event)
}

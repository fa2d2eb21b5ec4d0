//go:build integration

package kafka_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/autoflow/pkg/channels/kafka"
	"github.com/dukex/autoflow/pkg/eventbus"
	"github.com/dukex/autoflow/pkg/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"
)

func TestKafkaEventBus_RoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	container, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0", tckafka.WithClusterID("test-cluster"))
	defer func() {
		assert.NoError(t, testcontainers.TerminateContainer(container))
	}()
	require.NoError(t, err)

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)

	pub, sub, err := kafka.CreateChannel(watermill.NewSlogLogger(slog.New(slog.DiscardHandler)), brokers, "test")
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub)
	defer func() {
		_ = bus.Close()
	}()

	received := make(chan *events.WorkerError, 1)

	require.NoError(t, bus.Handle(events.WorkerErrorEvent, func(_ context.Context, event any) error {
		received <- event.(*events.WorkerError)

		return nil
	}))
	require.NoError(t, bus.Subscribe(ctx))

	require.NoError(t, bus.Publish(ctx, "worker-1", events.WorkerError{
		BaseEvent: events.NewBaseEvent(events.WorkerErrorEvent, ""),
		Error:     "redis unavailable",
	}))

	select {
	case event := <-received:
		assert.Equal(t, "redis unavailable", event.Error)
	case <-ctx.Done():
		t.Fatal("event not delivered")
	}
}

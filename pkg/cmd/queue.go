package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/autoflow/pkg/queue"
	"github.com/dukex/autoflow/pkg/queue/memory"
	"github.com/dukex/autoflow/pkg/queue/redis"
)

// NewQueue picks the job queue from the URL scheme. memory:// keeps jobs in process and only
// works when producer and worker share it.
func NewQueue(ctx context.Context, logger *slog.Logger, queueURL string, opts queue.Options) (queue.Queue, error) {
	provider, _ := parseProvider(queueURL, "")

	switch provider {
	case "redis", "rediss":
		q, err := redis.NewFromURL(ctx, logger, queueURL, queue.DefaultName, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to create redis queue: %w", err)
		}

		return q, nil
	case "memory":
		return memory.New(opts), nil
	default:
		return nil, fmt.Errorf("unsupported queue provider: %q", provider)
	}
}

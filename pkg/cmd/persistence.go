// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/autoflow/pkg/persistence"
	"github.com/dukex/autoflow/pkg/persistence/file"
	"github.com/dukex/autoflow/pkg/persistence/postgresql"
)

// NewPersistence picks the store from the URL scheme: postgres:// or postgresql:// for PostgreSQL,
// file:// or a bare path for the JSON file store.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	provider, rest := parseProvider(databaseURL, "file")

	switch provider {
	case "postgres", "postgresql":
		p, err := postgresql.NewPersistence(ctx, logger.With("module", "postgresql"), databaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to create postgresql persistence: %w", err)
		}

		return p, nil
	case "file":
		return file.NewPersistence(rest), nil
	default:
		return nil, fmt.Errorf("unsupported persistence provider: %s", provider)
	}
}

// parseProvider splits "scheme://rest". Without a scheme the whole value is rest.
func parseProvider(url, fallback string) (string, string) {
	scheme, rest, found := strings.Cut(url, "://")
	if !found {
		return fallback, url
	}

	return strings.ToLower(scheme), rest
}

package registry

import (
	"log/slog"
	"net/http"

	"github.com/dukex/autoflow/pkg/actions/httprequest"
	logaction "github.com/dukex/autoflow/pkg/actions/log"
	"github.com/dukex/autoflow/pkg/actions/mock"
)

// NewDefault returns a registry with the built-in actions and the mock fallback.
func NewDefault(log *slog.Logger, client *http.Client) *Registry {
	r := NewRegistry(log)
	r.RegisterAction(httprequest.NewActionFactory(client))
	r.RegisterAction(logaction.NewActionFactory())
	r.RegisterFallback(mock.NewActionFactory())

	return r
}

// Package registry maps action types to the factories that implement them.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/protocol"
)

var ErrActionNotRegistered = errors.New("action type not registered")

type Registry struct {
	logger          *slog.Logger
	mu              sync.RWMutex
	actionFactories map[string]protocol.ActionFactory
	fallback        protocol.ActionFactory
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		logger:          log.With("module", "registry"),
		actionFactories: make(map[string]protocol.ActionFactory),
	}
}

func (r *Registry) RegisterAction(actionFactory protocol.ActionFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.actionFactories[actionFactory.ID()] = actionFactory
	r.logger.Debug("registered action", "action_type", actionFactory.ID())
}

// RegisterFallback sets the factory used for action types nothing else handles.
func (r *Registry) RegisterFallback(actionFactory protocol.ActionFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.fallback = actionFactory
}

// CreateAction builds the action for a parsed config, using the fallback for unknown types.
func (r *Registry) CreateAction(config models.ActionConfig) (protocol.Action, error) {
	r.mu.RLock()
	factory, ok := r.actionFactories[config.ActionType()]
	if !ok {
		factory = r.fallback
	}
	r.mu.RUnlock()

	if factory == nil {
		return nil, fmt.Errorf("action type '%s': %w", config.ActionType(), ErrActionNotRegistered)
	}

	return factory.Create(config)
}

// Actions returns the registered factories sorted by id. The fallback is not listed.
func (r *Registry) Actions() []protocol.ActionFactory {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factories := make([]protocol.ActionFactory, 0, len(r.actionFactories))
	for _, factory := range r.actionFactories {
		factories = append(factories, factory)
	}

	slices.SortFunc(factories, func(a, b protocol.ActionFactory) int {
		return strings.Compare(a.ID(), b.ID())
	})

	return factories
}

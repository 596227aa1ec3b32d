// SPDX-License-Identifier: MIT

// Package processor holds the registry of calculation handlers the stream
// client dispatches inbound requests to.
package processor

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/cyoda-platform/calcnode/internal/log"
)

// Handler processes one entity-calculation payload. Errors are logged by the
// registry and never propagate to the stream.
type Handler func(ctx context.Context, payload map[string]any) error

// CriteriaHandler evaluates one criteria-calculation payload and reports
// whether the entity matches.
type CriteriaHandler func(ctx context.Context, payload map[string]any) (bool, error)

// Registry maps processor names to handlers. Registration happens during
// startup; lookups are safe under concurrent dispatch.
type Registry struct {
	mu         sync.RWMutex
	processors map[string]Handler
	criteria   map[string]CriteriaHandler
	logger     zerolog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		processors: make(map[string]Handler),
		criteria:   make(map[string]CriteriaHandler),
		logger:     log.WithComponent("processor"),
	}
}

// RegisterProcessor adds or replaces the handler for name.
func (r *Registry) RegisterProcessor(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processors[name] = h
}

// RegisterCriteria adds or replaces the criteria handler for name.
func (r *Registry) RegisterCriteria(name string, h CriteriaHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.criteria[name] = h
}

// HasProcessor reports whether a handler is registered for name.
func (r *Registry) HasProcessor(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.processors[name]
	return ok
}

// Handle invokes the handler registered for name. Unknown processors are a
// no-op. Handler errors are logged here and returned for instrumentation
// only; callers proceed to reply regardless.
func (r *Registry) Handle(ctx context.Context, name string, payload map[string]any) error {
	r.mu.RLock()
	h, ok := r.processors[name]
	r.mu.RUnlock()
	if !ok {
		r.logger.Warn().Str(log.FieldProcessor, name).Msg("no handler registered, replying without processing")
		return nil
	}
	if err := h(ctx, payload); err != nil {
		r.logger.Error().Err(err).Str(log.FieldProcessor, name).Msg("handler failed")
		return err
	}
	return nil
}

// Evaluate invokes the criteria handler registered for name. Unknown handlers
// and handler errors evaluate to false.
func (r *Registry) Evaluate(ctx context.Context, name string, payload map[string]any) bool {
	r.mu.RLock()
	h, ok := r.criteria[name]
	r.mu.RUnlock()
	if !ok {
		r.logger.Warn().Str(log.FieldProcessor, name).Msg("no criteria handler registered")
		return false
	}
	matches, err := h(ctx, payload)
	if err != nil {
		r.logger.Error().Err(err).Str(log.FieldProcessor, name).Msg("criteria handler failed")
		return false
	}
	return matches
}

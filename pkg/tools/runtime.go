package tools

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Handler runs one tool invocation.
type Handler func(ctx context.Context, input map[string]interface{}, userID string) (interface{}, error)

// Runtime is the in-process Executor: a catalog plus handlers for the
// tools it registered.
type Runtime struct {
	catalog *Catalog
	logger  zerolog.Logger

	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRuntime creates a runtime bound to a catalog.
func NewRuntime(catalog *Catalog, logger zerolog.Logger) *Runtime {
	return &Runtime{
		catalog:  catalog,
		logger:   logger,
		handlers: make(map[string]Handler),
	}
}

// Register adds a tool definition together with its handler.
func (r *Runtime) Register(def Definition, handler Handler) error {
	if handler == nil {
		return fmt.Errorf("handler for tool %s is required", def.Name)
	}
	if err := r.catalog.Register(def); err != nil {
		return err
	}
	r.mu.Lock()
	r.handlers[def.Name] = handler
	r.mu.Unlock()
	return nil
}

// Execute runs a registered tool. Handler errors and panics become
// failed results, never crashes.
func (r *Runtime) Execute(ctx context.Context, name string, input map[string]interface{}, userID string) (result ExecutionResult) {
	r.mu.RLock()
	handler, ok := r.handlers[name]
	r.mu.RUnlock()
	if !ok {
		return ExecutionResult{Success: false, Error: fmt.Sprintf("tool %s is not registered", name)}
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error().
				Str("tool", name).
				Interface("panic", rec).
				Msg("Tool handler panicked")
			result = ExecutionResult{Success: false, Error: fmt.Sprintf("tool %s panicked: %v", name, rec)}
		}
	}()

	output, err := handler(ctx, input, userID)
	if err != nil {
		return ExecutionResult{Success: false, Error: err.Error()}
	}
	return ExecutionResult{Success: true, Output: output}
}

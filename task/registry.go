package task

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// HandlerFunc is a type-erased task handler accepting a raw JSON payload.
type HandlerFunc func(ctx context.Context, payload []byte) error

// Definition pairs a task type with a typed handler.
type Definition[T any] struct {
	Type    string
	Handler func(ctx context.Context, input T) error
}

// Registry maps task types to type-erased handler functions.
// Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewRegistry creates an empty task registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]HandlerFunc)}
}

// Register registers a raw handler for a task type.
func (r *Registry) Register(taskType string, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[taskType] = h
}

// RegisterDefinition registers a typed task definition. The generic
// handler is wrapped in a closure that JSON-unmarshals the payload into
// T before calling it. Package-level because Go does not allow generic
// methods on non-generic receivers.
func RegisterDefinition[T any](r *Registry, def *Definition[T]) {
	r.Register(def.Type, func(ctx context.Context, payload []byte) error {
		var t T
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &t); err != nil {
				return fmt.Errorf("unmarshal payload for task %q: %w", def.Type, err)
			}
		}
		return def.Handler(ctx, t)
	})
}

// Get returns the handler for the given task type.
func (r *Registry) Get(taskType string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[taskType]
	return h, ok
}

// Types returns all registered task types.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	return types
}

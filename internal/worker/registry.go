package worker

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"quantflow/internal/domain"
)

// ProgressFunc reports an intermediate phase of a running task. Percentages
// below the last reported value are ignored.
type ProgressFunc func(percent int, step string)

// Handler performs the analysis for one task type. The returned value is
// stored as the task's result_data; returning a domain.Result also links a
// history record.
type Handler interface {
	Handle(ctx context.Context, params json.RawMessage, progress ProgressFunc) (any, error)
}

type HandlerFunc func(ctx context.Context, params json.RawMessage, progress ProgressFunc) (any, error)

func (f HandlerFunc) Handle(ctx context.Context, params json.RawMessage, progress ProgressFunc) (any, error) {
	return f(ctx, params, progress)
}

// Registry resolves task types to handlers. It holds no business logic.
type Registry struct {
	mu       sync.RWMutex
	handlers map[domain.TaskType]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: map[domain.TaskType]Handler{}}
}

func (r *Registry) Register(t domain.TaskType, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[t] = h
}

func (r *Registry) Lookup(t domain.TaskType) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[t]
	if !ok {
		return nil, domain.UnknownTaskType(t)
	}
	return h, nil
}

func (r *Registry) Has(t domain.TaskType) bool {
	_, err := r.Lookup(t)
	return err == nil
}

func (r *Registry) Types() []domain.TaskType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]domain.TaskType, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

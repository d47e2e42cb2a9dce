package worker

import (
	"context"
	"sync"

	"github.com/toolforge/toolforge-be/internal/tooljob/domain"
)

// ToolProcessor executes one tool job. Implementations are registered per
// tool slug and own payload validation; the worker core treats input and
// output as opaque bytes.
type ToolProcessor interface {
	Execute(ctx context.Context, job *domain.ToolJob) ([]byte, error)
}

// ProcessorFunc adapts a function to the ToolProcessor interface
type ProcessorFunc func(ctx context.Context, job *domain.ToolJob) ([]byte, error)

// Execute implements ToolProcessor
func (f ProcessorFunc) Execute(ctx context.Context, job *domain.ToolJob) ([]byte, error) {
	return f(ctx, job)
}

// Registry maps tool slugs to their processors
type Registry struct {
	mu         sync.RWMutex
	processors map[string]ToolProcessor
}

// NewRegistry creates an empty Registry
func NewRegistry() *Registry {
	return &Registry{
		processors: make(map[string]ToolProcessor),
	}
}

// Register binds a processor to a tool slug, replacing any previous binding
func (r *Registry) Register(toolSlug string, processor ToolProcessor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processors[toolSlug] = processor
}

// Get returns the processor for a tool slug
func (r *Registry) Get(toolSlug string) (ToolProcessor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	processor, ok := r.processors[toolSlug]
	return processor, ok
}

// Slugs returns the registered tool slugs
func (r *Registry) Slugs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	slugs := make([]string, 0, len(r.processors))
	for slug := range r.processors {
		slugs = append(slugs, slug)
	}
	return slugs
}

// EchoProcessor returns the job input unchanged; a smoke-test tool for
// exercising the pipeline without a real processor.
func EchoProcessor() ToolProcessor {
	return ProcessorFunc(func(_ context.Context, job *domain.ToolJob) ([]byte, error) {
		return job.Input, nil
	})
}

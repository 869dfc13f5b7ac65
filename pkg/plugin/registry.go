package plugin

import (
	"sync"

	"github.com/logflow/eventpipe/pkg/errors"
)

// Registry maps plugin names to factories and their concurrency policy.
// Registration normally happens at startup; lookup is concurrent-safe.
type Registry struct {
	mu           sync.RWMutex
	transformers map[string]transformerEntry
	deliverers   map[string]delivererEntry
}

type transformerEntry struct {
	factory     TransformerFactory
	concurrency Concurrency
}

type delivererEntry struct {
	factory     DelivererFactory
	concurrency Concurrency
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		transformers: make(map[string]transformerEntry),
		deliverers:   make(map[string]delivererEntry),
	}
}

// RegisterTransformer adds a transform plugin. Re-registration replaces the
// previous entry.
func (r *Registry) RegisterTransformer(name string, c Concurrency, f TransformerFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transformers[name] = transformerEntry{factory: f, concurrency: c}
}

// RegisterDeliverer adds a sink plugin.
func (r *Registry) RegisterDeliverer(name string, c Concurrency, f DelivererFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliverers[name] = delivererEntry{factory: f, concurrency: c}
}

// Transformer looks up a transform plugin factory.
func (r *Registry) Transformer(name string) (TransformerFactory, Concurrency, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.transformers[name]
	if !ok {
		return nil, 0, errors.New(errors.CodeUnknownPlugin, "unknown transform plugin").
			WithContext("plugin", name)
	}
	return e.factory, e.concurrency, nil
}

// Deliverer looks up a sink plugin factory.
func (r *Registry) Deliverer(name string) (DelivererFactory, Concurrency, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.deliverers[name]
	if !ok {
		return nil, 0, errors.New(errors.CodeUnknownPlugin, "unknown sink plugin").
			WithContext("plugin", name)
	}
	return e.factory, e.concurrency, nil
}

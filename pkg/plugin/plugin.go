// Package plugin defines the narrow capability interfaces the engine
// depends on for transform and sink stages, plus the delegation layer that
// realizes each plugin's declared thread-safety policy.
//
// Dataset code sees only Transformer and Deliverer; concrete plugins of
// heterogeneous origin sit behind per-plugin adapters registered by name.
package plugin

import (
	"github.com/logflow/eventpipe/internal/model"
)

// Transformer is the capability of a transform stage: one batch in, one
// batch out. Apply is invoked at most once per computation cycle.
type Transformer interface {
	// Name returns the plugin identifier (e.g. "mutate", "drop").
	Name() string

	// Apply transforms a batch of events. It may return its input, a
	// subset, or entirely new events.
	Apply(events []*model.Event) ([]*model.Event, error)
}

// Flusher is the optional transform capability of holding events back and
// releasing them on flush cycles (aggregating or buffering transforms).
type Flusher interface {
	// Flush releases buffered events. final is true on the shutdown flush.
	Flush(final bool) ([]*model.Event, error)

	// PeriodicFlush reports whether timer-driven flush cycles should reach
	// this plugin, or only the final shutdown flush.
	PeriodicFlush() bool
}

// Deliverer is the capability of a sink stage. Sinks do not produce
// downstream events.
type Deliverer interface {
	// Name returns the plugin identifier (e.g. "stdout").
	Name() string

	// Deliver writes a batch of events to the sink's destination.
	Deliver(events []*model.Event) error
}

// Concurrency declares how one plugin instance may be used across workers.
type Concurrency int

const (
	// ConcurrencyShared marks a plugin safe for unsynchronized use from
	// every worker; one instance serves the whole pipeline.
	ConcurrencyShared Concurrency = iota

	// ConcurrencySingle marks a plugin that tolerates one caller at a
	// time; one instance serves the pipeline behind a lock.
	ConcurrencySingle

	// ConcurrencyPerWorker marks a plugin needing exclusive state; each
	// worker gets its own instance from the factory.
	ConcurrencyPerWorker
)

func (c Concurrency) String() string {
	switch c {
	case ConcurrencyShared:
		return "shared"
	case ConcurrencySingle:
		return "single"
	case ConcurrencyPerWorker:
		return "per-worker"
	default:
		return "unknown"
	}
}

// TransformerFactory builds a transform plugin from its options block.
type TransformerFactory func(options map[string]interface{}) (Transformer, error)

// DelivererFactory builds a sink plugin from its options block.
type DelivererFactory func(options map[string]interface{}) (Deliverer, error)

package dataset

import (
	"github.com/logflow/eventpipe/internal/model"
	"github.com/logflow/eventpipe/pkg/errors"
	"github.com/logflow/eventpipe/pkg/plugin"
)

// FilterDataset wraps one transform plugin. Per cycle it aggregates parent
// output into one input buffer, applies the plugin once, and memoizes the
// result. Flush cycles additionally drain the plugin's buffered state when
// the plugin has the Flusher capability.
type FilterDataset struct {
	arena   *Arena
	parents []int
	fn      plugin.Transformer
	flusher plugin.Flusher // nil when the plugin cannot flush

	done   bool
	input  []*model.Event
	output []*model.Event
}

// NewFilterDataset creates a filter node over already-compiled parents.
func NewFilterDataset(arena *Arena, parents []int, fn plugin.Transformer) *FilterDataset {
	f := &FilterDataset{arena: arena, parents: parents, fn: fn}
	if fl, ok := fn.(plugin.Flusher); ok {
		f.flusher = fl
	}
	return f
}

// Compute implements Dataset. A plugin failure aborts the batch.
func (f *FilterDataset) Compute(batch []*model.Event, flush, shutdown bool) ([]*model.Event, error) {
	if f.done {
		return f.output, nil
	}

	input, err := aggregateInputs(f.arena, f.parents, batch, flush, shutdown)
	if err != nil {
		return nil, err
	}
	f.input = input

	var output []*model.Event
	if len(input) > 0 {
		output, err = f.fn.Apply(input)
		if err != nil {
			return nil, errors.AbortBatch(err, f.fn.Name())
		}
	}

	// Flush reaches the plugin even with an empty input buffer, so
	// buffered state drains on timer cycles and on shutdown.
	if flush && f.flusher != nil && (shutdown || f.flusher.PeriodicFlush()) {
		flushed, err := f.flusher.Flush(shutdown)
		if err != nil {
			return nil, errors.AbortBatch(err, f.fn.Name())
		}
		output = append(output, flushed...)
	}

	f.output = output
	f.done = true
	return output, nil
}

// Clear releases the input and output buffers and re-arms Compute.
func (f *FilterDataset) Clear() {
	f.done = false
	f.input = nil
	f.output = nil
}

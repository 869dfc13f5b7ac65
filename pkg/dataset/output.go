package dataset

import (
	"github.com/logflow/eventpipe/internal/model"
	"github.com/logflow/eventpipe/pkg/errors"
	"github.com/logflow/eventpipe/pkg/plugin"
)

// OutputDataset wraps one sink plugin. Terminal outputs return no events;
// non-terminal outputs (tees) return their input so it can continue to a
// further consumer.
type OutputDataset struct {
	arena    *Arena
	parents  []int
	sink     plugin.Deliverer
	terminal bool

	done   bool
	output []*model.Event
}

// NewOutputDataset creates an output node over already-compiled parents.
func NewOutputDataset(arena *Arena, parents []int, sink plugin.Deliverer, terminal bool) *OutputDataset {
	return &OutputDataset{arena: arena, parents: parents, sink: sink, terminal: terminal}
}

// Compute implements Dataset. A delivery failure aborts the batch.
func (o *OutputDataset) Compute(batch []*model.Event, flush, shutdown bool) ([]*model.Event, error) {
	if o.done {
		return o.output, nil
	}

	input, err := aggregateInputs(o.arena, o.parents, batch, flush, shutdown)
	if err != nil {
		return nil, err
	}

	if len(input) > 0 {
		if err := o.sink.Deliver(input); err != nil {
			return nil, errors.AbortBatch(err, o.sink.Name())
		}
	}

	if !o.terminal {
		o.output = input
	}
	o.done = true
	return o.output, nil
}

// Clear implements Dataset.
func (o *OutputDataset) Clear() {
	o.done = false
	o.output = nil
}

// TerminalDataset forces computation of parents whose output no sink
// consumes, so unused branches still flow (and flush) every cycle. The
// compiler collapses it to a direct parent reference when only one parent
// needs forcing.
type TerminalDataset struct {
	arena   *Arena
	parents []int
	done    bool
}

// NewTerminalDataset creates a terminal over already-compiled parents.
func NewTerminalDataset(arena *Arena, parents []int) *TerminalDataset {
	return &TerminalDataset{arena: arena, parents: parents}
}

// Compute implements Dataset; results are discarded.
func (t *TerminalDataset) Compute(batch []*model.Event, flush, shutdown bool) ([]*model.Event, error) {
	if t.done {
		return nil, nil
	}
	for _, id := range t.parents {
		if _, err := t.arena.at(id).Compute(batch, flush, shutdown); err != nil {
			return nil, err
		}
	}
	t.done = true
	return nil, nil
}

// Clear implements Dataset.
func (t *TerminalDataset) Clear() {
	t.done = false
}

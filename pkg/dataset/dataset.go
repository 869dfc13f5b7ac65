// Package dataset implements the compiled computation graph: each IR vertex
// becomes a memoized per-cycle computation unit, assembled into an arena
// shared by one worker.
//
// Within one cycle (one top-level Compute with a given batch/flush/shutdown
// triple) every dataset executes its body at most once; later calls from
// other consumers return the memoized result. Clear resets the memoization
// and must run before the next cycle. Datasets are per-worker and need no
// internal locking.
package dataset

import (
	"github.com/logflow/eventpipe/internal/model"
)

// Dataset is the unit of compiled computation over one batch.
type Dataset interface {
	// Compute produces this node's output for the current cycle,
	// computing parents as needed. The returned slice is owned by the
	// dataset until Clear.
	Compute(batch []*model.Event, flush, shutdown bool) ([]*model.Event, error)

	// Clear drops memoized state. It is idempotent.
	Clear()
}

// ErrorListener receives per-event condition evaluation failures. The
// offending event is dropped from both branches and processing continues.
type ErrorListener func(e *model.Event, err error)

// Arena owns every dataset compiled for one worker, indexed by integer id.
// Parent links between datasets are index lists into the arena, so a vertex
// shared by several consumers is one node referenced by several id lists.
type Arena struct {
	nodes []Dataset
	roots []int
}

func (a *Arena) add(d Dataset) int {
	a.nodes = append(a.nodes, d)
	return len(a.nodes) - 1
}

func (a *Arena) at(id int) Dataset {
	return a.nodes[id]
}

// Size returns the number of datasets in the arena.
func (a *Arena) Size() int {
	return len(a.nodes)
}

// Roots returns the datasets that drive the whole graph: one per sink, plus
// at most one terminal forcing otherwise-unconsumed branches.
func (a *Arena) Roots() []Dataset {
	out := make([]Dataset, len(a.roots))
	for i, id := range a.roots {
		out[i] = a.nodes[id]
	}
	return out
}

// ClearAll clears every dataset. Order does not matter: Clear is idempotent
// and has no effect beyond dropping memoized state.
func (a *Arena) ClearAll() {
	for _, d := range a.nodes {
		d.Clear()
	}
}

// aggregateInputs computes every parent and concatenates their non-cancelled
// output into one input buffer.
func aggregateInputs(a *Arena, parents []int, batch []*model.Event, flush, shutdown bool) ([]*model.Event, error) {
	var input []*model.Event
	for _, id := range parents {
		out, err := a.at(id).Compute(batch, flush, shutdown)
		if err != nil {
			return nil, err
		}
		for _, e := range out {
			if !e.Cancelled() {
				input = append(input, e)
			}
		}
	}
	return input, nil
}

// rootDataset feeds the worker's batch into the graph. It is stateless: the
// batch passes through unchanged and consumers skip cancelled events.
type rootDataset struct{}

func (rootDataset) Compute(batch []*model.Event, _, _ bool) ([]*model.Event, error) {
	return batch, nil
}

func (rootDataset) Clear() {}

// Package execution selects how a worker drives its compiled dataset graph
// over one batch: all at once, or event by event when downstream ordering
// matters.
package execution

import (
	"fmt"
	"strings"

	"github.com/logflow/eventpipe/internal/model"
	"github.com/logflow/eventpipe/pkg/dataset"
	"github.com/logflow/eventpipe/pkg/errors"
)

// Mode selects a batch execution strategy.
type Mode int

const (
	// Unordered computes the whole batch through the graph in one cycle.
	// Events may interleave across branches; this is the fast default.
	Unordered Mode = iota

	// Ordered computes one event at a time, so events leave every sink in
	// exactly the order they entered the worker.
	Ordered
)

func (m Mode) String() string {
	switch m {
	case Unordered:
		return "unordered"
	case Ordered:
		return "ordered"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// ParseMode maps a configuration string to a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "unordered", "false":
		return Unordered, nil
	case "ordered", "true":
		return Ordered, nil
	}
	return Unordered, errors.New(errors.CodeInvalidConfig, "unknown ordering mode").
		WithContext("mode", s)
}

// ComputeFn runs one cycle of a worker's graph over a batch. The flush and
// shutdown flags are forwarded to every dataset in the cycle.
type ComputeFn func(batch []*model.Event, flush, shutdown bool) error

// Build returns the compute function for mode over the given arena. The
// arena must belong to a single worker; the returned function is not safe
// for concurrent use.
func Build(mode Mode, arena *dataset.Arena) ComputeFn {
	if mode == Ordered {
		return orderedCompute(arena)
	}
	return unorderedCompute(arena)
}

// unorderedCompute drives every root over the whole batch, then clears. A
// failing root aborts the cycle immediately; the arena is still cleared so
// the worker can terminate cleanly.
func unorderedCompute(arena *dataset.Arena) ComputeFn {
	return func(batch []*model.Event, flush, shutdown bool) error {
		defer arena.ClearAll()
		for _, root := range arena.Roots() {
			if _, err := root.Compute(batch, flush, shutdown); err != nil {
				return err
			}
		}
		return nil
	}
}

// orderedCompute drives the graph once per event with a singleton batch,
// clearing between events so each one observes a fresh cycle. A requested
// flush runs as one extra cycle over an empty batch after the last event,
// so buffering stages drain without an event riding along out of order.
func orderedCompute(arena *dataset.Arena) ComputeFn {
	single := make([]*model.Event, 1)
	return func(batch []*model.Event, flush, shutdown bool) error {
		defer arena.ClearAll()
		for _, e := range batch {
			single[0] = e
			for _, root := range arena.Roots() {
				if _, err := root.Compute(single, false, false); err != nil {
					return err
				}
			}
			arena.ClearAll()
		}
		if flush || shutdown {
			for _, root := range arena.Roots() {
				if _, err := root.Compute(nil, flush, shutdown); err != nil {
					return err
				}
			}
		}
		return nil
	}
}

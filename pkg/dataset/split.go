package dataset

import (
	"github.com/logflow/eventpipe/internal/model"
	"github.com/logflow/eventpipe/pkg/condition"
)

// splitRoot evaluates a fork condition over its parents' output and
// partitions events into the if and else buffers. Both branch views share
// one root, so the partition runs at most once per cycle no matter which
// branch is computed first.
type splitRoot struct {
	arena   *Arena
	parents []int
	cond    condition.Condition
	onError ErrorListener

	done    bool
	ifBuf   []*model.Event
	elseBuf []*model.Event
}

func (s *splitRoot) run(batch []*model.Event, flush, shutdown bool) error {
	if s.done {
		return nil
	}

	input, err := aggregateInputs(s.arena, s.parents, batch, flush, shutdown)
	if err != nil {
		return err
	}

	for _, e := range input {
		ok, err := s.cond.Evaluate(e)
		if err != nil {
			// A bad event must not abort the batch: report it and keep
			// going. The event lands in neither branch.
			if s.onError != nil {
				s.onError(e, err)
			}
			continue
		}
		if ok {
			s.ifBuf = append(s.ifBuf, e)
		} else {
			s.elseBuf = append(s.elseBuf, e)
		}
	}

	s.done = true
	return nil
}

func (s *splitRoot) clear() {
	s.done = false
	s.ifBuf = nil
	s.elseBuf = nil
}

// splitBranch is the Dataset view of one side of a split. Computing either
// view drives the shared root.
type splitBranch struct {
	root     *splitRoot
	accepted bool
}

func (b *splitBranch) Compute(batch []*model.Event, flush, shutdown bool) ([]*model.Event, error) {
	if err := b.root.run(batch, flush, shutdown); err != nil {
		return nil, err
	}
	if b.accepted {
		return b.root.ifBuf, nil
	}
	return b.root.elseBuf, nil
}

func (b *splitBranch) Clear() {
	b.root.clear()
}

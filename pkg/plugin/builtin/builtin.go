// Package builtin provides the stock transform and sink plugins and
// registers them on a registry. They are small by design: enough to run
// real pipelines and to exercise the engine in tests.
package builtin

import (
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/spf13/cast"

	"github.com/logflow/eventpipe/internal/model"
	"github.com/logflow/eventpipe/pkg/plugin"
)

// Register adds all built-in plugins to the registry.
func Register(r *plugin.Registry) {
	r.RegisterTransformer("mutate", plugin.ConcurrencyShared, newMutate)
	r.RegisterTransformer("drop", plugin.ConcurrencyShared, newDrop)
	r.RegisterTransformer("noop", plugin.ConcurrencyShared, newNoop)
	r.RegisterTransformer("aggregate_count", plugin.ConcurrencyPerWorker, newAggregateCount)
	r.RegisterDeliverer("stdout", plugin.ConcurrencySingle, newStdout)
	r.RegisterDeliverer("discard", plugin.ConcurrencyShared, newDiscard)
}

// mutate sets, renames, and removes fields.
type mutate struct {
	set    map[string]interface{}
	rename map[string]string
	remove []string
}

func newMutate(options map[string]interface{}) (plugin.Transformer, error) {
	m := &mutate{}
	if v, ok := options["set"]; ok {
		set, err := cast.ToStringMapE(v)
		if err != nil {
			return nil, err
		}
		m.set = set
	}
	if v, ok := options["rename"]; ok {
		rename, err := cast.ToStringMapStringE(v)
		if err != nil {
			return nil, err
		}
		m.rename = rename
	}
	if v, ok := options["remove"]; ok {
		remove, err := cast.ToStringSliceE(v)
		if err != nil {
			return nil, err
		}
		m.remove = remove
	}
	return m, nil
}

func (m *mutate) Name() string { return "mutate" }

func (m *mutate) Apply(events []*model.Event) ([]*model.Event, error) {
	for _, e := range events {
		for k, v := range m.set {
			e.SetField(k, v)
		}
		for from, to := range m.rename {
			if v, ok := e.Get(from); ok {
				e.RemoveField(from)
				e.SetField(to, v)
			}
		}
		for _, k := range m.remove {
			e.RemoveField(k)
		}
	}
	return events, nil
}

// drop cancels every event it sees. Routed behind a fork branch it removes
// the selected events from the stream.
type drop struct{}

func newDrop(map[string]interface{}) (plugin.Transformer, error) {
	return drop{}, nil
}

func (drop) Name() string { return "drop" }

func (drop) Apply(events []*model.Event) ([]*model.Event, error) {
	for _, e := range events {
		e.Cancel()
	}
	return events, nil
}

// noop passes events through untouched.
type noop struct{}

func newNoop(map[string]interface{}) (plugin.Transformer, error) {
	return noop{}, nil
}

func (noop) Name() string { return "noop" }

func (noop) Apply(events []*model.Event) ([]*model.Event, error) {
	return events, nil
}

// aggregateCount buffers events and emits one summary event per flush cycle
// carrying the buffered count. It exists mainly to exercise the periodic
// flush path end to end.
type aggregateCount struct {
	field string
	count int64
}

func newAggregateCount(options map[string]interface{}) (plugin.Transformer, error) {
	field := "count"
	if v, ok := options["field"]; ok {
		f, err := cast.ToStringE(v)
		if err != nil {
			return nil, err
		}
		field = f
	}
	return &aggregateCount{field: field}, nil
}

func (a *aggregateCount) Name() string { return "aggregate_count" }

func (a *aggregateCount) Apply(events []*model.Event) ([]*model.Event, error) {
	a.count += int64(len(events))
	return nil, nil
}

func (a *aggregateCount) Flush(final bool) ([]*model.Event, error) {
	if a.count == 0 && !final {
		return nil, nil
	}
	out := model.NewEvent(map[string]interface{}{a.field: a.count})
	a.count = 0
	return []*model.Event{out}, nil
}

func (a *aggregateCount) PeriodicFlush() bool { return true }

// stdout writes events as JSON lines. The writer is swappable for tests.
type stdout struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func newStdout(options map[string]interface{}) (plugin.Deliverer, error) {
	var w io.Writer = os.Stdout
	if v, ok := options["writer"]; ok {
		if iw, ok := v.(io.Writer); ok {
			w = iw
		}
	}
	return &stdout{enc: json.NewEncoder(w)}, nil
}

func (s *stdout) Name() string { return "stdout" }

func (s *stdout) Deliver(events []*model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range events {
		if err := s.enc.Encode(e.Fields()); err != nil {
			return err
		}
	}
	return nil
}

// discard swallows events; useful for benchmarks and tee targets.
type discard struct{}

func newDiscard(map[string]interface{}) (plugin.Deliverer, error) {
	return discard{}, nil
}

func (discard) Name() string { return "discard" }

func (discard) Deliver([]*model.Event) error { return nil }

package plugin

import (
	"sync"

	"github.com/logflow/eventpipe/internal/model"
)

// Pool hands out plugin instances to workers according to each plugin's
// concurrency policy:
//
//   - shared: one instance, returned to every worker as-is
//   - single: one instance behind a lock
//   - per-worker: a fresh instance per worker
//
// Instance construction for shared/single plugins happens once, on first
// request, regardless of worker count.
type Pool struct {
	mu       sync.Mutex
	shared   map[string]Transformer
	sharedD  map[string]Deliverer
	firstErr map[string]error
}

// NewPool creates an empty instance pool.
func NewPool() *Pool {
	return &Pool{
		shared:   make(map[string]Transformer),
		sharedD:  make(map[string]Deliverer),
		firstErr: make(map[string]error),
	}
}

// Transformer returns the instance to use for the given vertex: the pooled
// one for shared plugins, a fresh one otherwise. key must be unique per
// vertex (not per plugin name): two stages using the same plugin get
// independent instances.
func (p *Pool) Transformer(key string, c Concurrency, f TransformerFactory, options map[string]interface{}) (Transformer, error) {
	if c == ConcurrencyPerWorker {
		return f(options)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.firstErr[key]; err != nil {
		return nil, err
	}
	inst, ok := p.shared[key]
	if !ok {
		var err error
		inst, err = f(options)
		if err != nil {
			p.firstErr[key] = err
			return nil, err
		}
		if c == ConcurrencySingle {
			inst = newLockedTransformer(inst)
		}
		p.shared[key] = inst
	}
	return inst, nil
}

// Deliverer returns the sink instance for a vertex, mirroring Transformer.
func (p *Pool) Deliverer(key string, c Concurrency, f DelivererFactory, options map[string]interface{}) (Deliverer, error) {
	if c == ConcurrencyPerWorker {
		return f(options)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.firstErr[key]; err != nil {
		return nil, err
	}
	inst, ok := p.sharedD[key]
	if !ok {
		var err error
		inst, err = f(options)
		if err != nil {
			p.firstErr[key] = err
			return nil, err
		}
		if c == ConcurrencySingle {
			inst = &lockedDeliverer{inner: inst}
		}
		p.sharedD[key] = inst
	}
	return inst, nil
}

// lockedTransformer serializes all capability calls on a single-threaded
// plugin. The Flusher capability is preserved only when the inner plugin
// has it.
type lockedTransformer struct {
	mu    sync.Mutex
	inner Transformer
}

// lockedFlushableTransformer extends lockedTransformer with the Flusher
// capability, sharing the same lock.
type lockedFlushableTransformer struct {
	lockedTransformer
	flusher Flusher
}

func newLockedTransformer(inner Transformer) Transformer {
	if fl, ok := inner.(Flusher); ok {
		return &lockedFlushableTransformer{lockedTransformer: lockedTransformer{inner: inner}, flusher: fl}
	}
	return &lockedTransformer{inner: inner}
}

func (t *lockedTransformer) Name() string {
	return t.inner.Name()
}

func (t *lockedTransformer) Apply(events []*model.Event) ([]*model.Event, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inner.Apply(events)
}

func (t *lockedFlushableTransformer) Flush(final bool) ([]*model.Event, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.flusher.Flush(final)
}

func (t *lockedFlushableTransformer) PeriodicFlush() bool {
	return t.flusher.PeriodicFlush()
}

type lockedDeliverer struct {
	mu    sync.Mutex
	inner Deliverer
}

func (d *lockedDeliverer) Name() string {
	return d.inner.Name()
}

func (d *lockedDeliverer) Deliver(events []*model.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inner.Deliver(events)
}

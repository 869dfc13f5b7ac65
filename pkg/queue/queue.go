// Package queue provides the in-memory event queue feeding workers. Events
// enter one at a time and leave in acknowledged batches: a batch stays
// in-flight until the worker that read it closes it, so the shutdown watcher
// can see exactly how much work is still outstanding.
package queue

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/logflow/eventpipe/internal/model"
	"github.com/logflow/eventpipe/pkg/errors"
)

// Queue is a bounded in-memory event queue. Push blocks when the queue is
// full; ReadBatch blocks until at least one event is available.
type Queue struct {
	events   chan *model.Event
	done     chan struct{}
	inflight atomic.Int64
	closing  sync.Once
}

// New constructs a queue holding at most capacity events.
func New(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{
		events: make(chan *model.Event, capacity),
		done:   make(chan struct{}),
	}
}

// Push enqueues one event, blocking while the queue is full. It fails once
// the queue is closed or the context is cancelled.
func (q *Queue) Push(ctx context.Context, e *model.Event) error {
	select {
	case <-q.done:
		return errors.New(errors.CodeQueueClosed, "push on closed queue")
	default:
	}
	select {
	case q.events <- e:
		return nil
	case <-q.done:
		return errors.New(errors.CodeQueueClosed, "push on closed queue")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ReadBatch blocks until at least one event is available, then drains up to
// max events without further blocking. The returned batch counts as
// in-flight until Close is called on it. A nil batch with a nil error means
// the queue was closed and fully drained.
func (q *Queue) ReadBatch(ctx context.Context, max int) (*Batch, error) {
	if max < 1 {
		max = 1
	}

	var first *model.Event
	select {
	case first = <-q.events:
	case <-q.done:
		// Closed, but buffered events still drain.
		select {
		case first = <-q.events:
		default:
			return nil, nil
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	events := make([]*model.Event, 0, max)
	events = append(events, first)
	for len(events) < max {
		select {
		case e := <-q.events:
			events = append(events, e)
		default:
			return q.newBatch(events), nil
		}
	}
	return q.newBatch(events), nil
}

func (q *Queue) newBatch(events []*model.Event) *Batch {
	q.inflight.Add(int64(len(events)))
	return &Batch{
		id:     uuid.NewString(),
		queue:  q,
		events: events,
	}
}

// InFlight returns the number of events read but not yet acknowledged.
func (q *Queue) InFlight() int64 {
	return q.inflight.Load()
}

// Len returns the number of events waiting in the queue.
func (q *Queue) Len() int {
	return len(q.events)
}

// Close stops accepting pushes. Events already enqueued remain readable;
// ReadBatch returns nil once the queue drains.
func (q *Queue) Close() {
	q.closing.Do(func() { close(q.done) })
}

// Batch is a group of events read from the queue in one call. The reader
// owns it until Close acknowledges it; an aborted batch is never closed and
// stays in-flight.
type Batch struct {
	id     string
	queue  *Queue
	events []*model.Event
	closed atomic.Bool
}

// ID returns the batch's unique identifier, used in logs and dead letter
// records.
func (b *Batch) ID() string { return b.id }

// Events returns the events in the batch.
func (b *Batch) Events() []*model.Event { return b.events }

// Size returns the number of events in the batch.
func (b *Batch) Size() int { return len(b.events) }

// Close acknowledges the batch, removing its events from the in-flight
// count. Closing twice is a no-op.
func (b *Batch) Close() {
	if b.closed.CompareAndSwap(false, true) {
		b.queue.inflight.Add(-int64(len(b.events)))
	}
}

// Package worker runs compiled pipelines: each worker owns one dataset
// graph and loops over queue batches, while a periodic flusher and a
// shutdown watcher coordinate through shared atomic flags.
package worker

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/logflow/eventpipe/pkg/errors"
	"github.com/logflow/eventpipe/pkg/execution"
	"github.com/logflow/eventpipe/pkg/queue"
	"github.com/logflow/eventpipe/pkg/telemetry"
)

// State describes what a worker is doing right now. The shutdown watcher
// compares state vectors across intervals to detect stalls.
type State int32

const (
	// Idle means the worker is waiting for a batch.
	Idle State = iota
	// Processing means the worker is computing a batch through its graph.
	Processing
	// Flushing means the worker's current cycle carries the flush flag.
	Flushing
	// Terminating means the worker has left its loop.
	Terminating
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Processing:
		return "processing"
	case Flushing:
		return "flushing"
	case Terminating:
		return "terminating"
	}
	return "unknown"
}

// Counters aggregates event accounting across one worker's lifetime.
type Counters struct {
	Consumed atomic.Int64 // events read off the queue
	Filtered atomic.Int64 // events still live after the graph ran
	Batches  atomic.Int64 // batches completed and acknowledged
	Flushes  atomic.Int64 // flush cycles performed by this worker
}

// AbortHandler receives a batch the worker could not complete. The batch is
// never acknowledged; the handler may record it for redelivery.
type AbortHandler func(batch *queue.Batch, err error)

// Worker drives one compiled graph over queue batches until shutdown. Each
// worker owns its graph instance, so computation needs no locks; only the
// flags and plugin delegators are shared.
type Worker struct {
	ID        int
	Queue     *queue.Queue
	Compute   execution.ComputeFn
	Flags     *Flags
	BatchSize int
	// Poll bounds how long a worker waits for events before checking the
	// flush and shutdown flags again.
	Poll    time.Duration
	OnAbort AbortHandler
	Logger  *log.Logger

	state    atomic.Int32
	Counters Counters
}

// State returns the worker's current state.
func (w *Worker) State() State {
	return State(w.state.Load())
}

func (w *Worker) setState(s State) {
	w.state.Store(int32(s))
}

func (w *Worker) logger() *log.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return log.Default()
}

// Run loops until shutdown is requested and the queue has drained, then
// performs one final flushing cycle. A batch that fails mid-graph aborts
// the worker: the batch stays unacknowledged, the abort handler fires and
// Run returns the error.
func (w *Worker) Run(ctx context.Context) error {
	poll := w.Poll
	if poll <= 0 {
		poll = 250 * time.Millisecond
	}
	defer w.setState(Terminating)

	for {
		if w.Flags.ShuttingDown() {
			drained, err := w.drain(ctx)
			if err != nil {
				return err
			}
			if drained {
				return w.finalFlush()
			}
			continue
		}

		w.setState(Idle)
		readCtx, cancel := context.WithTimeout(ctx, poll)
		batch, err := w.Queue.ReadBatch(readCtx, w.BatchSize)
		cancel()
		switch {
		case err == context.DeadlineExceeded:
			// No events; a pending flush still has to run.
			if w.Flags.ConsumeFlush() {
				if ferr := w.flushCycle(); ferr != nil {
					return ferr
				}
			}
			continue
		case err == context.Canceled && ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			return err
		case batch == nil:
			// Queue closed and drained.
			return w.finalFlush()
		}

		if err := w.process(ctx, batch); err != nil {
			return err
		}
	}
}

// process computes one batch, folding in a pending flush when this worker
// claims it. On success the batch is acknowledged; on failure it is handed
// to the abort handler and left in-flight.
func (w *Worker) process(ctx context.Context, batch *queue.Batch) error {
	w.setState(Processing)
	ctx, span := telemetry.StartSpan(ctx, "worker.cycle", trace.WithAttributes(
		attribute.Int("worker.id", w.ID),
		attribute.String("batch.id", batch.ID()),
		attribute.Int("batch.size", batch.Size()),
	))
	defer span.End()

	flush := w.Flags.ConsumeFlush()
	if flush {
		w.setState(Flushing)
		telemetry.SetSpanAttributes(ctx, attribute.Bool("flush", true))
		defer w.Flags.FinishFlush()
	}

	if err := w.Compute(batch.Events(), flush, false); err != nil {
		telemetry.RecordError(ctx, err)
		w.abort(batch, err)
		return err
	}

	if flush {
		w.Counters.Flushes.Add(1)
	}
	w.Counters.Consumed.Add(int64(batch.Size()))
	var live int64
	for _, e := range batch.Events() {
		if !e.Cancelled() {
			live++
		}
	}
	w.Counters.Filtered.Add(live)
	w.Counters.Batches.Add(1)
	batch.Close()
	return nil
}

// flushCycle runs one flush over an empty batch.
func (w *Worker) flushCycle() error {
	w.setState(Flushing)
	defer w.Flags.FinishFlush()
	defer w.setState(Idle)
	if err := w.Compute(nil, true, false); err != nil {
		return err
	}
	w.Counters.Flushes.Add(1)
	return nil
}

// drain consumes remaining queue batches during shutdown. It reports true
// once the queue is empty. An abort during drain is returned as is: the
// plugin chain just failed, so no final flush is attempted against it.
func (w *Worker) drain(ctx context.Context) (bool, error) {
	readCtx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	batch, err := w.Queue.ReadBatch(readCtx, w.BatchSize)
	cancel()
	if err != nil || batch == nil {
		return true, nil
	}
	if err := w.process(ctx, batch); err != nil {
		return true, err
	}
	return false, nil
}

// finalFlush runs the terminal cycle: an empty batch with both the flush
// and shutdown flags raised, draining every buffering stage regardless of
// its periodic flush preference.
func (w *Worker) finalFlush() error {
	w.setState(Flushing)
	if err := w.Compute(nil, true, true); err != nil {
		w.logger().Printf("worker %d: final flush failed: %v", w.ID, err)
		return err
	}
	w.Counters.Flushes.Add(1)
	return nil
}

func (w *Worker) abort(batch *queue.Batch, err error) {
	w.logger().Printf("worker %d: aborting batch %s (%d events): %v",
		w.ID, batch.ID(), batch.Size(), err)
	if w.OnAbort != nil {
		w.OnAbort(batch, err)
	}
	if !errors.IsAbortedBatch(err) {
		w.logger().Printf("worker %d: abort cause is not a batch error: %v", w.ID, err)
	}
}

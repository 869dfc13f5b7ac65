// Package pipeline connects the compiled graph, the queue and the worker
// runtime into one running unit. It manages the lifecycle: workers and the
// periodic flusher while running, then the stall-aware watcher during
// shutdown.
package pipeline

import (
	"context"
	"log"
	"runtime"
	"sync"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/errgroup"

	"github.com/logflow/eventpipe/internal/model"
	"github.com/logflow/eventpipe/pkg/condition"
	"github.com/logflow/eventpipe/pkg/config"
	"github.com/logflow/eventpipe/pkg/dataset"
	"github.com/logflow/eventpipe/pkg/deadletter"
	"github.com/logflow/eventpipe/pkg/execution"
	"github.com/logflow/eventpipe/pkg/graph"
	"github.com/logflow/eventpipe/pkg/plugin"
	"github.com/logflow/eventpipe/pkg/queue"
	"github.com/logflow/eventpipe/pkg/telemetry"
	"github.com/logflow/eventpipe/pkg/worker"
)

// Options configures a pipeline.
type Options struct {
	Config   *config.Config
	Graph    *graph.Graph
	Registry *plugin.Registry

	// DeadLetters receives aborted batches. Nil discards them.
	DeadLetters deadletter.Store

	Metrics *telemetry.Metrics
	Logger  *log.Logger

	// Clock is used by the flusher and watcher; tests inject a mock.
	Clock clock.Clock
}

// Pipeline is one compiled, runnable pipeline instance.
type Pipeline struct {
	cfg     *config.Config
	logger  *log.Logger
	clk     clock.Clock
	metrics *telemetry.Metrics
	letters deadletter.Store

	queue   *queue.Queue
	flags   *worker.Flags
	workers []*worker.Worker
	flusher *worker.PeriodicFlusher

	mu           sync.Mutex
	watcher      *worker.ShutdownWatcher
	cancel       context.CancelFunc
	shutdownOnce sync.Once
}

// New compiles the graph into per-worker dataset arenas and wires the
// runtime. Conditions compile once into a cache shared by all workers;
// plugin instances are pooled according to each plugin's concurrency
// policy.
func New(opts Options) (*Pipeline, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	mode, err := execution.ParseMode(cfg.Engine.Ordered)
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewMetrics()
	}
	letters := opts.DeadLetters
	if letters == nil {
		letters = deadletter.Discard{}
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}

	n := cfg.Engine.Workers
	if n <= 0 {
		n = runtime.NumCPU()
	}

	p := &Pipeline{
		cfg:     cfg,
		logger:  logger,
		clk:     clk,
		metrics: metrics,
		letters: letters,
		queue:   queue.New(cfg.Engine.QueueCapacity),
		flags:   &worker.Flags{},
	}

	conditions := condition.NewCompiler()
	pool := plugin.NewPool()
	provider := &poolProvider{pool: pool, registry: opts.Registry}

	for i := 0; i < n; i++ {
		id := i
		// A condition casualty is dropped from both branches; the rest of
		// the batch continues, so the event itself goes to the dead letter
		// store rather than the whole batch.
		onError := func(e *model.Event, err error) {
			logger.Printf("worker %d: condition evaluation failed, event dropped: %v", id, err)
			rec := deadletter.FromEvent(e, id, err)
			if werr := letters.Write(context.Background(), rec); werr != nil {
				logger.Printf("dead letter write failed for dropped event: %v", werr)
			}
		}

		// Each worker gets its own arena, so computation inside the
		// graph is lock-free. Shared and single plugins come out of
		// the pool as the same underlying instance.
		c := dataset.NewCompiler(opts.Graph, conditions, provider, onError)
		arena, err := c.Compile()
		if err != nil {
			return nil, err
		}

		w := &worker.Worker{
			ID:        id,
			Queue:     p.queue,
			Compute:   execution.Build(mode, arena),
			Flags:     p.flags,
			BatchSize: cfg.Engine.BatchSize,
			Logger:    logger,
			OnAbort: func(batch *queue.Batch, cause error) {
				metrics.BatchesAborted.Add(1)
				rec := deadletter.FromBatch(batch, id, cause)
				if err := letters.Write(context.Background(), rec); err != nil {
					logger.Printf("dead letter write failed for batch %s: %v", batch.ID(), err)
				}
			},
		}
		p.workers = append(p.workers, w)
	}

	p.flusher = worker.NewPeriodicFlusher(cfg.Engine.FlushInterval.Std(), p.flags, clk, logger)
	return p, nil
}

// Push feeds one event into the pipeline.
func (p *Pipeline) Push(ctx context.Context, e *model.Event) error {
	if err := p.queue.Push(ctx, e); err != nil {
		return err
	}
	p.metrics.EventsIn.Add(1)
	return nil
}

// InFlight implements worker.ProgressSource.
func (p *Pipeline) InFlight() int64 {
	return p.queue.InFlight()
}

// WorkerStates implements worker.ProgressSource.
func (p *Pipeline) WorkerStates() []worker.State {
	states := make([]worker.State, len(p.workers))
	for i, w := range p.workers {
		states[i] = w.State()
	}
	return states
}

// Run blocks until every worker has terminated. Cancelling ctx starts an
// orderly shutdown; Shutdown does the same. The returned error is the first
// worker failure, or nil after a clean drain.
func (p *Pipeline) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	p.mu.Lock()
	p.cancel = cancel
	p.mu.Unlock()

	go p.flusher.Run()

	// Workers run on runCtx, not the errgroup context: a single worker
	// failure must not cancel its peers mid-batch. The monitor below turns
	// the errgroup cancellation into an orderly shutdown instead, so the
	// survivors drain the queue and run their final flush. Cancelling
	// runCtx is reserved for the watcher's forced termination.
	eg, egCtx := errgroup.WithContext(runCtx)
	for _, w := range p.workers {
		w := w
		eg.Go(func() error { return w.Run(runCtx) })
	}

	go func() {
		select {
		case <-ctx.Done():
		case <-egCtx.Done():
		}
		p.Shutdown()
	}()

	err := eg.Wait()
	cancel()
	// Shutdown has certainly been requested by now (the monitor fires at the
	// latest when Wait returns); calling it here makes that synchronous so
	// the watcher is visible below.
	p.Shutdown()
	p.flusher.Stop()

	p.mu.Lock()
	if p.watcher != nil {
		p.watcher.Stop()
	}
	p.mu.Unlock()

	p.collectCounters()
	p.metrics.Report(p.logger)
	return err
}

// Shutdown starts an orderly stop: the flusher halts, workers drain the
// queue and run their final flush, and the stall watcher begins observing.
// Safe to call more than once.
func (p *Pipeline) Shutdown() {
	p.shutdownOnce.Do(func() {
		p.logger.Printf("pipeline shutting down: %d events queued, %d in flight",
			p.queue.Len(), p.queue.InFlight())
		p.flags.RequestShutdown()
		p.queue.Close()

		p.mu.Lock()
		terminate := func() {
			p.mu.Lock()
			cancel := p.cancel
			p.mu.Unlock()
			if cancel != nil {
				cancel()
			}
		}
		p.watcher = worker.NewShutdownWatcher(
			p,
			p.cfg.Shutdown.CheckInterval.Std(),
			p.cfg.Shutdown.StallThreshold,
			p.cfg.Shutdown.Unsafe,
			terminate,
			p.clk,
			p.logger,
		)
		go p.watcher.Run()
		p.mu.Unlock()
	})
}

// collectCounters folds per-worker counters into the shared metrics.
func (p *Pipeline) collectCounters() {
	for _, w := range p.workers {
		p.metrics.EventsOut.Add(w.Counters.Consumed.Load())
		p.metrics.EventsFiltered.Add(w.Counters.Filtered.Load())
		p.metrics.BatchesOK.Add(w.Counters.Batches.Load())
		p.metrics.Flushes.Add(w.Counters.Flushes.Load())
	}
}

// poolProvider resolves graph vertices to pooled plugin instances.
type poolProvider struct {
	pool     *plugin.Pool
	registry *plugin.Registry
}

func (p *poolProvider) Transformer(v *graph.Vertex) (plugin.Transformer, error) {
	f, c, err := p.registry.Transformer(v.Plugin)
	if err != nil {
		return nil, err
	}
	return p.pool.Transformer(v.ID, c, f, v.Options)
}

func (p *poolProvider) Deliverer(v *graph.Vertex) (plugin.Deliverer, error) {
	f, c, err := p.registry.Deliverer(v.Plugin)
	if err != nil {
		return nil, err
	}
	return p.pool.Deliverer(v.ID, c, f, v.Options)
}

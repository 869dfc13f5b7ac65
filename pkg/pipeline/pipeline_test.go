package pipeline

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/logflow/eventpipe/internal/model"
	"github.com/logflow/eventpipe/pkg/config"
	"github.com/logflow/eventpipe/pkg/deadletter"
	"github.com/logflow/eventpipe/pkg/errors"
	"github.com/logflow/eventpipe/pkg/graph"
	"github.com/logflow/eventpipe/pkg/plugin"
	"github.com/logflow/eventpipe/pkg/telemetry"
)

// memorySink collects delivered events across workers.
type memorySink struct {
	mu     sync.Mutex
	events []*model.Event
	fail   error
}

func (s *memorySink) Name() string { return "memory" }

func (s *memorySink) Deliver(events []*model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.events = append(s.events, events...)
	return nil
}

func (s *memorySink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func testRegistry(sink *memorySink) *plugin.Registry {
	r := plugin.NewRegistry()
	r.RegisterTransformer("tag", plugin.ConcurrencyPerWorker, func(options map[string]interface{}) (plugin.Transformer, error) {
		return tagFilter{}, nil
	})
	r.RegisterDeliverer("memory", plugin.ConcurrencyShared, func(options map[string]interface{}) (plugin.Deliverer, error) {
		return sink, nil
	})
	return r
}

type tagFilter struct{}

func (tagFilter) Name() string { return "tag" }

func (tagFilter) Apply(events []*model.Event) ([]*model.Event, error) {
	for _, e := range events {
		e.SetField("tagged", true)
	}
	return events, nil
}

func testGraph(t *testing.T) *graph.Graph {
	t.Helper()
	g, err := graph.New([]*graph.Vertex{
		{ID: "tag", Kind: graph.KindStage, Plugin: "tag"},
		{ID: "out", Kind: graph.KindSink, Plugin: "memory"},
	}, []graph.Edge{{From: "tag", To: "out"}})
	if err != nil {
		t.Fatalf("graph: %v", err)
	}
	return g
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Engine.Workers = 2
	cfg.Engine.BatchSize = 4
	cfg.Engine.QueueCapacity = 64
	cfg.Engine.FlushInterval = config.Duration(50 * time.Millisecond)
	cfg.Shutdown.CheckInterval = config.Duration(20 * time.Millisecond)
	return cfg
}

func TestPipelineDeliversAllEvents(t *testing.T) {
	sink := &memorySink{}
	p, err := New(Options{
		Config:   testConfig(),
		Graph:    testGraph(t),
		Registry: testRegistry(sink),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	const n = 20
	for i := 0; i < n; i++ {
		if err := p.Push(context.Background(), model.NewEvent(map[string]interface{}{"seq": i})); err != nil {
			t.Fatalf("Push %d: %v", i, err)
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline never stopped")
	}

	if got := sink.len(); got != n {
		t.Errorf("delivered %d events; want %d", got, n)
	}
	if got := p.InFlight(); got != 0 {
		t.Errorf("InFlight = %d after drain; want 0", got)
	}
	for _, e := range sink.events {
		if v, _ := e.Get("tagged"); v != true {
			t.Fatal("event bypassed the transform stage")
		}
	}
}

func TestPipelineAbortRecordsDeadLetter(t *testing.T) {
	sink := &memorySink{
		fail: errors.New(errors.CodeDeliveryFailed, "endpoint gone"),
	}
	path := filepath.Join(t.TempDir(), "dead.jsonl")
	store, err := deadletter.NewFileStore(path, 0)
	if err != nil {
		t.Fatal(err)
	}

	p, err := New(Options{
		Config:      testConfig(),
		Graph:       testGraph(t),
		Registry:    testRegistry(sink),
		DeadLetters: store,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	if err := p.Push(context.Background(), model.NewEvent(map[string]interface{}{"seq": 0})); err != nil {
		t.Fatalf("Push: %v", err)
	}

	select {
	case err := <-done:
		if !errors.IsAbortedBatch(err) {
			t.Fatalf("Run error = %v; want aborted batch", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline never stopped after abort")
	}

	store.Close()
	r, err := deadletter.NewReader(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	records, err := r.ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Fatalf("dead letters = %d; want 1", len(records))
	}
	if records[0].ErrorCode != string(errors.CodeAbortedBatch) {
		t.Errorf("error code = %q", records[0].ErrorCode)
	}
	if len(records[0].Events) != 1 {
		t.Errorf("dead letter carries %d events; want 1", len(records[0].Events))
	}
}

// poisonSink rejects the delivery that carries a marked event and accepts
// everything else.
type poisonSink struct {
	mu     sync.Mutex
	events []*model.Event
}

func (s *poisonSink) Name() string { return "memory" }

func (s *poisonSink) Deliver(events []*model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range events {
		if v, _ := e.Get("poison"); v == true {
			return errors.New(errors.CodeDeliveryFailed, "poison event")
		}
	}
	s.events = append(s.events, events...)
	return nil
}

func (s *poisonSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestPipelineWorkerFailureDrainsPeers(t *testing.T) {
	sink := &poisonSink{}
	r := plugin.NewRegistry()
	r.RegisterDeliverer("memory", plugin.ConcurrencyShared, func(options map[string]interface{}) (plugin.Deliverer, error) {
		return sink, nil
	})
	g, err := graph.New([]*graph.Vertex{
		{ID: "out", Kind: graph.KindSink, Plugin: "memory"},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	cfg := testConfig()
	cfg.Engine.BatchSize = 1 // the poison event rides in its own batch
	metrics := telemetry.NewMetrics()
	p, err := New(Options{
		Config:   cfg,
		Graph:    g,
		Registry: r,
		Metrics:  metrics,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := p.Push(context.Background(), model.NewEvent(map[string]interface{}{"poison": true})); err != nil {
		t.Fatalf("Push: %v", err)
	}
	const n = 10
	for i := 0; i < n; i++ {
		if err := p.Push(context.Background(), model.NewEvent(map[string]interface{}{"seq": i})); err != nil {
			t.Fatalf("Push %d: %v", i, err)
		}
	}

	// No external cancellation: the only shutdown trigger is the worker
	// that aborts on the poison batch. Its peer must still drain the queue
	// and run the terminal flush.
	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background()) }()

	select {
	case err := <-done:
		if !errors.IsAbortedBatch(err) {
			t.Fatalf("Run = %v; want aborted batch", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline never stopped after worker failure")
	}

	if got := sink.len(); got != n {
		t.Errorf("delivered %d events; want %d drained by the surviving worker", got, n)
	}
	if got := p.InFlight(); got != 1 {
		t.Errorf("InFlight = %d; want 1 (poison batch unacknowledged)", got)
	}
	if got := metrics.Snapshot().Flushes; got < 1 {
		t.Errorf("flushes = %d; want the survivor's terminal flush", got)
	}
}

func TestPipelineConditionCasualtyRecorded(t *testing.T) {
	sink := &memorySink{}
	r := plugin.NewRegistry()
	r.RegisterDeliverer("memory", plugin.ConcurrencyShared, func(options map[string]interface{}) (plugin.Deliverer, error) {
		return sink, nil
	})
	g, err := graph.New([]*graph.Vertex{
		{ID: "split", Kind: graph.KindFork, When: &graph.Comparison{
			Op:    graph.OpLt,
			Left:  graph.FieldRef{Name: "size"},
			Right: graph.Literal{Value: 10},
		}},
		{ID: "out", Kind: graph.KindSink, Plugin: "memory"},
	}, []graph.Edge{
		{From: "split", To: "out", Branch: graph.BranchTrue},
		{From: "split", To: "out", Branch: graph.BranchFalse},
	})
	if err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "dead.jsonl")
	store, err := deadletter.NewFileStore(path, 0)
	if err != nil {
		t.Fatal(err)
	}

	p, err := New(Options{
		Config:      testConfig(),
		Graph:       g,
		Registry:    r,
		DeadLetters: store,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	// size=true cannot be compared numerically; that event is dropped from
	// both branches while its siblings keep flowing.
	for _, fields := range []map[string]interface{}{
		{"size": 5},
		{"size": true},
		{"size": 20},
	} {
		if err := p.Push(context.Background(), model.NewEvent(fields)); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline never stopped")
	}

	if got := sink.len(); got != 2 {
		t.Errorf("delivered %d events; want 2", got)
	}

	store.Close()
	rd, err := deadletter.NewReader(path)
	if err != nil {
		t.Fatal(err)
	}
	defer rd.Close()
	records, err := rd.ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Fatalf("dead letters = %d; want 1", len(records))
	}
	rec := records[0]
	if rec.ErrorCode != string(errors.CodeConditionEval) {
		t.Errorf("error code = %q; want %s", rec.ErrorCode, errors.CodeConditionEval)
	}
	if rec.BatchID != "" {
		t.Errorf("batch id = %q; want empty for a single-event record", rec.BatchID)
	}
	if len(rec.Events) != 1 {
		t.Fatalf("record carries %d events; want 1", len(rec.Events))
	}
	if v, ok := rec.Events[0]["size"]; !ok || v != true {
		t.Errorf("recorded fields = %v; want the offending event", rec.Events[0])
	}
}

func TestPipelineRejectsUnknownPlugin(t *testing.T) {
	g, err := graph.New([]*graph.Vertex{
		{ID: "out", Kind: graph.KindSink, Plugin: "nonexistent"},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	_, err = New(Options{
		Config:   testConfig(),
		Graph:    g,
		Registry: plugin.NewRegistry(),
	})
	if !errors.IsCode(err, errors.CodeUnknownPlugin) {
		t.Errorf("New = %v; want unknown plugin error", err)
	}
}

func TestPipelineSharedSinkIsOneInstance(t *testing.T) {
	sink := &memorySink{}
	p, err := New(Options{
		Config:   testConfig(),
		Graph:    testGraph(t),
		Registry: testRegistry(sink),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	// Both worker arenas compiled against the same shared sink; the
	// factory result above is the only instance, so any delivery lands
	// in it. Compile succeeding with 2 workers is the contract here.
	if got := len(p.workers); got != 2 {
		t.Fatalf("workers = %d; want 2", got)
	}
}

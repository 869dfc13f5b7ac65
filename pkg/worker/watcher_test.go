package worker

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

// stubProgress is a controllable ProgressSource.
type stubProgress struct {
	mu       sync.Mutex
	inflight int64
	states   []State
}

func (s *stubProgress) InFlight() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflight
}

func (s *stubProgress) WorkerStates() []State {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]State, len(s.states))
	copy(out, s.states)
	return out
}

func (s *stubProgress) set(inflight int64, states ...State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight = inflight
	s.states = states
}

func tick(clk *clock.Mock, n int) {
	for i := 0; i < n; i++ {
		clk.Add(time.Second)
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWatcherForcesTerminationAfterStall(t *testing.T) {
	src := &stubProgress{}
	src.set(10, Processing, Idle)
	clk := clock.NewMock()

	var terminated atomic.Int32
	w := NewShutdownWatcher(src, time.Second, 3, true, func() {
		terminated.Add(1)
	}, clk, discardLogger())

	done := make(chan struct{})
	go func() { w.Run(); close(done) }()
	time.Sleep(10 * time.Millisecond)

	tick(clk, 2)
	if terminated.Load() != 0 {
		t.Fatal("terminated before reaching the stall threshold")
	}

	tick(clk, 1)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not exit after forcing termination")
	}
	if got := terminated.Load(); got != 1 {
		t.Errorf("terminate ran %d times; want 1", got)
	}
}

func TestWatcherProgressResetsStallCounter(t *testing.T) {
	src := &stubProgress{}
	src.set(10, Processing)
	clk := clock.NewMock()

	var terminated atomic.Int32
	w := NewShutdownWatcher(src, time.Second, 3, true, func() {
		terminated.Add(1)
	}, clk, discardLogger())

	go w.Run()
	defer w.Stop()
	time.Sleep(10 * time.Millisecond)

	// Two stalled intervals, then progress.
	tick(clk, 2)
	src.set(7, Processing)
	tick(clk, 1)

	// Two more stalled intervals: still under the threshold because the
	// counter was reset.
	tick(clk, 2)
	if terminated.Load() != 0 {
		t.Error("terminated despite intervening progress")
	}

	// Now stall long enough.
	tick(clk, 1)
	waitFor(t, func() bool { return terminated.Load() == 1 }, "forced termination after real stall")
}

func TestWatcherStateChangeCountsAsProgress(t *testing.T) {
	src := &stubProgress{}
	src.set(5, Processing, Processing)
	clk := clock.NewMock()

	var terminated atomic.Int32
	w := NewShutdownWatcher(src, time.Second, 2, true, func() {
		terminated.Add(1)
	}, clk, discardLogger())

	go w.Run()
	defer w.Stop()
	time.Sleep(10 * time.Millisecond)

	// Same in-flight count, but the state vector keeps changing.
	tick(clk, 1)
	src.set(5, Flushing, Processing)
	tick(clk, 1)
	src.set(5, Processing, Flushing)
	tick(clk, 1)

	if terminated.Load() != 0 {
		t.Error("state transitions were not treated as progress")
	}
}

func TestWatcherSafeModeNeverTerminates(t *testing.T) {
	src := &stubProgress{}
	src.set(10, Processing)
	clk := clock.NewMock()

	var terminated atomic.Int32
	w := NewShutdownWatcher(src, time.Second, 2, false, func() {
		terminated.Add(1)
	}, clk, discardLogger())

	done := make(chan struct{})
	go func() { w.Run(); close(done) }()
	time.Sleep(10 * time.Millisecond)

	tick(clk, 6)
	if terminated.Load() != 0 {
		t.Error("safe watcher invoked forced termination")
	}
	select {
	case <-done:
		t.Error("safe watcher exited while shutdown was stalled")
	default:
	}

	w.Stop()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

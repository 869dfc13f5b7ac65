package worker

import (
	"log"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// ProgressSource exposes the pipeline's observable progress: events still
// in-flight and the state of every worker.
type ProgressSource interface {
	InFlight() int64
	WorkerStates() []State
}

// snapshot is one observation of the pipeline's progress. Two snapshots are
// equal only when both the in-flight count and every worker state match.
type snapshot struct {
	inflight int64
	states   []State
}

func (s snapshot) equal(o snapshot) bool {
	if s.inflight != o.inflight || len(s.states) != len(o.states) {
		return false
	}
	for i := range s.states {
		if s.states[i] != o.states[i] {
			return false
		}
	}
	return true
}

// ShutdownWatcher observes shutdown progress and escalates when it stalls.
// Identical consecutive snapshots increment a stall counter; any progress
// resets it. Past the threshold a safe watcher only logs and keeps waiting,
// while an unsafe one invokes the termination callback exactly once.
type ShutdownWatcher struct {
	source    ProgressSource
	interval  time.Duration
	threshold int
	unsafe    bool
	terminate func()
	clk       clock.Clock
	logger    *log.Logger

	once     sync.Once
	stopOnce sync.Once
	stop     chan struct{}
}

// NewShutdownWatcher builds a watcher. terminate runs at most once, and only
// when unsafe mode is enabled.
func NewShutdownWatcher(source ProgressSource, interval time.Duration, threshold int, unsafe bool, terminate func(), clk clock.Clock, logger *log.Logger) *ShutdownWatcher {
	if interval <= 0 {
		interval = time.Second
	}
	if threshold < 1 {
		threshold = 5
	}
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = log.Default()
	}
	return &ShutdownWatcher{
		source:    source,
		interval:  interval,
		threshold: threshold,
		unsafe:    unsafe,
		terminate: terminate,
		clk:       clk,
		logger:    logger,
		stop:      make(chan struct{}),
	}
}

// Run observes until Stop is called or, in unsafe mode, until a stall forces
// termination. It is meant to run in its own goroutine for the duration of
// shutdown.
func (w *ShutdownWatcher) Run() {
	ticker := w.clk.Ticker(w.interval)
	defer ticker.Stop()

	last := w.observe()
	stalls := 0
	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
		}

		cur := w.observe()
		if cur.equal(last) {
			stalls++
		} else {
			stalls = 0
			last = cur
		}
		if stalls < w.threshold {
			continue
		}

		if !w.unsafe {
			w.logger.Printf("shutdown stalled for %s: %d events in flight, states %v; waiting for safe termination",
				time.Duration(stalls)*w.interval, cur.inflight, cur.states)
			continue
		}

		w.logger.Printf("shutdown stalled for %s with %d events in flight; forcing termination, in-flight events may be lost",
			time.Duration(stalls)*w.interval, cur.inflight)
		w.forceTerminate()
		return
	}
}

// Stop ends observation; call it once shutdown completes normally.
func (w *ShutdownWatcher) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
}

func (w *ShutdownWatcher) observe() snapshot {
	states := w.source.WorkerStates()
	copied := make([]State, len(states))
	copy(copied, states)
	return snapshot{inflight: w.source.InFlight(), states: copied}
}

func (w *ShutdownWatcher) forceTerminate() {
	w.once.Do(func() {
		if w.terminate != nil {
			w.terminate()
		}
	})
}

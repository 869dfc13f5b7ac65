package worker

import (
	"log"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// DefaultFlushInterval is used when configuration does not set one.
const DefaultFlushInterval = 5 * time.Second

// PeriodicFlusher raises the shared flush flag at a fixed interval. Ticks
// that fire while a previous flush is still running are dropped, so flushes
// never pile up behind a slow cycle.
type PeriodicFlusher struct {
	interval time.Duration
	flags    *Flags
	clk      clock.Clock
	logger   *log.Logger

	stopOnce sync.Once
	stop     chan struct{}
	stopped  chan struct{}
}

// NewPeriodicFlusher builds a flusher over the shared flags. A nil clk uses
// the wall clock; tests inject a mock.
func NewPeriodicFlusher(interval time.Duration, flags *Flags, clk clock.Clock, logger *log.Logger) *PeriodicFlusher {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = log.Default()
	}
	return &PeriodicFlusher{
		interval: interval,
		flags:    flags,
		clk:      clk,
		logger:   logger,
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// Run ticks until Stop is called. It is meant to run in its own goroutine.
func (p *PeriodicFlusher) Run() {
	defer close(p.stopped)
	ticker := p.clk.Ticker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if !p.flags.RequestFlush() {
				p.logger.Printf("flush tick skipped: previous flush still running")
			}
		case <-p.stop:
			return
		}
	}
}

// Stop terminates the ticking loop and waits for it to exit, giving up
// after one interval so a wedged goroutine cannot block shutdown.
func (p *PeriodicFlusher) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
	select {
	case <-p.stopped:
	case <-p.clk.After(p.interval):
		p.logger.Printf("flusher did not stop within %s", p.interval)
	}
}

package worker

import (
	"log"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func TestPeriodicFlusherRaisesFlagEachInterval(t *testing.T) {
	flags := &Flags{}
	clk := clock.NewMock()
	f := NewPeriodicFlusher(time.Second, flags, clk, discardLogger())

	go f.Run()
	defer f.Stop()
	time.Sleep(10 * time.Millisecond) // let Run install its ticker

	clk.Add(time.Second)
	waitFor(t, func() bool { return flags.ConsumeFlush() }, "flush requested after first tick")
	flags.FinishFlush()

	clk.Add(time.Second)
	waitFor(t, func() bool { return flags.ConsumeFlush() }, "flush requested after second tick")
	flags.FinishFlush()
}

func TestPeriodicFlusherSkipsTickDuringActiveFlush(t *testing.T) {
	flags := &Flags{}
	clk := clock.NewMock()
	f := NewPeriodicFlusher(time.Second, flags, clk, discardLogger())

	go f.Run()
	defer f.Stop()
	time.Sleep(10 * time.Millisecond)

	clk.Add(time.Second)
	waitFor(t, func() bool { return flags.ConsumeFlush() }, "first tick requested a flush")

	// The flush is consumed but not finished: further ticks must be
	// dropped, not queued.
	clk.Add(time.Second)
	clk.Add(time.Second)
	time.Sleep(10 * time.Millisecond)
	if flags.ConsumeFlush() {
		t.Error("tick queued a second flush while the first was running")
	}

	flags.FinishFlush()
	clk.Add(time.Second)
	waitFor(t, func() bool { return flags.ConsumeFlush() }, "flushing resumed after FinishFlush")
}

func TestPeriodicFlusherStopIsIdempotent(t *testing.T) {
	flags := &Flags{}
	clk := clock.NewMock()
	f := NewPeriodicFlusher(time.Second, flags, clk, discardLogger())

	go f.Run()
	time.Sleep(10 * time.Millisecond)
	f.Stop()
	f.Stop()
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting: %s", what)
}

var (
	discardOnce sync.Once
	discard     *log.Logger
)

func discardLogger() *log.Logger {
	discardOnce.Do(func() {
		discard = log.New(nopWriter{}, "", 0)
	})
	return discard
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

package worker

import "sync/atomic"

// Flags carries the flush and shutdown signals shared by every worker of a
// pipeline. All access is atomic; flags are written by the flusher and the
// shutdown path and read inside worker loops.
type Flags struct {
	// flushing is held from the moment a flush is requested until the
	// worker that performed it reports completion. It makes periodic
	// flushes single-flight: a tick that fires while the previous flush
	// is still running is skipped.
	flushing       atomic.Bool
	flushRequested atomic.Bool
	shutdown       atomic.Bool
}

// RequestFlush asks for one flush cycle. It reports false when a previous
// flush has not completed yet, in which case the request is dropped.
func (f *Flags) RequestFlush() bool {
	if !f.flushing.CompareAndSwap(false, true) {
		return false
	}
	f.flushRequested.Store(true)
	return true
}

// ConsumeFlush claims a pending flush request. Exactly one caller observes
// true per request; that caller must invoke FinishFlush after its cycle.
func (f *Flags) ConsumeFlush() bool {
	return f.flushRequested.CompareAndSwap(true, false)
}

// FinishFlush marks the in-progress flush as complete, re-arming
// RequestFlush.
func (f *Flags) FinishFlush() {
	f.flushing.Store(false)
}

// FlushInProgress reports whether a flush has been requested or is running.
func (f *Flags) FlushInProgress() bool {
	return f.flushing.Load()
}

// RequestShutdown signals every worker to finish its current batch, run a
// final flush and stop. It cannot be undone.
func (f *Flags) RequestShutdown() {
	f.shutdown.Store(true)
}

// ShuttingDown reports whether shutdown has been requested.
func (f *Flags) ShuttingDown() bool {
	return f.shutdown.Load()
}

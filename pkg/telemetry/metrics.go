package telemetry

import (
	"encoding/json"
	"log"
	"sync/atomic"
	"time"
)

// Metrics aggregates engine counters. All fields are updated atomically by
// workers and read by reporters; a Metrics value must not be copied.
type Metrics struct {
	EventsIn       atomic.Int64 // events accepted into the queue
	EventsOut      atomic.Int64 // events completing the graph
	EventsFiltered atomic.Int64 // events still live after filter stages ran
	BatchesOK      atomic.Int64 // batches acknowledged
	BatchesAborted atomic.Int64 // batches handed to the dead letter store
	Flushes        atomic.Int64 // flush cycles across all workers

	startTime time.Time
}

// NewMetrics returns a zeroed metrics set with the uptime clock started.
func NewMetrics() *Metrics {
	return &Metrics{startTime: time.Now()}
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	EventsIn       int64         `json:"events_in"`
	EventsOut      int64         `json:"events_out"`
	EventsFiltered int64         `json:"events_filtered"`
	BatchesOK      int64         `json:"batches_ok"`
	BatchesAborted int64         `json:"batches_aborted"`
	Flushes        int64         `json:"flushes"`
	Uptime         time.Duration `json:"uptime"`
}

// Snapshot copies the current counter values.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		EventsIn:       m.EventsIn.Load(),
		EventsOut:      m.EventsOut.Load(),
		EventsFiltered: m.EventsFiltered.Load(),
		BatchesOK:      m.BatchesOK.Load(),
		BatchesAborted: m.BatchesAborted.Load(),
		Flushes:        m.Flushes.Load(),
		Uptime:         time.Since(m.startTime),
	}
}

// Report logs the snapshot as a single JSON line.
func (m *Metrics) Report(logger *log.Logger) {
	if logger == nil {
		logger = log.Default()
	}
	data, err := json.Marshal(m.Snapshot())
	if err != nil {
		return
	}
	logger.Printf("metrics %s", data)
}

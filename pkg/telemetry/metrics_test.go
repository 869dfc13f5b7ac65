package telemetry

import (
	"bytes"
	"log"
	"strings"
	"testing"
)

func TestSnapshotCopiesCounters(t *testing.T) {
	m := NewMetrics()
	m.EventsIn.Add(10)
	m.EventsOut.Add(8)
	m.BatchesOK.Add(2)
	m.BatchesAborted.Add(1)
	m.Flushes.Add(3)

	s := m.Snapshot()
	if s.EventsIn != 10 || s.EventsOut != 8 || s.BatchesOK != 2 || s.BatchesAborted != 1 || s.Flushes != 3 {
		t.Errorf("snapshot = %+v", s)
	}

	// The snapshot is detached from later updates.
	m.EventsIn.Add(5)
	if s.EventsIn != 10 {
		t.Error("snapshot mutated by later counter update")
	}
}

func TestReportEmitsJSONLine(t *testing.T) {
	m := NewMetrics()
	m.EventsIn.Add(7)

	var buf bytes.Buffer
	m.Report(log.New(&buf, "", 0))

	line := buf.String()
	if !strings.Contains(line, `"events_in":7`) {
		t.Errorf("report line %q missing events_in", line)
	}
}

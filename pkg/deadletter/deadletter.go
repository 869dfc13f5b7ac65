// Package deadletter records batches the engine could not complete. A
// recorded batch is never acknowledged upstream; the store keeps enough
// context to analyze or replay it later.
package deadletter

import (
	"context"
	"time"

	"github.com/logflow/eventpipe/internal/model"
	"github.com/logflow/eventpipe/pkg/errors"
	"github.com/logflow/eventpipe/pkg/queue"
)

// Record captures one aborted batch with full context.
type Record struct {
	// Batch context
	BatchID string `json:"batch_id"`
	Worker  int    `json:"worker"`

	// Error context
	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message"`
	Stage        string `json:"stage,omitempty"`

	// Payload: event field maps with secrets redacted
	Events []map[string]interface{} `json:"events"`

	Timestamp time.Time `json:"timestamp"`
}

// Store persists dead letter records.
type Store interface {
	Write(ctx context.Context, rec Record) error
	Close() error
	Name() string
}

// FromBatch builds a record from an aborted batch. Event fields go through
// model redaction, so secrets never reach the store.
func FromBatch(batch *queue.Batch, worker int, cause error) Record {
	rec := Record{
		BatchID:      batch.ID(),
		Worker:       worker,
		ErrorMessage: cause.Error(),
		ErrorCode:    string(errors.GetCode(cause)),
		Events:       make([]map[string]interface{}, 0, batch.Size()),
		Timestamp:    time.Now().UTC(),
	}
	var ee *errors.EngineError
	if errors.As(cause, &ee) {
		if stage, ok := ee.Context["stage"].(string); ok {
			rec.Stage = stage
		}
	}
	for _, e := range batch.Events() {
		rec.Events = append(rec.Events, e.Fields())
	}
	return rec
}

// FromEvent builds a record for a single event dropped outside batch
// accounting, such as a condition evaluation casualty. The event belongs to
// no aborted batch, so the record carries no batch id.
func FromEvent(e *model.Event, worker int, cause error) Record {
	return Record{
		Worker:       worker,
		ErrorMessage: cause.Error(),
		ErrorCode:    string(errors.GetCode(cause)),
		Events:       []map[string]interface{}{e.Fields()},
		Timestamp:    time.Now().UTC(),
	}
}

// Discard is a Store that drops every record.
type Discard struct{}

func (Discard) Write(context.Context, Record) error { return nil }
func (Discard) Close() error                        { return nil }
func (Discard) Name() string                        { return "none" }

var _ Store = Discard{}

// Package model defines the core data structures flowing through the engine.
package model

import (
	"time"
)

// Event is the unit of data flowing through a pipeline.
// An event is a flat set of named fields plus a cancellation flag.
// Cancelled events are carried to the end of the current batch but are
// excluded from every downstream computation's input.
//
// Events are owned by exactly one worker at a time and are not safe for
// concurrent mutation.
type Event struct {
	fields    map[string]interface{}
	timestamp time.Time
	cancelled bool
}

// NewEvent creates an event from the given fields. The map is used directly,
// not copied; callers must not retain it.
func NewEvent(fields map[string]interface{}) *Event {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	return &Event{
		fields:    fields,
		timestamp: time.Now(),
	}
}

// Get returns the value of a field and whether it is present.
func (e *Event) Get(field string) (interface{}, bool) {
	v, ok := e.fields[field]
	return v, ok
}

// SetField sets a field value, replacing any existing value.
func (e *Event) SetField(field string, value interface{}) {
	e.fields[field] = value
}

// RemoveField deletes a field. Removing an absent field is a no-op.
func (e *Event) RemoveField(field string) {
	delete(e.fields, field)
}

// Fields returns a copy of the event's fields with secrets redacted.
// Intended for export paths (sinks, dead-letter records); the engine itself
// reads fields through Get.
func (e *Event) Fields() map[string]interface{} {
	out := make(map[string]interface{}, len(e.fields))
	for k, v := range e.fields {
		if s, ok := v.(Secret); ok {
			out[k] = s.String()
			continue
		}
		out[k] = v
	}
	return out
}

// Timestamp returns the event's creation time.
func (e *Event) Timestamp() time.Time {
	return e.timestamp
}

// Cancel marks the event as cancelled. Cancelled events are skipped by every
// downstream input aggregation.
func (e *Event) Cancel() {
	e.cancelled = true
}

// Uncancel clears the cancellation flag.
func (e *Event) Uncancel() {
	e.cancelled = false
}

// Cancelled reports whether the event has been cancelled.
func (e *Event) Cancelled() bool {
	return e.cancelled
}

// Clone returns a deep-enough copy of the event: the field map is copied,
// field values are shared. The clone is never cancelled.
func (e *Event) Clone() *Event {
	fields := make(map[string]interface{}, len(e.fields))
	for k, v := range e.fields {
		fields[k] = v
	}
	return &Event{
		fields:    fields,
		timestamp: e.timestamp,
	}
}

// Secret wraps a sensitive field value. Its String form is redacted so
// secrets never leak through error messages or export paths; comparisons
// resolve the value explicitly via Reveal.
type Secret struct {
	value string
}

// NewSecret wraps a sensitive value.
func NewSecret(value string) Secret {
	return Secret{value: value}
}

// Reveal returns the underlying value.
func (s Secret) Reveal() string {
	return s.value
}

// String implements fmt.Stringer and always redacts.
func (s Secret) String() string {
	return "<secret>"
}

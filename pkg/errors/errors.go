// Package errors provides structured error handling for the pipeline engine.
// It implements coded errors with context maps so compile-time failures carry
// source locations and runtime failures carry worker/stage identity.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Code identifies an error class for programmatic handling.
type Code string

const (
	// Compilation errors (1xx)
	CodeTypeMismatch      Code = "E101"
	CodeUnresolvedVertex  Code = "E102"
	CodeInvalidPattern    Code = "E103"
	CodeInvalidExpression Code = "E104"
	CodeUnknownPlugin     Code = "E105"

	// Execution errors (2xx)
	CodeAbortedBatch    Code = "E201"
	CodeTransformFailed Code = "E202"
	CodeDeliveryFailed  Code = "E203"
	CodeConditionEval   Code = "E204"

	// Queue errors (3xx)
	CodeQueueClosed Code = "E301"

	// Configuration errors (4xx)
	CodeInvalidConfig Code = "E401"

	// Unknown
	CodeUnknown Code = "E999"
)

// EngineError is the base error type for all engine errors.
type EngineError struct {
	Code    Code
	Message string
	Cause   error
	Context map[string]interface{}
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))

	if len(e.Context) > 0 {
		sb.WriteString(" (")
		first := true
		for k, v := range e.Context {
			if !first {
				sb.WriteString(", ")
			}
			sb.WriteString(fmt.Sprintf("%s=%v", k, v))
			first = false
		}
		sb.WriteString(")")
	}

	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}

	return sb.String()
}

// Unwrap returns the underlying cause.
func (e *EngineError) Unwrap() error {
	return e.Cause
}

// Is matches errors by code.
func (e *EngineError) Is(target error) bool {
	if t, ok := target.(*EngineError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithContext adds context to the error.
func (e *EngineError) WithContext(key string, value interface{}) *EngineError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a new EngineError.
func New(code Code, message string) *EngineError {
	return &EngineError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with a code and message.
func Wrap(err error, code Code, message string) *EngineError {
	if err == nil {
		return nil
	}
	return &EngineError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, code Code, format string, args ...interface{}) *EngineError {
	return Wrap(err, code, fmt.Sprintf(format, args...))
}

// --- Convenience constructors ---

// TypeMismatch reports a comparison between incompatible operand types.
// Both operand types and the source location are recorded; operand values
// are deliberately omitted so secret-typed values never surface.
func TypeMismatch(leftType, rightType, location string) *EngineError {
	return New(CodeTypeMismatch, "incompatible comparison operand types").
		WithContext("left", leftType).
		WithContext("right", rightType).
		WithContext("location", location)
}

// UnresolvedVertex reports an edge referencing a vertex that does not exist.
func UnresolvedVertex(id, location string) *EngineError {
	return New(CodeUnresolvedVertex, "edge references unknown vertex").
		WithContext("vertex", id).
		WithContext("location", location)
}

// AbortBatch marks an error as fatal to the current batch. The worker that
// observes it terminates without acknowledging the batch.
func AbortBatch(err error, stage string) *EngineError {
	return Wrap(err, CodeAbortedBatch, "batch aborted").
		WithContext("stage", stage)
}

// IsAbortedBatch reports whether the error carries the aborted-batch code.
func IsAbortedBatch(err error) bool {
	return IsCode(err, CodeAbortedBatch)
}

// --- Error checking utilities ---

// As is a passthrough to the standard library, so callers need only one
// errors import.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Is is a passthrough to the standard library.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// IsCode checks if an error has a specific code.
func IsCode(err error, code Code) bool {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Code == code
	}
	return false
}

// GetCode extracts the error code from an error, or CodeUnknown.
func GetCode(err error) Code {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return CodeUnknown
}

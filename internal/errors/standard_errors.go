// Package errors provides standardized error handling across the service
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents semantic error codes for consistent error handling
type ErrorCode string

const (
	// Request validation errors
	ErrorCodeBadRequest ErrorCode = "BAD_REQUEST"

	// Resource errors
	ErrorCodeNotFound ErrorCode = "NOT_FOUND"

	// Dependency errors
	ErrorCodeStoreUnavailable ErrorCode = "STORE_UNAVAILABLE"
	ErrorCodeEmbedFailed      ErrorCode = "EMBED_FAILED"
	ErrorCodeGenFailed        ErrorCode = "GEN_FAILED"

	// Internal consistency errors
	ErrorCodeInvariantViolation ErrorCode = "INVARIANT_VIOLATION"
)

// StandardError is the unified error structure returned by every layer.
type StandardError struct {
	ErrorInfo ErrorDetails `json:"error"`
	cause     error
}

// ErrorDetails contains the detailed error information
type ErrorDetails struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
	TraceID string      `json:"trace_id,omitempty"`
}

// Error implements the Go error interface
func (e *StandardError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.ErrorInfo.Message, e.cause)
	}
	return e.ErrorInfo.Message
}

// Unwrap exposes the wrapped cause to errors.Is / errors.As.
func (e *StandardError) Unwrap() error {
	return e.cause
}

// Code returns the semantic code, or INVARIANT_VIOLATION for a nil receiver.
func (e *StandardError) Code() ErrorCode {
	if e == nil {
		return ErrorCodeInvariantViolation
	}
	return e.ErrorInfo.Code
}

// NewStandardError creates a new standardized error
func NewStandardError(code ErrorCode, message string, details interface{}) *StandardError {
	return &StandardError{
		ErrorInfo: ErrorDetails{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// Wrap attaches a semantic code and message to an underlying cause.
func Wrap(code ErrorCode, message string, cause error) *StandardError {
	return &StandardError{
		ErrorInfo: ErrorDetails{
			Code:    code,
			Message: message,
		},
		cause: cause,
	}
}

// NewBadRequestError creates a request validation error.
func NewBadRequestError(message string) *StandardError {
	return NewStandardError(ErrorCodeBadRequest, message, nil)
}

// NewRequiredFieldError creates an error for missing required fields
func NewRequiredFieldError(field string) *StandardError {
	return NewStandardError(ErrorCodeBadRequest,
		fmt.Sprintf("Required field '%s' is missing", field),
		map[string]interface{}{"field": field})
}

// NewNotFoundError creates an error for a missing resource.
func NewNotFoundError(resource, name string) *StandardError {
	return NewStandardError(ErrorCodeNotFound,
		fmt.Sprintf("%s '%s' not found", resource, name),
		map[string]interface{}{"resource": resource, "name": name})
}

// NewStoreUnavailableError wraps a vector or memory store transport failure.
func NewStoreUnavailableError(store string, cause error) *StandardError {
	return Wrap(ErrorCodeStoreUnavailable,
		fmt.Sprintf("%s store unavailable", store), cause)
}

// NewEmbedFailedError wraps an embedding provider failure.
func NewEmbedFailedError(message string, cause error) *StandardError {
	return Wrap(ErrorCodeEmbedFailed, message, cause)
}

// NewGenFailedError wraps a generation provider failure.
func NewGenFailedError(message string, cause error) *StandardError {
	return Wrap(ErrorCodeGenFailed, message, cause)
}

// NewInvariantViolationError reports an internal consistency breach.
func NewInvariantViolationError(message string) *StandardError {
	return NewStandardError(ErrorCodeInvariantViolation, message, nil)
}

// WithTraceID adds a trace ID to the error for debugging
func (e *StandardError) WithTraceID(traceID string) *StandardError {
	e.ErrorInfo.TraceID = traceID
	return e
}

// From extracts a StandardError from any error, falling back to an
// INVARIANT_VIOLATION wrapper so handlers always have a code to map.
func From(err error) *StandardError {
	var se *StandardError
	if errors.As(err, &se) {
		return se
	}
	return Wrap(ErrorCodeInvariantViolation, "unexpected internal error", err)
}

// CodeOf returns the semantic code carried by err, if any.
func CodeOf(err error) ErrorCode {
	return From(err).Code()
}

// Is reports whether err carries the given semantic code.
func Is(err error, code ErrorCode) bool {
	var se *StandardError
	if errors.As(err, &se) {
		return se.Code() == code
	}
	return false
}

// ToHTTPStatus maps StandardError to appropriate HTTP status code
func (e *StandardError) ToHTTPStatus() int {
	switch e.ErrorInfo.Code {
	case ErrorCodeBadRequest:
		return http.StatusBadRequest
	case ErrorCodeNotFound:
		return http.StatusNotFound
	case ErrorCodeStoreUnavailable:
		return http.StatusServiceUnavailable
	case ErrorCodeEmbedFailed, ErrorCodeGenFailed, ErrorCodeInvariantViolation:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// ToJSON converts StandardError to JSON bytes
func (e *StandardError) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// WriteHTTPError writes StandardError as HTTP response
func (e *StandardError) WriteHTTPError(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")

	if e.ErrorInfo.TraceID != "" {
		w.Header().Set("X-Trace-ID", e.ErrorInfo.TraceID)
	}

	w.WriteHeader(e.ToHTTPStatus())

	jsonBytes, _ := e.ToJSON()
	_, _ = w.Write(jsonBytes)
}

// Predefined common errors for convenience
var (
	ErrConversationIDRequired = NewRequiredFieldError("conversation_id")
	ErrQuestionRequired       = NewRequiredFieldError("question")
	ErrCourseIDRequired       = NewRequiredFieldError("course_id")
)

// Package errors provides structured error handling for the stream module.
// It defines the error taxonomy of the session supervisor, sentinel errors,
// and the mapping from error types to HTTP status codes.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType classifies supervisor errors
type ErrorType string

const (
	// ErrorTypeInvalidSource indicates a malformed client-provided source URL
	ErrorTypeInvalidSource ErrorType = "invalid_source"
	// ErrorTypeWorkerStart indicates the external worker failed to launch
	ErrorTypeWorkerStart ErrorType = "worker_start"
	// ErrorTypeNotFound indicates an unknown session id
	ErrorTypeNotFound ErrorType = "not_found"
	// ErrorTypeDuplicateID indicates a registry invariant violation
	ErrorTypeDuplicateID ErrorType = "duplicate_id"
	// ErrorTypeCapacity indicates the admission limit was reached
	ErrorTypeCapacity ErrorType = "capacity"
	// ErrorTypeSourceUnreachable indicates the preflight probe failed
	ErrorTypeSourceUnreachable ErrorType = "source_unreachable"
	// ErrorTypeInternal indicates internal system errors
	ErrorTypeInternal ErrorType = "internal"
)

// Sentinel errors for common scenarios
var (
	// ErrInvalidSource indicates the source URL lacks the required scheme
	ErrInvalidSource = errors.New("invalid source url")

	// ErrWorkerStart indicates the worker process could not be started
	ErrWorkerStart = errors.New("worker start failed")

	// ErrSessionNotFound indicates a session id isn't tracked
	ErrSessionNotFound = errors.New("session not found")

	// ErrDuplicateID indicates an insert collided with a live session
	ErrDuplicateID = errors.New("duplicate session id")

	// ErrCapacityExceeded indicates max concurrent sessions reached
	ErrCapacityExceeded = errors.New("session capacity exceeded")

	// ErrSourceUnreachable indicates the source did not answer the probe
	ErrSourceUnreachable = errors.New("source unreachable")

	// ErrHistoryDisabled indicates no history database is configured
	ErrHistoryDisabled = errors.New("session history is disabled")
)

// StreamError provides structured error information with context
type StreamError struct {
	Type      ErrorType              // Error classification
	Op        string                 // Operation that failed (e.g., "start_session")
	SessionID string                 // Related session ID if applicable
	Err       error                  // Underlying error
	Details   map[string]interface{} // Additional context
}

// Error implements the error interface
func (e *StreamError) Error() string {
	if e.SessionID != "" {
		return fmt.Sprintf("%s error in %s for session %s: %v", e.Type, e.Op, e.SessionID, e.Err)
	}
	return fmt.Sprintf("%s error in %s: %v", e.Type, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *StreamError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for sentinel errors
func (e *StreamError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// New creates a new StreamError
func New(errType ErrorType, op string, err error) *StreamError {
	return &StreamError{
		Type:    errType,
		Op:      op,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// WithSession adds session context to the error
func (e *StreamError) WithSession(sessionID string) *StreamError {
	e.SessionID = sessionID
	return e
}

// WithDetail adds a key-value detail to the error
func (e *StreamError) WithDetail(key string, value interface{}) *StreamError {
	e.Details[key] = value
	return e
}

// Error creation helpers

// InvalidSource creates a validation error for a rejected source URL
func InvalidSource(op, source string) *StreamError {
	return New(ErrorTypeInvalidSource, op, ErrInvalidSource).WithDetail("source", source)
}

// WorkerStart wraps the cause of a failed spawn
func WorkerStart(op string, cause error) *StreamError {
	return New(ErrorTypeWorkerStart, op, fmt.Errorf("%w: %w", ErrWorkerStart, cause)).
		WithDetail("cause", cause.Error())
}

// NotFound creates an unknown-session error
func NotFound(op, sessionID string) *StreamError {
	return New(ErrorTypeNotFound, op, ErrSessionNotFound).WithSession(sessionID)
}

// DuplicateID creates a registry collision error
func DuplicateID(op, sessionID string) *StreamError {
	return New(ErrorTypeDuplicateID, op, ErrDuplicateID).WithSession(sessionID)
}

// CapacityExceeded creates an admission rejection
func CapacityExceeded(op string, limit int) *StreamError {
	return New(ErrorTypeCapacity, op, ErrCapacityExceeded).WithDetail("limit", limit)
}

// SourceUnreachable wraps a failed preflight probe
func SourceUnreachable(op string, cause error) *StreamError {
	return New(ErrorTypeSourceUnreachable, op, fmt.Errorf("%w: %w", ErrSourceUnreachable, cause))
}

// GetType extracts the error type from an error
func GetType(err error) ErrorType {
	var sErr *StreamError
	if errors.As(err, &sErr) {
		return sErr.Type
	}
	return ErrorTypeInternal
}

// GetSessionID extracts the session ID from an error
func GetSessionID(err error) string {
	var sErr *StreamError
	if errors.As(err, &sErr) {
		return sErr.SessionID
	}
	return ""
}

// HTTPStatus maps an error to the status code the HTTP boundary reports.
// Sentinels are consulted when the error was not built by this package.
func HTTPStatus(err error) int {
	switch GetType(err) {
	case ErrorTypeInvalidSource:
		return http.StatusBadRequest
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeCapacity:
		return http.StatusServiceUnavailable
	case ErrorTypeSourceUnreachable:
		return http.StatusBadGateway
	case ErrorTypeWorkerStart, ErrorTypeDuplicateID:
		return http.StatusInternalServerError
	}

	switch {
	case errors.Is(err, ErrInvalidSource):
		return http.StatusBadRequest
	case errors.Is(err, ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrCapacityExceeded), errors.Is(err, ErrHistoryDisabled):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrSourceUnreachable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the client-facing text for an error
func Message(err error) string {
	switch GetType(err) {
	case ErrorTypeInvalidSource:
		return "Invalid RTSP URL"
	case ErrorTypeNotFound:
		return "Stream id not found"
	case ErrorTypeCapacity:
		return "Too many active streams"
	case ErrorTypeWorkerStart:
		var sErr *StreamError
		if errors.As(err, &sErr) && sErr.Details["cause"] != nil {
			return fmt.Sprintf("ffmpeg start failed: %v", sErr.Details["cause"])
		}
	}
	return err.Error()
}

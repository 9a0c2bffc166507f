package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestStreamError(t *testing.T) {
	err := New(ErrorTypeNotFound, "stop_session", ErrSessionNotFound)
	if err.Type != ErrorTypeNotFound {
		t.Errorf("expected type %s, got %s", ErrorTypeNotFound, err.Type)
	}

	err = err.WithSession("abc123").WithDetail("caller", "api")
	if err.Details["caller"] != "api" {
		t.Errorf("expected caller 'api', got %v", err.Details["caller"])
	}

	expected := "not_found error in stop_session for session abc123: session not found"
	if err.Error() != expected {
		t.Errorf("expected error string '%s', got '%s'", expected, err.Error())
	}
}

func TestSentinelMatching(t *testing.T) {
	cause := fmt.Errorf("exec: \"ffmpeg\": executable file not found in $PATH")
	err := WorkerStart("start_session", cause)

	if !errors.Is(err, ErrWorkerStart) {
		t.Error("expected error to match ErrWorkerStart")
	}
	if !errors.Is(err, cause) {
		t.Error("expected error to keep the underlying cause")
	}
	if GetType(err) != ErrorTypeWorkerStart {
		t.Errorf("expected type %s, got %s", ErrorTypeWorkerStart, GetType(err))
	}

	wrapped := fmt.Errorf("handler: %w", NotFound("query_status", "deadbeef"))
	if !errors.Is(wrapped, ErrSessionNotFound) {
		t.Error("expected wrapped error to match ErrSessionNotFound")
	}
	if GetSessionID(wrapped) != "deadbeef" {
		t.Errorf("expected session id 'deadbeef', got %q", GetSessionID(wrapped))
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"invalid source", InvalidSource("start_session", "http://x"), http.StatusBadRequest},
		{"not found", NotFound("stop_session", "x"), http.StatusNotFound},
		{"worker start", WorkerStart("start_session", errors.New("boom")), http.StatusInternalServerError},
		{"duplicate id", DuplicateID("insert", "x"), http.StatusInternalServerError},
		{"capacity", CapacityExceeded("start_session", 4), http.StatusServiceUnavailable},
		{"unreachable", SourceUnreachable("preflight", errors.New("timeout")), http.StatusBadGateway},
		{"bare sentinel", fmt.Errorf("lookup: %w", ErrSessionNotFound), http.StatusNotFound},
		{"unknown", errors.New("disk full"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HTTPStatus(tt.err); got != tt.status {
				t.Errorf("HTTPStatus() = %d, want %d", got, tt.status)
			}
		})
	}
}

func TestMessage(t *testing.T) {
	if got := Message(InvalidSource("start_session", "http://x")); got != "Invalid RTSP URL" {
		t.Errorf("unexpected message %q", got)
	}
	if got := Message(NotFound("stop_session", "x")); got != "Stream id not found" {
		t.Errorf("unexpected message %q", got)
	}
	if got := Message(WorkerStart("start_session", errors.New("no such file"))); got != "ffmpeg start failed: no such file" {
		t.Errorf("unexpected message %q", got)
	}
}

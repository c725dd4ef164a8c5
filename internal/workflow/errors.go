package workflow

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrTransport marks engine calls that never got a response after all retries.
	ErrTransport = errors.New("workflow engine unreachable")
	// ErrEngine marks engine calls answered with an unexpected status.
	ErrEngine = errors.New("workflow engine rejected request")
)

// TransportError is returned once the retry budget of a call is exhausted.
type TransportError struct {
	Method   string
	Path     string
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s failed after %d attempts: %v", e.Method, e.Path, e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() []error {
	return []error{ErrTransport, e.Err}
}

// EngineError carries the engine's status and body for a rejected call.
type EngineError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("%s: %s, details: %s", e.Op, e.Reason(), e.Body)
}

// Unwrap lets errors.Is match ErrEngine.
func (e *EngineError) Unwrap() error {
	return ErrEngine
}

// Reason explains the status the way the engine documents it for external-task calls.
func (e *EngineError) Reason() string {
	switch e.StatusCode {
	case http.StatusBadRequest:
		return "task's most recent lock was not acquired by the provided worker"
	case http.StatusNotFound:
		return "task does not exist, it may have a wrong id or have been cancelled"
	case http.StatusInternalServerError:
		return "corresponding process instance could not be resumed successfully"
	default:
		return fmt.Sprintf("engine returned unexpected status %d", e.StatusCode)
	}
}

// LockLost reports whether the engine refused the call because the lock is not held.
func (e *EngineError) LockLost() bool {
	return e.StatusCode == http.StatusBadRequest
}

// TaskGone reports whether the task no longer exists.
func (e *EngineError) TaskGone() bool {
	return e.StatusCode == http.StatusNotFound
}

package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrRunNotFound is returned when a session ID cannot be found in the run store.
var ErrRunNotFound = errors.New("run not found")

// TransientNetworkError wraps a timeout or refused connection against the inference endpoint.
type TransientNetworkError struct {
	Op       string
	Endpoint string
	Err      error
}

func (e *TransientNetworkError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Endpoint, e.Err)
}

func (e *TransientNetworkError) Unwrap() error { return e.Err }

// EndpointStatusError is a non-2xx answer from the inference endpoint.
type EndpointStatusError struct {
	Endpoint string
	Code     int
	Body     string
}

func (e *EndpointStatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("%s returned status %d: %s", e.Endpoint, e.Code, body)
}

// NotFound reports whether the endpoint has no such model.
func (e *EndpointStatusError) NotFound() bool { return e.Code == 404 }

// ResourceUnavailableError means a model could not be made resident after every load attempt.
type ResourceUnavailableError struct {
	Model    string
	Attempts int
	Endpoint string
	NotFound bool
	Err      error
}

func (e *ResourceUnavailableError) Error() string {
	msg := fmt.Sprintf("model %q unavailable at %s after %d attempts", e.Model, e.Endpoint, e.Attempts)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.NotFound {
		msg += fmt.Sprintf(" (model not found, provision it with: ollama pull %s)", e.Model)
	}
	return msg
}

func (e *ResourceUnavailableError) Unwrap() error { return e.Err }

// ParseError means no structured payload could be recovered from a response.
type ParseError struct {
	Step    string
	Snippet string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("step %s: no structured payload in response %q", e.Step, e.Snippet)
}

// ValidationError means a payload was recovered but does not satisfy the step schema.
type ValidationError struct {
	Step    string
	Missing []string
	Err     error
}

func (e *ValidationError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("step %s: missing required fields %s", e.Step, strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("step %s: invalid payload: %v", e.Step, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// StepFailureError is an error that escaped a step, recovered by the sequencer.
type StepFailureError struct {
	Step string
	Err  error
}

func (e *StepFailureError) Error() string {
	return fmt.Sprintf("step %s failed: %v", e.Step, e.Err)
}

func (e *StepFailureError) Unwrap() error { return e.Err }

// ConfigurationError is fatal to a run and is never retried.
type ConfigurationError struct {
	Subject string
	Reason  string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error (%s): %s", e.Subject, e.Reason)
}

// PipelineIncompleteError means the run ended without a final artifact.
type PipelineIncompleteError struct {
	SessionID string
	Mode      Mode
	Errors    int
}

func (e *PipelineIncompleteError) Error() string {
	return fmt.Sprintf("run %s (%s) finished without a final artifact (%d step errors)", e.SessionID, e.Mode, e.Errors)
}

// IsTransient reports whether err is worth retrying at the network layer.
func IsTransient(err error) bool {
	var tn *TransientNetworkError
	if errors.As(err, &tn) {
		return true
	}
	var se *EndpointStatusError
	if errors.As(err, &se) {
		return se.Code >= 500 || se.Code == 429
	}
	return false
}

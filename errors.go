package agentbridge

import (
	"errors"
	"strconv"
)

// Sentinel errors shared across packages.
var (
	// ErrNotConfigured indicates a required setting (notes directory,
	// provider) is missing. The user must fix their settings; never retried.
	ErrNotConfigured = errors.New("agentbridge: not configured")

	// ErrUnavailable indicates the agent cannot be started
	// (executable not found, runtime missing, validation failed).
	ErrUnavailable = errors.New("agentbridge: agent unavailable")

	// ErrEmptyPrompt indicates the composed prompt had no text and no images.
	// Returned before any subprocess is spawned.
	ErrEmptyPrompt = errors.New("agentbridge: cannot send empty prompt")

	// ErrTerminated indicates the session was torn down before the prompt
	// turn completed (caller cancelled, agent exited, connection closed).
	ErrTerminated = errors.New("agentbridge: session terminated")
)

// PhaseError reports a session failure together with the lifecycle phase
// it happened in, so callers can tell a failed handshake from a failed prompt.
type PhaseError struct {
	Phase Phase
	Err   error
}

func (e *PhaseError) Error() string {
	return "agentbridge: " + e.Phase.String() + ": " + e.Err.Error()
}

func (e *PhaseError) Unwrap() error { return e.Err }

// FailedPhase extracts the phase from an error chain containing *PhaseError.
// Returns (PhaseIdle, false) if there is none.
func FailedPhase(err error) (Phase, bool) {
	var pe *PhaseError
	if errors.As(err, &pe) {
		return pe.Phase, true
	}
	return PhaseIdle, false
}

// ExitError represents an agent subprocess that exited with a non-zero
// status while a session was still running. Wraps the underlying error so
// consumers can errors.As to *exec.ExitError for OS-level detail.
//
// Code semantics: positive = exit status, negative (-1) = signal-killed.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return "agentbridge: exit status " + strconv.Itoa(e.Code)
}

func (e *ExitError) Unwrap() error { return e.Err }

// ExitCode extracts the exit code from an error chain containing *ExitError.
// Returns (0, false) if the error does not contain an ExitError.
func ExitCode(err error) (int, bool) {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code, true
	}
	return 0, false
}

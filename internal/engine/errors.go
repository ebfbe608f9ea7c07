package engine

import "fmt"

// The failure taxonomy. Guard and validation failures are raised before any
// mutation; execution failures are additionally made durable (event log,
// task error field) before being returned.

// ValidationError is malformed or missing required input. Never retried;
// surfaced verbatim to the caller.
type ValidationError struct {
	Msg string
}

func (e ValidationError) Error() string { return e.Msg }

func validationf(format string, args ...any) ValidationError {
	return ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// InvalidTransitionError means a state guard was violated: the action has
// already been reviewed.
type InvalidTransitionError struct {
	ID     string
	Status string
	Event  string
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("action %s cannot %s: already %s", e.ID, e.Event, e.Status)
}

// PreconditionError means dispatch was attempted on a task that is not
// dispatch-eligible.
type PreconditionError struct {
	Reason string
}

func (e PreconditionError) Error() string { return e.Reason }

// ExecutionError means the external executor reported failure or timed out.
// The only retryable kind, and only via explicit retry calls.
type ExecutionError struct {
	Reason string
}

func (e ExecutionError) Error() string { return e.Reason }

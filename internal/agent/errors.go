package agent

import (
	"errors"
	"fmt"
)

var (
	// ErrNoDecisionProcess indicates the controller was built without one.
	ErrNoDecisionProcess = errors.New("no decision process configured")

	// ErrNoUI indicates the controller was built without a UI collaborator.
	ErrNoUI = errors.New("no ui collaborator configured")

	// ErrNoExecutor indicates the controller was built without a sandbox.
	ErrNoExecutor = errors.New("no code executor configured")

	// ErrInvalidAction indicates the decision process returned an action
	// that failed validation.
	ErrInvalidAction = errors.New("invalid action")
)

// Phase is a state of the cycle state machine.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhasePlanning   Phase = "planning"
	PhaseExecuting  Phase = "executing"
	PhaseReflecting Phase = "reflecting"
	PhaseTerminated Phase = "terminated"
)

// CollaboratorError wraps a failure of an external collaborator.
type CollaboratorError struct {
	// Collaborator is "decision" or "ui".
	Collaborator string

	// Op is the call that failed, e.g. "plan" or "perform".
	Op string

	Cause error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Collaborator, e.Op, e.Cause)
}

func (e *CollaboratorError) Unwrap() error {
	return e.Cause
}

// LoopError ends a run. It records where the loop was when it gave up.
type LoopError struct {
	// Phase is the loop phase where the error occurred.
	Phase Phase

	// Cycle is the 1-based cycle number.
	Cycle int

	// Message is an optional human-readable description.
	Message string

	// Cause is the underlying error.
	Cause error
}

func (e *LoopError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("loop error at %s (cycle %d): %s", e.Phase, e.Cycle, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("loop error at %s (cycle %d): %v", e.Phase, e.Cycle, e.Cause)
	}
	return fmt.Sprintf("loop error at %s (cycle %d)", e.Phase, e.Cycle)
}

func (e *LoopError) Unwrap() error {
	return e.Cause
}

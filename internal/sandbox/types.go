package sandbox

import (
	"time"
)

// Outcome is the terminal state of one execution.
type Outcome string

const (
	OutcomeCompleted        Outcome = "completed"
	OutcomeFailed           Outcome = "failed"
	OutcomeTimedOut         Outcome = "timed_out"
	OutcomeCapabilityDenied Outcome = "capability_denied"
)

// ErrorKind classifies why an execution did not complete cleanly.
type ErrorKind string

const (
	KindSyntax              ErrorKind = "syntax"
	KindNameResolution      ErrorKind = "name_resolution"
	KindRuntime             ErrorKind = "runtime"
	KindCapabilityDenied    ErrorKind = "capability_denied"
	KindTimeout             ErrorKind = "timeout"
	KindOutputLimitExceeded ErrorKind = "output_limit_exceeded"
	KindMemoryLimitExceeded ErrorKind = "memory_limit_exceeded"
)

// ExecError describes a failed or degraded execution. Messages never carry
// host stack traces or host paths.
type ExecError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`

	// Capability is set for KindCapabilityDenied.
	Capability string `json:"capability,omitempty"`
}

func (e *ExecError) Error() string {
	return string(e.Kind) + ": " + e.Message
}

// Limits bound one execution. Zero fields use the executor defaults.
type Limits struct {
	Timeout        time.Duration `json:"timeout,omitempty"`
	MaxOutputBytes int           `json:"max_output_bytes,omitempty"`

	// MaxMemoryBytes bounds heap growth during the execution. In an
	// isolated worker it also caps the worker's address space.
	MaxMemoryBytes int64 `json:"max_memory_bytes,omitempty"`
}

// Request is a single fragment to run.
type Request struct {
	Code     string
	Tier     string
	Bindings Bindings
	Limits   Limits
}

// Result is the structured report of one execution.
type Result struct {
	Outcome   Outcome       `json:"outcome"`
	Output    string        `json:"output"`
	Truncated bool          `json:"truncated,omitempty"`
	Error     *ExecError    `json:"error,omitempty"`
	Tier      string        `json:"tier"`
	Duration  time.Duration `json:"duration"`

	// Bindings is the carried state after the fragment. It equals the
	// request's bindings unless the outcome is completed.
	Bindings Bindings `json:"-"`

	// NewBindings lists names the fragment created or changed, sorted.
	NewBindings []string `json:"new_bindings,omitempty"`
}

// OK reports whether the fragment ran to completion.
func (r Result) OK() bool {
	return r.Outcome == OutcomeCompleted
}

// DeniedCapability returns the capability that caused a denial, if any.
func (r Result) DeniedCapability() string {
	if r.Error == nil || r.Error.Kind != KindCapabilityDenied {
		return ""
	}
	return r.Error.Capability
}

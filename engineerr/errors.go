// Package engineerr defines the shared error taxonomy used across the
// orchestration engine's packages (process, workflow, orchestrate, critique,
// discussion, agent, prompt, wfcontext).
//
// It mirrors the teacher framework's FrameworkError/sentinel-error design
// (structured error with Op/Kind/ID/Err, classified via errors.Is helpers)
// but names the kinds the engine's own specification uses.
package engineerr

import (
	"errors"
	"fmt"
)

// Kind classifies an engine error per the propagation policy: Transient is
// retried locally with bounded backoff; Validation, NotFound, Permission and
// Capacity are surfaced immediately; Execution and Protocol come from an
// agent's own output; Internal signals a broken invariant.
type Kind string

const (
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindPermission Kind = "permission"
	KindTransient  Kind = "transient"
	KindCapacity   Kind = "capacity"
	KindExecution  Kind = "execution"
	KindProtocol   Kind = "protocol"
	KindInternal   Kind = "internal"
)

// Sentinel errors for errors.Is comparisons; Error wraps these with context.
var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadyExists    = errors.New("already exists")
	ErrCycle            = errors.New("cyclic dependency")
	ErrQueueFull        = errors.New("queue full")
	ErrCapacityExceeded = errors.New("capacity exceeded")
	ErrRateLimited      = errors.New("rate limit exceeded")
	ErrTimeout          = errors.New("operation timed out")
	ErrCancelled        = errors.New("operation cancelled")
	ErrMaxRetries       = errors.New("maximum retries exceeded")
	ErrAgentUnavailable = errors.New("agent unavailable")
)

// Error is the structured error type carried through every engine package.
type Error struct {
	Op      string // e.g. "workflow.Execute", "process.Spawn"
	Kind    Kind
	ID      string // execution/process/template id, when applicable
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Op != "" && e.Err != nil {
		if e.ID != "" {
			return fmt.Sprintf("%s [%s]: %s: %v", e.Op, e.ID, e.Kind, e.Err)
		}
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s error", e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a structured error of a given kind.
func New(op string, kind Kind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// WithID attaches the entity ID involved in the failure.
func (e *Error) WithID(id string) *Error {
	e.ID = id
	return e
}

// WithMessage overrides the message used when Err is nil.
func (e *Error) WithMessage(msg string) *Error {
	e.Message = msg
	return e
}

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error; returns KindInternal otherwise so callers always get a verdict.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsRetryable reports whether err's kind is locally-retryable (Transient).
func IsRetryable(err error) bool {
	return KindOf(err) == KindTransient
}

// IsNotFound reports whether err represents a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || KindOf(err) == KindNotFound
}

// IsCapacity reports whether err represents admission/queue/concurrency denial.
func IsCapacity(err error) bool {
	return KindOf(err) == KindCapacity
}

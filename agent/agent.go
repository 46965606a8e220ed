// Package agent implements the Agent Registry (spec.md §4.3): registration
// of agent executors with capability sets and health probes, default
// resolution per agent type, execution with busy/idle/error status
// tracking, and periodic health checking with an error-count threshold.
//
// It is grounded in the teacher's core/discovery.go (register/discover
// contract), core/circuit_breaker.go (failure-threshold state transitions,
// generalized here from open/closed/half-open to the engine's
// idle/busy/error/offline agent status machine), and ai/registry.go's
// priority-ordered provider selection (generalized from "pick the best AI
// SDK available in this environment" to "pick the best-ranked agent of a
// given type").
package agent

import (
	"context"
	"time"
)

// Type is the kind of external collaborator an Agent wraps.
type Type string

const (
	TypeLLM    Type = "llm"
	TypeSynth  Type = "synth"
	TypeCustom Type = "custom"
)

// Status mirrors spec.md §3's Agent entity.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusBusy    Status = "busy"
	StatusError   Status = "error"
	StatusOffline Status = "offline"
)

// Agent is the registry's entity record (spec.md §3). ErrorCount increases
// monotonically on failed calls/probes until a successful probe resets it;
// crossing Threshold (from config) flips Status to StatusError.
type Agent struct {
	ID              string
	Type            Type
	Name            string
	Capabilities    []string
	Status          Status
	ErrorCount      int
	LastHealthCheck time.Time
	Priority        int // higher wins when resolving a type's default agent
	Builtin         bool
}

// ExecutionInput is what the registry hands to an Executor.
type ExecutionInput struct {
	Prompt    string
	Context   map[string]interface{}
	Config    map[string]interface{}
	TimeoutMs int64
}

// ExecutionOutput is what an Executor returns. Result is typically a string
// (an LLM completion) but custom executors may return structured data (a
// process manager's exit summary, a synthesis payload), so callers that
// need text should format it rather than assume a string.
type ExecutionOutput struct {
	Success    bool
	Result     interface{}
	Error      string
	DurationMs int64
	Metadata   map[string]interface{}
}

// Executor is the contract an agent implementation provides: invoking the
// external collaborator (LLM CLI, synthesis worker, generic HTTP worker —
// all out of scope internally per spec.md §1) and a cheap liveness probe.
type Executor interface {
	Execute(ctx context.Context, input ExecutionInput) (ExecutionOutput, error)
	HealthCheck(ctx context.Context) error
}

// Package workflow implements the Workflow Engine (spec.md §4.7): DAG
// validation and scheduling, bounded-parallel step execution with
// condition gating, per-step retry, dependency-failure skip propagation,
// and pause/resume with context snapshotting.
//
// It is grounded in the teacher's orchestration/workflow_dag.go (DAG node
// status machine, DFS cycle detection, topological order, execution
// levels, dependent-skip propagation) generalized from a fixed
// agent-pipeline DAG to the engine's own step definitions, and
// orchestration/workflow_state.go's execution-scoped state record shape.
package workflow

import (
	"time"

	"github.com/agentflow/orchestrator/agent"
)

// RetryPolicy mirrors spec.md §3/§4.7's per-step retry configuration.
type RetryPolicy struct {
	MaxRetries        int
	InitialDelayMs    int64
	BackoffMultiplier float64
	MaxDelayMs        int64
}

// StepInput describes one value gathered before a step runs: from the
// workflow context, from a prior step's result, or a literal.
type StepInput struct {
	Name          string
	FromContext   string // dotted context path
	FromStepID    string // another step's ID
	FromStepField string // optional dotted field within that step's result
	Literal       interface{}
}

// StepOutput describes where a step's result (or one field of it) is
// copied into the workflow context on success.
type StepOutput struct {
	Path  string // destination context path
	Field string // optional dotted field within the step result; "" means the whole result
}

// StepDef is one node of a Workflow Definition (spec.md §3).
type StepDef struct {
	ID               string
	Name             string
	AgentType        agent.Type
	AgentID          string
	PromptTemplateID string
	Prompt           string
	Inputs           []StepInput
	Outputs          []StepOutput
	Dependencies     []string
	Condition        string
	RetryPolicy      *RetryPolicy
	TimeoutMs        int64
	ContinueOnError  bool
}

// Definition is the Workflow Definition entity (spec.md §3).
type Definition struct {
	ID                 string
	Name               string
	Steps              []StepDef
	DefaultRetryPolicy  *RetryPolicy
	TimeoutMs          int64
	MaxParallelSteps   int
	InitialContext     map[string]interface{}
}

// StepStatus is a step's lifecycle state within one execution.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepWaiting   StepStatus = "waiting"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// StepState is the per-execution state of one step (spec.md §3).
type StepState struct {
	StepID      string
	Status      StepStatus
	Result      interface{}
	Error       string
	RetryCount  int
	StartedAt   time.Time
	CompletedAt time.Time
	DurationMs  int64
}

// Status is a workflow execution's overall lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Execution is the Workflow State entity (spec.md §3).
type Execution struct {
	ExecutionID  string
	WorkflowID   string
	UserID       string
	Status       Status
	Steps        map[string]*StepState
	CurrentSteps []string
	QueuePosition int64
	StartedAt    time.Time
	CompletedAt  time.Time
	Error        string
	Progress     int
}

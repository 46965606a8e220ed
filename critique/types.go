// Package critique implements the Self-Critique Service (spec.md §4.9): an
// iterative execute -> evaluate -> improve loop that stops once every
// quality criterion clears its threshold and the weighted overall score
// clears a target, or the iteration/timeout budget runs out.
//
// It is grounded in the teacher's orchestration/workflow_dag.go-adjacent
// iteration bookkeeping style (a bounded loop with a per-iteration state
// record) and reuses the engine's own agent.Registry and prompt.Store for
// the two agent calls each iteration makes, the same way a workflow step
// does.
package critique

import "time"

// QualityCriterion is one weighted dimension the output is scored against
// (spec.md §4.9).
type QualityCriterion struct {
	Name             string
	Description      string
	EvaluationPrompt string
	Weight           float64
	Threshold        float64
}

// Request is the Self-Critique Service's input (spec.md §4.9).
type Request struct {
	UserID                    string
	SeedTask                  string
	AgentType                 string // resolved via agent.Registry.ResolveDefault
	AgentID                   string // overrides AgentType when set
	EvaluatorAgentID          string // defaults to AgentID/AgentType's resolution when empty
	MaxIterations             int
	QualityCriteria           []QualityCriterion
	StopOnQualityThreshold    float64
	EvaluationPromptTemplate  string // template ID; defaults to "critique-evaluation"
	ImprovementPromptTemplate string // template ID; defaults to "critique-improvement"
	TimeoutMs                int64
}

// IterationRecord captures one pass through the loop.
type IterationRecord struct {
	Iteration      int
	Output         string
	CriteriaScores map[string]float64
	Feedback       string
	Suggestions    []string
	OverallScore   float64
	MeetsThreshold bool
	DurationMs     int64
}

// Status is the terminal disposition of a critique run.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusConverged Status = "converged"
	StatusTimeout   Status = "timeout"
	StatusFailed    Status = "failed"
)

// Result is the Self-Critique Service's output (spec.md §4.9).
type Result struct {
	ID          string
	Status      Status
	Converged   bool
	FinalOutput string
	FinalScore  float64
	Iterations  []IterationRecord
	StartedAt   time.Time
	CompletedAt time.Time
	Error       string
}

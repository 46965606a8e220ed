// Package discussion implements the Discussion Service (spec.md §4.10):
// bounded-parallel, multi-round multi-agent consensus building with four
// pluggable scoring strategies and a monotonic-convergence check.
//
// It is grounded in the same agent.Registry/prompt.Store/eventbus wiring as
// critique, and reuses orchestrate.Parallel for the teacher's bounded
// goroutine-fan-out idiom (core/async_task.go, orchestration/workflow_dag.go)
// to run one round's participants concurrently.
package discussion

import "time"

// Participant is one voice in the discussion (spec.md §4.10).
type Participant struct {
	ID          string
	AgentID     string
	Role        string
	Perspective string
	Weight      float64
}

// ConsensusStrategy selects how a round's contributions are scored.
type ConsensusStrategy string

const (
	StrategyUnanimous   ConsensusStrategy = "unanimous"
	StrategyMajority    ConsensusStrategy = "majority"
	StrategyWeighted    ConsensusStrategy = "weighted"
	StrategyFacilitator ConsensusStrategy = "facilitator"
)

// Request is the Discussion Service's input (spec.md §4.10).
type Request struct {
	UserID                  string
	Topic                   string
	Participants            []Participant
	MaxRounds               int
	ConvergenceThreshold    float64
	ConsensusStrategy       ConsensusStrategy
	FacilitatorAgentID      string
	MaxParallelParticipants int
	ParticipantTimeoutMs    int64
	TimeoutMs               int64
}

// Contribution is one participant's output for one round.
type Contribution struct {
	ParticipantID  string
	AgentID        string
	Text           string
	AgreementScore float64
	DurationMs     int64
	Err            string
}

// RoundRecord captures one full round of the discussion.
type RoundRecord struct {
	Round         int
	Contributions []Contribution
	Score         float64
	Synthesis     string
}

// Status is the terminal disposition of a discussion run.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusConverged Status = "converged"
	StatusTimeout   Status = "timeout"
	StatusFailed    Status = "failed"
)

// Result is the Discussion Service's output (spec.md §4.10).
type Result struct {
	ID             string
	Status         Status
	Converged      bool
	Rounds         []RoundRecord
	FinalScore     float64
	FinalSynthesis string
	StartedAt      time.Time
	CompletedAt    time.Time
	Error          string
}

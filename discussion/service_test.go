package discussion

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentflow/orchestrator/agent"
	"github.com/agentflow/orchestrator/config"
	"github.com/agentflow/orchestrator/eventbus"
	"github.com/agentflow/orchestrator/prompt"
	"github.com/agentflow/orchestrator/store"
	"github.com/agentflow/orchestrator/telemetry"
)

type scriptedParticipant struct {
	response string
}

func (p scriptedParticipant) Execute(ctx context.Context, input agent.ExecutionInput) (agent.ExecutionOutput, error) {
	return agent.ExecutionOutput{Success: true, Result: p.response}, nil
}

func (p scriptedParticipant) HealthCheck(ctx context.Context) error { return nil }

func newTestDiscussionService(t *testing.T) (*Service, *agent.Registry) {
	t.Helper()
	cfg := config.Default()
	registry := agent.New(cfg, telemetry.NoOpLogger{}, telemetry.NoOpTracer{}, nil, nil)
	backing := store.NewMemStore()
	prompts, err := prompt.New(context.Background(), backing, cfg, telemetry.NoOpLogger{})
	require.NoError(t, err)
	svc := New(cfg, registry, prompts, eventbus.New(), telemetry.NoOpLogger{}, telemetry.NoOpTracer{})
	return svc, registry
}

func registerParticipant(t *testing.T, registry *agent.Registry, id, response string) {
	t.Helper()
	_, err := registry.Register(agent.TypeCustom, id, scriptedParticipant{response: response}, agent.RegisterOptions{AgentID: id})
	require.NoError(t, err)
}

func TestValidateRequiresFacilitatorAgentID(t *testing.T) {
	req := Request{
		Topic:             "should we ship it",
		Participants:      []Participant{{ID: "p1", AgentID: "a1"}},
		ConsensusStrategy: StrategyFacilitator,
	}
	err := Validate(req)
	require.Error(t, err)
}

func TestDiscussionConvergesWithMajorityStrategy(t *testing.T) {
	svc, registry := newTestDiscussionService(t)
	registerParticipant(t, registry, "optimist", "This looks great. Agreement: 9/10")
	registerParticipant(t, registry, "skeptic", "I mostly agree. Agreement: 9/10")

	req := Request{
		Topic: "ship the release",
		Participants: []Participant{
			{ID: "optimist", AgentID: "optimist", Role: "Optimist"},
			{ID: "skeptic", AgentID: "skeptic", Role: "Skeptic"},
		},
		MaxRounds:            3,
		ConvergenceThreshold: 0.8,
		ConsensusStrategy:    StrategyMajority,
	}

	result, err := svc.Run(context.Background(), req)
	require.NoError(t, err)
	require.True(t, result.Converged)
	require.Equal(t, StatusConverged, result.Status)
	require.Len(t, result.Rounds, 1)
	require.InDelta(t, 0.9, result.FinalScore, 0.01)
}

func TestDiscussionUnanimousPenalizesOutlier(t *testing.T) {
	svc, registry := newTestDiscussionService(t)
	registerParticipant(t, registry, "a", "Strongly agree. Agreement: 9/10")
	registerParticipant(t, registry, "b", "Not convinced. Agreement: 3/10")

	req := Request{
		Topic: "risky migration",
		Participants: []Participant{
			{ID: "a", AgentID: "a"},
			{ID: "b", AgentID: "b"},
		},
		MaxRounds:            1,
		ConvergenceThreshold: 0.8,
		ConsensusStrategy:    StrategyUnanimous,
	}

	result, err := svc.Run(context.Background(), req)
	require.NoError(t, err)
	require.False(t, result.Converged)
	require.Equal(t, StatusCompleted, result.Status)
	require.InDelta(t, 0.15, result.FinalScore, 0.01)
}

func TestFacilitatorFallsBackToMajorityOnParseFailure(t *testing.T) {
	svc, registry := newTestDiscussionService(t)
	registerParticipant(t, registry, "a", "I agree. Agreement: 8/10")
	registerParticipant(t, registry, "b", "I agree too. Agreement: 8/10")
	registerParticipant(t, registry, "facilitator", "the group seems aligned but no JSON here")

	req := Request{
		Topic: "architecture review",
		Participants: []Participant{
			{ID: "a", AgentID: "a"},
			{ID: "b", AgentID: "b"},
		},
		MaxRounds:            1,
		ConvergenceThreshold: 0.95,
		ConsensusStrategy:    StrategyFacilitator,
		FacilitatorAgentID:   "facilitator",
	}

	result, err := svc.Run(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, result.Rounds, 1)
	require.InDelta(t, 0.8, result.Rounds[0].Score, 0.01)
}

func TestExtractAgreementScoreVariants(t *testing.T) {
	require.InDelta(t, 0.7, extractAgreementScore("I think agreement: 7/10 here"), 0.001)
	require.InDelta(t, 0.8, extractAgreementScore("Agreement 0.8"), 0.001)
	require.Equal(t, 0.5, extractAgreementScore("no declaration at all"))
}

func TestConvergedMonotonicMeanRule(t *testing.T) {
	require.True(t, converged([]float64{0.7, 0.75, 0.78}, 0.8))
	require.False(t, converged([]float64{0.6, 0.5, 0.75}, 0.8))
	require.True(t, converged([]float64{0.9}, 0.8))
}

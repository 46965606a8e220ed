package critique

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentflow/orchestrator/agent"
	"github.com/agentflow/orchestrator/config"
	"github.com/agentflow/orchestrator/eventbus"
	"github.com/agentflow/orchestrator/prompt"
	"github.com/agentflow/orchestrator/store"
	"github.com/agentflow/orchestrator/telemetry"
)

type fakeCritiqueAgent struct {
	calls int
}

func (f *fakeCritiqueAgent) Execute(ctx context.Context, input agent.ExecutionInput) (agent.ExecutionOutput, error) {
	f.calls++
	switch {
	case strings.Contains(input.Prompt, "Evaluate the following output"):
		if strings.Contains(input.Prompt, "revised") {
			return agent.ExecutionOutput{Success: true, Result: `{"criteriaScores": {"clarity": 0.95, "accuracy": 0.97}, "feedback": "excellent", "suggestions": []}`}, nil
		}
		return agent.ExecutionOutput{Success: true, Result: `{"criteriaScores": {"clarity": 0.4, "accuracy": 0.5}, "feedback": "needs work", "suggestions": ["be more precise"]}`}, nil
	case strings.Contains(input.Prompt, "Improve the following output"):
		return agent.ExecutionOutput{Success: true, Result: "a revised draft"}, nil
	default:
		return agent.ExecutionOutput{Success: true, Result: "a first draft"}, nil
	}
}

func (f *fakeCritiqueAgent) HealthCheck(ctx context.Context) error { return nil }

func newTestService(t *testing.T, exec agent.Executor) *Service {
	t.Helper()
	cfg := config.Default()
	registry := agent.New(cfg, telemetry.NoOpLogger{}, telemetry.NoOpTracer{}, exec, nil)
	backing := store.NewMemStore()
	prompts, err := prompt.New(context.Background(), backing, cfg, telemetry.NoOpLogger{})
	require.NoError(t, err)
	return New(cfg, registry, prompts, eventbus.New(), telemetry.NoOpLogger{}, telemetry.NoOpTracer{})
}

// TestSelfCritiqueConverges covers spec §8 S6: a first draft fails the
// quality threshold, the improvement pass produces a draft that clears it.
func TestSelfCritiqueConverges(t *testing.T) {
	fake := &fakeCritiqueAgent{}
	svc := newTestService(t, fake)

	req := Request{
		SeedTask:      "write a haiku",
		AgentType:     string(agent.TypeLLM),
		MaxIterations: 5,
		QualityCriteria: []QualityCriterion{
			{Name: "clarity", Description: "is it clear", Weight: 1, Threshold: 0.8},
			{Name: "accuracy", Description: "is it accurate", Weight: 1, Threshold: 0.8},
		},
		StopOnQualityThreshold: 0.9,
	}

	result, err := svc.Run(context.Background(), req)
	require.NoError(t, err)
	require.True(t, result.Converged)
	require.Equal(t, StatusConverged, result.Status)
	require.Len(t, result.Iterations, 2)
	require.False(t, result.Iterations[0].MeetsThreshold)
	require.True(t, result.Iterations[1].MeetsThreshold)
	require.InDelta(t, 0.96, result.FinalScore, 0.01)
}

func TestSelfCritiqueStopsAtMaxIterations(t *testing.T) {
	exec := &alwaysLowScoreExecutor{}
	svc := newTestService(t, exec)

	req := Request{
		SeedTask:      "write a haiku",
		AgentType:     string(agent.TypeLLM),
		MaxIterations: 3,
		QualityCriteria: []QualityCriterion{
			{Name: "clarity", Description: "is it clear", Weight: 1, Threshold: 0.9},
		},
		StopOnQualityThreshold: 0.95,
	}

	result, err := svc.Run(context.Background(), req)
	require.NoError(t, err)
	require.False(t, result.Converged)
	require.Equal(t, StatusCompleted, result.Status)
	require.Len(t, result.Iterations, 3)
}

type alwaysLowScoreExecutor struct{}

func (alwaysLowScoreExecutor) Execute(ctx context.Context, input agent.ExecutionInput) (agent.ExecutionOutput, error) {
	if strings.Contains(input.Prompt, "Evaluate the following output") {
		return agent.ExecutionOutput{Success: true, Result: `{"criteriaScores": {"clarity": 0.3}, "feedback": "weak"}`}, nil
	}
	return agent.ExecutionOutput{Success: true, Result: "draft"}, nil
}

func (alwaysLowScoreExecutor) HealthCheck(ctx context.Context) error { return nil }

func TestParseEvaluationFallsBackOnUnparseableResponse(t *testing.T) {
	criteria := []QualityCriterion{{Name: "clarity", Threshold: 0.5}, {Name: "accuracy", Threshold: 0.5}}
	scores, _, _, ok := parseEvaluation("not json at all", criteria)
	require.False(t, ok)
	require.Equal(t, 0.5, scores["clarity"])
	require.Equal(t, 0.5, scores["accuracy"])
}

func TestExtractFirstJSONObjectIgnoresBracesInStrings(t *testing.T) {
	text := fmt.Sprintf(`some preamble %s{"a": "value with a } brace", "b": 1}`, "text ")
	raw, ok := extractFirstJSONObject(text)
	require.True(t, ok)
	require.Equal(t, `{"a": "value with a } brace", "b": 1}`, raw)
}

func TestScoreWeightedAverage(t *testing.T) {
	criteria := []QualityCriterion{
		{Name: "a", Weight: 1, Threshold: 0.5},
		{Name: "b", Weight: 3, Threshold: 0.5},
	}
	overall, meets := score(map[string]float64{"a": 1.0, "b": 0.5}, criteria)
	require.True(t, meets)
	require.InDelta(t, 0.625, overall, 0.001)
}

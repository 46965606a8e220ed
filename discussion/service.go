package discussion

import (
	"context"
	"fmt"
	"time"

	"github.com/agentflow/orchestrator/agent"
	"github.com/agentflow/orchestrator/config"
	"github.com/agentflow/orchestrator/engineerr"
	"github.com/agentflow/orchestrator/eventbus"
	"github.com/agentflow/orchestrator/ids"
	"github.com/agentflow/orchestrator/orchestrate"
	"github.com/agentflow/orchestrator/prompt"
	"github.com/agentflow/orchestrator/telemetry"
)

// Service runs Discussion Service rounds (spec.md §4.10).
type Service struct {
	agents  *agent.Registry
	prompts *prompt.Store
	bus     *eventbus.Bus
	cfg     *config.Config
	logger  telemetry.Logger
	tracer  telemetry.Tracer
}

// New creates a Discussion Service wired to the engine's shared agent
// registry, prompt store, and event bus.
func New(cfg *config.Config, agents *agent.Registry, prompts *prompt.Store, bus *eventbus.Bus, logger telemetry.Logger, tracer telemetry.Tracer) *Service {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = telemetry.NoOpLogger{}
	}
	if tracer == nil {
		tracer = telemetry.NoOpTracer{}
	}
	return &Service{agents: agents, prompts: prompts, bus: bus, cfg: cfg, logger: logger, tracer: tracer}
}

func (s *Service) publish(id, eventType string, data map[string]interface{}) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{ID: id, Type: eventType, Data: data})
}

// Run executes up to maxRounds rounds of discussion and returns the final
// Result. Validation failures (spec §8 S7: facilitator strategy missing a
// facilitator agent) are returned as errors before any round runs.
func (s *Service) Run(ctx context.Context, req Request) (Result, error) {
	if err := Validate(req); err != nil {
		return Result{}, err
	}

	maxRounds := req.MaxRounds
	if maxRounds <= 0 {
		maxRounds = s.cfg.MaxDiscussionRounds
	}
	maxParallel := req.MaxParallelParticipants
	if maxParallel <= 0 || maxParallel > s.cfg.MaxParallelParticipants {
		maxParallel = s.cfg.MaxParallelParticipants
	}
	if len(req.Participants) > s.cfg.MaxParticipants {
		return Result{}, engineerr.New("discussion.Run", engineerr.KindValidation, nil).
			WithMessage(fmt.Sprintf("participant count %d exceeds maximum of %d", len(req.Participants), s.cfg.MaxParticipants))
	}
	timeoutMs := req.TimeoutMs
	if timeoutMs <= 0 {
		timeoutMs = s.cfg.DefaultDiscussionTimeout.Milliseconds()
	}
	deadline := time.Now().Add(time.Duration(timeoutMs) * time.Millisecond)

	id := ids.New("discussion")
	result := Result{ID: id, StartedAt: time.Now()}

	var priorContributions string
	var roundScores []float64

	for round := 1; round <= maxRounds; round++ {
		s.publish(id, "round-started", map[string]interface{}{"round": round})

		contributions, err := s.runRound(ctx, id, req, round, priorContributions, maxParallel)
		if err != nil {
			result.Status = StatusFailed
			result.Error = err.Error()
			result.CompletedAt = time.Now()
			return result, nil
		}

		var roundScore float64
		var synthesis string
		switch req.ConsensusStrategy {
		case StrategyUnanimous:
			roundScore = scoreUnanimous(contributions)
		case StrategyWeighted:
			roundScore = scoreWeighted(contributions, req.Participants)
		case StrategyFacilitator:
			roundScore, synthesis = s.scoreFacilitator(ctx, req, contributions)
		default:
			roundScore = scoreMajority(contributions)
		}

		record := RoundRecord{Round: round, Contributions: contributions, Score: roundScore, Synthesis: synthesis}
		result.Rounds = append(result.Rounds, record)
		roundScores = append(roundScores, roundScore)
		priorContributions = renderContributions(contributions, req.Participants)
		s.publish(id, "round-completed", map[string]interface{}{"round": round, "score": roundScore})

		if converged(roundScores, req.ConvergenceThreshold) {
			result.Status = StatusConverged
			result.Converged = true
			result.FinalScore = roundScore
			result.FinalSynthesis = synthesis
			result.CompletedAt = time.Now()
			s.publish(id, "converged", map[string]interface{}{"round": round, "score": roundScore})
			s.publish(id, "completed", map[string]interface{}{"status": result.Status})
			return result, nil
		}
		if time.Now().After(deadline) {
			result.Status = StatusTimeout
			result.FinalScore = roundScore
			result.FinalSynthesis = synthesis
			result.CompletedAt = time.Now()
			s.publish(id, "completed", map[string]interface{}{"status": result.Status})
			return result, nil
		}
	}

	last := roundScores[len(roundScores)-1]
	result.Status = StatusCompleted
	result.FinalScore = last
	if n := len(result.Rounds); n > 0 {
		result.FinalSynthesis = result.Rounds[n-1].Synthesis
	}
	result.CompletedAt = time.Now()
	s.publish(id, "completed", map[string]interface{}{"status": result.Status})
	return result, nil
}

// converged implements spec.md §4.10: terminate when the last round's score
// clears the threshold outright, or after at least 3 rounds whose scores
// are monotonically non-decreasing and whose mean clears 90% of it.
func converged(roundScores []float64, threshold float64) bool {
	if len(roundScores) == 0 {
		return false
	}
	last := roundScores[len(roundScores)-1]
	if last >= threshold {
		return true
	}
	if len(roundScores) < 3 {
		return false
	}
	monotonic := true
	for i := 1; i < len(roundScores); i++ {
		if roundScores[i] < roundScores[i-1] {
			monotonic = false
			break
		}
	}
	return monotonic && mean(roundScores) >= 0.9*threshold
}

func (s *Service) runRound(ctx context.Context, discussionID string, req Request, round int, priorContributions string, maxParallel int) ([]Contribution, error) {
	tasks := make([]orchestrate.Task, 0, len(req.Participants))
	for _, p := range req.Participants {
		participant := p
		tasks = append(tasks, orchestrate.Task{
			ID: participant.ID,
			Run: func(ctx context.Context, taskCtx map[string]interface{}) (interface{}, error) {
				return s.contribute(ctx, discussionID, req, participant, priorContributions)
			},
		})
	}

	// A participant's own failure is carried on its Contribution.Err rather
	// than aborting the round: one unreachable agent shouldn't sink an
	// otherwise-viable discussion (spec.md §4.11: "terminate with partial
	// results").
	results, _ := orchestrate.Parallel(ctx, tasks, maxParallel, nil)
	contributions := make([]Contribution, 0, len(results))
	for _, r := range results {
		if c, ok := r.Output.(Contribution); ok {
			contributions = append(contributions, c)
		}
	}
	if len(contributions) == 0 {
		return nil, fmt.Errorf("no participant produced a contribution")
	}
	return contributions, nil
}

func (s *Service) contribute(ctx context.Context, discussionID string, req Request, participant Participant, priorContributions string) (Contribution, error) {
	start := time.Now()
	renderedPrompt, err := s.prompts.Render("discussion-participant", map[string]interface{}{
		"topic":              req.Topic,
		"participantName":    participant.Role,
		"priorContributions": priorContributions,
	})
	if err != nil {
		return Contribution{ParticipantID: participant.ID, AgentID: participant.AgentID, Err: err.Error()}, err
	}

	timeoutMs := req.ParticipantTimeoutMs
	if timeoutMs <= 0 {
		timeoutMs = s.cfg.DefaultStepTimeout.Milliseconds()
	}
	callCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutMs)*time.Millisecond)
	defer cancel()

	out, err := s.agents.Execute(callCtx, participant.AgentID, agent.ExecutionInput{Prompt: renderedPrompt, TimeoutMs: timeoutMs})
	contribution := Contribution{ParticipantID: participant.ID, AgentID: participant.AgentID, DurationMs: time.Since(start).Milliseconds()}
	if err != nil {
		contribution.Err = err.Error()
		s.publish(discussionID, "contribution", map[string]interface{}{"participantId": participant.ID, "error": err.Error()})
		return contribution, err
	}
	if !out.Success {
		contribution.Err = out.Error
		s.publish(discussionID, "contribution", map[string]interface{}{"participantId": participant.ID, "error": out.Error})
		return contribution, fmt.Errorf("agent %q reported failure: %s", participant.AgentID, out.Error)
	}

	text := fmt.Sprintf("%v", out.Result)
	if str, ok := out.Result.(string); ok {
		text = str
	}
	contribution.Text = text
	contribution.AgreementScore = extractAgreementScore(text)
	s.publish(discussionID, "contribution", map[string]interface{}{"participantId": participant.ID, "agreementScore": contribution.AgreementScore})
	return contribution, nil
}

func (s *Service) scoreFacilitator(ctx context.Context, req Request, contributions []Contribution) (float64, string) {
	renderedPrompt, err := s.prompts.Render("discussion-facilitator", map[string]interface{}{
		"topic":         req.Topic,
		"contributions": renderContributions(contributions, req.Participants),
	})
	if err != nil {
		return scoreMajority(contributions), ""
	}
	out, err := s.agents.Execute(ctx, req.FacilitatorAgentID, agent.ExecutionInput{Prompt: renderedPrompt})
	if err != nil || !out.Success {
		return scoreMajority(contributions), ""
	}
	text := fmt.Sprintf("%v", out.Result)
	if str, ok := out.Result.(string); ok {
		text = str
	}
	parsed, ok := parseFacilitatorResponse(text)
	if !ok {
		return scoreMajority(contributions), ""
	}
	return parsed.ConsensusScore, parsed.Synthesis
}

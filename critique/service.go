package critique

import (
	"context"
	"fmt"
	"time"

	"github.com/agentflow/orchestrator/agent"
	"github.com/agentflow/orchestrator/config"
	"github.com/agentflow/orchestrator/engineerr"
	"github.com/agentflow/orchestrator/eventbus"
	"github.com/agentflow/orchestrator/ids"
	"github.com/agentflow/orchestrator/prompt"
	"github.com/agentflow/orchestrator/telemetry"
)

// Service runs Self-Critique Service loops (spec.md §4.9).
type Service struct {
	agents  *agent.Registry
	prompts *prompt.Store
	bus     *eventbus.Bus
	cfg     *config.Config
	logger  telemetry.Logger
	tracer  telemetry.Tracer
}

// New creates a Self-Critique Service wired to the engine's shared
// agent registry, prompt store, and event bus.
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

// Run executes the full iterate -> evaluate -> improve loop and returns the
// final Result (spec.md §4.9). It never returns an error for a converged or
// exhausted loop; err is reserved for request validation and unrecoverable
// agent-resolution failures.
func (s *Service) Run(ctx context.Context, req Request) (Result, error) {
	if len(req.QualityCriteria) == 0 {
		return Result{}, engineerr.New("critique.Run", engineerr.KindValidation, nil).WithMessage("at least one quality criterion is required")
	}
	maxIterations := req.MaxIterations
	if maxIterations <= 0 {
		maxIterations = s.cfg.MaxCritiqueIterations
	}
	timeoutMs := req.TimeoutMs
	if timeoutMs <= 0 {
		timeoutMs = s.cfg.DefaultCritiqueTimeout.Milliseconds()
	}

	execAgent, ok := s.resolveAgent(req.AgentID, req.AgentType)
	if !ok {
		return Result{}, engineerr.New("critique.Run", engineerr.KindNotFound, engineerr.ErrAgentUnavailable).WithMessage("no agent available to execute the seed task")
	}
	evaluatorID := req.EvaluatorAgentID
	if evaluatorID == "" {
		evaluatorID = execAgent.ID
	}
	evalAgent, ok := s.agents.Resolve(evaluatorID)
	if !ok {
		return Result{}, engineerr.New("critique.Run", engineerr.KindNotFound, engineerr.ErrAgentUnavailable).WithMessage("no evaluator agent available")
	}

	evalTemplate := req.EvaluationPromptTemplate
	if evalTemplate == "" {
		evalTemplate = "critique-evaluation"
	}
	improveTemplate := req.ImprovementPromptTemplate
	if improveTemplate == "" {
		improveTemplate = "critique-improvement"
	}

	id := ids.New("critique")
	deadline := time.Now().Add(time.Duration(timeoutMs) * time.Millisecond)
	result := Result{ID: id, StartedAt: time.Now()}

	var currentOutput string
	var lastFeedback string

	for iteration := 1; iteration <= maxIterations; iteration++ {
		s.publish(id, "iteration-started", map[string]interface{}{"iteration": iteration})
		iterStart := time.Now()

		var output string
		var err error
		if iteration == 1 {
			output, err = s.invokeAgent(ctx, execAgent.ID, req.SeedTask)
		} else {
			improvePrompt, renderErr := s.prompts.Render(improveTemplate, map[string]interface{}{
				"task":     req.SeedTask,
				"output":   currentOutput,
				"feedback": lastFeedback,
			})
			if renderErr != nil {
				result.Status = StatusFailed
				result.Error = renderErr.Error()
				result.CompletedAt = time.Now()
				return result, nil
			}
			output, err = s.invokeAgent(ctx, execAgent.ID, improvePrompt)
		}
		if err != nil {
			result.Status = StatusFailed
			result.Error = err.Error()
			result.CompletedAt = time.Now()
			return result, nil
		}
		currentOutput = output

		criteriaText := describeCriteria(req.QualityCriteria)
		evalPrompt, err := s.prompts.Render(evalTemplate, map[string]interface{}{
			"task":     req.SeedTask,
			"output":   currentOutput,
			"criteria": criteriaText,
		})
		if err != nil {
			result.Status = StatusFailed
			result.Error = err.Error()
			result.CompletedAt = time.Now()
			return result, nil
		}
		evalResponse, err := s.invokeAgent(ctx, evalAgent.ID, evalPrompt)
		if err != nil {
			result.Status = StatusFailed
			result.Error = err.Error()
			result.CompletedAt = time.Now()
			return result, nil
		}

		scores, feedback, suggestions, parsed := parseEvaluation(evalResponse, req.QualityCriteria)
		overall, meetsThreshold := score(scores, req.QualityCriteria)
		if !parsed {
			meetsThreshold = false
		}
		lastFeedback = feedback

		record := IterationRecord{
			Iteration:      iteration,
			Output:         currentOutput,
			CriteriaScores: scores,
			Feedback:       feedback,
			Suggestions:    suggestions,
			OverallScore:   overall,
			MeetsThreshold: meetsThreshold,
			DurationMs:     time.Since(iterStart).Milliseconds(),
		}
		result.Iterations = append(result.Iterations, record)
		s.publish(id, "iteration", map[string]interface{}{"iteration": iteration, "overallScore": overall, "meetsThreshold": meetsThreshold})

		converged := meetsThreshold && overall >= req.StopOnQualityThreshold
		if converged {
			result.Status = StatusConverged
			result.Converged = true
			result.FinalOutput = currentOutput
			result.FinalScore = overall
			result.CompletedAt = time.Now()
			s.publish(id, "converged", map[string]interface{}{"iteration": iteration, "overallScore": overall})
			s.publish(id, "completed", map[string]interface{}{"status": result.Status})
			return result, nil
		}
		if time.Now().After(deadline) {
			result.Status = StatusTimeout
			result.FinalOutput = currentOutput
			result.FinalScore = overall
			result.CompletedAt = time.Now()
			s.publish(id, "completed", map[string]interface{}{"status": result.Status})
			return result, nil
		}
		if iteration == maxIterations {
			result.Status = StatusCompleted
			result.FinalOutput = currentOutput
			result.FinalScore = overall
			result.CompletedAt = time.Now()
			s.publish(id, "max-iterations", map[string]interface{}{"iterations": iteration})
			s.publish(id, "completed", map[string]interface{}{"status": result.Status})
			return result, nil
		}
	}

	result.Status = StatusCompleted
	result.FinalOutput = currentOutput
	result.CompletedAt = time.Now()
	return result, nil
}

func (s *Service) resolveAgent(agentID, agentType string) (agent.Agent, bool) {
	if agentID != "" {
		return s.agents.Resolve(agentID)
	}
	t := agent.Type(agentType)
	if t == "" {
		t = agent.TypeLLM
	}
	return s.agents.ResolveDefault(t)
}

func (s *Service) invokeAgent(ctx context.Context, agentID, promptText string) (string, error) {
	out, err := s.agents.Execute(ctx, agentID, agent.ExecutionInput{Prompt: promptText})
	if err != nil {
		return "", err
	}
	if !out.Success {
		return "", fmt.Errorf("agent %q reported failure: %s", agentID, out.Error)
	}
	if text, ok := out.Result.(string); ok {
		return text, nil
	}
	return fmt.Sprintf("%v", out.Result), nil
}

func describeCriteria(criteria []QualityCriterion) string {
	s := ""
	for i, c := range criteria {
		if i > 0 {
			s += "; "
		}
		s += fmt.Sprintf("%s (weight %.2f, threshold %.2f): %s", c.Name, c.Weight, c.Threshold, c.Description)
	}
	return s
}

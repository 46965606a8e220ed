package workflow

import (
	"fmt"

	"github.com/agentflow/orchestrator/agent"
	"github.com/agentflow/orchestrator/config"
	"github.com/agentflow/orchestrator/engineerr"
)

// Validate enforces spec.md §4.7's synchronous validation: unique step IDs,
// existent dependencies, acyclicity, bounded step count, mutually exclusive
// prompt vs template-id, and known agent types.
func Validate(def Definition, cfg *config.Config) error {
	if len(def.Steps) == 0 {
		return engineerr.New("workflow.Validate", engineerr.KindValidation, nil).WithMessage("workflow must declare at least one step")
	}
	if cfg.MaxStepsPerWorkflow > 0 && len(def.Steps) > cfg.MaxStepsPerWorkflow {
		return engineerr.New("workflow.Validate", engineerr.KindValidation, nil).
			WithMessage(fmt.Sprintf("step count %d exceeds maximum of %d", len(def.Steps), cfg.MaxStepsPerWorkflow))
	}

	seen := make(map[string]bool, len(def.Steps))
	for _, step := range def.Steps {
		if step.ID == "" {
			return engineerr.New("workflow.Validate", engineerr.KindValidation, nil).WithMessage("step id is required")
		}
		if seen[step.ID] {
			return engineerr.New("workflow.Validate", engineerr.KindValidation, nil).
				WithID(step.ID).WithMessage("duplicate step id")
		}
		seen[step.ID] = true

		hasTemplate := step.PromptTemplateID != ""
		hasInline := step.Prompt != ""
		if hasTemplate == hasInline {
			return engineerr.New("workflow.Validate", engineerr.KindValidation, nil).
				WithID(step.ID).WithMessage("step must set exactly one of promptTemplateId or prompt")
		}

		switch step.AgentType {
		case agent.TypeLLM, agent.TypeSynth, agent.TypeCustom:
		default:
			return engineerr.New("workflow.Validate", engineerr.KindValidation, nil).
				WithID(step.ID).WithMessage(fmt.Sprintf("unknown agent type %q", step.AgentType))
		}
	}

	for _, step := range def.Steps {
		for _, depID := range step.Dependencies {
			if !seen[depID] {
				return engineerr.New("workflow.Validate", engineerr.KindValidation, nil).
					WithID(step.ID).WithMessage(fmt.Sprintf("dependency %q does not exist", depID))
			}
		}
	}

	d := newDAG(def)
	if err := d.validateAcyclic(); err != nil {
		return engineerr.New("workflow.Validate", engineerr.KindValidation, err)
	}
	return nil
}

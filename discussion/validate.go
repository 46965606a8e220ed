package discussion

import "github.com/agentflow/orchestrator/engineerr"

// Validate enforces spec.md §4.10's hard validation rule: a facilitator
// strategy without a facilitator agent ID is rejected before any round
// runs (spec §8 scenario S7).
func Validate(req Request) error {
	if req.Topic == "" {
		return engineerr.New("discussion.Validate", engineerr.KindValidation, nil).WithMessage("topic is required")
	}
	if len(req.Participants) == 0 {
		return engineerr.New("discussion.Validate", engineerr.KindValidation, nil).WithMessage("at least one participant is required")
	}
	switch req.ConsensusStrategy {
	case StrategyUnanimous, StrategyMajority, StrategyWeighted, StrategyFacilitator:
	default:
		return engineerr.New("discussion.Validate", engineerr.KindValidation, nil).WithMessage("unknown consensus strategy")
	}
	if req.ConsensusStrategy == StrategyFacilitator && req.FacilitatorAgentID == "" {
		return engineerr.New("discussion.Validate", engineerr.KindValidation, nil).
			WithMessage("facilitatorAgentId is required when consensusStrategy is facilitator")
	}
	return nil
}

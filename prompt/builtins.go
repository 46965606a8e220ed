package prompt

// builtinTemplates returns the four built-in templates spec.md §4.4
// requires (critique-evaluation, critique-improvement,
// discussion-participant, discussion-facilitator), installed at startup and
// overridable by a user template registered under the same ID.
func builtinTemplates() []Template {
	return []Template{
		{
			ID:       "critique-evaluation",
			Name:     "Critique Evaluation",
			Category: "critique",
			Tags:     []string{"builtin", "critique"},
			Content: "Evaluate the following output against the listed criteria.\n\n" +
				"Task: {{task}}\nOutput:\n{{output}}\n\nCriteria: {{criteria}}\n\n" +
				"Respond with a JSON object: {\"criteriaScores\": {<criterion name>: <score 0-1>, ...}, " +
				"\"feedback\": \"<summary>\", \"suggestions\": [\"...\"]}.",
			Variables: []Variable{
				{Name: "task", Type: TypeString, Required: true},
				{Name: "output", Type: TypeString, Required: true},
				{Name: "criteria", Type: TypeString, Required: true},
			},
		},
		{
			ID:       "critique-improvement",
			Name:     "Critique Improvement",
			Category: "critique",
			Tags:     []string{"builtin", "critique"},
			Content: "Improve the following output using the evaluation feedback below.\n\n" +
				"Task: {{task}}\nPrevious output:\n{{output}}\n\nFeedback:\n{{feedback}}\n\n" +
				"Produce a revised output that addresses the feedback while preserving what already works.",
			Variables: []Variable{
				{Name: "task", Type: TypeString, Required: true},
				{Name: "output", Type: TypeString, Required: true},
				{Name: "feedback", Type: TypeString, Required: true},
			},
		},
		{
			ID:       "discussion-participant",
			Name:     "Discussion Participant",
			Category: "discussion",
			Tags:     []string{"builtin", "discussion"},
			Content: "Topic: {{topic}}\n\nContributions from the previous round:\n{{priorContributions}}\n\n" +
				"Offer your perspective as {{participantName}}. Conclude with a line " +
				"\"Agreement: <0-1>\" stating how closely you agree with the emerging consensus.",
			Variables: []Variable{
				{Name: "topic", Type: TypeString, Required: true},
				{Name: "participantName", Type: TypeString, Required: true},
				{Name: "priorContributions", Type: TypeString, Required: false, Default: ""},
			},
		},
		{
			ID:       "discussion-facilitator",
			Name:     "Discussion Facilitator",
			Category: "discussion",
			Tags:     []string{"builtin", "discussion"},
			Content: "Topic: {{topic}}\n\nAll contributions this round:\n{{contributions}}\n\n" +
				"Summarize the discussion. Respond with a JSON object: {\"synthesis\": \"...\", " +
				"\"consensusScore\": <0-1>, \"agreements\": [\"...\"], \"disagreements\": [\"...\"], \"nextSteps\": [\"...\"]}.",
			Variables: []Variable{
				{Name: "topic", Type: TypeString, Required: true},
				{Name: "contributions", Type: TypeString, Required: true},
			},
		},
	}
}

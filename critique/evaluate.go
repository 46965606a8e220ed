package critique

import (
	"encoding/json"
	"strings"
)

// evaluationResponse is the JSON shape the evaluation prompt asks the agent
// to return (spec.md §4.9): criteriaScores keyed by criterion name, a
// feedback summary, and optional suggestions.
type evaluationResponse struct {
	CriteriaScores map[string]float64 `json:"criteriaScores"`
	Feedback       string             `json:"feedback"`
	Suggestions    []string           `json:"suggestions"`
}

// extractFirstJSONObject scans s for the first balanced {...} block and
// returns its raw text, mirroring the teacher's tolerant-parse style of
// pulling structured data out of otherwise free-form agent text.
func extractFirstJSONObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// parseEvaluation parses an evaluator agent's response against the
// declared criteria. On any parse failure every criterion defaults to 0.5
// and meetsThreshold is forced false (spec.md §4.9 step 2).
func parseEvaluation(response string, criteria []QualityCriterion) (scores map[string]float64, feedback string, suggestions []string, ok bool) {
	raw, found := extractFirstJSONObject(response)
	if found {
		var parsed evaluationResponse
		if err := json.Unmarshal([]byte(raw), &parsed); err == nil && len(parsed.CriteriaScores) > 0 {
			return parsed.CriteriaScores, parsed.Feedback, parsed.Suggestions, true
		}
	}

	fallback := make(map[string]float64, len(criteria))
	for _, c := range criteria {
		fallback[c.Name] = 0.5
	}
	return fallback, "", nil, false
}

// score computes the weighted overall score and whether every criterion
// individually clears its threshold (spec.md §4.9 step 3).
func score(scores map[string]float64, criteria []QualityCriterion) (overall float64, meetsThreshold bool) {
	meetsThreshold = true
	var weightedSum, weightTotal float64
	for _, c := range criteria {
		w := c.Weight
		if w <= 0 {
			w = 1
		}
		s := scores[c.Name]
		weightedSum += s * w
		weightTotal += w
		if s < c.Threshold {
			meetsThreshold = false
		}
	}
	if weightTotal == 0 {
		return 0, false
	}
	return weightedSum / weightTotal, meetsThreshold
}

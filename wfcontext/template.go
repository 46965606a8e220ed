package wfcontext

import (
	"fmt"
	"regexp"
	"strings"
)

var placeholderPattern = regexp.MustCompile(`\{\{([^{}]*)\}\}`)

// resolveTemplate substitutes every `{{path}}` in template by resolving path
// (dotted/bracketed) against data; a path that resolves to nothing becomes
// an empty string, matching the tolerant substitution the workflow engine
// needs when building inline prompts from partial context.
func resolveTemplate(template string, data map[string]interface{}) (string, error) {
	var firstErr error
	out := placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		if firstErr != nil {
			return match
		}
		sub := placeholderPattern.FindStringSubmatch(match)
		path := strings.TrimSpace(sub[1])
		tokens, err := parsePath(path)
		if err != nil {
			firstErr = fmt.Errorf("invalid path %q: %w", path, err)
			return match
		}
		v, ok := getValue(data, tokens)
		if !ok {
			return ""
		}
		return stringify(v)
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

func stringify(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

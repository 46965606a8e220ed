// Package prompt implements the Prompt Template Store (spec.md §4.4):
// versioned CRUD over named templates with `{{dotted.path}}` interpolation,
// content validation, and four built-in templates installed at startup.
//
// It is grounded in the teacher's orchestration/template_prompt_builder.go
// (text/template-based prompt assembly with logger/telemetry span wiring)
// generalized from "build one prompt from a fixed Go template" to "store,
// version, and interpolate many named templates with a custom
// double-brace grammar" — the custom grammar (rather than text/template)
// matches spec.md §3's own four-tier resolution order, which text/template
// cannot express directly.
package prompt

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// VariableType enumerates the declared type of a template variable.
type VariableType string

const (
	TypeString  VariableType = "string"
	TypeNumber  VariableType = "number"
	TypeBoolean VariableType = "boolean"
	TypeObject  VariableType = "object"
	TypeArray   VariableType = "array"
)

// Variable describes one `{{name}}` placeholder a template declares.
type Variable struct {
	Name     string       `json:"name"`
	Type     VariableType `json:"type"`
	Required bool         `json:"required"`
	Default  interface{}  `json:"default,omitempty"`
}

// Template is the Prompt Template entity (spec.md §3).
type Template struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Content   string     `json:"content"`
	Variables []Variable `json:"variables"`
	Category  string     `json:"category"`
	Tags      []string   `json:"tags"`
	Version   int        `json:"version"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// versionRecord is one historical revision, appended whenever Content or
// Variables change and pruned beyond config.MaxTemplateVersions.
type versionRecord struct {
	Version   int        `json:"version"`
	Content   string     `json:"content"`
	Variables []Variable `json:"variables"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

var placeholderPattern = regexp.MustCompile(`\{\{([^{}]*)\}\}`)
var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)

// validateContent enforces spec.md §4.4's content rules: balanced braces,
// well-formed dotted identifiers inside every `{{...}}`, and bounded length
// and variable count.
func validateContent(content string, variables []Variable, maxLength, maxVariables int) error {
	if len(content) > maxLength {
		return fmt.Errorf("template content exceeds maximum length of %d", maxLength)
	}
	if len(variables) > maxVariables {
		return fmt.Errorf("template declares %d variables, exceeding maximum of %d", len(variables), maxVariables)
	}
	if err := checkBalancedBraces(content); err != nil {
		return err
	}
	for _, m := range placeholderPattern.FindAllStringSubmatch(content, -1) {
		path := strings.TrimSpace(m[1])
		if path == "" || !identifierPattern.MatchString(path) {
			return fmt.Errorf("invalid variable reference %q", m[0])
		}
	}
	seen := make(map[string]bool, len(variables))
	for _, v := range variables {
		if !identifierPattern.MatchString(v.Name) {
			return fmt.Errorf("invalid variable name %q", v.Name)
		}
		if seen[v.Name] {
			return fmt.Errorf("duplicate variable name %q", v.Name)
		}
		seen[v.Name] = true
	}
	return nil
}

func checkBalancedBraces(content string) error {
	depth := 0
	for i := 0; i < len(content); i++ {
		switch {
		case strings.HasPrefix(content[i:], "{{"):
			depth++
			i++
		case strings.HasPrefix(content[i:], "}}"):
			depth--
			if depth < 0 {
				return fmt.Errorf("unbalanced braces: unexpected closing }} at offset %d", i)
			}
			i++
		}
	}
	if depth != 0 {
		return fmt.Errorf("unbalanced braces: %d unclosed {{", depth)
	}
	return nil
}

// Interpolate resolves every `{{path}}` placeholder in content using the
// four-tier precedence of spec.md §4.4:
//  1. a direct entry in provided keyed by the full path literal,
//  2. nested dotted-path lookup into provided,
//  3. the declaring Variable's Default,
//  4. empty string, for a missing non-required variable.
// A missing required variable with no provided value and no default fails.
func Interpolate(content string, variables []Variable, provided map[string]interface{}) (string, error) {
	byName := make(map[string]Variable, len(variables))
	for _, v := range variables {
		byName[v.Name] = v
	}

	var firstErr error
	result := placeholderPattern.ReplaceAllStringFunc(content, func(match string) string {
		if firstErr != nil {
			return match
		}
		sub := placeholderPattern.FindStringSubmatch(match)
		path := strings.TrimSpace(sub[1])

		if v, ok := provided[path]; ok {
			return valueToString(v)
		}
		if v, ok := resolveNested(provided, path); ok {
			return valueToString(v)
		}
		if decl, ok := byName[path]; ok {
			if decl.Default != nil {
				return valueToString(decl.Default)
			}
			if decl.Required {
				firstErr = fmt.Errorf("missing required variable %q", path)
				return match
			}
			return ""
		}
		return ""
	})
	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// resolveNested walks a dotted path ("a.b.c") through nested
// map[string]interface{} values.
func resolveNested(root map[string]interface{}, path string) (interface{}, bool) {
	segments := strings.Split(path, ".")
	var current interface{} = root
	for _, seg := range segments {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		v, ok := m[seg]
		if !ok {
			return nil, false
		}
		current = v
	}
	return current, true
}

// valueToString converts an interpolated value per spec.md §4.4: strings
// pass through, numbers/booleans are stringified, arrays/objects serialize
// as structured (JSON) text.
func valueToString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case nil:
		return ""
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(b)
	}
}

package orchestrate

import (
	"errors"
	"strings"
)

// fromInterface converts a resolved context value into the evaluator's
// internal value representation.
func fromInterface(v interface{}) value {
	switch t := v.(type) {
	case nil:
		return nullValue()
	case string:
		return stringValue(t)
	case bool:
		return boolValue(t)
	case float64:
		return numberValue(t)
	case int:
		return numberValue(float64(t))
	case int64:
		return numberValue(float64(t))
	default:
		return stringValue("")
	}
}

// Evaluate parses and evaluates a sandboxed boolean expression (spec.md
// §4.8). resolve looks up a dotted path under "context." and reports
// whether it exists; a path that does not exist resolves to null. Any
// parse error, or an evaluation error, causes Evaluate to return false
// along with the error — callers default the condition to false per
// spec.md §4.8's "evaluation errors default the condition to false with a
// warning".
func Evaluate(expr string, resolve func(path string) (interface{}, bool)) (bool, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return true, nil
	}
	tokens, err := lex(expr)
	if err != nil {
		return false, err
	}
	p := &parser{tokens: tokens, resolve: resolve}
	v, err := p.parseExpr()
	if err != nil {
		return false, err
	}
	if p.peek().kind != tokEOF {
		return false, errors.New("unexpected trailing tokens in expression")
	}
	return truthy(v), nil
}

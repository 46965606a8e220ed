// Package wfcontext implements the Workflow Context Store (spec.md §4.5):
// a per-execution nested-value store addressed by dotted/bracketed paths
// (`a.b[3].c`), with deep-merge, size/depth-bounded writes, and labeled
// snapshot/restore.
//
// It is grounded in the teacher's orchestration/workflow_state.go (the
// StateStore interface's execution-scoped Save/Update/Get contract,
// generalized here from "persist one workflow execution record" to
// "resolve and mutate one arbitrary nested value inside that record") and
// core/memory_store.go's mutex-protected map for the in-process fallback
// path.
package wfcontext

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// token is one step of a parsed path: either a map key or an array index.
type token struct {
	key      string
	isIndex  bool
	index    int
}

var segmentPattern = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)((?:\[\d+\])*)$`)
var indexPattern = regexp.MustCompile(`\[(\d+)\]`)

// parsePath parses "a.b[3].c" into [{key:a} {key:b} {index:3} {key:c}].
func parsePath(path string) ([]token, error) {
	if path == "" {
		return nil, fmt.Errorf("empty path")
	}
	var tokens []token
	for _, seg := range strings.Split(path, ".") {
		m := segmentPattern.FindStringSubmatch(seg)
		if m == nil {
			return nil, fmt.Errorf("invalid path segment %q", seg)
		}
		tokens = append(tokens, token{key: m[1]})
		for _, idxMatch := range indexPattern.FindAllStringSubmatch(m[2], -1) {
			n, _ := strconv.Atoi(idxMatch[1])
			tokens = append(tokens, token{isIndex: true, index: n})
		}
	}
	return tokens, nil
}

// getValue resolves tokens against root, returning (value, found).
func getValue(root interface{}, tokens []token) (interface{}, bool) {
	current := root
	for _, tok := range tokens {
		if tok.isIndex {
			arr, ok := current.([]interface{})
			if !ok || tok.index < 0 || tok.index >= len(arr) {
				return nil, false
			}
			current = arr[tok.index]
			continue
		}
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		v, ok := m[tok.key]
		if !ok {
			return nil, false
		}
		current = v
	}
	return current, true
}

// setValue writes value at tokens under root (a map[string]interface{}),
// creating intermediate maps as needed. Arrays may only be indexed within
// their current bounds or extended by exactly one element (append).
func setValue(root map[string]interface{}, tokens []token, value interface{}) error {
	if len(tokens) == 0 {
		return fmt.Errorf("empty path")
	}
	return setAt(root, tokens, value)
}

func setAt(container interface{}, tokens []token, value interface{}) error {
	tok := tokens[0]
	last := len(tokens) == 1

	if tok.isIndex {
		return fmt.Errorf("path cannot begin a segment with an index")
	}

	m, ok := container.(map[string]interface{})
	if !ok {
		return fmt.Errorf("cannot set path segment %q: parent is not an object", tok.key)
	}

	if last {
		m[tok.key] = value
		return nil
	}

	next := tokens[1]
	if next.isIndex {
		arr, _ := m[tok.key].([]interface{})
		if next.index > len(arr) {
			return fmt.Errorf("array index %d out of bounds for %q (len %d)", next.index, tok.key, len(arr))
		}
		if next.index == len(arr) {
			arr = append(arr, map[string]interface{}{})
		}
		remaining := tokens[2:]
		if len(remaining) == 0 {
			arr[next.index] = value
		} else {
			if err := setAt(arr[next.index], remaining, value); err != nil {
				return err
			}
		}
		m[tok.key] = arr
		return nil
	}

	child, ok := m[tok.key].(map[string]interface{})
	if !ok {
		child = make(map[string]interface{})
		m[tok.key] = child
	}
	return setAt(child, tokens[1:], value)
}

// Package ids generates stable identifiers for executions, processes and
// other engine entities. Stability of an ID across retries is what lets the
// process manager and workflow engine satisfy the at-least-once /
// idempotent-terminal-write non-goal instead of exactly-once semantics.
package ids

import "github.com/google/uuid"

// New returns a fresh random identifier, prefixed for readability in logs
// and store keys (e.g. "proc_3f9a...", "exec_2b10...").
func New(prefix string) string {
	return prefix + "_" + uuid.NewString()
}

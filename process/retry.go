package process

import (
	"math/rand"
	"regexp"
	"time"

	"github.com/agentflow/orchestrator/config"
)

// transientExitCodes are the exit codes spec.md §4.6 names as transient:
// a generic error, sysexits.h's EX_TEMPFAIL (temporary failure), connection
// refused, and a conventional "command timed out" code.
var transientExitCodes = map[int]bool{
	1:   true, // generic error
	75:  true, // temporary failure
	111: true, // connection refused
	124: true, // timeout
}

var transientMessagePattern = regexp.MustCompile(`(?i)network error|connection reset|rate.?limit|\b(500|502|503|429)\b|timed out`)

// IsTransientExitCode reports whether code is one of the conventionally
// transient exit codes.
func IsTransientExitCode(code int) bool {
	return transientExitCodes[code]
}

// IsTransientMessage reports whether msg matches one of the transient
// message patterns (network errors, rate limiting, 5xx/429 server errors).
func IsTransientMessage(msg string) bool {
	return transientMessagePattern.MatchString(msg)
}

// IsTransient classifies a terminal Process as retryable.
func IsTransient(p Process) bool {
	if p.State != StateFailed && p.State != StateTimeout {
		return false
	}
	if p.State == StateTimeout {
		return true
	}
	return IsTransientExitCode(p.ExitCode) || IsTransientMessage(p.ErrorReason)
}

// Backoff computes the retry delay for a given attempt (0-based):
// base * 2^attempt + jitter, capped at cfg.RetryMaxDelay.
func Backoff(attempt int, cfg *config.Config) time.Duration {
	base := cfg.RetryBaseDelay
	if base <= 0 {
		base = 200 * time.Millisecond
	}
	delay := base * time.Duration(1<<uint(attempt))
	if max := cfg.RetryMaxDelay; max > 0 && delay > max {
		delay = max
	}
	jitter := time.Duration(rand.Int63n(int64(base)))
	delay += jitter
	if max := cfg.RetryMaxDelay; max > 0 && delay > max {
		delay = max
	}
	return delay
}

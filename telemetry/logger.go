package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// level ordering mirrors the teacher's GOMIND_LOG_LEVEL convention, renamed
// to the engine's own env prefix (AGENTFLOW_LOG_LEVEL / AGENTFLOW_LOG_FORMAT).
type level int

const (
	levelDebug level = iota
	levelInfo
	levelWarn
	levelError
)

func parseLevel(s string) level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return levelDebug
	case "WARN", "WARNING":
		return levelWarn
	case "ERROR":
		return levelError
	default:
		return levelInfo
	}
}

// ConsoleLogger is a structured logger writing JSON lines in containerized
// environments and human-readable text locally, the same auto-detection the
// teacher's TelemetryLogger performs off KUBERNETES_SERVICE_HOST.
type ConsoleLogger struct {
	mu        sync.Mutex
	out       io.Writer
	min       level
	json      bool
	component string
}

// NewConsoleLogger builds a logger honoring AGENTFLOW_LOG_LEVEL and
// AGENTFLOW_LOG_FORMAT ("json"|"text"), defaulting to info/text, json when
// running inside Kubernetes.
func NewConsoleLogger() *ConsoleLogger {
	format := os.Getenv("AGENTFLOW_LOG_FORMAT")
	if format == "" {
		if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
			format = "json"
		} else {
			format = "text"
		}
	}
	return &ConsoleLogger{
		out:  os.Stderr,
		min:  parseLevel(os.Getenv("AGENTFLOW_LOG_LEVEL")),
		json: format == "json",
	}
}

func (l *ConsoleLogger) WithComponent(component string) Logger {
	return &ConsoleLogger{out: l.out, min: l.min, json: l.json, component: component}
}

func (l *ConsoleLogger) log(lvl level, name, msg string, fields map[string]interface{}) {
	if lvl < l.min {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	ts := time.Now().UTC().Format(time.RFC3339Nano)
	if l.json {
		entry := map[string]interface{}{"ts": ts, "level": name, "msg": msg}
		if l.component != "" {
			entry["component"] = l.component
		}
		for k, v := range fields {
			entry[k] = v
		}
		enc, err := json.Marshal(entry)
		if err != nil {
			fmt.Fprintf(l.out, "%s [%s] %s (marshal error: %v)\n", ts, name, msg, err)
			return
		}
		fmt.Fprintln(l.out, string(enc))
		return
	}

	comp := l.component
	if comp != "" {
		comp = "[" + comp + "] "
	}
	fmt.Fprintf(l.out, "%s %s %s%s %v\n", ts, name, comp, msg, fields)
}

func (l *ConsoleLogger) Info(msg string, f map[string]interface{})  { l.log(levelInfo, "INFO", msg, f) }
func (l *ConsoleLogger) Warn(msg string, f map[string]interface{})  { l.log(levelWarn, "WARN", msg, f) }
func (l *ConsoleLogger) Error(msg string, f map[string]interface{}) { l.log(levelError, "ERROR", msg, f) }
func (l *ConsoleLogger) Debug(msg string, f map[string]interface{}) { l.log(levelDebug, "DEBUG", msg, f) }

func (l *ConsoleLogger) InfoContext(_ context.Context, msg string, f map[string]interface{}) {
	l.Info(msg, f)
}
func (l *ConsoleLogger) WarnContext(_ context.Context, msg string, f map[string]interface{}) {
	l.Warn(msg, f)
}
func (l *ConsoleLogger) ErrorContext(_ context.Context, msg string, f map[string]interface{}) {
	l.Error(msg, f)
}
func (l *ConsoleLogger) DebugContext(_ context.Context, msg string, f map[string]interface{}) {
	l.Debug(msg, f)
}

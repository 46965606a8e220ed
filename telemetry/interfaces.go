// Package telemetry provides the engine's logging and tracing contracts,
// following the teacher framework's layered design: a minimal Logger
// interface every package depends on, an optional Telemetry/Span pair for
// distributed tracing, and concrete implementations (a structured console
// logger, an OpenTelemetry-backed tracer) wired in by the process that
// embeds the engine.
package telemetry

import "context"

// Logger is the minimal structured-logging contract used throughout the
// engine. Fields are passed as a map so callers never format strings by
// hand; component attribution happens via WithComponent.
type Logger interface {
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	Debug(msg string, fields map[string]interface{})

	InfoContext(ctx context.Context, msg string, fields map[string]interface{})
	WarnContext(ctx context.Context, msg string, fields map[string]interface{})
	ErrorContext(ctx context.Context, msg string, fields map[string]interface{})
	DebugContext(ctx context.Context, msg string, fields map[string]interface{})
}

// ComponentLogger extends Logger with per-subsystem attribution, mirroring
// the teacher's ComponentAwareLogger: WithComponent returns a logger whose
// lines carry the given component name. The engine packages do not call it
// themselves; they log through whatever Logger they are given.
type ComponentLogger interface {
	Logger
	WithComponent(component string) Logger
}

// Tracer is the optional distributed-tracing contract. A nil Tracer is
// always safe to use via the NoOp implementation below.
type Tracer interface {
	StartSpan(ctx context.Context, name string) (context.Context, Span)
}

// Span represents one traced unit of work (an agent call, a workflow step,
// a critique iteration, a discussion round, ...).
type Span interface {
	SetAttribute(key string, value interface{})
	RecordError(err error)
	End()
}

// MetricsSink receives counters/gauges/histograms emitted by the engine.
// Implementations typically bridge to OpenTelemetry metrics or Prometheus.
type MetricsSink interface {
	Counter(name string, value float64, labels map[string]string)
	Gauge(name string, value float64, labels map[string]string)
	Histogram(name string, value float64, labels map[string]string)
}

// NoOpLogger discards everything; the safe zero value for Logger.
type NoOpLogger struct{}

func (NoOpLogger) Info(string, map[string]interface{})                            {}
func (NoOpLogger) Warn(string, map[string]interface{})                            {}
func (NoOpLogger) Error(string, map[string]interface{})                           {}
func (NoOpLogger) Debug(string, map[string]interface{})                           {}
func (NoOpLogger) InfoContext(context.Context, string, map[string]interface{})    {}
func (NoOpLogger) WarnContext(context.Context, string, map[string]interface{})    {}
func (NoOpLogger) ErrorContext(context.Context, string, map[string]interface{})   {}
func (NoOpLogger) DebugContext(context.Context, string, map[string]interface{})   {}
func (NoOpLogger) WithComponent(component string) Logger                         { return NoOpLogger{} }

// NoOpTracer never traces; the safe zero value for Tracer.
type NoOpTracer struct{}

func (NoOpTracer) StartSpan(ctx context.Context, name string) (context.Context, Span) {
	return ctx, noOpSpan{}
}

type noOpSpan struct{}

func (noOpSpan) SetAttribute(string, interface{}) {}
func (noOpSpan) RecordError(error)                {}
func (noOpSpan) End()                             {}

// NoOpMetrics discards everything; the safe zero value for MetricsSink.
type NoOpMetrics struct{}

func (NoOpMetrics) Counter(string, float64, map[string]string)   {}
func (NoOpMetrics) Gauge(string, float64, map[string]string)     {}
func (NoOpMetrics) Histogram(string, float64, map[string]string) {}

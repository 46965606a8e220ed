package telemetry

import (
	"context"
	"fmt"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// OtelTracer adapts an OpenTelemetry tracer to the engine's Tracer/Span
// contract, grounded in the teacher's telemetry/otel.go StartSpan pattern:
// stdout exporter for local development, OTLP-over-gRPC in production,
// selected by AGENTFLOW_OTEL_EXPORTER ("stdout"|"otlp"); any other value,
// including unset, selects the stdout exporter, so no collector is needed.
type OtelTracer struct {
	tracer trace.Tracer
}

// NewOtelTracer builds a tracer provider per AGENTFLOW_OTEL_EXPORTER and
// returns a shutdown func that must be called on process exit.
func NewOtelTracer(serviceName string) (*OtelTracer, func(context.Context) error, error) {
	var exporter sdktrace.SpanExporter
	var err error

	switch os.Getenv("AGENTFLOW_OTEL_EXPORTER") {
	case "otlp":
		exporter, err = otlptracegrpc.New(context.Background())
	default:
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	}
	if err != nil {
		return nil, nil, err
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(provider)

	return &OtelTracer{tracer: provider.Tracer(serviceName)}, provider.Shutdown, nil
}

func (t *OtelTracer) StartSpan(ctx context.Context, name string) (context.Context, Span) {
	ctx, span := t.tracer.Start(ctx, name)
	return ctx, &otelSpan{span: span}
}

type otelSpan struct {
	span trace.Span
}

func (s *otelSpan) SetAttribute(key string, value interface{}) {
	switch v := value.(type) {
	case string:
		s.span.SetAttributes(attribute.String(key, v))
	case int:
		s.span.SetAttributes(attribute.Int(key, v))
	case int64:
		s.span.SetAttributes(attribute.Int64(key, v))
	case float64:
		s.span.SetAttributes(attribute.Float64(key, v))
	case bool:
		s.span.SetAttributes(attribute.Bool(key, v))
	default:
		s.span.SetAttributes(attribute.String(key, toString(v)))
	}
}

func (s *otelSpan) RecordError(err error) {
	if err != nil {
		s.span.RecordError(err)
	}
}

func (s *otelSpan) End() { s.span.End() }

func toString(v interface{}) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}

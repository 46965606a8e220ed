package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OtelMetrics bridges the engine's MetricsSink contract onto an OpenTelemetry
// metric.Meter, grounded in the teacher's telemetry/unified_metrics.go
// design: instruments are created lazily and cached by name since OTel
// requires each instrument be created once.
type OtelMetrics struct {
	meter metric.Meter

	mu          sync.Mutex
	counters    map[string]metric.Float64Counter
	gauges      map[string]metric.Float64Gauge
	histograms  map[string]metric.Float64Histogram
}

// NewOtelMetrics wraps the given meter (typically
// otel.GetMeterProvider().Meter(serviceName)).
func NewOtelMetrics(meter metric.Meter) *OtelMetrics {
	return &OtelMetrics{
		meter:      meter,
		counters:   make(map[string]metric.Float64Counter),
		gauges:     make(map[string]metric.Float64Gauge),
		histograms: make(map[string]metric.Float64Histogram),
	}
}

func labelsToAttrs(labels map[string]string) metric.MeasurementOption {
	attrs := make([]attribute.KeyValue, 0, len(labels))
	for k, v := range labels {
		attrs = append(attrs, attribute.String(k, v))
	}
	return metric.WithAttributes(attrs...)
}

func (m *OtelMetrics) Counter(name string, value float64, labels map[string]string) {
	m.mu.Lock()
	c, ok := m.counters[name]
	if !ok {
		var err error
		c, err = m.meter.Float64Counter(name)
		if err != nil {
			m.mu.Unlock()
			return
		}
		m.counters[name] = c
	}
	m.mu.Unlock()
	c.Add(context.Background(), value, labelsToAttrs(labels))
}

func (m *OtelMetrics) Gauge(name string, value float64, labels map[string]string) {
	m.mu.Lock()
	g, ok := m.gauges[name]
	if !ok {
		var err error
		g, err = m.meter.Float64Gauge(name)
		if err != nil {
			m.mu.Unlock()
			return
		}
		m.gauges[name] = g
	}
	m.mu.Unlock()
	g.Record(context.Background(), value, labelsToAttrs(labels))
}

func (m *OtelMetrics) Histogram(name string, value float64, labels map[string]string) {
	m.mu.Lock()
	h, ok := m.histograms[name]
	if !ok {
		var err error
		h, err = m.meter.Float64Histogram(name)
		if err != nil {
			m.mu.Unlock()
			return
		}
		m.histograms[name] = h
	}
	m.mu.Unlock()
	h.Record(context.Background(), value, labelsToAttrs(labels))
}

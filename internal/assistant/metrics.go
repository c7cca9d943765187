package assistant

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const instrumentationName = "echo-civic-assistant/backend/internal/assistant"

// Metrics records assistant counters. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	turns      metric.Int64Counter
	dropped    metric.Int64Counter
	failures   metric.Int64Counter
	directives metric.Int64Counter
	latency    metric.Float64Histogram
}

// NewMetrics registers the assistant instruments on mp
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	if mp == nil {
		mp = noop.NewMeterProvider()
	}
	meter := mp.Meter(instrumentationName)

	var (
		m   Metrics
		err error
	)
	if m.turns, err = meter.Int64Counter("assistant_turns_total",
		metric.WithDescription("Turns sent to the model")); err != nil {
		return nil, err
	}
	if m.dropped, err = meter.Int64Counter("assistant_turns_dropped_total",
		metric.WithDescription("Submissions dropped because a request was in flight")); err != nil {
		return nil, err
	}
	if m.failures, err = meter.Int64Counter("assistant_transport_failures_total",
		metric.WithDescription("Model requests that failed")); err != nil {
		return nil, err
	}
	if m.directives, err = meter.Int64Counter("assistant_directives_total",
		metric.WithDescription("Directives dispatched, by kind")); err != nil {
		return nil, err
	}
	if m.latency, err = meter.Float64Histogram("assistant_turn_latency_seconds",
		metric.WithDescription("Model round trip latency"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Metrics) turn(ctx context.Context, model string, seconds float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("model", model))
	m.turns.Add(ctx, 1, attrs)
	m.latency.Record(ctx, seconds, attrs)
}

func (m *Metrics) drop(ctx context.Context) {
	if m == nil {
		return
	}
	m.dropped.Add(ctx, 1)
}

func (m *Metrics) failure(ctx context.Context, model string) {
	if m == nil {
		return
	}
	m.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("model", model)))
}

func (m *Metrics) directive(ctx context.Context, kind DirectiveKind) {
	if m == nil {
		return
	}
	m.directives.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(kind))))
}

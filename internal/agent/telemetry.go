package agent

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// InstrumentationName is the name used for OTel instrumentation.
const InstrumentationName = "github.com/cmejo/AI-Scholar-sub007/internal/agent"

type metrics struct {
	turnDuration metric.Float64Histogram
	turnsTotal   metric.Int64Counter
	fallbacks    metric.Int64Counter
}

func newMetrics(meter metric.Meter) (*metrics, error) {
	m := &metrics{}
	var err error

	m.turnDuration, err = meter.Float64Histogram(
		"assistant.agent.turn.duration",
		metric.WithDescription("Decision pipeline latency per turn"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.turnsTotal, err = meter.Int64Counter(
		"assistant.agent.turns",
		metric.WithDescription("Turns processed, by selected action kind"),
		metric.WithUnit("{turn}"),
	)
	if err != nil {
		return nil, err
	}

	m.fallbacks, err = meter.Int64Counter(
		"assistant.agent.fallbacks",
		metric.WithDescription("Fallback responses, by cause"),
		metric.WithUnit("{response}"),
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (m *metrics) recordTurn(ctx context.Context, kind string, d time.Duration) {
	m.turnDuration.Record(ctx, d.Seconds())
	m.turnsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("action_kind", kind)))
}

func (m *metrics) recordFallback(ctx context.Context, cause string) {
	m.fallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("cause", cause)))
}

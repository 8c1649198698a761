package session

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// InstrumentationName is the name used for OTel instrumentation.
const InstrumentationName = "github.com/cmejo/AI-Scholar-sub007/internal/session"

type metrics struct {
	started  metric.Int64Counter
	ended    metric.Int64Counter
	active   metric.Int64UpDownCounter
	turns    metric.Int64Counter
	rejected metric.Int64Counter
}

func newMetrics(meter metric.Meter) (*metrics, error) {
	m := &metrics{}
	var err error

	if m.started, err = meter.Int64Counter("assistant.session.started",
		metric.WithDescription("Sessions started"),
		metric.WithUnit("{session}")); err != nil {
		return nil, err
	}
	if m.ended, err = meter.Int64Counter("assistant.session.ended",
		metric.WithDescription("Sessions ended, by final status"),
		metric.WithUnit("{session}")); err != nil {
		return nil, err
	}
	if m.active, err = meter.Int64UpDownCounter("assistant.session.active",
		metric.WithDescription("Sessions currently held"),
		metric.WithUnit("{session}")); err != nil {
		return nil, err
	}
	if m.turns, err = meter.Int64Counter("assistant.session.turns",
		metric.WithDescription("Turns processed"),
		metric.WithUnit("{turn}")); err != nil {
		return nil, err
	}
	if m.rejected, err = meter.Int64Counter("assistant.session.turns.rejected",
		metric.WithDescription("Turns rejected before processing, by reason"),
		metric.WithUnit("{turn}")); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *metrics) recordStart(ctx context.Context) {
	m.started.Add(ctx, 1)
	m.active.Add(ctx, 1)
}

func (m *metrics) recordEnd(ctx context.Context, status Status) {
	m.ended.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(status))))
	m.active.Add(ctx, -1)
}

func (m *metrics) recordRejected(ctx context.Context, reason string) {
	m.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

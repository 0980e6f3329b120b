package orientlog

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/bitdabbler/orientlog"

// drop reasons, recorded as the "reason" attribute of the dropped counter
const (
	dropQueueFull     = "queue_full"
	dropClosed        = "closed"
	dropSerialization = "serialization"
	dropDelivery      = "delivery"
)

type sinkMetrics struct {
	accepted  metric.Int64Counter
	dropped   metric.Int64Counter
	delivered metric.Int64Counter
	failed    metric.Int64Counter
	duration  metric.Float64Histogram
	classAttr metric.MeasurementOption
}

func newSinkMetrics(mp metric.MeterProvider, className string) (*sinkMetrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(meterName)

	m := &sinkMetrics{
		classAttr: metric.WithAttributes(attribute.String("class", className)),
	}

	var err error
	if m.accepted, err = meter.Int64Counter("orientlog.events.accepted",
		metric.WithDescription("Log events accepted into the batch buffer."),
		metric.WithUnit("{event}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create accepted counter: %w", err)
	}
	if m.dropped, err = meter.Int64Counter("orientlog.events.dropped",
		metric.WithDescription("Log events dropped before or during delivery."),
		metric.WithUnit("{event}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create dropped counter: %w", err)
	}
	if m.delivered, err = meter.Int64Counter("orientlog.batches.delivered",
		metric.WithDescription("Batches accepted by the store."),
		metric.WithUnit("{batch}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create delivered counter: %w", err)
	}
	if m.failed, err = meter.Int64Counter("orientlog.batches.failed",
		metric.WithDescription("Batch delivery attempts that failed."),
		metric.WithUnit("{batch}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create failed counter: %w", err)
	}
	if m.duration, err = meter.Float64Histogram("orientlog.delivery.duration",
		metric.WithDescription("Duration of batch delivery requests."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("failed to create duration histogram: %w", err)
	}

	return m, nil
}

func (m *sinkMetrics) drop(ctx context.Context, n int, reason string) {
	m.dropped.Add(ctx, int64(n), m.classAttr, metric.WithAttributes(attribute.String("reason", reason)))
}

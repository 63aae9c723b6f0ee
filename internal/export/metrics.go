package export

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/kansoku/internal/telemetry"
)

// registerMetrics registers observable OTEL instruments for exporter health.
// Called from Start() after the global meter provider has been initialized.
func (b *Batcher[T]) registerMetrics() {
	meter := telemetry.Meter("kansoku/export")
	attrs := metric.WithAttributes(attribute.String("exporter", b.name))

	_, _ = meter.Int64ObservableGauge("kansoku.export.queue_depth",
		metric.WithDescription("Current number of items waiting for export"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(b.Len()), attrs)
			return nil
		}),
	)

	_, _ = meter.Int64ObservableCounter("kansoku.export.exported_total",
		metric.WithDescription("Total items acknowledged by the collector"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(b.exported.Load(), attrs)
			return nil
		}),
	)

	_, _ = meter.Int64ObservableCounter("kansoku.export.dropped_total",
		metric.WithDescription("Total items dropped because the queue was full"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(b.dropped.Load(), attrs)
			return nil
		}),
	)

	_, _ = meter.Int64ObservableCounter("kansoku.export.failed_batches_total",
		metric.WithDescription("Total batches dropped after exhausting send retries"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(b.failed.Load(), attrs)
			return nil
		}),
	)
}

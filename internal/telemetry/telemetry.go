// Package telemetry initializes the OpenTelemetry metrics pipeline.
//
// Spans do not go through the OTel SDK; they are produced by internal/tracing
// and shipped by internal/export. Metrics (exporter health, token usage,
// operation latency) use the SDK meter provider configured here.
package telemetry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

// MetricsPath is appended to the collector base URL.
const MetricsPath = "/v1/metrics"

// Shutdown flushes and stops the meter provider.
type Shutdown func(ctx context.Context) error

// Config describes where metrics go.
type Config struct {
	CollectorURL string            // base URL; empty disables export
	Headers      map[string]string // credential header, already resolved
	Resource     *resource.Resource
	Interval     time.Duration // 15s when zero
}

// Init configures the global meter provider.
// If CollectorURL is empty, the global no-op provider stays in place.
// Returns a shutdown function that must be called during graceful shutdown.
func Init(ctx context.Context, cfg Config) (Shutdown, error) {
	if cfg.CollectorURL == "" {
		return func(ctx context.Context) error { return nil }, nil
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = 15 * time.Second
	}

	metricExp, err := otlpmetrichttp.New(ctx,
		otlpmetrichttp.WithEndpointURL(strings.TrimRight(cfg.CollectorURL, "/")+MetricsPath),
		otlpmetrichttp.WithHeaders(cfg.Headers),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create metric exporter: %w", err)
	}

	opts := []sdkmetric.Option{
		sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(metricExp,
				sdkmetric.WithInterval(interval),
			),
		),
	}
	if cfg.Resource != nil {
		opts = append(opts, sdkmetric.WithResource(cfg.Resource))
	}
	mp := sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(mp)

	return mp.Shutdown, nil
}

// Meter returns the global meter for the given instrumentation scope.
func Meter(name string) metric.Meter {
	return otel.GetMeterProvider().Meter(name)
}

package tracing

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ResourceConfig names the process.
type ResourceConfig struct {
	ServiceName string
	Version     string
	Environment string
	// DetectHost adds host.name. Off in tests for deterministic attributes.
	DetectHost bool
}

// NewResource builds the immutable identity shared by every span and metric
// point the process emits. A partially detected host identity is kept rather
// than failing startup.
func NewResource(ctx context.Context, cfg ResourceConfig) (*resource.Resource, error) {
	opts := []resource.Option{
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(cfg.Version),
			semconv.DeploymentEnvironmentKey.String(cfg.Environment),
		),
		resource.WithTelemetrySDK(),
	}
	if cfg.DetectHost {
		opts = append(opts, resource.WithHost())
	}

	res, err := resource.New(ctx, opts...)
	if err != nil {
		if errors.Is(err, resource.ErrPartialResource) && res != nil {
			return res, nil
		}
		return nil, fmt.Errorf("tracing: create resource: %w", err)
	}
	return res, nil
}

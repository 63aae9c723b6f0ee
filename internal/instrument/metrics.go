package instrument

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/kansoku/internal/telemetry"
)

// instruments are created once per Instrumenter from the global meter
// provider. Creation errors leave the field nil and the recording is
// skipped; metrics are best-effort.
type instruments struct {
	duration metric.Float64Histogram
	tokens   metric.Int64Counter
	cost     metric.Float64Counter
}

func newInstruments() instruments {
	meter := telemetry.Meter("kansoku/instrument")
	var ins instruments
	if h, err := meter.Float64Histogram("kansoku.operation.duration",
		metric.WithDescription("Wall-clock duration of traced operations"),
		metric.WithUnit("ms")); err == nil {
		ins.duration = h
	}
	if c, err := meter.Int64Counter("kansoku.llm.tokens",
		metric.WithDescription("Tokens consumed by model calls"),
		metric.WithUnit("{token}")); err == nil {
		ins.tokens = c
	}
	if c, err := meter.Float64Counter("kansoku.llm.cost",
		metric.WithDescription("Estimated model spend"),
		metric.WithUnit("USD")); err == nil {
		ins.cost = c
	}
	return ins
}

func (ins instruments) recordOperation(ctx context.Context, kind, name string, ms float64, success bool) {
	if ins.duration == nil {
		return
	}
	ins.duration.Record(ctx, ms, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("name", name),
		attribute.Bool("success", success),
	))
}

func (ins instruments) recordUsage(ctx context.Context, provider, model string, u Usage, cost float64) {
	attrs := metric.WithAttributes(
		attribute.String("llm.provider", provider),
		attribute.String("llm.model", model),
	)
	if ins.tokens != nil {
		ins.tokens.Add(ctx, int64(u.PromptTokens), attrs, metric.WithAttributes(attribute.String("type", "prompt")))
		ins.tokens.Add(ctx, int64(u.CompletionTokens), attrs, metric.WithAttributes(attribute.String("type", "completion")))
	}
	if ins.cost != nil {
		ins.cost.Add(ctx, cost, attrs)
	}
}

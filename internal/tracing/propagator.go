package tracing

import (
	"context"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/propagation"
)

// Propagator moves a SpanContext and the raw baggage header across a process
// boundary. It satisfies propagation.TextMapPropagator so it works with
// propagation.HeaderCarrier and any carrier the OTel ecosystem provides.
type Propagator struct{}

var _ propagation.TextMapPropagator = Propagator{}

// Inject writes the context's current span (or remote parent) and baggage.
// Nothing is written for an invalid context.
func (Propagator) Inject(ctx context.Context, carrier propagation.TextMapCarrier) {
	if sc := SpanContextFromContext(ctx); sc.IsValid() {
		carrier.Set(TraceparentHeader, Encode(sc))
	}
	values := BaggageValuesFromContext(ctx)
	if len(values) == 0 {
		return
	}
	adder := headerAdder(carrier)
	if adder == nil {
		carrier.Set(BaggageHeader, strings.Join(values, ","))
		return
	}
	carrier.Set(BaggageHeader, values[0])
	for _, v := range values[1:] {
		adder(BaggageHeader, v)
	}
}

// headerAdder returns a function appending a header line, or nil when the
// carrier only holds one value per key.
func headerAdder(carrier propagation.TextMapCarrier) func(key, value string) {
	switch c := carrier.(type) {
	case propagation.HeaderCarrier:
		return http.Header(c).Add
	case interface{ Add(key, value string) }:
		return c.Add
	}
	return nil
}

// headerValues returns every line of key, falling back to Get for carriers
// that hold a single value.
func headerValues(carrier propagation.TextMapCarrier, key string) []string {
	switch c := carrier.(type) {
	case propagation.HeaderCarrier:
		return http.Header(c).Values(key)
	case interface{ Values(key string) []string }:
		return c.Values(key)
	}
	return []string{carrier.Get(key)}
}

// Extract returns ctx with the inbound parent and baggage attached. A
// malformed traceparent is dropped silently, so the next span starts a new
// trace. Baggage is kept regardless; it has nothing to do with sampling.
func (Propagator) Extract(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	if sc, ok := Decode(carrier.Get(TraceparentHeader)); ok {
		ctx = ContextWithRemoteParent(ctx, sc)
	}
	return ContextWithBaggage(ctx, headerValues(carrier, BaggageHeader)...)
}

// Fields lists the headers Inject may set.
func (Propagator) Fields() []string {
	return []string{TraceparentHeader, BaggageHeader}
}

package tracing

import (
	"context"
	"slices"
	"strings"
)

type contextKey int

const (
	keyActiveSpan contextKey = iota
	keyRemoteParent
	keyBaggage
)

// ContextWithSpan returns a copy of ctx in which span is the active span.
// A nil span leaves ctx unchanged.
func ContextWithSpan(ctx context.Context, span *Span) context.Context {
	if span == nil {
		return ctx
	}
	return context.WithValue(ctx, keyActiveSpan, span)
}

// SpanFromContext returns the active span, or nil.
func SpanFromContext(ctx context.Context) *Span {
	if ctx == nil {
		return nil
	}
	if s, ok := ctx.Value(keyActiveSpan).(*Span); ok {
		return s
	}
	return nil
}

// ContextWithRemoteParent records an inbound span context as the parent of
// the next span started from ctx. Invalid contexts are ignored.
func ContextWithRemoteParent(ctx context.Context, sc SpanContext) context.Context {
	if !sc.IsValid() {
		return ctx
	}
	sc.Remote = true
	return context.WithValue(ctx, keyRemoteParent, sc)
}

// SpanContextFromContext returns the context a new child would be parented
// to: the active span if there is one, otherwise a remote parent, otherwise
// the zero value.
func SpanContextFromContext(ctx context.Context) SpanContext {
	if s := SpanFromContext(ctx); s != nil {
		return s.SpanContext()
	}
	if ctx == nil {
		return SpanContext{}
	}
	if sc, ok := ctx.Value(keyRemoteParent).(SpanContext); ok {
		return sc
	}
	return SpanContext{}
}

// ContextWithBaggage stores raw baggage header values, one per header line.
// They are never parsed. Empty values are skipped.
func ContextWithBaggage(ctx context.Context, values ...string) context.Context {
	values = slices.DeleteFunc(slices.Clone(values), func(v string) bool { return v == "" })
	if len(values) == 0 {
		return ctx
	}
	return context.WithValue(ctx, keyBaggage, values)
}

// BaggageValuesFromContext returns the raw baggage header lines in arrival
// order, or nil.
func BaggageValuesFromContext(ctx context.Context) []string {
	if ctx == nil {
		return nil
	}
	if b, ok := ctx.Value(keyBaggage).([]string); ok {
		return slices.Clone(b)
	}
	return nil
}

// BaggageFromContext returns the baggage lines combined with commas, the
// single-header form of the same list, or "".
func BaggageFromContext(ctx context.Context) string {
	return strings.Join(BaggageValuesFromContext(ctx), ",")
}

// WithActive runs fn with span as the active span. The caller's ctx is not
// modified, so once fn returns (or panics) the caller still sees whatever
// span was active before. Goroutines that fn starts with the derived context
// keep seeing span after fn has returned.
func WithActive(ctx context.Context, span *Span, fn func(ctx context.Context) error) error {
	return fn(ContextWithSpan(ctx, span))
}

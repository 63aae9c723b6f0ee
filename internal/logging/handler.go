// Package logging correlates log records with the active span.
//
// Handler decorates any slog.Handler. Records emitted while a span is active
// in the record's context gain trace_id and span_id attributes, and can be
// forwarded to the collector's log pipeline.
package logging

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ashita-ai/kansoku/internal/tracing"
)

// Attribute keys added to correlated records.
const (
	TraceIDKey = "trace_id"
	SpanIDKey  = "span_id"
)

// Record is a log entry as handed to a Forwarder.
type Record struct {
	Time       time.Time
	Severity   Severity
	Body       string
	Attributes []attribute.KeyValue
	TraceID    trace.TraceID // zero when no span was active
	SpanID     trace.SpanID
}

// Forwarder receives every record the handler passes to its sink.
// Forward must not block.
type Forwarder interface {
	Forward(ctx context.Context, r Record)
}

// ForwarderFunc adapts a function to Forwarder.
type ForwarderFunc func(ctx context.Context, r Record)

// Forward implements Forwarder.
func (f ForwarderFunc) Forward(ctx context.Context, r Record) { f(ctx, r) }

type forwardingKey struct{}

// Handler is a slog.Handler decorator.
type Handler struct {
	next   slog.Handler
	fwd    Forwarder
	attrs  []attribute.KeyValue // bound through WithAttrs, already prefixed
	prefix string               // open groups, "a.b."
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithForwarder sends a copy of every handled record to f.
func WithForwarder(f Forwarder) HandlerOption {
	return func(h *Handler) { h.fwd = f }
}

// NewHandler wraps next.
func NewHandler(next slog.Handler, opts ...HandlerOption) *Handler {
	h := &Handler{next: next}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Enabled defers to the wrapped handler, so the sink's level filter applies
// unchanged to forwarded records.
func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

// Handle tags r with the active span, passes it on, then forwards it.
func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	var sc tracing.SpanContext
	if span := tracing.SpanFromContext(ctx); span != nil {
		sc = span.SpanContext()
	}
	if sc.IsValid() {
		r = r.Clone()
		r.AddAttrs(
			slog.String(TraceIDKey, sc.TraceID.String()),
			slog.String(SpanIDKey, sc.SpanID.String()),
		)
	}
	err := h.next.Handle(ctx, r)

	if h.fwd != nil && ctx.Value(forwardingKey{}) == nil {
		rec := Record{
			Time:     r.Time,
			Severity: SeverityFromLevel(r.Level),
			Body:     r.Message,
			TraceID:  sc.TraceID,
			SpanID:   sc.SpanID,
		}
		rec.Attributes = slices.Clone(h.attrs)
		r.Attrs(func(a slog.Attr) bool {
			if a.Key == TraceIDKey || a.Key == SpanIDKey {
				return true
			}
			rec.Attributes = appendAttr(rec.Attributes, h.prefix, a)
			return true
		})
		// Anything the forwarder logs through this handler is not forwarded again.
		h.fwd.Forward(context.WithValue(ctx, forwardingKey{}, true), rec)
	}
	return err
}

// WithAttrs implements slog.Handler.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	h2 := *h
	h2.next = h.next.WithAttrs(attrs)
	h2.attrs = slices.Clone(h.attrs)
	for _, a := range attrs {
		h2.attrs = appendAttr(h2.attrs, h.prefix, a)
	}
	return &h2
}

// WithGroup implements slog.Handler.
func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := *h
	h2.next = h.next.WithGroup(name)
	h2.prefix = h.prefix + name + "."
	return &h2
}

func appendAttr(dst []attribute.KeyValue, prefix string, a slog.Attr) []attribute.KeyValue {
	v := a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return dst
	}
	key := prefix + a.Key
	switch v.Kind() {
	case slog.KindString:
		return append(dst, attribute.String(key, v.String()))
	case slog.KindInt64:
		return append(dst, attribute.Int64(key, v.Int64()))
	case slog.KindUint64:
		return append(dst, attribute.Int64(key, int64(v.Uint64())))
	case slog.KindFloat64:
		return append(dst, attribute.Float64(key, v.Float64()))
	case slog.KindBool:
		return append(dst, attribute.Bool(key, v.Bool()))
	case slog.KindDuration:
		return append(dst, attribute.String(key, v.Duration().String()))
	case slog.KindTime:
		return append(dst, attribute.String(key, v.Time().Format(time.RFC3339Nano)))
	case slog.KindGroup:
		groupPrefix := prefix
		if a.Key != "" {
			groupPrefix = key + "."
		}
		for _, ga := range v.Group() {
			dst = appendAttr(dst, groupPrefix, ga)
		}
		return dst
	default:
		return append(dst, attribute.String(key, v.String()))
	}
}

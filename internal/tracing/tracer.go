package tracing

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/trace"
)

// SpanSink receives every sampled span exactly once, when it ends.
// OnEnd must not block; the exporter queue satisfies this.
type SpanSink interface {
	OnEnd(SpanData)
}

// SinkFunc adapts a function to SpanSink.
type SinkFunc func(SpanData)

// OnEnd calls f(d).
func (f SinkFunc) OnEnd(d SpanData) { f(d) }

// Option configures a Tracer.
type Option func(*Tracer)

// WithSink sets where ended spans go. Without a sink spans are created and
// closed normally but never leave the process.
func WithSink(sink SpanSink) Option {
	return func(t *Tracer) { t.sink = sink }
}

// WithSampler replaces the default always-on sampler.
func WithSampler(s Sampler) Option {
	return func(t *Tracer) { t.sampler = s }
}

// WithIDGenerator replaces the crypto/rand id source.
func WithIDGenerator(g IDGenerator) Option {
	return func(t *Tracer) { t.ids = g }
}

// WithResource attaches the process identity.
func WithResource(res *resource.Resource) Option {
	return func(t *Tracer) { t.res = res }
}

// WithEnabled turns the tracer on or off. A disabled tracer creates no spans.
func WithEnabled(enabled bool) Option {
	return func(t *Tracer) { t.enabled = enabled }
}

// Tracer starts spans. It is safe for concurrent use and holds no per-request
// state.
type Tracer struct {
	enabled bool
	sink    SpanSink
	sampler Sampler
	ids     IDGenerator
	res     *resource.Resource
}

// NewTracer returns an enabled tracer that samples everything unless told
// otherwise.
func NewTracer(opts ...Option) *Tracer {
	t := &Tracer{
		enabled: true,
		sampler: NewRatioSampler(1),
		ids:     randomIDGenerator{},
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.res == nil {
		t.res = resource.Empty()
	}
	return t
}

// NewNoopTracer returns a disabled tracer.
func NewNoopTracer() *Tracer {
	return NewTracer(WithEnabled(false))
}

// Enabled reports whether the tracer creates spans.
func (t *Tracer) Enabled() bool { return t != nil && t.enabled }

// Resource returns the process identity attached to this tracer's spans.
func (t *Tracer) Resource() *resource.Resource {
	if t == nil || t.res == nil {
		return resource.Empty()
	}
	return t.res
}

// SpanOption adjusts a span at start.
type SpanOption func(*spanConfig)

type spanConfig struct {
	kind      trace.SpanKind
	attrs     []attribute.KeyValue
	start     time.Time
	newRoot   bool
	parentCtx *SpanContext
}

// WithSpanKind sets the span kind. The default is internal.
func WithSpanKind(kind trace.SpanKind) SpanOption {
	return func(c *spanConfig) { c.kind = kind }
}

// WithAttributes sets initial attributes.
func WithAttributes(kvs ...attribute.KeyValue) SpanOption {
	return func(c *spanConfig) { c.attrs = append(c.attrs, kvs...) }
}

// WithStartTime overrides the start timestamp.
func WithStartTime(ts time.Time) SpanOption {
	return func(c *spanConfig) { c.start = ts }
}

// WithNewRoot ignores whatever is active in the context and starts a new trace.
func WithNewRoot() SpanOption {
	return func(c *spanConfig) { c.newRoot = true }
}

// WithParent uses sc as the parent instead of the context's active span.
func WithParent(sc SpanContext) SpanOption {
	return func(c *spanConfig) { c.parentCtx = &sc }
}

// StartSpan creates a span parented to the span active in ctx (or to the
// remote parent stored by ContextWithRemoteParent). The returned span is not
// active; pass it to WithActive or ContextWithSpan to make it so.
//
// A disabled tracer returns nil, which every Span method accepts.
func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...SpanOption) *Span {
	if !t.Enabled() {
		return nil
	}
	cfg := spanConfig{kind: trace.SpanKindInternal}
	for _, opt := range opts {
		opt(&cfg)
	}

	var parent SpanContext
	switch {
	case cfg.newRoot:
	case cfg.parentCtx != nil:
		parent = *cfg.parentCtx
	default:
		parent = SpanContextFromContext(ctx)
	}

	sc := SpanContext{SpanID: t.ids.NewSpanID()}
	var parentID trace.SpanID
	if parent.IsValid() {
		sc.TraceID = parent.TraceID
		sc.Sampled = parent.Sampled
		parentID = parent.SpanID
	} else {
		sc.TraceID = t.ids.NewTraceID()
		sc.Sampled = t.sampler.ShouldSample(sc.TraceID)
	}

	start := cfg.start
	if start.IsZero() {
		start = time.Now()
	}

	return &Span{
		sink:       t.sink,
		sc:         sc,
		parent:     parentID,
		name:       name,
		kind:       cfg.kind,
		start:      start,
		attrs:      mergeAttributes(nil, cfg.attrs),
		recordable: sc.Sampled && t.sink != nil,
	}
}

// Start is StartSpan followed by ContextWithSpan.
func (t *Tracer) Start(ctx context.Context, name string, opts ...SpanOption) (context.Context, *Span) {
	span := t.StartSpan(ctx, name, opts...)
	return ContextWithSpan(ctx, span), span
}

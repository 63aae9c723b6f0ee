package tracing

import (
	"net/http"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Transport is an http.RoundTripper that opens a client span for each
// outbound request and sends its context in the traceparent header, so the
// server's span becomes a child of it.
type Transport struct {
	Base   http.RoundTripper // http.DefaultTransport when nil
	Tracer *Tracer
}

// NewTransport wraps base.
func NewTransport(base http.RoundTripper, tracer *Tracer) *Transport {
	return &Transport{Base: base, Tracer: tracer}
}

// RoundTrip implements http.RoundTripper. The caller's request is cloned
// before headers are added.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	ctx := req.Context()
	span := t.Tracer.StartSpan(ctx, "HTTP "+req.Method,
		WithSpanKind(trace.SpanKindClient),
		WithAttributes(
			attribute.String("http.method", req.Method),
			attribute.String("http.url", req.URL.Redacted()),
		),
	)
	ctx = ContextWithSpan(ctx, span)

	out := req.Clone(ctx)
	Propagator{}.Inject(ctx, propagation.HeaderCarrier(out.Header))

	resp, err := base.RoundTrip(out)
	if err != nil {
		span.RecordError(err)
		span.EndWithStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode >= http.StatusInternalServerError {
		span.EndWithStatus(codes.Error, "HTTP "+strconv.Itoa(resp.StatusCode))
	} else {
		span.EndWithStatus(codes.Ok, "")
	}
	return resp, nil
}

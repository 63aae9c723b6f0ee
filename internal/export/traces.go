package export

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"

	"github.com/ashita-ai/kansoku/internal/tracing"
)

// traceClient is the subset of otlptrace.Client the sender needs.
type traceClient interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	UploadTraces(ctx context.Context, protoSpans []*tracepb.ResourceSpans) error
}

// TraceSender uploads span batches to <collector>/v1/traces as OTLP protobuf.
type TraceSender struct {
	client traceClient
	res    *resource.Resource
}

// NewTraceSender creates and starts an OTLP/HTTP trace client. The client's
// own retry is disabled; the Batcher owns retry policy.
func NewTraceSender(ctx context.Context, c Collector, res *resource.Resource) (*TraceSender, error) {
	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpointURL(c.endpoint(TracesPath)),
		otlptracehttp.WithRetry(otlptracehttp.RetryConfig{Enabled: false}),
	}
	if len(c.Headers) > 0 {
		opts = append(opts, otlptracehttp.WithHeaders(c.Headers))
	}
	if c.Timeout > 0 {
		opts = append(opts, otlptracehttp.WithTimeout(c.Timeout))
	}
	client := otlptracehttp.NewClient(opts...)
	if err := client.Start(ctx); err != nil {
		return nil, fmt.Errorf("export: start trace client: %w", err)
	}
	return &TraceSender{client: client, res: res}, nil
}

// Send implements Sender.
func (s *TraceSender) Send(ctx context.Context, batch []tracing.SpanData) error {
	if len(batch) == 0 {
		return nil
	}
	return s.client.UploadTraces(ctx, ResourceSpans(s.res, batch))
}

// Close stops the underlying client.
func (s *TraceSender) Close(ctx context.Context) error {
	return s.client.Stop(ctx)
}

// ResourceSpans converts a batch of finished spans into the OTLP payload
// for one resource.
func ResourceSpans(res *resource.Resource, batch []tracing.SpanData) []*tracepb.ResourceSpans {
	spans := make([]*tracepb.Span, len(batch))
	for i, d := range batch {
		spans[i] = spanToProto(d)
	}
	var schemaURL string
	if res != nil {
		schemaURL = res.SchemaURL()
	}
	return []*tracepb.ResourceSpans{{
		Resource:   resourceToProto(res),
		SchemaUrl:  schemaURL,
		ScopeSpans: []*tracepb.ScopeSpans{{Scope: scope(), Spans: spans}},
	}}
}

func spanToProto(d tracing.SpanData) *tracepb.Span {
	tid := d.SpanContext.TraceID
	sid := d.SpanContext.SpanID
	s := &tracepb.Span{
		TraceId:           tid[:],
		SpanId:            sid[:],
		Name:              d.Name,
		Kind:              tracepb.Span_SpanKind(d.Kind),
		StartTimeUnixNano: unixNano(d.StartTime),
		EndTimeUnixNano:   unixNano(d.EndTime),
		Attributes:        attrsToProto(d.Attributes),
		Status:            statusToProto(d.Status),
	}
	if d.HasParent() {
		pid := d.ParentSpanID
		s.ParentSpanId = pid[:]
	}
	for _, ev := range d.Events {
		s.Events = append(s.Events, &tracepb.Span_Event{
			TimeUnixNano: unixNano(ev.Time),
			Name:         ev.Name,
			Attributes:   attrsToProto(ev.Attributes),
		})
	}
	return s
}

func statusToProto(st tracing.Status) *tracepb.Status {
	switch st.Code {
	case codes.Ok:
		return &tracepb.Status{Code: tracepb.Status_STATUS_CODE_OK}
	case codes.Error:
		return &tracepb.Status{Code: tracepb.Status_STATUS_CODE_ERROR, Message: st.Message}
	default:
		return &tracepb.Status{Code: tracepb.Status_STATUS_CODE_UNSET}
	}
}

// SpanSink feeds finished spans into b. Use it as the tracer's sink.
func SpanSink(b *Batcher[tracing.SpanData]) tracing.SpanSink {
	return tracing.SinkFunc(func(d tracing.SpanData) { b.Enqueue(d) })
}

// NewSpanBatcher wires a trace batcher. A nil sender selects NopSender,
// which keeps span creation and queueing intact but exports nothing.
func NewSpanBatcher(sender Sender[tracing.SpanData], cfg Config, logger *slog.Logger) *Batcher[tracing.SpanData] {
	return NewBatcher("traces", sender, cfg, logger)
}

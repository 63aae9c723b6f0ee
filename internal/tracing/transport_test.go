package tracing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestPropagatorInjectExtract(t *testing.T) {
	tracer, _ := newRecordingTracer()
	span := tracer.StartSpan(context.Background(), "client")
	ctx := ContextWithSpan(context.Background(), span)
	ctx = ContextWithBaggage(ctx, "userId=alice, serverNode=DF%2028,isProduction=false")

	header := http.Header{}
	Propagator{}.Inject(ctx, propagation.HeaderCarrier(header))
	assert.Equal(t, Encode(span.SpanContext()), header.Get(TraceparentHeader))
	assert.Equal(t, "userId=alice, serverNode=DF%2028,isProduction=false", header.Get(BaggageHeader))

	got := Propagator{}.Extract(context.Background(), propagation.HeaderCarrier(header))
	sc := SpanContextFromContext(got)
	assert.Equal(t, span.SpanContext().TraceID, sc.TraceID)
	assert.Equal(t, span.SpanContext().SpanID, sc.SpanID)
	assert.True(t, sc.Remote)
	assert.Equal(t, header.Get(BaggageHeader), BaggageFromContext(got), "baggage must round-trip byte for byte")
}

func TestPropagatorKeepsEveryBaggageLine(t *testing.T) {
	inbound := http.Header{}
	inbound.Add(BaggageHeader, "userId=alice")
	inbound.Add(BaggageHeader, "tenant=acme")

	ctx := Propagator{}.Extract(context.Background(), propagation.HeaderCarrier(inbound))
	assert.Equal(t, []string{"userId=alice", "tenant=acme"}, BaggageValuesFromContext(ctx))
	assert.Equal(t, "userId=alice,tenant=acme", BaggageFromContext(ctx))

	outbound := http.Header{}
	Propagator{}.Inject(ctx, propagation.HeaderCarrier(outbound))
	assert.Equal(t, inbound.Values(BaggageHeader), outbound.Values(BaggageHeader))

	flat := propagation.MapCarrier{}
	Propagator{}.Inject(ctx, flat)
	assert.Equal(t, "userId=alice,tenant=acme", flat.Get(BaggageHeader))
}

func TestPropagatorExtractGarbageStartsNewTrace(t *testing.T) {
	header := http.Header{}
	header.Set(TraceparentHeader, "00-00000000000000000000000000000000-00f067aa0ba902b7-01")
	header.Set(BaggageHeader, "k=v")

	ctx := Propagator{}.Extract(context.Background(), propagation.HeaderCarrier(header))
	assert.False(t, SpanContextFromContext(ctx).IsValid())
	assert.Equal(t, "k=v", BaggageFromContext(ctx))

	tracer, _ := newRecordingTracer()
	span := tracer.StartSpan(ctx, "server")
	assert.False(t, span.ParentSpanID().IsValid())
}

func TestPropagatorInjectWithoutContext(t *testing.T) {
	header := http.Header{}
	Propagator{}.Inject(context.Background(), propagation.HeaderCarrier(header))
	assert.Empty(t, header)
	assert.ElementsMatch(t, []string{TraceparentHeader, BaggageHeader}, Propagator{}.Fields())
}

func TestTransportCarriesTraceAcrossHop(t *testing.T) {
	clientTracer, clientRec := newRecordingTracer()
	serverTracer, serverRec := newRecordingTracer()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := Propagator{}.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		span := serverTracer.StartSpan(ctx, "server", WithSpanKind(trace.SpanKindServer))
		span.End()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := &http.Client{Transport: NewTransport(nil, clientTracer)}
	root := clientTracer.StartSpan(context.Background(), "chat turn")
	ctx := ContextWithSpan(context.Background(), root)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, srv.URL+"/chat", nil)
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	root.End()

	assert.Empty(t, req.Header.Get(TraceparentHeader), "caller's request must not be mutated")

	clientSpans := clientRec.Ended()
	require.Len(t, clientSpans, 2)
	httpSpan := clientSpans[0]
	assert.Equal(t, "HTTP POST", httpSpan.Name)
	assert.Equal(t, root.SpanContext().SpanID, httpSpan.ParentSpanID)
	assert.Equal(t, codes.Ok, httpSpan.Status.Code)

	serverSpans := serverRec.Ended()
	require.Len(t, serverSpans, 1)
	assert.Equal(t, root.SpanContext().TraceID, serverSpans[0].SpanContext.TraceID)
	assert.Equal(t, httpSpan.SpanContext.SpanID, serverSpans[0].ParentSpanID)
}

func TestTransportRecordsServerErrors(t *testing.T) {
	tracer, rec := newRecordingTracer()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := &http.Client{Transport: NewTransport(nil, tracer)}
	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	_ = resp.Body.Close()

	ended := rec.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, codes.Error, ended[0].Status.Code)
	assert.Equal(t, "HTTP 502", ended[0].Status.Message)
}

func TestNewResource(t *testing.T) {
	res, err := NewResource(context.Background(), ResourceConfig{
		ServiceName: "kansoku-test",
		Version:     "1.2.3",
		Environment: "test",
	})
	require.NoError(t, err)

	values := map[string]string{}
	for _, kv := range res.Attributes() {
		values[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "kansoku-test", values["service.name"])
	assert.Equal(t, "1.2.3", values["service.version"])
	assert.Equal(t, "test", values["deployment.environment"])
}

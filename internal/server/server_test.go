package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcptransport "github.com/mark3labs/mcp-go/client/transport"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/trace"

	"github.com/ashita-ai/kansoku/internal/ctxutil"
	"github.com/ashita-ai/kansoku/internal/export"
	"github.com/ashita-ai/kansoku/internal/instrument"
	"github.com/ashita-ai/kansoku/internal/mcp"
	"github.com/ashita-ai/kansoku/internal/tracing"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// waitForSpans returns once rec holds at least n spans. The server span ends
// after the response is written, so the client can observe the reply first.
func waitForSpans(t *testing.T, rec *tracing.Recorder, n int) []tracing.SpanData {
	t.Helper()
	require.Eventually(t, func() bool { return len(rec.Ended()) >= n }, 2*time.Second, 5*time.Millisecond)
	return rec.Ended()
}

func newTestServer(t *testing.T) (*httptest.Server, *tracing.Recorder, *tracing.Tracer) {
	t.Helper()
	rec := &tracing.Recorder{}
	tracer := tracing.NewTracer(tracing.WithSink(rec))
	in := instrument.New(tracer)
	mcpSrv := mcp.New(in, mcp.Config{Version: "test", ServerID: "kansoku-test"}, quietLogger())

	srv := New(ServerConfig{
		Tracer:    tracer,
		Logger:    quietLogger(),
		MCPServer: mcpSrv.MCPServer(),
		ServerID:  "kansoku-test",
		Version:   "test",
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, rec, tracer
}

func TestHealthEndpoint(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, "test", body.Version)
	assert.True(t, body.Tracing.Enabled)
	assert.Equal(t, "none", body.Tracing.Export)
}

func TestHealthReportsDegradedExport(t *testing.T) {
	p := export.NewPipeline(context.Background(), export.PipelineConfig{
		Batch:   export.DefaultConfig,
		Problem: "no collector endpoint configured",
	}, nil, quietLogger())
	srv := New(ServerConfig{Tracer: tracing.NewNoopTracer(), Pipeline: p, Logger: quietLogger(), Version: "test"})

	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body["status"])
	tr := body["tracing"].(map[string]any)
	assert.Equal(t, false, tr["enabled"])
	assert.Equal(t, "disabled: no collector endpoint configured", tr["export"])
	assert.Contains(t, tr, "traces")
}

func TestServerSpanContinuesInboundTrace(t *testing.T) {
	ts, rec, _ := newTestServer(t)
	const inbound = "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/health", nil)
	require.NoError(t, err)
	req.Header.Set(tracing.TraceparentHeader, inbound)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()

	ended := waitForSpans(t, rec, 1)
	require.Len(t, ended, 1)
	span := ended[0]
	assert.Equal(t, "GET /health", span.Name)
	assert.Equal(t, trace.SpanKindServer, span.Kind)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", span.SpanContext.TraceID.String())
	assert.Equal(t, "00f067aa0ba902b7", span.ParentSpanID.String())
	assert.Equal(t, codes.Ok, span.Status.Code)

	echoed, ok := tracing.Decode(resp.Header.Get(tracing.TraceparentHeader))
	require.True(t, ok, "response carries the server span context")
	assert.Equal(t, span.SpanContext.TraceID, echoed.TraceID)
	assert.Equal(t, span.SpanContext.SpanID, echoed.SpanID)
	assert.NotEmpty(t, resp.Header.Get(HeaderRequestID))
}

func TestMalformedTraceparentStartsNewTrace(t *testing.T) {
	ts, rec, _ := newTestServer(t)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/health", nil)
	require.NoError(t, err)
	req.Header.Set(tracing.TraceparentHeader, "00-zzzz-00f067aa0ba902b7-01")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ended := waitForSpans(t, rec, 1)
	require.Len(t, ended, 1)
	assert.True(t, ended[0].SpanContext.TraceID.IsValid())
	assert.False(t, ended[0].HasParent())
}

func TestCrossProcessHopThroughTransport(t *testing.T) {
	ts, serverRec, _ := newTestServer(t)

	clientRec := &tracing.Recorder{}
	clientTracer := tracing.NewTracer(tracing.WithSink(clientRec))
	httpClient := &http.Client{Transport: tracing.NewTransport(nil, clientTracer)}

	root := clientTracer.StartSpan(context.Background(), "chat turn")
	ctx := tracing.ContextWithSpan(context.Background(), root)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/health", nil)
	require.NoError(t, err)
	resp, err := httpClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	root.End()

	clientSpans := clientRec.Ended()
	require.Len(t, clientSpans, 2)
	hop := clientSpans[0]
	assert.Equal(t, "HTTP GET", hop.Name)

	serverSpans := waitForSpans(t, serverRec, 1)
	require.Len(t, serverSpans, 1)
	assert.Equal(t, root.SpanContext().TraceID, serverSpans[0].SpanContext.TraceID)
	assert.Equal(t, hop.SpanContext.SpanID, serverSpans[0].ParentSpanID)
}

func TestMCPToolSpanIsChildOfServerSpan(t *testing.T) {
	ts, rec, _ := newTestServer(t)
	const inbound = "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"

	c, err := mcpclient.NewStreamableHttpClient(ts.URL+"/mcp",
		mcptransport.WithHTTPHeaders(map[string]string{
			tracing.TraceparentHeader: inbound,
			HeaderConversationID:      "conv-42",
		}),
	)
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	ctx := context.Background()
	initResult, err := c.Initialize(ctx, mcplib.InitializeRequest{
		Params: mcplib.InitializeParams{
			ClientInfo: mcplib.Implementation{Name: "test-client", Version: "1.0"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "kansoku", initResult.ServerInfo.Name)

	result, err := c.CallTool(ctx, mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{
			Name:      "echo",
			Arguments: map[string]any{"text": "hi"},
		},
	})
	require.NoError(t, err)
	require.False(t, result.IsError)

	var toolSpan, serverSpan *tracing.SpanData
	require.Eventually(t, func() bool {
		toolSpan, serverSpan = nil, nil
		ended := rec.Ended()
		for i := range ended {
			if ended[i].Name == "tool: echo" {
				toolSpan = &ended[i]
			}
		}
		if toolSpan == nil {
			return false
		}
		for i := range ended {
			if ended[i].Name == "POST /mcp" && ended[i].SpanContext.SpanID == toolSpan.ParentSpanID {
				serverSpan = &ended[i]
			}
		}
		return serverSpan != nil
	}, 2*time.Second, 5*time.Millisecond, "tool span must be a child of the POST /mcp server span")
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", toolSpan.SpanContext.TraceID.String())
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", serverSpan.SpanContext.TraceID.String())

	conv, ok := toolSpan.Attribute("conversation.id")
	require.True(t, ok)
	assert.Equal(t, "conv-42", conv.AsString())
}

func TestRecoveryMiddleware(t *testing.T) {
	rec := &tracing.Recorder{}
	tracer := tracing.NewTracer(tracing.WithSink(rec))
	panicky := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") })
	handler := tracingMiddleware(tracer, recoveryMiddleware(quietLogger(), panicky))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/explode", nil))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)

	ended := rec.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, codes.Error, ended[0].Status.Code)
	status, ok := ended[0].Attribute("http.status_code")
	require.True(t, ok)
	assert.Equal(t, int64(500), status.AsInt64())
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	handler := requestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = ctxutil.RequestIDFromContext(r.Context())
	}))

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderRequestID, "req-123")
	handler.ServeHTTP(rr, req)
	assert.Equal(t, "req-123", seen)
	assert.Equal(t, "req-123", rr.Header().Get(HeaderRequestID))

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Len(t, seen, 36, "generated ids are UUIDs")
}

func TestDisabledTracerPassesThrough(t *testing.T) {
	called := false
	handler := tracingMiddleware(tracing.NewNoopTracer(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		assert.Nil(t, tracing.SpanFromContext(r.Context()))
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.True(t, called)
	assert.Empty(t, rr.Header().Get(tracing.TraceparentHeader))
}

func TestStatusWriterKeepsFirstCode(t *testing.T) {
	rr := httptest.NewRecorder()
	w := &statusWriter{ResponseWriter: rr, statusCode: http.StatusOK}
	w.WriteHeader(http.StatusTeapot)
	w.WriteHeader(http.StatusInternalServerError)
	assert.Equal(t, http.StatusTeapot, w.statusCode)
	assert.Same(t, rr, w.Unwrap())
}

func TestTracingMiddlewareRecordsRequestMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	tracer := tracing.NewTracer(tracing.WithSink(&tracing.Recorder{}))
	handler := instrumentedTracing(tracer, newHTTPMetrics(provider.Meter("test")),
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) }))

	for range 3 {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	}

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	require.Len(t, rm.ScopeMetrics, 1)

	byName := map[string]metricdata.Metrics{}
	for _, m := range rm.ScopeMetrics[0].Metrics {
		byName[m.Name] = m
	}
	sum, ok := byName["http.server.request_count"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, sum.DataPoints, 1)
	assert.Equal(t, int64(3), sum.DataPoints[0].Value)

	hist, ok := byName["http.server.duration"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, uint64(3), hist.DataPoints[0].Count)
}

package export

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	collogspb "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	logspb "go.opentelemetry.io/proto/otlp/logs/v1"
	"google.golang.org/protobuf/proto"

	"github.com/ashita-ai/kansoku/internal/logging"
	"github.com/ashita-ai/kansoku/internal/tracing"
)

func newLogCollector(t *testing.T, status int) (*httptest.Server, chan *collogspb.ExportLogsServiceRequest) {
	t.Helper()
	got := make(chan *collogspb.ExportLogsServiceRequest, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, LogsPath, r.URL.Path)
		assert.Equal(t, "application/x-protobuf", r.Header.Get("Content-Type"))
		assert.Equal(t, "secret", r.Header.Get("X-Collector-Key"))
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var req collogspb.ExportLogsServiceRequest
		require.NoError(t, proto.Unmarshal(body, &req))
		got <- &req
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func TestLogSenderPostsOTLP(t *testing.T) {
	srv, got := newLogCollector(t, http.StatusOK)
	sender := NewLogSender(Collector{
		URL:     srv.URL,
		Headers: map[string]string{"X-Collector-Key": "secret"},
		Timeout: 5 * time.Second,
	}, testResource(t))

	tracer := tracing.NewTracer(tracing.WithSink(&tracing.Recorder{}))
	span := tracer.StartSpan(context.Background(), "turn")
	sc := span.SpanContext()
	span.End()

	err := sender.Send(context.Background(), []logging.Record{
		{Time: time.Now(), Severity: logging.SeverityError, Body: "tool failed", TraceID: sc.TraceID, SpanID: sc.SpanID},
		{Time: time.Now(), Severity: logging.SeverityInfo, Body: "idle"},
	})
	require.NoError(t, err)

	req := <-got
	require.Len(t, req.ResourceLogs, 1)
	recs := req.ResourceLogs[0].ScopeLogs[0].LogRecords
	require.Len(t, recs, 2)

	assert.Equal(t, "tool failed", recs[0].Body.GetStringValue())
	assert.Equal(t, logspb.SeverityNumber_SEVERITY_NUMBER_ERROR, recs[0].SeverityNumber)
	assert.Equal(t, "error", recs[0].SeverityText)
	assert.Equal(t, sc.TraceID[:], recs[0].TraceId)
	assert.Equal(t, sc.SpanID[:], recs[0].SpanId)

	assert.Equal(t, logspb.SeverityNumber_SEVERITY_NUMBER_INFO, recs[1].SeverityNumber)
	assert.Empty(t, recs[1].TraceId, "no span was active")
}

func TestLogSenderReportsCollectorFailure(t *testing.T) {
	srv, _ := newLogCollector(t, http.StatusInternalServerError)
	sender := NewLogSender(Collector{URL: srv.URL, Headers: map[string]string{"X-Collector-Key": "secret"}}, nil)

	err := sender.Send(context.Background(), []logging.Record{{Severity: logging.SeverityWarn, Body: "x"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestLogForwarderPipeline(t *testing.T) {
	sender := &collectingSender[logging.Record]{}
	b := NewLogBatcher(sender, Config{}, discardLogger())

	var out bytes.Buffer
	logger := slog.New(logging.NewHandler(slog.NewJSONHandler(&out, nil), logging.WithForwarder(LogForwarder(b))))

	tracer := tracing.NewTracer(tracing.WithSink(&tracing.Recorder{}))
	ctx, span := tracer.Start(context.Background(), "turn")
	logger.InfoContext(ctx, "answer ready", "tokens", 225)
	logger.Debug("below sink level")
	span.End()

	require.NoError(t, b.ForceFlush(context.Background()))
	recs := sender.items()
	require.Len(t, recs, 1)
	assert.Equal(t, "answer ready", recs[0].Body)
	assert.Equal(t, span.SpanContext().TraceID, recs[0].TraceID)
}

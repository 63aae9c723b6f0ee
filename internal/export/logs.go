package export

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/sdk/resource"
	collogspb "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	logspb "go.opentelemetry.io/proto/otlp/logs/v1"
	"google.golang.org/protobuf/proto"

	"github.com/ashita-ai/kansoku/internal/logging"
)

// LogSender posts log record batches to <collector>/v1/logs as OTLP
// protobuf.
type LogSender struct {
	client *resty.Client
	url    string
	res    *resource.Resource
}

// NewLogSender builds a sender for c. Requests carry c.Headers.
func NewLogSender(c Collector, res *resource.Resource) *LogSender {
	client := resty.New().
		SetHeader("Content-Type", "application/x-protobuf").
		SetHeaders(c.Headers)
	if c.Timeout > 0 {
		client.SetTimeout(c.Timeout)
	}
	return &LogSender{client: client, url: c.endpoint(LogsPath), res: res}
}

// Send implements Sender.
func (s *LogSender) Send(ctx context.Context, batch []logging.Record) error {
	if len(batch) == 0 {
		return nil
	}
	body, err := proto.Marshal(LogsRequest(s.res, batch))
	if err != nil {
		return fmt.Errorf("export: marshal logs: %w", err)
	}
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(body).
		Post(s.url)
	if err != nil {
		return fmt.Errorf("export: post logs: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("export: post logs: collector returned %s", resp.Status())
	}
	return nil
}

// LogsRequest converts a batch of records into an OTLP export request for
// one resource.
func LogsRequest(res *resource.Resource, batch []logging.Record) *collogspb.ExportLogsServiceRequest {
	records := make([]*logspb.LogRecord, len(batch))
	for i, r := range batch {
		records[i] = recordToProto(r)
	}
	var schemaURL string
	if res != nil {
		schemaURL = res.SchemaURL()
	}
	return &collogspb.ExportLogsServiceRequest{
		ResourceLogs: []*logspb.ResourceLogs{{
			Resource:  resourceToProto(res),
			SchemaUrl: schemaURL,
			ScopeLogs: []*logspb.ScopeLogs{{Scope: scope(), LogRecords: records}},
		}},
	}
}

func recordToProto(r logging.Record) *logspb.LogRecord {
	lr := &logspb.LogRecord{
		TimeUnixNano:         unixNano(r.Time),
		ObservedTimeUnixNano: unixNano(r.Time),
		SeverityNumber:       logspb.SeverityNumber(r.Severity.Number()),
		SeverityText:         r.Severity.String(),
		Body:                 stringValue(r.Body),
		Attributes:           attrsToProto(r.Attributes),
	}
	if r.TraceID.IsValid() {
		tid := r.TraceID
		lr.TraceId = tid[:]
	}
	if r.SpanID.IsValid() {
		sid := r.SpanID
		lr.SpanId = sid[:]
	}
	return lr
}

// LogForwarder feeds forwarded records into b.
func LogForwarder(b *Batcher[logging.Record]) logging.Forwarder {
	return logging.ForwarderFunc(func(_ context.Context, r logging.Record) { b.Enqueue(r) })
}

// NewLogBatcher wires a log batcher. A nil sender selects NopSender.
func NewLogBatcher(sender Sender[logging.Record], cfg Config, logger *slog.Logger) *Batcher[logging.Record] {
	return NewBatcher("logs", sender, cfg, logger)
}

package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/kansoku/internal/export"
	"github.com/ashita-ai/kansoku/internal/tracing"
)

func (s *Server) registerTools() {
	// echo: returns its input.
	s.AddTracedTool(
		mcplib.NewTool("echo",
			mcplib.WithDescription("Return the given text unchanged. Useful for checking that tool calls reach the server and show up in traces."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithString("text",
				mcplib.Description("Text to echo back"),
				mcplib.Required(),
			),
		),
		s.handleEcho,
	)

	// tracing_status: exporter state and counters.
	s.AddTracedTool(
		mcplib.NewTool("tracing_status",
			mcplib.WithDescription("Report whether spans are being exported and the exporter queue counters (queued, exported, dropped, failed)."),
			mcplib.WithReadOnlyHintAnnotation(true),
		),
		s.handleTracingStatus,
	)

	// decode_traceparent: validates a W3C traceparent header.
	s.AddTracedTool(
		mcplib.NewTool("decode_traceparent",
			mcplib.WithDescription("Decode a traceparent header value and report its trace id, span id and sampled flag. Malformed values are reported as an error."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithString("header",
				mcplib.Description("Header value, e.g. 00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"),
				mcplib.Required(),
			),
		),
		s.handleDecodeTraceparent,
	)
}

func (s *Server) handleEcho(_ context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	text := request.GetString("text", "")
	if text == "" {
		return errorResult("text is required"), nil
	}
	return textResult(text), nil
}

func (s *Server) handleTracingStatus(_ context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	status := export.PipelineStatus{Export: "none"}
	if s.cfg.Status != nil {
		status = s.cfg.Status()
	}
	resultData, err := json.MarshalIndent(struct {
		Enabled bool `json:"enabled"`
		export.PipelineStatus
	}{
		Enabled:        s.in.Tracer().Enabled(),
		PipelineStatus: status,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal status: %w", err)
	}
	return textResult(string(resultData)), nil
}

// DecodedHeader is the tool output for a valid traceparent.
type DecodedHeader struct {
	TraceID string `json:"trace_id"`
	SpanID  string `json:"span_id"`
	Sampled bool   `json:"sampled"`
}

func (s *Server) handleDecodeTraceparent(_ context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	header := request.GetString("header", "")
	sc, ok := tracing.Decode(header)
	if !ok {
		return errorResult(fmt.Sprintf("invalid traceparent %q", header)), nil
	}
	resultData, err := json.MarshalIndent(DecodedHeader{
		TraceID: sc.TraceID.String(),
		SpanID:  sc.SpanID.String(),
		Sampled: sc.Sampled,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal header: %w", err)
	}
	return textResult(string(resultData)), nil
}

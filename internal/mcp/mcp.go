// Package mcp serves Model Context Protocol tools with every call traced.
//
// Tools are registered through AddTracedTool, which runs the handler inside
// a "tool: <name>" span. A result with IsError set marks the span failed
// while the result itself is still returned to the client unchanged.
package mcp

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/kansoku/internal/ctxutil"
	"github.com/ashita-ai/kansoku/internal/export"
	"github.com/ashita-ai/kansoku/internal/instrument"
)

// StatusFunc reports the export pipeline state for the tracing_status tool.
type StatusFunc func() export.PipelineStatus

// Config names the server and wires the status source.
type Config struct {
	Name     string // "kansoku" when empty
	Version  string
	ServerID string // recorded as mcp.server.id on every tool span
	Status   StatusFunc
}

// Server wraps the mcp-go server with the instrumenter.
type Server struct {
	mcpServer *mcpserver.MCPServer
	in        *instrument.Instrumenter
	cfg       Config
	logger    *slog.Logger
}

// New creates an MCP server with the built-in tools registered.
func New(in *instrument.Instrumenter, cfg Config, logger *slog.Logger) *Server {
	if cfg.Name == "" {
		cfg.Name = "kansoku"
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		in:     in,
		cfg:    cfg,
		logger: logger,
	}
	s.mcpServer = mcpserver.NewMCPServer(
		cfg.Name,
		cfg.Version,
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithRecovery(),
	)
	s.registerTools()
	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// AddTracedTool registers handler so that each call runs in a tool span.
func (s *Server) AddTracedTool(tool mcplib.Tool, handler mcpserver.ToolHandlerFunc) {
	s.mcpServer.AddTool(tool, s.traced(tool.Name, handler))
}

func (s *Server) traced(name string, handler mcpserver.ToolHandlerFunc) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
		result, err := instrument.TraceOperation(ctx, s.in, instrument.Operation{
			Kind:        "tool",
			Name:        name,
			Input:       request.GetArguments(),
			Correlation: ctxutil.Correlation{ServerID: s.cfg.ServerID},
			Failed:      FailedResult,
		}, func(ctx context.Context) (*mcplib.CallToolResult, error) {
			return handler(ctx, request)
		})
		if err != nil {
			s.logger.WarnContext(ctx, "mcp: tool call failed", "tool", name, "error", err)
		}
		return result, err
	}
}

// FailedResult classifies a CallToolResult with IsError set as an
// application failure. The error text is the result's text content.
func FailedResult(result any) error {
	r, ok := result.(*mcplib.CallToolResult)
	if !ok || r == nil || !r.IsError {
		return nil
	}
	if msg := resultText(r); msg != "" {
		return errors.New(msg)
	}
	return errors.New("tool returned an error result")
}

func resultText(r *mcplib.CallToolResult) string {
	var parts []string
	for _, c := range r.Content {
		switch tc := c.(type) {
		case mcplib.TextContent:
			parts = append(parts, tc.Text)
		case *mcplib.TextContent:
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func textResult(text string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: text},
		},
	}
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}

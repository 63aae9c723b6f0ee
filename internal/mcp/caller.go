package mcp

import (
	"context"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/kansoku/internal/ctxutil"
	"github.com/ashita-ai/kansoku/internal/instrument"
)

// ToolCaller is the client side of a tool call. *client.Client from mcp-go
// satisfies it.
type ToolCaller interface {
	CallTool(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error)
}

// TracedCaller wraps a ToolCaller so that each outbound call runs in a tool
// span. ServerID names the remote server on the span.
type TracedCaller struct {
	Caller       ToolCaller
	Instrumenter *instrument.Instrumenter
	ServerID     string
}

// CallTool implements ToolCaller.
func (c TracedCaller) CallTool(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	return instrument.TraceOperation(ctx, c.Instrumenter, instrument.Operation{
		Kind:        "tool",
		Name:        request.Params.Name,
		Input:       request.GetArguments(),
		Correlation: ctxutil.Correlation{ServerID: c.ServerID},
		Failed:      FailedResult,
	}, func(ctx context.Context) (*mcplib.CallToolResult, error) {
		return c.Caller.CallTool(ctx, request)
	})
}

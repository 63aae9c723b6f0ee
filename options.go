package kansoku

import (
	"log/slog"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported; callers use the With* functions.
type resolvedOptions struct {
	port       int
	version    string
	logHandler slog.Handler
	tools      []extraTool
}

type extraTool struct {
	tool    mcplib.Tool
	handler mcpserver.ToolHandlerFunc
}

// WithPort overrides the TCP port from config (KANSOKU_PORT env var).
func WithPort(port int) Option {
	return func(o *resolvedOptions) { o.port = port }
}

// WithVersion sets the version string reported in the health endpoint,
// the MCP handshake and the service.version resource attribute.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithLogHandler sets the sink every log record is written to. The App
// wraps it so records carry trace and span ids. If not set, JSON lines go to
// stdout at the configured level.
func WithLogHandler(h slog.Handler) Option {
	return func(o *resolvedOptions) { o.logHandler = h }
}

// WithTool registers an additional MCP tool. Each call is traced like the
// built-in tools.
func WithTool(tool mcplib.Tool, handler mcpserver.ToolHandlerFunc) Option {
	return func(o *resolvedOptions) {
		o.tools = append(o.tools, extraTool{tool: tool, handler: handler})
	}
}

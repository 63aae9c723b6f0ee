package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/kansoku/internal/export"
	"github.com/ashita-ai/kansoku/internal/tracing"
)

// Server is the kansoku HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a Server.
// Optional fields (nil = disabled): MCPServer, Pipeline.
type ServerConfig struct {
	Tracer *tracing.Tracer
	Logger *slog.Logger

	MCPServer *mcpserver.MCPServer
	Pipeline  *export.Pipeline
	ServerID  string // recorded as mcp.server.id on wrapped calls

	// HTTP server settings.
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Version      string
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  string        `json:"status"`
	Version string        `json:"version"`
	Tracing HealthTracing `json:"tracing"`
}

// HealthTracing summarizes the tracing pipeline.
type HealthTracing struct {
	Enabled bool `json:"enabled"`
	export.PipelineStatus
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	mux := http.NewServeMux()

	// MCP StreamableHTTP transport.
	if cfg.MCPServer != nil {
		mux.Handle("/mcp", mcpserver.NewStreamableHTTPServer(cfg.MCPServer))
	}

	mux.HandleFunc("GET /health", healthHandler(cfg))

	// Middleware chain (outermost executes first):
	// request ID → tracing → correlation → logging → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = correlationMiddleware(cfg.ServerID, handler)
	handler = tracingMiddleware(cfg.Tracer, handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           handler,
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      cfg.WriteTimeout,
		},
		handler: handler,
		logger:  cfg.Logger,
	}
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{
			Status:  "healthy",
			Version: cfg.Version,
			Tracing: HealthTracing{Enabled: cfg.Tracer.Enabled()},
		}
		if cfg.Pipeline != nil {
			resp.Tracing.PipelineStatus = cfg.Pipeline.Status()
			if resp.Tracing.Export != "otlp" {
				resp.Status = "degraded"
			}
		} else {
			resp.Tracing.Export = "none"
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}

// Package kansoku is the public API for embedding the kansoku tracing server.
//
//	app, err := kansoku.New(ctx,
//	    kansoku.WithVersion(version),
//	    kansoku.WithTool(myTool, myHandler),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// New reads configuration from the environment, builds the export pipeline,
// the tracer and the HTTP server, and returns without starting anything.
package kansoku

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/ashita-ai/kansoku/internal/config"
	"github.com/ashita-ai/kansoku/internal/export"
	"github.com/ashita-ai/kansoku/internal/instrument"
	"github.com/ashita-ai/kansoku/internal/logging"
	"github.com/ashita-ai/kansoku/internal/mcp"
	"github.com/ashita-ai/kansoku/internal/server"
	"github.com/ashita-ai/kansoku/internal/storage"
	"github.com/ashita-ai/kansoku/internal/telemetry"
	"github.com/ashita-ai/kansoku/internal/tracing"
)

// Shutdown phase budgets.
const (
	shutdownHTTPTimeout   = 10 * time.Second
	shutdownExportTimeout = 10 * time.Second
)

// App is the kansoku server lifecycle. Construct with New(), run with Run().
type App struct {
	cfg          config.Config
	pipeline     *export.Pipeline
	tracer       *tracing.Tracer
	instrumenter *instrument.Instrumenter
	srv          *server.Server
	db           *storage.DB // nil when DATABASE_URL is unset
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	version      string
}

// New wires every subsystem from the environment and returns a ready-to-run
// App. It does NOT start any goroutines or accept HTTP connections; call Run.
// An unreachable or misconfigured collector is not an error: spans are
// produced and dropped, and /health reports the reason.
func New(ctx context.Context, opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	severity, _ := logging.ParseSeverity(cfg.LogLevel) // checked by Validate
	base := o.logHandler
	if base == nil {
		base = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level:       severity.Level(),
			ReplaceAttr: logging.ReplaceLevel,
		})
	}
	// The exporter logs through an unforwarded logger so its own warnings
	// never feed back into the log batcher.
	exportLogger := slog.New(logging.NewHandler(base))

	res, err := tracing.NewResource(ctx, tracing.ResourceConfig{
		ServiceName: cfg.ServiceName,
		Version:     version,
		Environment: cfg.Environment,
		DetectHost:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("resource: %w", err)
	}

	// A disabled tracer exports nothing: no spans, metrics or forwarded logs.
	problem := cfg.ExportProblem()
	if !cfg.TracingEnabled {
		problem = "tracing disabled"
	}
	pipeline := export.NewPipeline(ctx, export.PipelineConfig{
		Collector: export.Collector{
			URL:     cfg.CollectorURL,
			Headers: cfg.CollectorHeaders(),
			Timeout: cfg.ExportTimeout,
		},
		Batch: export.Config{
			MaxQueue:   cfg.ExportMaxQueue,
			BatchSize:  cfg.ExportBatchSize,
			Delay:      cfg.ExportDelay,
			Timeout:    cfg.ExportTimeout,
			MaxRetries: cfg.ExportMaxRetries,
			Backoff:    cfg.ExportRetryBackoff,
		},
		Logs:    cfg.LogExport && cfg.TracingEnabled,
		Problem: problem,
	}, res, exportLogger)

	logger := slog.New(logging.NewHandler(base, logging.WithForwarder(pipeline.Forwarder())))

	metricsURL := cfg.CollectorURL
	if problem != "" {
		metricsURL = ""
	}
	otelShutdown, err := telemetry.Init(ctx, telemetry.Config{
		CollectorURL: metricsURL,
		Headers:      cfg.CollectorHeaders(),
		Resource:     res,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	tracer := tracing.NewTracer(
		tracing.WithEnabled(cfg.TracingEnabled),
		tracing.WithSink(pipeline.Sink()),
		tracing.WithSampler(tracing.NewRatioSampler(cfg.SampleRatio)),
		tracing.WithResource(res),
	)
	instrumenter := instrument.New(tracer, instrument.WithLimits(instrument.Limits{
		Input:   cfg.TruncateInput,
		Result:  cfg.TruncateResult,
		Payload: cfg.TruncatePayload,
	}))

	mcpSrv := mcp.New(instrumenter, mcp.Config{
		Version:  version,
		ServerID: cfg.ServiceName,
		Status:   pipeline.Status,
	}, logger)
	for _, t := range o.tools {
		mcpSrv.AddTracedTool(t.tool, t.handler)
	}

	srv := server.New(server.ServerConfig{
		Tracer:       tracer,
		Logger:       logger,
		MCPServer:    mcpSrv.MCPServer(),
		Pipeline:     pipeline,
		ServerID:     cfg.ServiceName,
		Port:         cfg.Port,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		Version:      version,
	})

	logger.Info("kansoku configured",
		"version", version,
		"port", cfg.Port,
		"tracing", cfg.TracingEnabled,
		"sample_ratio", cfg.SampleRatio,
		"export", pipeline.Status().Export,
	)

	return &App{
		cfg:          cfg,
		pipeline:     pipeline,
		tracer:       tracer,
		instrumenter: instrumenter,
		srv:          srv,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

// Logger returns the correlated logger the App writes through.
func (a *App) Logger() *slog.Logger { return a.logger }

// Handler returns the root HTTP handler for use in tests.
func (a *App) Handler() http.Handler { return a.srv.Handler() }

// Status reports the export pipeline counters.
func (a *App) Status() export.PipelineStatus { return a.pipeline.Status() }

// Start runs the export pipeline and, when DATABASE_URL is set, connects to
// Postgres with a traced ping. It does not serve HTTP.
func (a *App) Start(ctx context.Context) {
	// The batchers stop in Shutdown, after in-flight requests have ended
	// their spans, not when ctx is cancelled.
	a.pipeline.Start(context.WithoutCancel(ctx))
	if a.cfg.DatabaseURL != "" {
		a.connectStorage(ctx)
	}
}

func (a *App) connectStorage(ctx context.Context) {
	ctx, root := a.tracer.Start(ctx, "startup")
	defer root.End()

	db, err := instrument.TraceOperation(ctx, a.instrumenter, instrument.Operation{
		Kind: "storage",
		Name: "ping",
	}, func(ctx context.Context) (*storage.DB, error) {
		db, err := storage.Open(ctx, a.cfg.DatabaseURL, a.tracer, a.cfg.TruncatePayload, a.logger)
		if err != nil {
			return nil, err
		}
		if err := db.Ping(ctx); err != nil {
			db.Close()
			return nil, err
		}
		return db, nil
	})
	if err != nil {
		a.logger.WarnContext(ctx, "storage unavailable, continuing without it", "error", err)
		return
	}
	a.db = db
}

// Run starts background work, serves HTTP until ctx is cancelled or the
// listener fails, then shuts down.
func (a *App) Run(ctx context.Context) error {
	a.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	if err := a.Shutdown(context.Background()); err != nil {
		return errors.Join(runErr, err)
	}
	return runErr
}

// Shutdown performs a phased graceful shutdown:
// (1) stop accepting HTTP requests and drain in-flight,
// (2) force-flush queued spans and log records, then stop the batchers,
// (3) close the meter provider and the database pool.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("kansoku shutting down")

	// Phase 1: HTTP drain.
	httpCtx, httpCancel := context.WithTimeout(ctx, shutdownHTTPTimeout)
	if err := a.srv.Shutdown(httpCtx); err != nil {
		a.logger.Error("http shutdown error", "error", err)
	}
	httpCancel()

	// Phase 2: export drain.
	exportCtx, exportCancel := context.WithTimeout(ctx, shutdownExportTimeout)
	defer exportCancel()
	if err := a.pipeline.ForceFlush(exportCtx); err != nil {
		a.logger.Warn("export flush incomplete", "error", err)
	}
	a.logger.Info("kansoku stopped", "export", a.pipeline.Status())
	exportErr := a.pipeline.Shutdown(exportCtx)

	// Phase 3: cleanup.
	if err := a.otelShutdown(context.Background()); err != nil {
		exportErr = errors.Join(exportErr, fmt.Errorf("telemetry shutdown: %w", err))
	}
	if a.db != nil {
		a.db.Close()
	}
	if exportErr != nil {
		return fmt.Errorf("shutdown: %w", exportErr)
	}
	return nil
}

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ashita-ai/kansoku"
	"github.com/ashita-ai/kansoku/internal/logging"
)

const statusInterval = time.Minute

var servePort int

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server (default)",
		Long: `Run the HTTP server.

Configuration comes from the environment (and a .env file if present).
Without OTEL_EXPORTER_OTLP_ENDPOINT and KANSOKU_COLLECTOR_CREDENTIAL the
server still traces every request but exports nothing; GET /health reports
why.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
	cmd.Flags().IntVarP(&servePort, "port", "p", 0, "listen port (overrides KANSOKU_PORT)")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	severity, err := logging.ParseSeverity(os.Getenv("KANSOKU_LOG_LEVEL"))
	if err != nil {
		severity = logging.SeverityInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:       severity.Level(),
		ReplaceAttr: logging.ReplaceLevel,
	})
	slog.SetDefault(slog.New(logging.NewHandler(handler)))

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app, err := kansoku.New(ctx,
		kansoku.WithVersion(version),
		kansoku.WithPort(servePort),
		kansoku.WithLogHandler(handler),
	)
	if err != nil {
		slog.Error("fatal error", "error", err)
		return err
	}
	logger := app.Logger()
	slog.SetDefault(logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return app.Run(gctx) })
	g.Go(func() error {
		reportStatus(gctx, app, logger)
		return nil
	})
	if err := g.Wait(); err != nil {
		logger.Error("fatal error", "error", err)
		return err
	}
	return nil
}

// reportStatus logs exporter counters until ctx is done, so a stalled
// collector shows up in the process log even when nobody polls /health.
func reportStatus(ctx context.Context, app *kansoku.App, logger *slog.Logger) {
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := app.Status()
			logger.Debug("export status",
				"export", st.Export,
				"queued", st.Traces.Queued,
				"exported", st.Traces.Exported,
				"dropped", st.Traces.Dropped,
				"failed", st.Traces.Failed,
			)
		}
	}
}

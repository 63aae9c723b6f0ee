package export

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel/sdk/resource"

	"github.com/ashita-ai/kansoku/internal/logging"
	"github.com/ashita-ai/kansoku/internal/tracing"
)

// Pipeline groups the batchers a process runs. Logs is nil when log
// forwarding is off.
type Pipeline struct {
	Traces *Batcher[tracing.SpanData]
	Logs   *Batcher[logging.Record]

	// Problem is why nothing leaves the process, or "" when exporting.
	Problem string

	closers []func(ctx context.Context) error
}

// PipelineStatus is the JSON view served by /health and the tracing_status
// tool.
type PipelineStatus struct {
	Export string `json:"export"` // "otlp" or "disabled: <reason>"
	Traces Stats  `json:"traces"`
	Logs   *Stats `json:"logs,omitempty"`
}

// PipelineConfig describes the collector and batching policy.
type PipelineConfig struct {
	Collector Collector
	Batch     Config
	Logs      bool   // also forward log records
	Problem   string // non-empty selects NopSender for every signal
}

// NewPipeline builds the batchers for cfg. Collector client errors degrade
// the pipeline to NopSender instead of failing. Call Start to run it.
func NewPipeline(ctx context.Context, cfg PipelineConfig, res *resource.Resource, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pipeline{Problem: cfg.Problem}

	var traceSender Sender[tracing.SpanData] = NopSender[tracing.SpanData]{}
	var logSender Sender[logging.Record] = NopSender[logging.Record]{}
	if p.Problem == "" {
		ts, err := NewTraceSender(ctx, cfg.Collector, res)
		if err != nil {
			p.Problem = err.Error()
		} else {
			traceSender = ts
			p.closers = append(p.closers, ts.Close)
			logSender = NewLogSender(cfg.Collector, res)
		}
	}
	if p.Problem != "" {
		logger.Warn("export: collector unavailable, telemetry will not be exported", "reason", p.Problem)
	}

	p.Traces = NewSpanBatcher(traceSender, cfg.Batch, logger)
	if cfg.Logs {
		p.Logs = NewLogBatcher(logSender, cfg.Batch, logger)
	}
	return p
}

// Sink returns the span sink to pass to tracing.WithSink.
func (p *Pipeline) Sink() tracing.SpanSink { return SpanSink(p.Traces) }

// Forwarder returns the log forwarder, or nil when log export is off.
func (p *Pipeline) Forwarder() logging.Forwarder {
	if p.Logs == nil {
		return nil
	}
	return LogForwarder(p.Logs)
}

// Start runs every batcher's background loop.
func (p *Pipeline) Start(ctx context.Context) {
	p.Traces.Start(ctx)
	if p.Logs != nil {
		p.Logs.Start(ctx)
	}
}

// ForceFlush drains every batcher, bounded by ctx.
func (p *Pipeline) ForceFlush(ctx context.Context) error {
	var errs []error
	if err := p.Traces.ForceFlush(ctx); err != nil {
		errs = append(errs, err)
	}
	if p.Logs != nil {
		if err := p.Logs.ForceFlush(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Shutdown flushes and stops every batcher, then closes collector clients.
// Traces go last so log records about the shutdown itself still carry ids.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	var errs []error
	if p.Logs != nil {
		if err := p.Logs.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := p.Traces.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	for _, c := range p.closers {
		if err := c(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Status reports export mode and per-batcher counters.
func (p *Pipeline) Status() PipelineStatus {
	st := PipelineStatus{Export: "otlp", Traces: p.Traces.Stats()}
	if p.Problem != "" {
		st.Export = "disabled: " + p.Problem
	}
	if p.Logs != nil {
		ls := p.Logs.Stats()
		st.Logs = &ls
	}
	return st
}

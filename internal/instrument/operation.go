// Package instrument wraps tool, model and storage calls in child spans.
//
// Every wrapper follows the same contract: start a child of the active span,
// run the call with that child active, record outcome and timing, end the
// span exactly once, and hand back the call's own result and error
// untouched. Tracing is a side channel; it never turns a failure into a
// success or the other way round.
package instrument

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ashita-ai/kansoku/internal/ctxutil"
	"github.com/ashita-ai/kansoku/internal/tracing"
)

// Attribute keys shared by every wrapper.
const (
	AttrSuccess        = attribute.Key("success")
	AttrDurationMS     = attribute.Key("duration_ms")
	AttrError          = attribute.Key("error")
	AttrConversationID = attribute.Key("conversation.id")
	AttrUserID         = attribute.Key("user.id")
	AttrServerID       = attribute.Key("mcp.server.id")
)

// ResultError is implemented by results that can report an application-level
// failure without the call itself returning an error.
type ResultError interface {
	ResultError() error
}

// Instrumenter holds the tracer, payload caps and metric instruments the
// wrappers need.
type Instrumenter struct {
	tracer *tracing.Tracer
	limits Limits
	ins    instruments
}

// Option configures an Instrumenter.
type Option func(*Instrumenter)

// WithLimits overrides DefaultLimits. Zero fields keep their default.
func WithLimits(l Limits) Option {
	return func(in *Instrumenter) { in.limits = l.withDefaults() }
}

// New returns an Instrumenter for tracer. A nil or disabled tracer makes
// every wrapper a plain call.
func New(tracer *tracing.Tracer, opts ...Option) *Instrumenter {
	in := &Instrumenter{
		tracer: tracer,
		limits: DefaultLimits,
		ins:    newInstruments(),
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Tracer returns the tracer spans are started from.
func (in *Instrumenter) Tracer() *tracing.Tracer { return in.tracer }

// Limits returns the active payload caps.
func (in *Instrumenter) Limits() Limits { return in.limits }

// Operation describes one traced call.
type Operation struct {
	Kind        string // "tool", "storage", ...; span name is "<kind>: <name>"
	Name        string
	Input       any // serialized and truncated to Limits.Input
	Correlation ctxutil.Correlation
	Attributes  []attribute.KeyValue
	// Failed classifies a successful result as an application-level failure.
	// Checked before the ResultError interface.
	Failed func(result any) error
}

// TraceOperation runs execute in a child span named "<kind>: <name>".
// The returned value and error are exactly what execute returned.
func TraceOperation[T any](ctx context.Context, in *Instrumenter, op Operation, execute func(ctx context.Context) (T, error)) (T, error) {
	kind := op.Kind
	if kind == "" {
		kind = "operation"
	}
	c := call[T]{
		in:          in,
		name:        kind + ": " + op.Name,
		metricKind:  kind,
		metricName:  op.Name,
		correlation: op.Correlation,
		attrs: func(s *tracing.Span) {
			s.SetAttributes(attribute.String(kind+".name", op.Name))
			if op.Input != nil {
				setPayload(s, kind+".input", op.Input, in.limits.Input)
			}
			s.SetAttributes(op.Attributes...)
		},
		onSuccess: func(_ context.Context, s *tracing.Span, result T) {
			setPayload(s, kind+".result", result, in.limits.Result)
		},
		failed: op.Failed,
	}
	return c.run(ctx, execute)
}

// call is the shared engine behind TraceOperation and TraceModelCall.
type call[T any] struct {
	in          *Instrumenter
	name        string
	metricKind  string
	metricName  string
	correlation ctxutil.Correlation
	attrs       func(*tracing.Span)
	onSuccess   func(context.Context, *tracing.Span, T)
	failed      func(any) error
}

func (c call[T]) run(ctx context.Context, execute func(ctx context.Context) (T, error)) (result T, err error) {
	var tracer *tracing.Tracer
	if c.in != nil {
		tracer = c.in.tracer
	}
	span := tracer.StartSpan(ctx, c.name)
	recording := span.IsRecording()
	if recording {
		c.attrs(span)
		setCorrelation(span, c.correlation.Merge(ctxutil.CorrelationFromContext(ctx)))
	}

	start := time.Now()
	succeeded := false
	defer func() {
		ms := float64(time.Since(start).Microseconds()) / 1000
		if r := recover(); r != nil {
			perr := fmt.Errorf("panic: %v", r)
			span.SetAttributes(AttrSuccess.Bool(false), AttrDurationMS.Float64(ms), AttrError.String(perr.Error()))
			span.RecordError(perr)
			span.EndWithStatus(codes.Error, perr.Error())
			c.record(ctx, ms, false)
			panic(r)
		}
		// Reached without a status only when execute never returned normally
		// (runtime.Goexit).
		if !span.StatusSet() {
			span.SetStatus(codes.Error, "aborted")
		}
		span.End()
		c.record(ctx, ms, succeeded)
	}()

	err = tracing.WithActive(ctx, span, func(ctx context.Context) error {
		var execErr error
		result, execErr = execute(ctx)
		return execErr
	})
	ms := float64(time.Since(start).Microseconds()) / 1000

	if err != nil {
		span.SetAttributes(AttrSuccess.Bool(false), AttrDurationMS.Float64(ms), AttrError.String(err.Error()))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return result, err
	}

	succeeded = true
	span.SetAttributes(AttrSuccess.Bool(true), AttrDurationMS.Float64(ms))
	if recording && c.onSuccess != nil {
		c.onSuccess(ctx, span, result)
	}
	if appErr := classify(result, c.failed); appErr != nil {
		span.SetAttributes(AttrError.String(appErr.Error()))
		span.SetStatus(codes.Error, appErr.Error())
		return result, nil
	}
	span.SetStatus(codes.Ok, "")
	return result, nil
}

func (c call[T]) record(ctx context.Context, ms float64, success bool) {
	if c.in == nil {
		return
	}
	c.in.ins.recordOperation(ctx, c.metricKind, c.metricName, ms, success)
}

func classify(result any, failed func(any) error) error {
	if failed != nil {
		if err := failed(result); err != nil {
			return err
		}
	}
	if re, ok := result.(ResultError); ok {
		return resultError(re)
	}
	return nil
}

// resultError tolerates typed nil results whose method dereferences the
// receiver.
func resultError(re ResultError) (err error) {
	defer func() {
		if recover() != nil {
			err = nil
		}
	}()
	return re.ResultError()
}

func setPayload(s *tracing.Span, key string, v any, limit int) {
	text, truncated := Truncate(serialize(v), limit)
	s.SetAttributes(attribute.String(key, text))
	if truncated {
		s.SetAttributes(attribute.Bool(key+"_truncated", true))
	}
}

func setCorrelation(s *tracing.Span, c ctxutil.Correlation) {
	if c.ConversationID != "" {
		s.SetAttributes(AttrConversationID.String(c.ConversationID))
	}
	if c.UserID != "" {
		s.SetAttributes(AttrUserID.String(c.UserID))
	}
	if c.ServerID != "" {
		s.SetAttributes(AttrServerID.String(c.ServerID))
	}
}

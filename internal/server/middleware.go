// Package server implements the HTTP surface of the instrumentation service.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/ashita-ai/kansoku/internal/ctxutil"
	"github.com/ashita-ai/kansoku/internal/telemetry"
	"github.com/ashita-ai/kansoku/internal/tracing"
)

// Correlation headers a browser or upstream service may send.
const (
	HeaderRequestID      = "X-Request-ID"
	HeaderConversationID = "X-Conversation-ID"
	HeaderUserID         = "X-User-ID"
)

// requestIDMiddleware assigns a unique request ID to each request.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get(HeaderRequestID)
		if reqID == "" {
			reqID = uuid.New().String()
		}
		ctx := ctxutil.WithRequestID(r.Context(), reqID)
		w.Header().Set(HeaderRequestID, reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// correlationMiddleware copies conversation and user ids from headers into
// the context, where the instrument wrappers pick them up.
func correlationMiddleware(serverID string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := ctxutil.Correlation{
			ConversationID: r.Header.Get(HeaderConversationID),
			UserID:         r.Header.Get(HeaderUserID),
			ServerID:       serverID,
		}
		if c.IsZero() {
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(ctxutil.WithCorrelation(r.Context(), c)))
	})
}

// loggingMiddleware logs each request with structured fields. The logging
// handler adds trace_id and span_id from the request context.
func loggingMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		level := slog.LevelInfo
		if wrapped.statusCode >= 500 {
			level = slog.LevelError
		} else if wrapped.statusCode >= 400 {
			level = slog.LevelWarn
		}
		logger.Log(r.Context(), level, "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", ctxutil.RequestIDFromContext(r.Context()),
		)
	})
}

// statusWriter records the response status. Flush and Hijack pass through so
// streaming transports keep working behind the middleware chain.
type statusWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.statusCode = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.wroteHeader = true
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := w.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("server: response writer does not support hijacking")
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

var httpMeter = telemetry.Meter("kansoku/http")

// httpMetrics holds the request instruments, created once per handler chain.
// A nil instrument is skipped.
type httpMetrics struct {
	requests otelmetric.Int64Counter
	duration otelmetric.Float64Histogram
}

func newHTTPMetrics(meter otelmetric.Meter) httpMetrics {
	var m httpMetrics
	if c, err := meter.Int64Counter("http.server.request_count"); err == nil {
		m.requests = c
	}
	if h, err := meter.Float64Histogram("http.server.duration", otelmetric.WithUnit("ms")); err == nil {
		m.duration = h
	}
	return m
}

func (m httpMetrics) record(ctx context.Context, d time.Duration, attrs otelmetric.MeasurementOption) {
	if m.requests != nil {
		m.requests.Add(ctx, 1, attrs)
	}
	if m.duration != nil {
		m.duration.Record(ctx, float64(d.Milliseconds()), attrs)
	}
}

// tracingMiddleware continues the caller's trace (or starts one), runs the
// request with a server span active, and echoes the server span's context in
// the response traceparent header so a browser can parent follow-up spans.
func tracingMiddleware(tracer *tracing.Tracer, next http.Handler) http.Handler {
	return instrumentedTracing(tracer, newHTTPMetrics(httpMeter), next)
}

func instrumentedTracing(tracer *tracing.Tracer, metrics httpMetrics, next http.Handler) http.Handler {
	prop := tracing.Propagator{}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !tracer.Enabled() {
			next.ServeHTTP(w, r)
			return
		}
		ctx := prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := tracer.Start(ctx, r.Method+" "+r.URL.Path,
			tracing.WithSpanKind(trace.SpanKindServer),
			tracing.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.target", r.URL.Path),
				attribute.String("http.request_id", ctxutil.RequestIDFromContext(r.Context())),
			),
		)
		defer span.End()
		if sc := span.SpanContext(); sc.IsValid() {
			w.Header().Set(tracing.TraceparentHeader, tracing.Encode(sc))
		}

		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r.WithContext(ctx))
		duration := time.Since(start)

		span.SetAttributes(attribute.Int("http.status_code", wrapped.statusCode))
		if wrapped.statusCode >= 500 {
			span.SetStatus(codes.Error, "HTTP "+strconv.Itoa(wrapped.statusCode))
		} else if !span.StatusSet() {
			span.SetStatus(codes.Ok, "")
		}

		attrs := otelmetric.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.route", r.URL.Path),
			attribute.String("http.status_code", strconv.Itoa(wrapped.statusCode)),
		)
		metrics.record(ctx, duration, attrs)
	})
}

// recoveryMiddleware turns a handler panic into a 500, recording it on the
// active span.
func recoveryMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			err := fmt.Errorf("panic: %v", rec)
			span := tracing.SpanFromContext(r.Context())
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			logger.ErrorContext(r.Context(), "http handler panic",
				"error", err,
				"path", r.URL.Path,
				"stack", string(debug.Stack()),
			)
			writeError(w, http.StatusInternalServerError, "internal error")
		}()
		next.ServeHTTP(w, r)
	})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

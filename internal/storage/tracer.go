package storage

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ashita-ai/kansoku/internal/instrument"
	"github.com/ashita-ai/kansoku/internal/tracing"
)

// DefaultStatementLimit caps db.statement when no limit is given. Statements
// share the model payload cap.
var DefaultStatementLimit = instrument.DefaultLimits.Payload

// Query span attributes.
const (
	AttrDBSystem       = attribute.Key("db.system")
	AttrDBStatement    = attribute.Key("db.statement")
	AttrDBTruncated    = attribute.Key("db.statement_truncated")
	AttrDBOperation    = attribute.Key("db.operation")
	AttrDBRowsAffected = attribute.Key("db.rows_affected")
)

type querySpanKey struct{}

// QueryTracer implements pgx.QueryTracer.
type QueryTracer struct {
	tracer *tracing.Tracer
	limit  int
}

var _ pgx.QueryTracer = (*QueryTracer)(nil)

// NewQueryTracer returns a tracer that opens a client span per query.
func NewQueryTracer(tracer *tracing.Tracer, statementLimit int) *QueryTracer {
	if statementLimit <= 0 {
		statementLimit = DefaultStatementLimit
	}
	return &QueryTracer{tracer: tracer, limit: statementLimit}
}

// TraceQueryStart implements pgx.QueryTracer.
func (t *QueryTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	op := operation(data.SQL)
	statement, truncated := instrument.Truncate(data.SQL, t.limit)
	span := t.tracer.StartSpan(ctx, "db: "+op,
		tracing.WithSpanKind(trace.SpanKindClient),
		tracing.WithAttributes(
			AttrDBSystem.String("postgresql"),
			AttrDBOperation.String(op),
			AttrDBStatement.String(statement),
		),
	)
	if span == nil {
		return ctx
	}
	if truncated {
		span.SetAttributes(AttrDBTruncated.Bool(true))
	}
	// Stored under a private key as well so TraceQueryEnd never ends a
	// caller's span when tracing is off.
	ctx = context.WithValue(ctx, querySpanKey{}, span)
	return tracing.ContextWithSpan(ctx, span)
}

// TraceQueryEnd implements pgx.QueryTracer.
func (t *QueryTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	span, ok := ctx.Value(querySpanKey{}).(*tracing.Span)
	if !ok {
		return
	}
	if data.Err != nil {
		span.RecordError(data.Err)
		span.EndWithStatus(codes.Error, data.Err.Error())
		return
	}
	span.SetAttributes(AttrDBRowsAffected.Int64(data.CommandTag.RowsAffected()))
	span.EndWithStatus(codes.Ok, "")
}

// operation returns the statement's leading keyword, upper-cased.
func operation(sql string) string {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return "QUERY"
	}
	return strings.ToUpper(strings.TrimRight(fields[0], ";("))
}

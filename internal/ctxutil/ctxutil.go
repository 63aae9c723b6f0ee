// Package ctxutil provides shared context key accessors.
//
// This package exists so that server (which reads correlation headers),
// mcp (which reads them from tool arguments) and instrument (which copies
// them onto spans) can share one set of keys without importing each other.
package ctxutil

import "context"

type contextKey string

const (
	keyCorrelation contextKey = "correlation"
	keyRequestID   contextKey = "request_id"
)

// Correlation carries the identifiers that join a span to the conversation
// and caller it belongs to. Empty fields are omitted from spans.
type Correlation struct {
	ConversationID string
	UserID         string
	ServerID       string // upstream MCP server id
}

// IsZero reports whether no field is set.
func (c Correlation) IsZero() bool {
	return c == Correlation{}
}

// Merge returns c with empty fields filled from other.
func (c Correlation) Merge(other Correlation) Correlation {
	if c.ConversationID == "" {
		c.ConversationID = other.ConversationID
	}
	if c.UserID == "" {
		c.UserID = other.UserID
	}
	if c.ServerID == "" {
		c.ServerID = other.ServerID
	}
	return c
}

// WithCorrelation returns a new context carrying c merged over whatever
// correlation ctx already had.
func WithCorrelation(ctx context.Context, c Correlation) context.Context {
	return context.WithValue(ctx, keyCorrelation, c.Merge(CorrelationFromContext(ctx)))
}

// CorrelationFromContext returns the correlation fields, or the zero value.
func CorrelationFromContext(ctx context.Context) Correlation {
	if v, ok := ctx.Value(keyCorrelation).(Correlation); ok {
		return v
	}
	return Correlation{}
}

// WithRequestID returns a new context carrying the request id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keyRequestID, id)
}

// RequestIDFromContext extracts the request id from the context.
func RequestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(keyRequestID).(string); ok {
		return v
	}
	return ""
}

// Package tracing implements spans, the active-span carrier, and the
// traceparent wire codec used to continue a trace across processes.
//
// The active span travels in a context.Context. Nothing in this package keeps
// a process-wide "current span"; each call chain sees only the span stored in
// the context it was handed.
package tracing

import (
	"strings"

	"go.opentelemetry.io/otel/trace"
)

const (
	// TraceparentHeader carries version, trace id, span id and flags.
	TraceparentHeader = "traceparent"
	// BaggageHeader carries opaque key=value pairs copied verbatim across hops.
	BaggageHeader = "baggage"

	traceparentVersion = "00"
	flagSampled        = 0x01
)

// SpanContext is the causality token needed to continue a trace.
// It is a value type; copies never alias.
type SpanContext struct {
	TraceID trace.TraceID
	SpanID  trace.SpanID
	Sampled bool
	// Remote is set when the context was decoded from an inbound header.
	Remote bool
}

// IsValid reports whether both ids are non-zero.
func (sc SpanContext) IsValid() bool {
	return sc.TraceID.IsValid() && sc.SpanID.IsValid()
}

// Encode renders sc as a traceparent header value:
// "00-<32 hex trace id>-<16 hex span id>-<2 hex flags>".
func Encode(sc SpanContext) string {
	flags := "00"
	if sc.Sampled {
		flags = "01"
	}
	var b strings.Builder
	b.Grow(55)
	b.WriteString(traceparentVersion)
	b.WriteByte('-')
	b.WriteString(sc.TraceID.String())
	b.WriteByte('-')
	b.WriteString(sc.SpanID.String())
	b.WriteByte('-')
	b.WriteString(flags)
	return b.String()
}

// Decode parses a traceparent header value. It returns false for anything
// malformed: wrong field count, wrong segment length, non-lowercase-hex
// characters, the reserved version "ff", or an all-zero trace or span id.
// Callers treat false as "start a new trace".
func Decode(header string) (SpanContext, bool) {
	parts := strings.Split(strings.TrimSpace(header), "-")
	if len(parts) != 4 {
		return SpanContext{}, false
	}
	version, traceHex, spanHex, flagsHex := parts[0], parts[1], parts[2], parts[3]

	if len(version) != 2 || !isLowerHex(version) || version == "ff" {
		return SpanContext{}, false
	}
	if len(traceHex) != 32 || !isLowerHex(traceHex) {
		return SpanContext{}, false
	}
	if len(spanHex) != 16 || !isLowerHex(spanHex) {
		return SpanContext{}, false
	}
	if len(flagsHex) != 2 || !isLowerHex(flagsHex) {
		return SpanContext{}, false
	}

	traceID, err := trace.TraceIDFromHex(traceHex)
	if err != nil {
		return SpanContext{}, false
	}
	spanID, err := trace.SpanIDFromHex(spanHex)
	if err != nil {
		return SpanContext{}, false
	}

	return SpanContext{
		TraceID: traceID,
		SpanID:  spanID,
		Sampled: hexByte(flagsHex)&flagSampled != 0,
		Remote:  true,
	}, true
}

func isLowerHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// hexByte decodes two lowercase hex characters. Input must already be validated.
func hexByte(s string) byte {
	return nibble(s[0])<<4 | nibble(s[1])
}

func nibble(c byte) byte {
	if c >= 'a' {
		return c - 'a' + 10
	}
	return c - '0'
}

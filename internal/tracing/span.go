package tracing

import (
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Status is the final outcome recorded on a span.
type Status struct {
	Code    codes.Code
	Message string // set only when Code is codes.Error
}

// Event is a timestamped annotation on a span. Exceptions are recorded as
// events named "exception".
type Event struct {
	Name       string
	Time       time.Time
	Attributes []attribute.KeyValue
}

// SpanData is the immutable snapshot of a closed span. It is what the
// exporter receives.
type SpanData struct {
	SpanContext  SpanContext
	ParentSpanID trace.SpanID // zero for a root span
	Name         string
	Kind         trace.SpanKind
	StartTime    time.Time
	EndTime      time.Time
	Attributes   []attribute.KeyValue
	Events       []Event
	Status       Status
}

// HasParent reports whether the span was started under another span.
func (d SpanData) HasParent() bool { return d.ParentSpanID.IsValid() }

// Attribute returns the value stored under key, if any.
func (d SpanData) Attribute(key attribute.Key) (attribute.Value, bool) {
	for _, kv := range d.Attributes {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

// Duration is EndTime minus StartTime.
func (d SpanData) Duration() time.Duration { return d.EndTime.Sub(d.StartTime) }

// Span is a timed unit of work. It is mutated only by the code that started
// it until End is called; after that every mutation is ignored.
//
// A nil *Span is valid and does nothing. The tracer hands out nil spans when
// tracing is disabled.
type Span struct {
	sink SpanSink

	mu         sync.Mutex
	sc         SpanContext
	parent     trace.SpanID
	name       string
	kind       trace.SpanKind
	start      time.Time
	end        time.Time
	attrs      []attribute.KeyValue
	events     []Event
	status     Status
	ended      bool
	statusSet  bool
	recordable bool // sampled and a sink exists
}

// SpanContext returns the span's identity. The zero value for a nil span.
func (s *Span) SpanContext() SpanContext {
	if s == nil {
		return SpanContext{}
	}
	return s.sc
}

// ParentSpanID returns the id of the span this span was started under.
func (s *Span) ParentSpanID() trace.SpanID {
	if s == nil {
		return trace.SpanID{}
	}
	return s.parent
}

// Name returns the span name.
func (s *Span) Name() string {
	if s == nil {
		return ""
	}
	return s.name
}

// SetAttributes adds or replaces attributes. A key that is already present
// keeps its original position.
func (s *Span) SetAttributes(kvs ...attribute.KeyValue) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.attrs = mergeAttributes(s.attrs, kvs)
}

// SetStatus records an outcome. The description is kept only for codes.Error.
func (s *Span) SetStatus(code codes.Code, description string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.setStatusLocked(code, description)
}

func (s *Span) setStatusLocked(code codes.Code, description string) {
	s.status = Status{Code: code}
	if code == codes.Error {
		s.status.Message = description
	}
	s.statusSet = code != codes.Unset
}

// AddEvent appends a timestamped event.
func (s *Span) AddEvent(name string, kvs ...attribute.KeyValue) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.events = append(s.events, Event{Name: name, Time: time.Now(), Attributes: kvs})
}

// RecordError attaches err as an exception event with a stack trace. It does
// not change the status.
func (s *Span) RecordError(err error) {
	if s == nil || err == nil {
		return
	}
	s.AddEvent("exception",
		attribute.String("exception.type", fmt.Sprintf("%T", err)),
		attribute.String("exception.message", err.Error()),
		attribute.String("exception.stacktrace", string(debug.Stack())),
	)
}

// StatusSet reports whether a non-Unset status has been recorded.
func (s *Span) StatusSet() bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusSet
}

// IsRecording reports whether the span is open and will be exported on End.
func (s *Span) IsRecording() bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.ended && s.recordable
}

// Ended reports whether End has been called.
func (s *Span) Ended() bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

// End closes the span and hands it to the sink. Only the first call has any
// effect; failure and success paths may both call it.
func (s *Span) End() {
	s.finish(nil)
}

// EndWithStatus sets the final status and closes the span. Like End, only
// the first call counts.
func (s *Span) EndWithStatus(code codes.Code, description string) {
	s.finish(&Status{Code: code, Message: description})
}

func (s *Span) finish(status *Status) {
	if s == nil {
		return
	}
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	s.end = time.Now()
	if status != nil {
		s.setStatusLocked(status.Code, status.Message)
	}
	data := s.snapshotLocked()
	sink, recordable := s.sink, s.recordable
	s.mu.Unlock()

	if recordable && sink != nil {
		sink.OnEnd(data)
	}
}

// Snapshot returns the current state of the span. Mostly useful in tests;
// the exporter receives snapshots taken at End.
func (s *Span) Snapshot() SpanData {
	if s == nil {
		return SpanData{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Span) snapshotLocked() SpanData {
	attrs := make([]attribute.KeyValue, len(s.attrs))
	copy(attrs, s.attrs)
	events := make([]Event, len(s.events))
	copy(events, s.events)
	return SpanData{
		SpanContext:  s.sc,
		ParentSpanID: s.parent,
		Name:         s.name,
		Kind:         s.kind,
		StartTime:    s.start,
		EndTime:      s.end,
		Attributes:   attrs,
		Events:       events,
		Status:       s.status,
	}
}

func mergeAttributes(dst, src []attribute.KeyValue) []attribute.KeyValue {
	for _, kv := range src {
		if !kv.Valid() {
			continue
		}
		replaced := false
		for i := range dst {
			if dst[i].Key == kv.Key {
				dst[i] = kv
				replaced = true
				break
			}
		}
		if !replaced {
			dst = append(dst, kv)
		}
	}
	return dst
}

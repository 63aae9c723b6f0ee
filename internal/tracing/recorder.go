package tracing

import "sync"

// Recorder is an in-memory SpanSink. It keeps every span it is given, in
// end order.
type Recorder struct {
	mu    sync.Mutex
	spans []SpanData
}

// OnEnd implements SpanSink.
func (r *Recorder) OnEnd(d SpanData) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.spans = append(r.spans, d)
}

// Ended returns a copy of the recorded spans.
func (r *Recorder) Ended() []SpanData {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]SpanData, len(r.spans))
	copy(out, r.spans)
	return out
}

// Reset discards everything recorded so far.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.spans = nil
}

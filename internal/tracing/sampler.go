package tracing

import (
	"encoding/binary"
	"math"

	"go.opentelemetry.io/otel/trace"
)

// Sampler decides, once per trace, whether its spans are exported.
type Sampler interface {
	ShouldSample(traceID trace.TraceID) bool
}

// RatioSampler keeps roughly Ratio of all traces. The decision is a pure
// function of the trace id, so two processes configured with the same ratio
// agree on it.
type RatioSampler struct {
	bound uint64
	ratio float64
}

// NewRatioSampler clamps ratio into [0,1].
func NewRatioSampler(ratio float64) RatioSampler {
	switch {
	case ratio >= 1 || math.IsNaN(ratio):
		ratio = 1
	case ratio <= 0:
		ratio = 0
	}
	return RatioSampler{bound: uint64(ratio * (1 << 63)), ratio: ratio}
}

// ShouldSample compares the trace id's lower eight bytes, shifted right by
// one bit, against the ratio bound.
func (s RatioSampler) ShouldSample(traceID trace.TraceID) bool {
	if s.ratio >= 1 {
		return true
	}
	if s.ratio <= 0 {
		return false
	}
	x := binary.BigEndian.Uint64(traceID[8:16]) >> 1
	return x < s.bound
}

// Ratio returns the configured ratio after clamping.
func (s RatioSampler) Ratio() float64 { return s.ratio }

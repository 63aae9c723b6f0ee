package instrument

import (
	"context"
	"encoding/json"

	"go.opentelemetry.io/otel/attribute"

	"github.com/ashita-ai/kansoku/internal/ctxutil"
	"github.com/ashita-ai/kansoku/internal/tracing"
)

// Model call attribute keys.
const (
	AttrLLMProvider         = attribute.Key("llm.provider")
	AttrLLMModel            = attribute.Key("llm.model")
	AttrLLMRequest          = attribute.Key("llm.request")
	AttrLLMResponse         = attribute.Key("llm.response")
	AttrLLMPromptTokens     = attribute.Key("llm.response.prompt_tokens")
	AttrLLMCompletionTokens = attribute.Key("llm.response.completion_tokens")
	AttrLLMTotalTokens      = attribute.Key("llm.response.total_tokens")
	AttrLLMEstimatedCost    = attribute.Key("llm.estimated_cost")
)

// Usage is the token accounting a model API reports. Missing counts are zero.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// normalized fills TotalTokens from the parts when the API left it out.
func (u Usage) normalized() Usage {
	if u.TotalTokens == 0 {
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
	}
	return u
}

// UsageReporter is implemented by model responses that carry usage.
type UsageReporter interface {
	TokenUsage() Usage
}

// UsageOf extracts usage from a model result. Results that implement
// UsageReporter or are a Usage are read directly. Anything else is read
// through its JSON "usage" object, which covers decoded maps and plain
// response structs. Results that report nothing, including typed nil
// reporters, yield zero counts.
func UsageOf(result any) (u Usage) {
	defer func() {
		if recover() != nil {
			u = Usage{}
		}
	}()
	switch r := result.(type) {
	case UsageReporter:
		return r.TokenUsage().normalized()
	case Usage:
		return r.normalized()
	case *Usage:
		if r != nil {
			return r.normalized()
		}
		return Usage{}
	case nil, string, []byte:
		return Usage{}
	}
	return usageFromJSON(result)
}

func usageFromJSON(result any) Usage {
	raw, err := json.Marshal(result)
	if err != nil {
		return Usage{}
	}
	var envelope struct {
		Usage *Usage `json:"usage"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil || envelope.Usage == nil {
		return Usage{}
	}
	return envelope.Usage.normalized()
}

// ModelCall describes one traced model invocation.
type ModelCall struct {
	Provider    string
	Model       string
	Request     any // serialized and truncated to Limits.Payload
	Correlation ctxutil.Correlation
	Attributes  []attribute.KeyValue
}

// TraceModelCall runs execute in a child span named "llm: <provider>/<model>"
// and records token usage and estimated cost on success.
func TraceModelCall[T any](ctx context.Context, in *Instrumenter, mc ModelCall, execute func(ctx context.Context) (T, error)) (T, error) {
	c := call[T]{
		in:          in,
		name:        "llm: " + mc.Provider + "/" + mc.Model,
		metricKind:  "llm",
		metricName:  mc.Provider + "/" + mc.Model,
		correlation: mc.Correlation,
		attrs: func(s *tracing.Span) {
			s.SetAttributes(
				AttrLLMProvider.String(mc.Provider),
				AttrLLMModel.String(mc.Model),
			)
			if mc.Request != nil {
				setPayload(s, string(AttrLLMRequest), mc.Request, in.limits.Payload)
			}
			s.SetAttributes(mc.Attributes...)
		},
		onSuccess: func(ctx context.Context, s *tracing.Span, result T) {
			u := UsageOf(result)
			cost := EstimateCost(mc.Provider, mc.Model, u.PromptTokens, u.CompletionTokens)
			s.SetAttributes(
				AttrLLMPromptTokens.Int(u.PromptTokens),
				AttrLLMCompletionTokens.Int(u.CompletionTokens),
				AttrLLMTotalTokens.Int(u.TotalTokens),
				AttrLLMEstimatedCost.Float64(cost),
			)
			setPayload(s, string(AttrLLMResponse), result, in.limits.Payload)
			in.ins.recordUsage(ctx, mc.Provider, mc.Model, u, cost)
		},
	}
	return c.run(ctx, execute)
}

package instrument

import "strings"

// Price is a USD cost per million tokens.
type Price struct {
	Prompt     float64
	Completion float64
}

// DefaultPrice applies to any provider/model pair missing from the table,
// so a cost can always be computed.
var DefaultPrice = Price{Prompt: 1, Completion: 2}

// prices is keyed by lowercase provider, then lowercase model.
var prices = map[string]map[string]Price{
	"openai": {
		"gpt-4":         {Prompt: 30, Completion: 60},
		"gpt-4-32k":     {Prompt: 60, Completion: 120},
		"gpt-4-turbo":   {Prompt: 10, Completion: 30},
		"gpt-4o":        {Prompt: 5, Completion: 15},
		"gpt-4o-mini":   {Prompt: 0.15, Completion: 0.6},
		"gpt-3.5-turbo": {Prompt: 0.5, Completion: 1.5},
	},
	"anthropic": {
		"claude-3-opus":     {Prompt: 15, Completion: 75},
		"claude-3-sonnet":   {Prompt: 3, Completion: 15},
		"claude-3-5-sonnet": {Prompt: 3, Completion: 15},
		"claude-3-haiku":    {Prompt: 0.25, Completion: 1.25},
	},
	"google": {
		"gemini-1.5-pro":       {Prompt: 3.5, Completion: 10.5},
		"gemini-1.5-flash":     {Prompt: 0.35, Completion: 1.05},
		"gemini-2.0-flash":     {Prompt: 0.1, Completion: 0.4},
		"gemini-2.0-flash-exp": {Prompt: 0.1, Completion: 0.4},
	},
}

// PriceFor returns the table price for provider/model and whether it was
// found. Lookup ignores case.
func PriceFor(provider, model string) (Price, bool) {
	models, ok := prices[strings.ToLower(provider)]
	if !ok {
		return DefaultPrice, false
	}
	p, ok := models[strings.ToLower(model)]
	if !ok {
		return DefaultPrice, false
	}
	return p, true
}

// EstimateCost returns the USD cost of a call. Negative token counts are
// treated as zero, so the result is never negative.
func EstimateCost(provider, model string, promptTokens, completionTokens int) float64 {
	p, _ := PriceFor(provider, model)
	promptTokens = max(promptTokens, 0)
	completionTokens = max(completionTokens, 0)
	return float64(promptTokens)/1e6*p.Prompt + float64(completionTokens)/1e6*p.Completion
}

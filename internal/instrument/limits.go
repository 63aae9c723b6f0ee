package instrument

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

// Limits caps how many bytes of serialized payload end up on a span. Large
// tool results and model responses would otherwise bloat the trace store and
// leak whole documents into it.
type Limits struct {
	Input   int // operation input
	Result  int // operation result
	Payload int // model request and response bodies
}

// DefaultLimits are the caps used when none are configured.
var DefaultLimits = Limits{
	Input:   1000,
	Result:  10000,
	Payload: 50000,
}

func (l Limits) withDefaults() Limits {
	if l.Input <= 0 {
		l.Input = DefaultLimits.Input
	}
	if l.Result <= 0 {
		l.Result = DefaultLimits.Result
	}
	if l.Payload <= 0 {
		l.Payload = DefaultLimits.Payload
	}
	return l
}

// serialize renders v for a span attribute. Strings and byte slices are used
// as-is; everything else is JSON, falling back to %+v.
func serialize(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case json.RawMessage:
		return string(x)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%+v", v)
	}
	return string(b)
}

// Truncate cuts s to at most limit bytes without splitting a UTF-8 sequence.
// It reports whether anything was cut.
func Truncate(s string, limit int) (string, bool) {
	if len(s) <= limit {
		return s, false
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut], true
}

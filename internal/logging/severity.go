package logging

import (
	"fmt"
	"log/slog"
	"strings"
)

// Severity is an ordinal log severity:
// critical > error > warn > info > debug > trace.
type Severity int

const (
	SeverityTrace Severity = iota
	SeverityDebug
	SeverityInfo
	SeverityWarn
	SeverityError
	SeverityCritical
)

// slog has no levels below debug or above error; these fill the gaps.
const (
	LevelTrace    = slog.Level(-8)
	LevelCritical = slog.Level(12)
)

var severities = [...]struct {
	name   string
	level  slog.Level
	number int32 // OTLP SeverityNumber
}{
	SeverityTrace:    {"trace", LevelTrace, 1},
	SeverityDebug:    {"debug", slog.LevelDebug, 5},
	SeverityInfo:     {"info", slog.LevelInfo, 9},
	SeverityWarn:     {"warn", slog.LevelWarn, 13},
	SeverityError:    {"error", slog.LevelError, 17},
	SeverityCritical: {"critical", LevelCritical, 21},
}

func (s Severity) valid() bool { return s >= SeverityTrace && s <= SeverityCritical }

// Level returns the slog level for s.
func (s Severity) Level() slog.Level {
	if !s.valid() {
		return slog.LevelInfo
	}
	return severities[s].level
}

// Number returns the OTLP severity number for s.
func (s Severity) Number() int32 {
	if !s.valid() {
		return 0
	}
	return severities[s].number
}

func (s Severity) String() string {
	if !s.valid() {
		return fmt.Sprintf("severity(%d)", int(s))
	}
	return severities[s].name
}

// SeverityFromLevel maps any slog level onto the table, rounding down to the
// nearest named severity.
func SeverityFromLevel(l slog.Level) Severity {
	for s := SeverityCritical; s > SeverityTrace; s-- {
		if l >= severities[s].level {
			return s
		}
	}
	return SeverityTrace
}

// ParseSeverity parses a severity name. Matching ignores case; "warning"
// and "fatal" are accepted as aliases.
func ParseSeverity(name string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "trace":
		return SeverityTrace, nil
	case "debug":
		return SeverityDebug, nil
	case "info", "":
		return SeverityInfo, nil
	case "warn", "warning":
		return SeverityWarn, nil
	case "error":
		return SeverityError, nil
	case "critical", "fatal":
		return SeverityCritical, nil
	default:
		return SeverityInfo, fmt.Errorf("logging: unknown severity %q", name)
	}
}

// ReplaceLevel renders the extra levels by name instead of "DEBUG-4" or
// "ERROR+4". Pass it as slog.HandlerOptions.ReplaceAttr.
func ReplaceLevel(groups []string, a slog.Attr) slog.Attr {
	if len(groups) > 0 || a.Key != slog.LevelKey {
		return a
	}
	level, ok := a.Value.Any().(slog.Level)
	if !ok {
		return a
	}
	switch {
	case level < slog.LevelDebug:
		a.Value = slog.StringValue("TRACE")
	case level >= LevelCritical:
		a.Value = slog.StringValue("CRITICAL")
	}
	return a
}

package logging

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeverityOrdering(t *testing.T) {
	order := []Severity{SeverityTrace, SeverityDebug, SeverityInfo, SeverityWarn, SeverityError, SeverityCritical}
	for i := 1; i < len(order); i++ {
		assert.Greater(t, order[i].Level(), order[i-1].Level(), "%s vs %s", order[i], order[i-1])
		assert.Greater(t, order[i].Number(), order[i-1].Number())
	}
}

func TestSeverityFromLevel(t *testing.T) {
	tests := map[slog.Level]Severity{
		LevelTrace - 4:      SeverityTrace,
		LevelTrace:          SeverityTrace,
		slog.LevelDebug:     SeverityDebug,
		slog.LevelDebug + 1: SeverityDebug,
		slog.LevelInfo:      SeverityInfo,
		slog.LevelWarn:      SeverityWarn,
		slog.LevelError:     SeverityError,
		LevelCritical:       SeverityCritical,
		LevelCritical + 8:   SeverityCritical,
	}
	for level, want := range tests {
		assert.Equal(t, want, SeverityFromLevel(level), "level %d", level)
	}
}

func TestSeverityLevelRoundTrip(t *testing.T) {
	for s := SeverityTrace; s <= SeverityCritical; s++ {
		assert.Equal(t, s, SeverityFromLevel(s.Level()))
	}
}

func TestParseSeverity(t *testing.T) {
	tests := []struct {
		in   string
		want Severity
	}{
		{"trace", SeverityTrace},
		{"DEBUG", SeverityDebug},
		{"", SeverityInfo},
		{" info ", SeverityInfo},
		{"warning", SeverityWarn},
		{"error", SeverityError},
		{"Critical", SeverityCritical},
		{"fatal", SeverityCritical},
	}
	for _, tt := range tests {
		got, err := ParseSeverity(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseSeverity("loud")
	assert.Error(t, err)
}

func TestOTLPSeverityNumbers(t *testing.T) {
	assert.Equal(t, int32(1), SeverityTrace.Number())
	assert.Equal(t, int32(9), SeverityInfo.Number())
	assert.Equal(t, int32(21), SeverityCritical.Number())
	assert.Equal(t, "warn", SeverityWarn.String())
}

package config

import (
	"strings"
	"testing"
	"time"
)

func TestEnvIntValid(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	v, err := envInt("TEST_INT", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 42 {
		t.Fatalf("expected 42, got %d", v)
	}
}

func TestEnvIntFallback(t *testing.T) {
	// TEST_INT_MISSING is not set.
	v, err := envInt("TEST_INT_MISSING", 99)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 99 {
		t.Fatalf("expected fallback 99, got %d", v)
	}
}

func TestEnvIntInvalid(t *testing.T) {
	t.Setenv("TEST_INT_BAD", "abc")
	_, err := envInt("TEST_INT_BAD", 0)
	if err == nil {
		t.Fatal("expected error for non-integer value, got nil")
	}
	if got := err.Error(); got != `TEST_INT_BAD="abc" is not a valid integer` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestEnvBoolInvalid(t *testing.T) {
	t.Setenv("TEST_BOOL_BAD", "maybe")
	_, err := envBool("TEST_BOOL_BAD", false)
	if err == nil {
		t.Fatal("expected error for non-boolean value, got nil")
	}
	if got := err.Error(); got != `TEST_BOOL_BAD="maybe" is not a valid boolean` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestEnvFloat(t *testing.T) {
	t.Setenv("TEST_FLOAT", "0.25")
	v, err := envFloat("TEST_FLOAT", 1)
	if err != nil || v != 0.25 {
		t.Fatalf("expected 0.25, got %v (%v)", v, err)
	}

	t.Setenv("TEST_FLOAT_BAD", "quarter")
	if _, err := envFloat("TEST_FLOAT_BAD", 1); err == nil {
		t.Fatal("expected error for non-numeric value, got nil")
	}
}

func TestEnvDurationInvalid(t *testing.T) {
	t.Setenv("TEST_DUR_BAD", "five-seconds")
	_, err := envDuration("TEST_DUR_BAD", 0)
	if err == nil {
		t.Fatal("expected error for invalid duration, got nil")
	}
	if got := err.Error(); got != `TEST_DUR_BAD="five-seconds" is not a valid duration` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestLoadSucceedsWithDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected Load() to succeed with defaults, got: %v", err)
	}
	if cfg.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Port)
	}
	if !cfg.TracingEnabled || cfg.SampleRatio != 1.0 {
		t.Fatalf("expected tracing on at ratio 1, got %v/%v", cfg.TracingEnabled, cfg.SampleRatio)
	}
	if cfg.ExportMaxQueue != 2048 || cfg.ExportBatchSize != 512 || cfg.ExportDelay != 5*time.Second {
		t.Fatalf("unexpected export defaults: %+v", cfg)
	}
	if cfg.TruncateInput != 1000 || cfg.TruncateResult != 10000 || cfg.TruncatePayload != 50000 {
		t.Fatalf("unexpected truncation defaults: %+v", cfg)
	}
}

func TestLoadReportsEveryInvalidVar(t *testing.T) {
	t.Setenv("KANSOKU_PORT", "abc")
	t.Setenv("KANSOKU_EXPORT_DELAY", "soon")
	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to fail with invalid vars")
	}
	got := err.Error()
	for _, want := range []string{"KANSOKU_PORT", "abc", "KANSOKU_EXPORT_DELAY"} {
		if !strings.Contains(got, want) {
			t.Fatalf("error should mention %s, got: %s", want, got)
		}
	}
}

func TestValidateRejectsStructuralProblems(t *testing.T) {
	tests := map[string]string{
		"KANSOKU_SAMPLE_RATIO":      "1.5",
		"KANSOKU_EXPORT_BATCH_SIZE": "4096",
		"KANSOKU_EXPORT_MAX_QUEUE":  "0",
		"KANSOKU_LOG_LEVEL":         "loud",
		"KANSOKU_TRUNCATE_INPUT":    "-1",
	}
	for key, val := range tests {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, val)
			_, err := Load()
			if err == nil {
				t.Fatalf("expected %s=%s to be rejected", key, val)
			}
			if !strings.Contains(err.Error(), key) {
				t.Fatalf("error should mention %s, got: %s", key, err)
			}
		})
	}
}

func TestExportProblem(t *testing.T) {
	ok := Config{
		CollectorURL:              "https://collector.example.com",
		CollectorCredential:       "Bearer abc",
		CollectorCredentialHeader: "Authorization",
	}
	if p := ok.ExportProblem(); p != "" {
		t.Fatalf("expected usable collector config, got problem %q", p)
	}

	cases := map[string]func(*Config){
		"OTEL_EXPORTER_OTLP_ENDPOINT is not set":  func(c *Config) { c.CollectorURL = "" },
		"is not an http(s) URL":                   func(c *Config) { c.CollectorURL = "collector:4318" },
		"KANSOKU_COLLECTOR_CREDENTIAL is not set": func(c *Config) { c.CollectorCredential = "" },
		"KANSOKU_COLLECTOR_CREDENTIAL_HEADER":     func(c *Config) { c.CollectorCredentialHeader = " " },
	}
	for want, mutate := range cases {
		c := ok
		mutate(&c)
		if p := c.ExportProblem(); !strings.Contains(p, want) {
			t.Fatalf("expected problem containing %q, got %q", want, p)
		}
	}
}

func TestCollectorHeaders(t *testing.T) {
	c := Config{CollectorCredential: "k", CollectorCredentialHeader: "X-Api-Key"}
	h := c.CollectorHeaders()
	if h["X-Api-Key"] != "k" || len(h) != 1 {
		t.Fatalf("unexpected headers: %v", h)
	}
	if (Config{}).CollectorHeaders() != nil {
		t.Fatal("expected no headers without a credential")
	}
}

// Package config loads and validates application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ashita-ai/kansoku/internal/logging"
)

// Config holds all application configuration.
type Config struct {
	// Server settings.
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Logging.
	LogLevel  string // trace, debug, info, warn, error, critical
	LogExport bool   // forward log records to the collector's log endpoint

	// Tracing.
	TracingEnabled bool    // false makes the tracer fully inert
	SampleRatio    float64 // fraction of new traces kept, in [0,1]

	// Collector settings.
	CollectorURL              string // OTLP/HTTP base URL; /v1/traces etc. are appended
	CollectorCredential       string
	CollectorCredentialHeader string
	ServiceName               string
	Environment               string

	// Export pipeline.
	ExportMaxQueue     int
	ExportBatchSize    int
	ExportDelay        time.Duration
	ExportTimeout      time.Duration
	ExportMaxRetries   int
	ExportRetryBackoff time.Duration

	// Payload truncation caps, in bytes.
	TruncateInput   int
	TruncateResult  int
	TruncatePayload int

	// Optional Postgres URL; storage tracing is skipped when empty.
	DatabaseURL string
}

// Load reads configuration from environment variables with sensible defaults.
// Every malformed variable is reported, not just the first.
func Load() (Config, error) {
	var l loader
	cfg := Config{
		Port:                      l.integer("KANSOKU_PORT", 8080),
		ReadTimeout:               l.duration("KANSOKU_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:              l.duration("KANSOKU_WRITE_TIMEOUT", 30*time.Second),
		LogLevel:                  envStr("KANSOKU_LOG_LEVEL", "info"),
		LogExport:                 l.boolean("KANSOKU_LOG_EXPORT", false),
		TracingEnabled:            l.boolean("KANSOKU_TRACING_ENABLED", true),
		SampleRatio:               l.number("KANSOKU_SAMPLE_RATIO", 1.0),
		CollectorURL:              envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		CollectorCredential:       envStr("KANSOKU_COLLECTOR_CREDENTIAL", ""),
		CollectorCredentialHeader: envStr("KANSOKU_COLLECTOR_CREDENTIAL_HEADER", "Authorization"),
		ServiceName:               envStr("OTEL_SERVICE_NAME", "kansoku"),
		Environment:               envStr("KANSOKU_ENVIRONMENT", "development"),
		ExportMaxQueue:            l.integer("KANSOKU_EXPORT_MAX_QUEUE", 2048),
		ExportBatchSize:           l.integer("KANSOKU_EXPORT_BATCH_SIZE", 512),
		ExportDelay:               l.duration("KANSOKU_EXPORT_DELAY", 5*time.Second),
		ExportTimeout:             l.duration("KANSOKU_EXPORT_TIMEOUT", 10*time.Second),
		ExportMaxRetries:          l.integer("KANSOKU_EXPORT_MAX_RETRIES", 3),
		ExportRetryBackoff:        l.duration("KANSOKU_EXPORT_RETRY_BACKOFF", 500*time.Millisecond),
		TruncateInput:             l.integer("KANSOKU_TRUNCATE_INPUT", 1000),
		TruncateResult:            l.integer("KANSOKU_TRUNCATE_RESULT", 10000),
		TruncatePayload:           l.integer("KANSOKU_TRUNCATE_PAYLOAD", 50000),
		DatabaseURL:               envStr("DATABASE_URL", ""),
	}
	if len(l.errs) > 0 {
		return Config{}, fmt.Errorf("config: %w", errors.Join(l.errs...))
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that values are structurally usable. Collector problems
// are not validation errors; see ExportProblem.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}
	check(c.Port > 0 && c.Port <= 65535, "KANSOKU_PORT must be between 1 and 65535, got %d", c.Port)
	check(c.ReadTimeout > 0, "KANSOKU_READ_TIMEOUT must be positive")
	check(c.WriteTimeout > 0, "KANSOKU_WRITE_TIMEOUT must be positive")
	if _, err := logging.ParseSeverity(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("KANSOKU_LOG_LEVEL: %w", err))
	}
	check(c.SampleRatio >= 0 && c.SampleRatio <= 1, "KANSOKU_SAMPLE_RATIO must be in [0,1], got %v", c.SampleRatio)
	check(c.ExportMaxQueue > 0, "KANSOKU_EXPORT_MAX_QUEUE must be positive")
	check(c.ExportBatchSize > 0, "KANSOKU_EXPORT_BATCH_SIZE must be positive")
	check(c.ExportBatchSize <= c.ExportMaxQueue, "KANSOKU_EXPORT_BATCH_SIZE (%d) must not exceed KANSOKU_EXPORT_MAX_QUEUE (%d)", c.ExportBatchSize, c.ExportMaxQueue)
	check(c.ExportDelay > 0, "KANSOKU_EXPORT_DELAY must be positive")
	check(c.ExportTimeout > 0, "KANSOKU_EXPORT_TIMEOUT must be positive")
	check(c.ExportMaxRetries >= 0, "KANSOKU_EXPORT_MAX_RETRIES must not be negative")
	check(c.ExportRetryBackoff >= 0, "KANSOKU_EXPORT_RETRY_BACKOFF must not be negative")
	check(c.TruncateInput > 0, "KANSOKU_TRUNCATE_INPUT must be positive")
	check(c.TruncateResult > 0, "KANSOKU_TRUNCATE_RESULT must be positive")
	check(c.TruncatePayload > 0, "KANSOKU_TRUNCATE_PAYLOAD must be positive")
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// ExportProblem returns why telemetry cannot be exported, or "" when the
// collector settings are usable. A non-empty result means spans are still
// created but never sent.
func (c Config) ExportProblem() string {
	if c.CollectorURL == "" {
		return "OTEL_EXPORTER_OTLP_ENDPOINT is not set"
	}
	u, err := url.Parse(c.CollectorURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Sprintf("OTEL_EXPORTER_OTLP_ENDPOINT %q is not an http(s) URL", c.CollectorURL)
	}
	if c.CollectorCredential == "" {
		return "KANSOKU_COLLECTOR_CREDENTIAL is not set"
	}
	if strings.TrimSpace(c.CollectorCredentialHeader) == "" {
		return "KANSOKU_COLLECTOR_CREDENTIAL_HEADER is empty"
	}
	return ""
}

// CollectorHeaders returns the credential header sent with every export.
func (c Config) CollectorHeaders() map[string]string {
	if c.CollectorCredential == "" || c.CollectorCredentialHeader == "" {
		return nil
	}
	return map[string]string{c.CollectorCredentialHeader: c.CollectorCredential}
}

// loader accumulates parse errors so Load can report all of them at once.
type loader struct {
	errs []error
}

func (l *loader) integer(key string, defaultVal int) int {
	v, err := envInt(key, defaultVal)
	if err != nil {
		l.errs = append(l.errs, err)
	}
	return v
}

func (l *loader) boolean(key string, defaultVal bool) bool {
	v, err := envBool(key, defaultVal)
	if err != nil {
		l.errs = append(l.errs, err)
	}
	return v
}

func (l *loader) number(key string, defaultVal float64) float64 {
	v, err := envFloat(key, defaultVal)
	if err != nil {
		l.errs = append(l.errs, err)
	}
	return v
}

func (l *loader) duration(key string, defaultVal time.Duration) time.Duration {
	v, err := envDuration(key, defaultVal)
	if err != nil {
		l.errs = append(l.errs, err)
	}
	return v
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid integer", key, v)
	}
	return n, nil
}

func envBool(key string, defaultVal bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid boolean", key, v)
	}
	return b, nil
}

func envFloat(key string, defaultVal float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid number", key, v)
	}
	return f, nil
}

func envDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid duration", key, v)
	}
	return d, nil
}

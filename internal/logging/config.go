package logging

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/cmejo/AI-Scholar-sub007/internal/config"
	"go.uber.org/zap/zapcore"
)

// Config holds logging configuration.
type Config struct {
	Level           zapcore.Level
	Format          string
	Stdout          bool
	OTEL            bool
	Sampling        SamplingConfig
	Caller          CallerConfig
	StacktraceLevel zapcore.Level
	Fields          map[string]string
	Redaction       RedactionConfig
}

// SamplingConfig controls log volume reduction below Error.
type SamplingConfig struct {
	Enabled    bool
	Tick       config.Duration
	Initial    int
	Thereafter int
}

// CallerConfig controls caller annotation.
type CallerConfig struct {
	Enabled bool
	Skip    int
}

// RedactionConfig lists field names and value patterns that are redacted.
type RedactionConfig struct {
	Enabled  bool
	Fields   []string
	Patterns []string
}

// NewDefaultConfig returns production defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Level:  zapcore.InfoLevel,
		Format: "json",
		Stdout: true,
		Sampling: SamplingConfig{
			Enabled:    true,
			Tick:       config.Duration(time.Second),
			Initial:    100,
			Thereafter: 10,
		},
		Caller: CallerConfig{
			Enabled: true,
			Skip:    1,
		},
		StacktraceLevel: zapcore.ErrorLevel,
		Fields: map[string]string{
			"service": "assistantd",
		},
		Redaction: RedactionConfig{
			Enabled: true,
			Fields: []string{
				"password", "secret", "token", "api_key", "salt",
				"authorization", "credential", "user_input", "response_text",
			},
			Patterns: []string{
				`(?i)bearer\s+\S+`,
				`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`,
				`\b\d{3}-\d{2}-\d{4}\b`,
			},
		},
	}
}

// FromSettings builds a Config from the top-level logging section.
func FromSettings(s config.LoggingConfig) (*Config, error) {
	cfg := NewDefaultConfig()
	level, err := LevelFromString(s.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", s.Level, err)
	}
	cfg.Level = level
	if s.Format != "" {
		cfg.Format = s.Format
	}
	cfg.OTEL = s.OTEL
	cfg.Sampling.Enabled = s.Sampling
	return cfg, nil
}

// Validate checks config for errors.
func (c *Config) Validate() error {
	if c.Format != "json" && c.Format != "console" {
		return fmt.Errorf("format must be 'json' or 'console', got %q", c.Format)
	}
	if !c.Stdout && !c.OTEL {
		return errors.New("at least one output must be enabled (stdout or otel)")
	}
	if c.Sampling.Enabled && c.Sampling.Tick.Duration() <= 0 {
		return errors.New("sampling tick must be > 0 when sampling enabled")
	}
	if c.Caller.Enabled && c.Caller.Skip < 0 {
		return fmt.Errorf("caller skip must be >= 0, got %d", c.Caller.Skip)
	}
	if c.Redaction.Enabled {
		for _, p := range c.Redaction.Patterns {
			if len(p) > 200 {
				return fmt.Errorf("redaction pattern too long (max 200 chars): %q", p)
			}
			if _, err := regexp.Compile(p); err != nil {
				return fmt.Errorf("invalid redaction pattern %q: %w", p, err)
			}
		}
	}
	for k, v := range c.Fields {
		if k == "" || v == "" {
			return fmt.Errorf("constant field %q must have a non-empty key and value", k)
		}
	}
	return nil
}

package telemetry

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cmejo/AI-Scholar-sub007/internal/config"
)

// Config holds telemetry configuration.
type Config struct {
	Enabled        bool
	Endpoint       string
	Protocol       string // "grpc" or "http/protobuf"
	ServiceName    string
	ServiceVersion string
	Insecure       bool
	SampleRate     float64
	Metrics        MetricsConfig
	ShutdownAfter  config.Duration
}

// MetricsConfig controls OTLP metric export.
type MetricsConfig struct {
	Enabled        bool
	ExportInterval config.Duration
}

// NewDefaultConfig returns defaults with export disabled.
func NewDefaultConfig() *Config {
	return &Config{
		Enabled:        false,
		Endpoint:       "localhost:4317",
		Protocol:       "grpc",
		ServiceName:    "assistantd",
		ServiceVersion: "dev",
		Insecure:       true,
		SampleRate:     1.0,
		Metrics: MetricsConfig{
			Enabled:        true,
			ExportInterval: config.Duration(15 * time.Second),
		},
		ShutdownAfter: config.Duration(5 * time.Second),
	}
}

// FromSettings builds a Config from the top-level telemetry section.
func FromSettings(s config.TelemetryConfig, version string) *Config {
	cfg := NewDefaultConfig()
	cfg.Enabled = s.Enabled
	if s.Endpoint != "" {
		cfg.Endpoint = s.Endpoint
	}
	if s.Protocol != "" {
		cfg.Protocol = s.Protocol
	}
	if s.ServiceName != "" {
		cfg.ServiceName = s.ServiceName
	}
	if version != "" {
		cfg.ServiceVersion = version
	}
	cfg.Insecure = s.Insecure
	cfg.SampleRate = s.SampleRate
	return cfg
}

// Validate checks configuration for errors. A disabled config is always valid.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Endpoint == "" {
		return errors.New("endpoint is required when telemetry is enabled")
	}
	if c.ServiceName == "" {
		return errors.New("service_name is required when telemetry is enabled")
	}
	if c.Protocol != "grpc" && c.Protocol != "http/protobuf" {
		return fmt.Errorf("protocol must be grpc or http/protobuf, got %q", c.Protocol)
	}
	if c.Insecure && !c.isLocalEndpoint() {
		return errors.New("insecure connections to remote endpoints are not allowed; set insecure=false or use a local endpoint")
	}
	if c.SampleRate < 0 || c.SampleRate > 1 {
		return fmt.Errorf("sample_rate must be between 0 and 1, got %f", c.SampleRate)
	}
	if c.Metrics.Enabled && c.Metrics.ExportInterval.Duration() <= 0 {
		return errors.New("metrics export interval must be positive when metrics enabled")
	}
	if c.ShutdownAfter.Duration() <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	return nil
}

func (c *Config) isLocalEndpoint() bool {
	host := stripScheme(c.Endpoint)

	if strings.HasPrefix(host, "[") {
		if idx := strings.Index(host, "]"); idx != -1 {
			host = host[1:idx]
		}
	} else if strings.Count(host, ":") == 1 {
		host = host[:strings.LastIndex(host, ":")]
	}

	return host == "localhost" ||
		host == "::1" ||
		strings.HasPrefix(host, "127.") ||
		strings.HasPrefix(host, "::1:")
}

// Package config provides configuration loading for the assistant core.
//
// Configuration is assembled from hardcoded defaults, an optional YAML file
// and ASSISTANT_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Config holds the complete assistant configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Logging   LoggingConfig   `koanf:"logging"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Session   SessionConfig   `koanf:"session"`
	Agent     AgentConfig     `koanf:"agent"`
	Reward    RewardConfig    `koanf:"reward"`
	Memory    MemoryConfig    `koanf:"memory"`
	Privacy   PrivacyConfig   `koanf:"privacy"`
	Safety    SafetyConfig    `koanf:"safety"`
	Feedback  FeedbackConfig  `koanf:"feedback"`
	NATS      NATSConfig      `koanf:"nats"`
}

// ServerConfig holds the operational HTTP server settings.
type ServerConfig struct {
	Port            int      `koanf:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level    string `koanf:"level"`
	Format   string `koanf:"format"`
	OTEL     bool   `koanf:"otel"`
	Sampling bool   `koanf:"sampling"`
}

// TelemetryConfig holds OpenTelemetry exporter settings.
type TelemetryConfig struct {
	Enabled     bool    `koanf:"enabled"`
	Endpoint    string  `koanf:"endpoint"`
	Protocol    string  `koanf:"protocol"`
	ServiceName string  `koanf:"service_name"`
	Insecure    bool    `koanf:"insecure"`
	SampleRate  float64 `koanf:"sample_rate"`
}

// SessionConfig holds session lifecycle settings.
type SessionConfig struct {
	IdleAfter     Duration `koanf:"idle_after"`
	Timeout       Duration `koanf:"timeout"`
	SweepInterval Duration `koanf:"sweep_interval"`
	TurnTimeout   Duration `koanf:"turn_timeout"`
	TurnsPerMin   float64  `koanf:"turns_per_minute"`
	TurnBurst     int      `koanf:"turn_burst"`
}

// AgentConfig holds decision pipeline settings.
type AgentConfig struct {
	MinResponseLength int `koanf:"min_response_length"`
	MaxResponseLength int `koanf:"max_response_length"`
}

// RewardConfig holds reward calculator settings.
type RewardConfig struct {
	AdaptationRate  float64            `koanf:"adaptation_rate"`
	SafetyThreshold float64            `koanf:"safety_threshold"`
	Weights         map[string]float64 `koanf:"weights"`
}

// MemoryConfig holds experience memory settings.
type MemoryConfig struct {
	Capacity            int     `koanf:"capacity"`
	HighQualityCapacity int     `koanf:"high_quality_capacity"`
	SafetyCapacity      int     `koanf:"safety_capacity"`
	QualityThreshold    float64 `koanf:"quality_threshold"`
	SafetyThreshold     float64 `koanf:"safety_threshold"`
	Alpha               float64 `koanf:"alpha"`
	Beta                float64 `koanf:"beta"`
	QualityRatio        float64 `koanf:"quality_ratio"`
}

// PrivacyConfig holds consent, anonymization and retention settings.
type PrivacyConfig struct {
	EnforceConsent  bool     `koanf:"enforce_consent"`
	Anonymize       bool     `koanf:"anonymize"`
	ScrubSecrets    bool     `koanf:"scrub_secrets"`
	Salt            Secret   `koanf:"salt"`
	RetentionBase   Duration `koanf:"retention_base"`
	CleanupInterval Duration `koanf:"cleanup_interval"`
}

// SafetyConfig holds safety monitor settings.
type SafetyConfig struct {
	AlertThreshold  float64  `koanf:"alert_threshold"`
	Retention       Duration `koanf:"retention"`
	CleanupInterval Duration `koanf:"cleanup_interval"`
	PatternFile     string   `koanf:"pattern_file"`
	WatchPatterns   bool     `koanf:"watch_patterns"`
}

// FeedbackConfig holds feedback ingestion settings.
type FeedbackConfig struct {
	QueueSize int    `koanf:"queue_size"`
	Subject   string `koanf:"subject"`
}

// NATSConfig holds the optional NATS connection used for alert publication
// and feedback ingestion. An empty URL disables NATS.
type NATSConfig struct {
	URL   string `koanf:"url"`
	Token Secret `koanf:"token"`
}

// Default returns the configuration with every default applied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            9090,
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Sampling: true,
		},
		Telemetry: TelemetryConfig{
			Endpoint:    "localhost:4317",
			Protocol:    "grpc",
			ServiceName: "assistantd",
			Insecure:    true,
			SampleRate:  1.0,
		},
		Session: SessionConfig{
			IdleAfter:     Duration(5 * time.Minute),
			Timeout:       Duration(30 * time.Minute),
			SweepInterval: Duration(5 * time.Minute),
			TurnTimeout:   Duration(30 * time.Second),
		},
		Agent: AgentConfig{
			MinResponseLength: 10,
			MaxResponseLength: 2000,
		},
		Reward: RewardConfig{
			AdaptationRate:  0.01,
			SafetyThreshold: 0.7,
		},
		Memory: MemoryConfig{
			Capacity:            100000,
			HighQualityCapacity: 10000,
			SafetyCapacity:      1000,
			QualityThreshold:    0.7,
			SafetyThreshold:     0.5,
			Alpha:               0.6,
			Beta:                0.4,
			QualityRatio:        0.3,
		},
		Privacy: PrivacyConfig{
			EnforceConsent:  true,
			Anonymize:       true,
			ScrubSecrets:    true,
			RetentionBase:   Duration(90 * 24 * time.Hour),
			CleanupInterval: Duration(time.Hour),
		},
		Safety: SafetyConfig{
			AlertThreshold:  0.7,
			Retention:       Duration(30 * 24 * time.Hour),
			CleanupInterval: Duration(time.Hour),
		},
		Feedback: FeedbackConfig{
			QueueSize: 1024,
			Subject:   "assistant.feedback",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.http_port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		errs = append(errs, fmt.Errorf("logging.format must be 'json' or 'console', got %q", c.Logging.Format))
	}
	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		errs = append(errs, errors.New("telemetry.endpoint is required when telemetry is enabled"))
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, fmt.Errorf("telemetry.sample_rate must be in [0,1], got %v", c.Telemetry.SampleRate))
	}

	if c.Session.Timeout.Duration() <= 0 {
		errs = append(errs, errors.New("session.timeout must be > 0"))
	}
	if c.Session.IdleAfter.Duration() > c.Session.Timeout.Duration() {
		errs = append(errs, errors.New("session.idle_after must not exceed session.timeout"))
	}
	if c.Session.SweepInterval.Duration() <= 0 {
		errs = append(errs, errors.New("session.sweep_interval must be > 0"))
	}
	if c.Session.TurnTimeout.Duration() <= 0 {
		errs = append(errs, errors.New("session.turn_timeout must be > 0"))
	}
	if c.Session.TurnsPerMin < 0 {
		errs = append(errs, errors.New("session.turns_per_minute cannot be negative"))
	}

	if c.Agent.MinResponseLength < 0 || c.Agent.MaxResponseLength <= c.Agent.MinResponseLength {
		errs = append(errs, fmt.Errorf("agent response bounds invalid: min=%d max=%d",
			c.Agent.MinResponseLength, c.Agent.MaxResponseLength))
	}

	if !unit(c.Reward.AdaptationRate) {
		errs = append(errs, errors.New("reward.adaptation_rate must be in [0,1]"))
	}
	if len(c.Reward.Weights) > 0 {
		sum := 0.0
		for _, w := range c.Reward.Weights {
			sum += w
		}
		if math.Abs(sum-1.0) > 0.01 {
			errs = append(errs, fmt.Errorf("reward.weights must sum to 1, got %.3f", sum))
		}
	}

	if c.Memory.Capacity <= 0 || c.Memory.HighQualityCapacity <= 0 || c.Memory.SafetyCapacity <= 0 {
		errs = append(errs, errors.New("memory capacities must be > 0"))
	}
	if !unit(c.Memory.QualityRatio) || !unit(c.Memory.QualityThreshold) || !unit(c.Memory.SafetyThreshold) {
		errs = append(errs, errors.New("memory ratios and thresholds must be in [0,1]"))
	}

	if c.Privacy.Anonymize && !c.Privacy.Salt.IsSet() {
		errs = append(errs, errors.New("privacy.salt is required when anonymization is enabled"))
	}
	if c.Privacy.RetentionBase.Duration() <= 0 || c.Privacy.CleanupInterval.Duration() <= 0 {
		errs = append(errs, errors.New("privacy retention and cleanup interval must be > 0"))
	}

	if !unit(c.Safety.AlertThreshold) {
		errs = append(errs, errors.New("safety.alert_threshold must be in [0,1]"))
	}
	if c.Safety.WatchPatterns && c.Safety.PatternFile == "" {
		errs = append(errs, errors.New("safety.watch_patterns requires safety.pattern_file"))
	}

	if c.Feedback.QueueSize <= 0 {
		errs = append(errs, errors.New("feedback.queue_size must be > 0"))
	}

	return errors.Join(errs...)
}

func unit(v float64) bool {
	return v >= 0 && v <= 1
}

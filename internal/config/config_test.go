package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValidOnceSaltIsSet(t *testing.T) {
	cfg := Default()
	assert.Error(t, cfg.Validate(), "anonymization without salt must be rejected")

	cfg.Privacy.Salt = "pepper"
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 30*time.Minute, cfg.Session.Timeout.Duration())
	assert.Equal(t, 5*time.Minute, cfg.Session.SweepInterval.Duration())
	assert.Equal(t, 2000, cfg.Agent.MaxResponseLength)
	assert.Equal(t, 0.3, cfg.Memory.QualityRatio)
	assert.Equal(t, 90*24*time.Hour, cfg.Privacy.RetentionBase.Duration())
	assert.Equal(t, 30*24*time.Hour, cfg.Safety.Retention.Duration())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "http_port"},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"idle after timeout", func(c *Config) { c.Session.IdleAfter = Duration(time.Hour) }, "idle_after"},
		{"inverted bounds", func(c *Config) { c.Agent.MinResponseLength = 3000 }, "response bounds"},
		{"weights sum", func(c *Config) { c.Reward.Weights = map[string]float64{"helpfulness": 0.5} }, "sum to 1"},
		{"zero capacity", func(c *Config) { c.Memory.SafetyCapacity = 0 }, "capacities"},
		{"ratio range", func(c *Config) { c.Memory.QualityRatio = 1.5 }, "ratios"},
		{"watch without file", func(c *Config) { c.Safety.WatchPatterns = true }, "pattern_file"},
		{"queue size", func(c *Config) { c.Feedback.QueueSize = 0 }, "queue_size"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Privacy.Salt = "pepper"
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_FileAndEnvPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
session:
  timeout: 45m
  idle_after: 10m
agent:
  max_response_length: 1500
privacy:
  salt: from-file
memory:
  quality_ratio: 0.5
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0600))

	t.Setenv("ASSISTANT_MEMORY__QUALITY_RATIO", "0.25")
	t.Setenv("ASSISTANT_SESSION__SWEEP_INTERVAL", "1m")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 45*time.Minute, cfg.Session.Timeout.Duration())
	assert.Equal(t, 10*time.Minute, cfg.Session.IdleAfter.Duration())
	assert.Equal(t, time.Minute, cfg.Session.SweepInterval.Duration())
	assert.Equal(t, 1500, cfg.Agent.MaxResponseLength)
	assert.Equal(t, 0.25, cfg.Memory.QualityRatio, "env overrides file")
	assert.Equal(t, "from-file", cfg.Privacy.Salt.Value())
	assert.Equal(t, 10, cfg.Agent.MinResponseLength, "defaults survive partial files")
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv("ASSISTANT_PRIVACY__SALT", "env-salt")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "env-salt", cfg.Privacy.Salt.Value())
	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestLoad_InvalidFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("session:\n  timeout: -5m\n"), 0600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("90s")))
	assert.Equal(t, 90*time.Second, d.Duration())
	assert.Error(t, d.UnmarshalText([]byte("-1s")))
	assert.Error(t, d.UnmarshalText([]byte("soon")))

	out, err := json.Marshal(Duration(time.Minute))
	require.NoError(t, err)
	assert.JSONEq(t, `"1m0s"`, string(out))
}

func TestSecret_NeverPrintsValue(t *testing.T) {
	s := Secret("hunter2")
	assert.Equal(t, "[REDACTED]", s.String())
	assert.NotContains(t, fmt.Sprintf("%v %s %#v", s, s, s), "hunter2")
	assert.Equal(t, "hunter2", s.Value())

	out, err := json.Marshal(struct{ S Secret }{s})
	require.NoError(t, err)
	assert.NotContains(t, string(out), "hunter2")

	assert.False(t, Secret("").IsSet())
	assert.Equal(t, "", Secret("").String())
}

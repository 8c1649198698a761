package config

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix is the prefix for environment overrides.
	EnvPrefix = "ASSISTANT_"

	maxConfigFileSize = 1024 * 1024
)

// Load builds the configuration from defaults, the YAML file at path (if
// non-empty and present) and ASSISTANT_* environment variables.
//
// Environment variables use a double underscore between section and field:
//
//	ASSISTANT_SESSION__TIMEOUT=45m     -> session.timeout
//	ASSISTANT_PRIVACY__SALT=...        -> privacy.salt
//	ASSISTANT_MEMORY__QUALITY_RATIO=.4 -> memory.quality_ratio
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		content, err := readConfigFile(path)
		if err != nil {
			return nil, err
		}
		if content != nil {
			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// envKey maps ASSISTANT_SECTION__FIELD_NAME to section.field_name.
func envKey(s string) string {
	trimmed := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(trimmed, "__", ".")
}

// readConfigFile returns the file contents, or nil if the file does not
// exist. The file is opened once and validated through the open descriptor.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("config path %s is a directory", path)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}

	content, err := io.ReadAll(io.LimitReader(f, maxConfigFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}

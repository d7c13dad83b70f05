package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Load reads the configuration file at path, applies CALLTRACE_* environment
// overrides and validates the result. An empty or missing path yields the
// defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		if err := loadConfigFromFile(path, cfg); err != nil {
			return nil, err
		}
	}

	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with any CALLTRACE_* environment variables set.
func ApplyEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

func loadConfigFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}

	switch filepath.Ext(path) {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return fmt.Errorf("decode TOML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("decode JSON: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("decode YAML: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config format: %s", path)
	}
	return nil
}

// Save writes cfg as TOML.
func Save(path string, cfg *Config) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create config: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("encode TOML: %w", err)
	}
	return nil
}

// Package config loads the ambient service configuration: which storage
// backend the store root is mounted on, where it lives, and how the process
// logs and exposes metrics. This is distinct from a step's pipeline
// parameters, which flow through the run engine's own params/provenance
// path and are never read from this file.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v2"
)

// Config is the top-level ambient configuration document.
type Config struct {
	Version string `yaml:"version"`
	Store   Store  `yaml:"store"`
	Log     Log    `yaml:"log"`
	Metrics Metrics `yaml:"metrics"`
}

// Store selects and parameterizes a registry/storage/driver backend.
// Backend is passed to factory.Create; Parameters is passed through verbatim.
type Store struct {
	Backend    string                 `yaml:"backend"`
	Parameters map[string]interface{} `yaml:"parameters"`
}

// Log configures the structured logger.
type Log struct {
	Level     string `yaml:"level"`
	Formatter string `yaml:"formatter"`
}

// Metrics configures the Prometheus HTTP exposition endpoint.
type Metrics struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

const envPrefix = "REPROCAS_"

// defaultConfig is what Load returns with no file and no environment
// overrides: an inmemory-backed store, info-level logging, no metrics
// endpoint.
func defaultConfig() Config {
	return Config{
		Version: "0.1",
		Store: Store{
			Backend:    "inmemory",
			Parameters: map[string]interface{}{},
		},
		Log: Log{
			Level:     "info",
			Formatter: "text",
		},
		Metrics: Metrics{
			Enabled: false,
			Addr:    ":5001",
		},
	}
}

// Load reads and parses the YAML configuration at path, then applies
// REPROCAS_-prefixed environment overrides. A missing path is not an
// error; Load returns the default configuration plus any environment
// overrides.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// applyEnvOverrides mirrors the registry configuration parser's
// PREFIX_FIELD convention, but by explicit name rather than reflection: the
// ambient configuration surface is small enough that a handful of env
// lookups is clearer than a generic struct walker.
func applyEnvOverrides(cfg *Config) {
	if v, ok := lookupEnv("STORE_BACKEND"); ok {
		cfg.Store.Backend = v
	}
	if v, ok := lookupEnv("STORE_ROOTDIRECTORY"); ok {
		if cfg.Store.Parameters == nil {
			cfg.Store.Parameters = map[string]interface{}{}
		}
		cfg.Store.Parameters["rootdirectory"] = v
	}
	if v, ok := lookupEnv("LOG_LEVEL"); ok {
		cfg.Log.Level = v
	}
	if v, ok := lookupEnv("METRICS_ADDR"); ok {
		cfg.Metrics.Addr = v
		cfg.Metrics.Enabled = true
	}
}

func lookupEnv(suffix string) (string, bool) {
	v, ok := os.LookupEnv(envPrefix + suffix)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(v), v != ""
}

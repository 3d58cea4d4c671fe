package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const SupportedSchema = "v1"

// File is the top-level engine spec: ports plus a pointer to the consumer
// configuration.
type File struct {
	SchemaVersion string `yaml:"schema_version"`
	Consumer      string `yaml:"consumer"` // path to the consumer YAML
	MetricsPort   int    `yaml:"metrics_port"`
	HealthPort    int    `yaml:"health_port"`
}

// LoadEngineSpec parses an engine YAML, validates schema_version, and returns
// the parsed spec plus an absolute path to the consumer config (if set).
func LoadEngineSpec(path string) (File, string, error) {
	var cfg File
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, "", err
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, "", err
	}
	if cfg.SchemaVersion == "" {
		cfg.SchemaVersion = SupportedSchema
	}
	if cfg.SchemaVersion != SupportedSchema {
		return cfg, "", fmt.Errorf("engine schema_version %q not supported (want %q)", cfg.SchemaVersion, SupportedSchema)
	}
	if cfg.MetricsPort == 0 {
		cfg.MetricsPort = 9100
	}
	if cfg.HealthPort == 0 {
		cfg.HealthPort = 7070
	}
	confPath := cfg.Consumer
	if confPath != "" && !filepath.IsAbs(confPath) {
		confPath = filepath.Join(filepath.Dir(path), confPath)
	}
	return cfg, confPath, nil
}

// Package config loads the narrow YAML configuration a running daemon
// needs: log settings, one or more source/target sync pairs, and an
// optional metrics listen address. Grounded on the struct-tag plus
// os.ReadFile/yaml.Unmarshal idiom used throughout the example pack (e.g.
// DataDog-datadog-agent's trace API migration config loader), using
// gopkg.in/yaml.v3 rather than a hand-rolled parser.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Log holds the logging section of the config file.
type Log struct {
	Level  string `yaml:"level"`
	File   string `yaml:"file"`
	Syslog bool   `yaml:"syslog"`
}

// Sync is one source/target mirroring pair.
type Sync struct {
	Source   string   `yaml:"source"`
	Target   string   `yaml:"target"`
	Delay    int      `yaml:"delay"`
	Excludes []string `yaml:"excludes"`
}

// Metrics holds the optional Prometheus exposition settings.
type Metrics struct {
	Listen string `yaml:"listen"`
}

// Config is the top-level config file shape.
type Config struct {
	Log     Log     `yaml:"log"`
	Sync    []Sync  `yaml:"sync"`
	Metrics Metrics `yaml:"metrics"`
}

// Load reads and parses path. A missing or malformed config file is
// reported to the caller rather than exiting here, so cmd/lsyncd controls
// the exit code and message exactly as lsyncd.c's startup validation does.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if len(cfg.Sync) == 0 {
		return nil, fmt.Errorf("config: %s declares no sync pairs", path)
	}
	for i, s := range cfg.Sync {
		if s.Source == "" || s.Target == "" {
			return nil, fmt.Errorf("config: sync entry %d is missing source or target", i)
		}
	}
	return &cfg, nil
}

// Package config loads the YAML configuration used by the cmd tools.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// Config is the on-disk configuration for a database instance.
type Config struct {
	Paths         []string `yaml:"paths"`
	MinimumFreeGB uint     `yaml:"minimumFreeGB"`
	Hash          string   `yaml:"hash"`
	LogLevel      string   `yaml:"logLevel"`
}

// Load reads and parses the YAML file at path and fills in defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if config.MinimumFreeGB == 0 {
		config.MinimumFreeGB = 1
	}
	if config.Hash == "" {
		config.Hash = "sha2-256"
	}
	if config.LogLevel == "" {
		config.LogLevel = "info"
	}

	return config, nil
}

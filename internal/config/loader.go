package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads and parses the config file at path.
func Load(path string) (*SignalConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML config. ${VAR} and ${VAR:-fallback} references are
// expanded from the environment first. Unknown keys are rejected so a
// misspelled setting does not silently fall back to its default.
func Parse(data []byte) (*SignalConfig, error) {
	dec := yaml.NewDecoder(bytes.NewReader([]byte(expandEnv(string(data)))))
	dec.KnownFields(true)

	var cfg SignalConfig
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}
	return &cfg, nil
}

// LoadWithDefaults loads config and fills unset fields.
func LoadWithDefaults(path string) (*SignalConfig, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

// LoadAndValidate loads config, fills defaults and validates the result.
func LoadAndValidate(path string) (*SignalConfig, error) {
	cfg, err := LoadWithDefaults(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// expandEnv replaces ${VAR} and ${VAR:-fallback}. The fallback applies when
// VAR is unset or empty.
func expandEnv(s string) string {
	return os.Expand(s, func(ref string) string {
		name, fallback, _ := strings.Cut(ref, ":-")
		if v := os.Getenv(name); v != "" {
			return v
		}
		return fallback
	})
}

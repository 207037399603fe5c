package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads a YAML config file. ${VAR} and ${VAR:-default} references are
// expanded from the environment and unknown keys are rejected. A relative
// gateway.token_file is taken relative to the config file.
func Load(path string) (*RealtimeConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg, err := parse([]byte(expandEnv(string(data))))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	if tf := cfg.Gateway.TokenFile; tf != "" && !filepath.IsAbs(tf) {
		cfg.Gateway.TokenFile = filepath.Join(filepath.Dir(path), tf)
	}
	cfg.Workflows = cleanWorkflows(cfg.Workflows)
	return cfg, nil
}

func parse(data []byte) (*RealtimeConfig, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var cfg RealtimeConfig
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return &cfg, nil
}

// expandEnv substitutes environment references. An unset or empty variable
// takes its ":-" default when one is given.
func expandEnv(s string) string {
	return os.Expand(s, func(key string) string {
		name, def, hasDef := strings.Cut(key, ":-")
		if v := os.Getenv(name); v != "" || !hasDef {
			return v
		}
		return def
	})
}

// cleanWorkflows trims workflow IDs and drops blank entries. Duplicates are
// kept for Validate to report.
func cleanWorkflows(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}

// LoadWithDefaults loads config and applies default values.
func LoadWithDefaults(path string) (*RealtimeConfig, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

// LoadAndValidate loads config, applies defaults, and validates.
func LoadAndValidate(path string) (*RealtimeConfig, error) {
	cfg, err := LoadWithDefaults(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

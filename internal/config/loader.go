package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Load reads and parses a pipeline configuration from the given YAML file path.
// After parsing, it applies defaults to stages that don't specify their own values.
// Load is a pure parse: no side effects beyond reading the file.
func Load(path string) (*PipelineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg PipelineConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// LoadDefault searches for a pipeline config in standard locations and loads the
// first one found. Search order: ./autodev.yaml, ~/.autodev/config.yaml
func LoadDefault() (*PipelineConfig, error) {
	candidates := []string{"autodev.yaml"}

	home, err := os.UserHomeDir()
	if err == nil {
		candidates = append(candidates, filepath.Join(home, ".autodev", "config.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	return nil, fmt.Errorf("no pipeline config found (searched: %v)", candidates)
}

// applyDefaults merges pipeline-level defaults into stages that don't set their
// own values, and fills in the backoff policy and decomposition threshold.
func applyDefaults(cfg *PipelineConfig) {
	p := &cfg.Pipeline

	if p.Defaults.TimeoutSeconds <= 0 {
		p.Defaults.TimeoutSeconds = 600
	}
	if p.Defaults.MaxAttempts <= 0 {
		p.Defaults.MaxAttempts = 3
	}

	if p.Backoff.BaseSeconds <= 0 {
		p.Backoff.BaseSeconds = 1
	}
	if p.Backoff.Multiplier <= 0 {
		p.Backoff.Multiplier = 2
	}
	if p.Backoff.MaxSeconds <= 0 {
		p.Backoff.MaxSeconds = 60
	}

	if p.DecomposeThreshold <= 0 {
		p.DecomposeThreshold = 6
	}

	for i := range p.Stages {
		s := &p.Stages[i]
		if s.TimeoutSeconds == 0 {
			s.TimeoutSeconds = p.Defaults.TimeoutSeconds
		}
		if s.MaxAttempts == 0 {
			s.MaxAttempts = p.Defaults.MaxAttempts
		}
		if s.Enabled == nil {
			s.Enabled = boolPtr(true)
		}
		if s.Retryable == nil {
			s.Retryable = boolPtr(true)
		}
	}
}

func boolPtr(b bool) *bool { return &b }

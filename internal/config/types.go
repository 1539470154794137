package config

import "time"

// PipelineConfig is the top-level configuration structure parsed from pipeline YAML.
type PipelineConfig struct {
	Pipeline Pipeline `yaml:"pipeline"`
}

// Pipeline defines the full pipeline: metadata, defaults, backoff policy, and stages.
type Pipeline struct {
	Name               string        `yaml:"name"`
	StoryDir           string        `yaml:"story_dir"`
	Defaults           StageDefaults `yaml:"defaults"`
	Backoff            Backoff       `yaml:"backoff"`
	DecomposeThreshold int           `yaml:"decompose_threshold"`
	Stages             []Stage       `yaml:"stages"`
}

// StageDefaults holds default values applied to stages that don't specify their own.
type StageDefaults struct {
	TimeoutSeconds int `yaml:"timeout_seconds"`
	MaxAttempts    int `yaml:"max_attempts"`
}

// Backoff configures the delay between retry attempts of a failed stage.
// The delay before retrying attempt n+1 is BaseSeconds * Multiplier^(n-1),
// capped at MaxSeconds.
type Backoff struct {
	BaseSeconds float64 `yaml:"base_seconds"`
	Multiplier  float64 `yaml:"multiplier"`
	MaxSeconds  float64 `yaml:"max_seconds"`
}

// Stage defines a single pipeline stage: one agent invocation applied to a story.
// Retryable and Enabled are pointers so applyDefaults can tell "unset" from "false".
type Stage struct {
	Name           string `yaml:"name"`
	Command        string `yaml:"command"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	MaxAttempts    int    `yaml:"max_attempts"`
	Retryable      *bool  `yaml:"retryable"`
	Enabled        *bool  `yaml:"enabled"`
}

// IsEnabled reports whether the stage should run. Unset means enabled.
func (s *Stage) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// IsRetryable reports whether a failed attempt may be retried. Unset means retryable.
func (s *Stage) IsRetryable() bool {
	return s.Retryable == nil || *s.Retryable
}

// Timeout returns the stage timeout as a duration.
func (s *Stage) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

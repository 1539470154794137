package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a single validation issue with a config.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ConfigError aggregates every validation issue found in a pipeline config.
// It is fatal: the engine refuses to start before any story runs.
type ConfigError struct {
	Errors []ValidationError
}

func (e *ConfigError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, ve := range e.Errors {
		msgs[i] = ve.Error()
	}
	return fmt.Sprintf("invalid pipeline config: %s", strings.Join(msgs, "; "))
}

// Validate checks a PipelineConfig for structural and semantic errors.
// It returns a *ConfigError listing all issues found, or nil if valid.
func Validate(cfg *PipelineConfig) error {
	var errs []ValidationError
	p := cfg.Pipeline

	if p.Name == "" {
		errs = append(errs, ValidationError{Field: "pipeline.name", Message: "is required"})
	}
	if len(p.Stages) == 0 {
		errs = append(errs, ValidationError{Field: "pipeline.stages", Message: "at least one stage is required"})
	}

	// No two enabled stages may share a name.
	enabledNames := make(map[string]bool)
	for i := range p.Stages {
		s := &p.Stages[i]
		prefix := fmt.Sprintf("pipeline.stages[%d]", i)

		if s.Name == "" {
			errs = append(errs, ValidationError{Field: prefix + ".name", Message: "is required"})
			continue
		}
		if s.IsEnabled() {
			if enabledNames[s.Name] {
				errs = append(errs, ValidationError{
					Field:   prefix + ".name",
					Message: fmt.Sprintf("duplicate enabled stage %q", s.Name),
				})
			}
			enabledNames[s.Name] = true

			if s.Command == "" {
				errs = append(errs, ValidationError{Field: prefix + ".command", Message: "is required for enabled stages"})
			}
		}

		if s.TimeoutSeconds <= 0 {
			errs = append(errs, ValidationError{
				Field:   prefix + ".timeout_seconds",
				Message: fmt.Sprintf("must be positive, got %d", s.TimeoutSeconds),
			})
		}
		if s.MaxAttempts < 1 {
			errs = append(errs, ValidationError{
				Field:   prefix + ".max_attempts",
				Message: fmt.Sprintf("must be at least 1, got %d", s.MaxAttempts),
			})
		}
	}

	if p.Backoff.Multiplier <= 1 {
		errs = append(errs, ValidationError{
			Field:   "pipeline.backoff.multiplier",
			Message: fmt.Sprintf("must be greater than 1, got %g", p.Backoff.Multiplier),
		})
	}
	if p.Backoff.MaxSeconds < p.Backoff.BaseSeconds {
		errs = append(errs, ValidationError{
			Field:   "pipeline.backoff.max_seconds",
			Message: fmt.Sprintf("must be at least base_seconds (%g), got %g", p.Backoff.BaseSeconds, p.Backoff.MaxSeconds),
		})
	}

	if len(errs) > 0 {
		return &ConfigError{Errors: errs}
	}
	return nil
}

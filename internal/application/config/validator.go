// Package config validates and compares user configuration.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/go-cmp/cmp"

	"github.com/doeshing/sysadvisor/internal/domain"
)

// Validate ensures config structure is consistent. All problems are reported together.
func Validate(cfg domain.Config) error {
	var errs []error
	if err := cfg.ValidateConsistency(); err != nil {
		errs = append(errs, err)
	}
	for _, model := range cfg.Models {
		errs = append(errs, validateModel(model)...)
	}
	errs = append(errs, validateExecution(cfg.Execution)...)
	if err := validateLogging(cfg.Logging); err != nil {
		errs = append(errs, err)
	}
	if cfg.History.RetentionDays < 0 {
		errs = append(errs, fmt.Errorf("history.retention_days must be >= 0"))
	}
	return errors.Join(errs...)
}

func validateModel(model domain.ModelDefinition) []error {
	var errs []error
	if model.Endpoint != "" {
		u, err := url.Parse(model.Endpoint)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("model %s: endpoint %q must be an absolute URL", model.Name, model.Endpoint))
		}
	}
	if t := model.GetTemperature(); t < 0 || t > 2 {
		errs = append(errs, fmt.Errorf("model %s: temperature must be within [0, 2]", model.Name))
	}
	if p := model.GetTopP(); p <= 0 || p > 1 {
		errs = append(errs, fmt.Errorf("model %s: top_p must be within (0, 1]", model.Name))
	}
	if model.TimeoutSeconds < 0 {
		errs = append(errs, fmt.Errorf("model %s: timeout_seconds must be >= 0", model.Name))
	}
	if model.MaxRetries != nil && *model.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("model %s: max_retries must be >= 0", model.Name))
	}
	return errs
}

func validateExecution(exec domain.ExecutionSettings) []error {
	var errs []error
	if exec.TimeoutSeconds < 0 {
		errs = append(errs, fmt.Errorf("execution.timeout_seconds must be >= 0"))
	}
	if exec.MaxOutputChars < 0 {
		errs = append(errs, fmt.Errorf("execution.max_output_chars must be >= 0"))
	}
	return errs
}

func validateLogging(logging domain.LoggingSettings) error {
	switch strings.ToLower(logging.Level) {
	case "", "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("logging.level must be debug|info|warn|error, got %s", logging.Level)
	}
}

// Diff describes how current departs from defaults, empty when they match.
func Diff(defaults, current domain.Config) string {
	return cmp.Diff(defaults, current)
}

package domain

import (
	"fmt"
	"strings"
	"time"
)

// GetDefaultModel retrieves the default model definition from configuration
// Returns an error if the default model is not found
func (c *Config) GetDefaultModel() (ModelDefinition, error) {
	if c.Preferences.DefaultModel == "" {
		if len(c.Models) > 0 {
			return c.Models[0], nil
		}
		return ModelDefinition{}, fmt.Errorf("%w: no default model configured", ErrModelNotFound)
	}

	if model, ok := c.FindModelByName(c.Preferences.DefaultModel); ok {
		return model, nil
	}

	return ModelDefinition{}, fmt.Errorf("%w: default model %s not found in configuration", ErrModelNotFound, c.Preferences.DefaultModel)
}

// FindModelByName searches for a model by its name
func (c *Config) FindModelByName(name string) (ModelDefinition, bool) {
	for _, model := range c.Models {
		if model.Name == name {
			return model, true
		}
	}
	return ModelDefinition{}, false
}

// HasModel checks if a model with the given name exists in the configuration
func (c *Config) HasModel(name string) bool {
	_, exists := c.FindModelByName(name)
	return exists
}

// ResolveModel picks the model for a run.
// An override that names a configured definition selects it; any other
// override is taken as a model tag served by the default definition.
func (c *Config) ResolveModel(override string) (ModelDefinition, error) {
	override = strings.TrimSpace(override)
	if override != "" {
		if model, ok := c.FindModelByName(override); ok {
			return model, nil
		}
	}
	model, err := c.GetDefaultModel()
	if err != nil {
		return ModelDefinition{}, err
	}
	if override != "" {
		model.ModelID = override
	}
	return model, nil
}

// GetMaxIterations returns the diagnostic loop cap
func (c *Config) GetMaxIterations() int {
	if c.Preferences.MaxIterations <= 0 {
		return DefaultMaxIterations
	}
	return c.Preferences.MaxIterations
}

// GetCommandTimeout returns the per-command wall-clock budget
func (c *Config) GetCommandTimeout() time.Duration {
	if c.Execution.TimeoutSeconds <= 0 {
		return DefaultCommandTimeout
	}
	return time.Duration(c.Execution.TimeoutSeconds) * time.Second
}

// GetMaxOutputChars returns the capture budget per output stream
func (c *Config) GetMaxOutputChars() int {
	if c.Execution.MaxOutputChars <= 0 {
		return DefaultMaxOutputChars
	}
	return c.Execution.MaxOutputChars
}

// GetExecutionShell returns the configured shell for command execution
// Returns the default shell if not configured
func (c *Config) GetExecutionShell() string {
	const defaultShell = "/bin/sh"

	if c.Execution.Shell == "" || c.Execution.Shell == "auto" {
		return defaultShell
	}
	return c.Execution.Shell
}

// ShouldCheckCompound reports whether every segment of a compound command is filtered
func (c *Config) ShouldCheckCompound() bool {
	if c.Security.CheckCompound == nil {
		return true
	}
	return *c.Security.CheckCompound
}

// GetHistoryBackend returns the history store implementation name
func (c *Config) GetHistoryBackend() string {
	switch strings.ToLower(c.History.Backend) {
	case HistoryBackendBolt:
		return HistoryBackendBolt
	default:
		return HistoryBackendSQLite
	}
}

// GetHistoryRetentionDays returns the number of days to retain history
func (c *Config) GetHistoryRetentionDays() int {
	if c.History.RetentionDays <= 0 {
		return DefaultHistoryRetainDays
	}
	return c.History.RetentionDays
}

// GetLogLevel returns the diagnostic log level
func (c *Config) GetLogLevel() string {
	if c.Logging.Level == "" {
		return "warn"
	}
	return strings.ToLower(c.Logging.Level)
}

// ValidateConsistency checks the internal consistency of the configuration
func (c *Config) ValidateConsistency() error {
	if len(c.Models) == 0 {
		return fmt.Errorf("at least one model must be configured")
	}

	if c.Preferences.DefaultModel != "" && !c.HasModel(c.Preferences.DefaultModel) {
		return fmt.Errorf("default model %s does not exist in models list", c.Preferences.DefaultModel)
	}

	seen := map[string]bool{}
	for _, model := range c.Models {
		if model.Name == "" {
			return fmt.Errorf("model entry without name")
		}
		if seen[model.Name] {
			return fmt.Errorf("duplicate model name %s", model.Name)
		}
		seen[model.Name] = true
		switch model.Provider {
		case ProviderKindUnknown, ProviderKindOllama, ProviderKindOpenAI:
		default:
			return fmt.Errorf("model %s: unsupported provider %q", model.Name, model.Provider)
		}
	}

	switch strings.ToLower(c.History.Backend) {
	case "", HistoryBackendSQLite, HistoryBackendBolt:
	default:
		return fmt.Errorf("history.backend must be sqlite|bolt, got %s", c.History.Backend)
	}

	if c.Preferences.MaxIterations < 0 {
		return fmt.Errorf("preferences.max_iterations must be >= 0")
	}

	return nil
}

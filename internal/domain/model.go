// Package domain defines core entities and value objects for sysadvisor.
//
// This file contains model server definitions used throughout the application.
// The domain layer is independent of infrastructure concerns and represents pure
// data structures plus the behavior attached to them.
package domain

// ProviderKind identifies the wire protocol spoken by a model server.
type ProviderKind string

const (
	ProviderKindUnknown ProviderKind = ""
	ProviderKindOllama  ProviderKind = "ollama"
	ProviderKindOpenAI  ProviderKind = "openai"
)

// ModelDefinition describes a locally hosted model server declared in the config file.
type ModelDefinition struct {
	Name           string          `yaml:"name" json:"name"`
	Provider       ProviderKind    `yaml:"provider,omitempty" json:"provider,omitempty"`
	Endpoint       string          `yaml:"endpoint" json:"endpoint"`
	ModelID        string          `yaml:"model_id" json:"model_id"`
	AuthEnvVar     string          `yaml:"auth_env_var,omitempty" json:"auth_env_var,omitempty"`
	Temperature    *float64        `yaml:"temperature,omitempty" json:"temperature,omitempty"`
	TopP           *float64        `yaml:"top_p,omitempty" json:"top_p,omitempty"`
	MaxTokens      int             `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty"`
	TimeoutSeconds int             `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
	MaxRetries     *int            `yaml:"max_retries,omitempty" json:"max_retries,omitempty"`
	Prompts        PromptTemplates `yaml:"prompts,omitempty" json:"prompts,omitempty"`
}

// PromptTemplates overrides the embedded prompt templates.
// Each field is a text/template; empty fields keep the default.
type PromptTemplates struct {
	System   string `yaml:"system,omitempty" json:"system,omitempty"`
	NextStep string `yaml:"next_step,omitempty" json:"next_step,omitempty"`
	Summary  string `yaml:"summary,omitempty" json:"summary,omitempty"`
}

// PromptMessage follows the role/content pair required by chat APIs.
type PromptMessage struct {
	Role    string `yaml:"role" json:"role"`
	Content string `yaml:"content" json:"content"`
}

// Prompt roles
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// GetTemperature returns the sampling temperature with default fallback.
func (m ModelDefinition) GetTemperature() float64 {
	if m.Temperature == nil {
		return DefaultTemperature
	}
	return *m.Temperature
}

// GetTopP returns nucleus sampling with default fallback.
func (m ModelDefinition) GetTopP() float64 {
	if m.TopP == nil {
		return DefaultTopP
	}
	return *m.TopP
}

// GetMaxRetries returns the retry budget for a failed request.
func (m ModelDefinition) GetMaxRetries() int {
	if m.MaxRetries == nil || *m.MaxRetries < 0 {
		return DefaultMaxRetries
	}
	return *m.MaxRetries
}

// GetEndpoint returns the server base URL.
func (m ModelDefinition) GetEndpoint() string {
	if m.Endpoint == "" {
		return DefaultEndpoint
	}
	return m.Endpoint
}

// GetModelID returns the model tag requested from the server.
func (m ModelDefinition) GetModelID() string {
	if m.ModelID == "" {
		return DefaultModelID
	}
	return m.ModelID
}

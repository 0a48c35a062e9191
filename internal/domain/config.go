package domain

// Config mirrors ~/.sysadvisor/config.yaml.
type Config struct {
	ConfigFormatVersion string            `yaml:"config_format_version" json:"config_format_version"`
	Preferences         Preferences       `yaml:"preferences" json:"preferences"`
	Models              []ModelDefinition `yaml:"models" json:"models"`
	Security            SecuritySettings  `yaml:"security" json:"security"`
	Execution           ExecutionSettings `yaml:"execution" json:"execution"`
	History             HistorySettings   `yaml:"history" json:"history"`
	Logging             LoggingSettings   `yaml:"logging" json:"logging"`
	Context             ContextSettings   `yaml:"context" json:"context"`
}

// Preferences captures user level toggles.
type Preferences struct {
	DefaultModel  string `yaml:"default_model" json:"default_model"`
	MaxIterations int    `yaml:"max_iterations" json:"max_iterations"`
}

// SecuritySettings defines safety filter behavior.
type SecuritySettings struct {
	RulesFile     string `yaml:"rules_file" json:"rules_file"`
	CheckCompound *bool  `yaml:"check_compound,omitempty" json:"check_compound,omitempty"`
}

// ExecutionSettings controls how commands run.
type ExecutionSettings struct {
	Shell          string `yaml:"shell" json:"shell"`
	TimeoutSeconds int    `yaml:"timeout_seconds" json:"timeout_seconds"`
	MaxOutputChars int    `yaml:"max_output_chars" json:"max_output_chars"`
}

// HistorySettings configures the transcript history store.
type HistorySettings struct {
	Enabled       bool   `yaml:"enabled" json:"enabled"`
	Backend       string `yaml:"backend" json:"backend"`
	Path          string `yaml:"path" json:"path"`
	RetentionDays int    `yaml:"retention_days" json:"retention_days"`
}

// LoggingSettings configures diagnostic logging and the audit trail.
type LoggingSettings struct {
	Level     string `yaml:"level" json:"level"`
	AuditFile string `yaml:"audit_file" json:"audit_file"`
}

// ContextSettings configures host context collection.
type ContextSettings struct {
	IncludeHost bool     `yaml:"include_host" json:"include_host"`
	Tools       []string `yaml:"tools,omitempty" json:"tools,omitempty"`
}

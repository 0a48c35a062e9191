package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/doeshing/sysadvisor/assets"
	"github.com/doeshing/sysadvisor/internal/domain"
	"github.com/doeshing/sysadvisor/internal/pkg/filesystem"
	"github.com/doeshing/sysadvisor/internal/ports"
)

// Environment variables honoured on top of the config file.
const (
	EnvConfigPath = "SYSADVISOR_CONFIG"
	EnvModel      = "SYSADVISOR_MODEL"
	EnvEndpoint   = "SYSADVISOR_ENDPOINT"
	EnvLogLevel   = "SYSADVISOR_LOG_LEVEL"
	EnvShell      = "SYSADVISOR_SHELL"

	envOllamaModel = "OLLAMA_MODEL"
	envOllamaHost  = "OLLAMA_BASE_URL"
	envLogLevel    = "LOG_LEVEL"
)

// FileLoader loads YAML configuration from ~/.sysadvisor/config.yaml (overridable via SYSADVISOR_CONFIG).
type FileLoader struct {
	overridePath string
	dotEnvFiles  []string
}

// NewFileLoader builds a new loader. An empty path uses the environment or the default location.
func NewFileLoader(path string, dotEnvFiles ...string) *FileLoader {
	return &FileLoader{overridePath: path, dotEnvFiles: dotEnvFiles}
}

// Load implements ports.ConfigProvider.
func (l *FileLoader) Load(context.Context) (domain.Config, error) {
	l.loadDotEnv()

	path := l.Path()
	if err := filesystem.EnsureParentDir(path); err != nil {
		return domain.Config{}, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return domain.Config{}, err
		}
		if err := os.WriteFile(path, assets.DefaultConfigYAML, domain.SecureFilePermissions); err != nil {
			return domain.Config{}, fmt.Errorf("write default config: %w", err)
		}
		data = assets.DefaultConfigYAML
	}

	var cfg domain.Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return domain.Config{}, fmt.Errorf("parse %s: %w", path, err)
	}

	return applyEnv(hydrateDefaults(cfg)), nil
}

// Path returns the resolved config file location.
func (l *FileLoader) Path() string {
	if l.overridePath != "" {
		return filesystem.ExpandPath(l.overridePath)
	}
	if custom := os.Getenv(EnvConfigPath); custom != "" {
		return filesystem.ExpandPath(custom)
	}
	return filesystem.AppPath("config.yaml")
}

// Validate loads the file and checks its consistency.
func (l *FileLoader) Validate(ctx context.Context) (domain.Config, error) {
	cfg, err := l.Load(ctx)
	if err != nil {
		return domain.Config{}, err
	}
	if err := cfg.ValidateConsistency(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Defaults returns the embedded default configuration without environment overrides.
func Defaults() (domain.Config, error) {
	var cfg domain.Config
	if err := yaml.Unmarshal(assets.DefaultConfigYAML, &cfg); err != nil {
		return domain.Config{}, err
	}
	return hydrateDefaults(cfg), nil
}

func (l *FileLoader) loadDotEnv() {
	// godotenv never overrides variables that are already set.
	if len(l.dotEnvFiles) > 0 {
		_ = godotenv.Load(l.dotEnvFiles...)
		return
	}
	_ = godotenv.Load()
}

func hydrateDefaults(cfg domain.Config) domain.Config {
	if cfg.ConfigFormatVersion == "" {
		cfg.ConfigFormatVersion = "1"
	}
	if len(cfg.Models) == 0 {
		cfg.Models = []domain.ModelDefinition{{
			Name:     domain.DefaultModelName,
			Provider: domain.ProviderKindOllama,
			Endpoint: domain.DefaultEndpoint,
			ModelID:  domain.DefaultModelID,
		}}
	}
	if cfg.Preferences.DefaultModel == "" {
		cfg.Preferences.DefaultModel = cfg.Models[0].Name
	}
	if cfg.Preferences.MaxIterations == 0 {
		cfg.Preferences.MaxIterations = domain.DefaultMaxIterations
	}
	if cfg.Execution.TimeoutSeconds == 0 {
		cfg.Execution.TimeoutSeconds = int(domain.DefaultCommandTimeout.Seconds())
	}
	if cfg.Execution.MaxOutputChars == 0 {
		cfg.Execution.MaxOutputChars = domain.DefaultMaxOutputChars
	}
	if cfg.Security.RulesFile == "" {
		cfg.Security.RulesFile = filesystem.AppPath("guardrail.yaml")
	}
	if cfg.History.Path == "" {
		cfg.History.Path = defaultHistoryPath(cfg.GetHistoryBackend())
	}
	if cfg.Logging.AuditFile == "" {
		cfg.Logging.AuditFile = filesystem.AppPath("logs", "audit.log")
	}
	cfg.Security.RulesFile = filesystem.ExpandPath(cfg.Security.RulesFile)
	cfg.History.Path = filesystem.ExpandPath(cfg.History.Path)
	cfg.Logging.AuditFile = filesystem.ExpandPath(cfg.Logging.AuditFile)
	return cfg
}

func defaultHistoryPath(backend string) string {
	if backend == domain.HistoryBackendBolt {
		return filesystem.AppPath("history", "history.bolt")
	}
	return filesystem.AppPath("history", "history.db")
}

// applyEnv layers environment overrides onto the default model and runtime settings.
func applyEnv(cfg domain.Config) domain.Config {
	idx := defaultModelIndex(cfg)
	if model := firstEnv(EnvModel, envOllamaModel); model != "" && idx >= 0 {
		cfg.Models[idx].ModelID = model
	}
	if endpoint := firstEnv(EnvEndpoint, envOllamaHost); endpoint != "" && idx >= 0 {
		cfg.Models[idx].Endpoint = endpoint
	}
	if level := firstEnv(EnvLogLevel, envLogLevel); level != "" {
		cfg.Logging.Level = strings.ToLower(level)
	}
	if shell := os.Getenv(EnvShell); shell != "" {
		cfg.Execution.Shell = shell
	}
	return cfg
}

func defaultModelIndex(cfg domain.Config) int {
	for i, model := range cfg.Models {
		if model.Name == cfg.Preferences.DefaultModel {
			return i
		}
	}
	if len(cfg.Models) > 0 {
		return 0
	}
	return -1
}

func firstEnv(keys ...string) string {
	for _, key := range keys {
		if value := strings.TrimSpace(os.Getenv(key)); value != "" {
			return value
		}
	}
	return ""
}

var _ ports.ConfigProvider = (*FileLoader)(nil)

// Package doctor checks that every dependency of a diagnostic run is in place.
package doctor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	appconfig "github.com/doeshing/sysadvisor/internal/application/config"
	"github.com/doeshing/sysadvisor/internal/application/diagnose"
	"github.com/doeshing/sysadvisor/internal/domain"
	"github.com/doeshing/sysadvisor/internal/ports"
)

// Service runs environment diagnostics.
type Service struct {
	ConfigProvider  ports.ConfigProvider
	ProviderFactory ports.ProviderFactory
	SafetyFilter    ports.SafetyFilter
	HostCollector   ports.HostCollector
	History         func(domain.Config) (ports.HistoryRepository, error)
	LookPath        func(string) (string, error)
}

// Run executes checks and returns a report. The error is only set when config cannot be loaded.
func (s *Service) Run(ctx context.Context) (domain.HealthReport, error) {
	var checks []domain.HealthCheck

	cfg, err := s.ConfigProvider.Load(ctx)
	if err != nil {
		checks = append(checks, fail("Config file", fmt.Sprintf("load failed: %v", err), "fix the YAML or remove the file to regenerate defaults"))
		return domain.HealthReport{Checks: checks}, err
	}
	if err := appconfig.Validate(cfg); err != nil {
		checks = append(checks, fail("Config file", err.Error(), "run `sysadvisor config validate` for details"))
	} else {
		checks = append(checks, ok("Config file", fmt.Sprintf("format %s, %d model(s)", cfg.ConfigFormatVersion, len(cfg.Models))))
	}

	checks = append(checks, s.modelChecks(ctx, cfg)...)
	checks = append(checks, s.shellCheck(cfg))
	checks = append(checks, s.guardrailCheck())
	if s.HostCollector != nil {
		checks = append(checks, s.hostCheck(ctx, cfg))
	}
	if s.History != nil && cfg.History.Enabled {
		checks = append(checks, s.historyCheck(ctx, cfg))
	}
	checks = append(checks, auditCheck(cfg.Logging.AuditFile))

	return domain.HealthReport{Checks: checks}, nil
}

func (s *Service) modelChecks(ctx context.Context, cfg domain.Config) []domain.HealthCheck {
	model, err := cfg.GetDefaultModel()
	if err != nil {
		return []domain.HealthCheck{fail("Model server", err.Error(), "declare a model under `models:`")}
	}
	provider, err := s.ProviderFactory.ForModel(model)
	if err != nil {
		return []domain.HealthCheck{fail("Model server", err.Error(), "set provider to ollama or openai")}
	}

	probeCtx, cancel := context.WithTimeout(ctx, domain.DefaultProbeTimeout)
	defer cancel()
	available, err := provider.ListModels(probeCtx)
	if err != nil {
		return []domain.HealthCheck{fail("Model server", fmt.Sprintf("%s at %s: %v", provider.Name(), model.GetEndpoint(), err), serverHint(provider.Name()))}
	}

	checks := []domain.HealthCheck{ok("Model server", fmt.Sprintf("%s at %s serves %d model(s)", provider.Name(), model.GetEndpoint(), len(available)))}
	switch {
	case diagnose.ServesModel(available, model.GetModelID()):
		checks = append(checks, ok("Model", model.GetModelID()))
	case provider.Name() == string(domain.ProviderKindOllama):
		checks = append(checks, fail("Model", model.GetModelID()+" is not installed", "run `sysadvisor models pull`"))
	default:
		checks = append(checks, warn("Model", fmt.Sprintf("%s not listed; available: %s", model.GetModelID(), strings.Join(available, ", ")), ""))
	}
	return checks
}

func (s *Service) shellCheck(cfg domain.Config) domain.HealthCheck {
	lookPath := s.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	shell := cfg.GetExecutionShell()
	path, err := lookPath(shell)
	if err != nil {
		return fail("Shell", fmt.Sprintf("%s: %v", shell, err), "set execution.shell or SYSADVISOR_SHELL to an installed POSIX shell")
	}
	return ok("Shell", path)
}

func (s *Service) guardrailCheck() domain.HealthCheck {
	if s.SafetyFilter == nil {
		return fail("Safety filter", "not initialized", "check security.rules_file")
	}
	decision, err := s.SafetyFilter.Evaluate("rm -rf /")
	if err != nil {
		return fail("Safety filter", err.Error(), "check security.rules_file")
	}
	if decision.Allowed() {
		return warn("Safety filter", "rules do not refuse `rm -rf /`", "restore the default denylist")
	}
	return ok("Safety filter", "rules loaded")
}

func (s *Service) hostCheck(ctx context.Context, cfg domain.Config) domain.HealthCheck {
	snapshot, err := s.HostCollector.Collect(ctx, cfg)
	if err != nil {
		return warn("Host facts", err.Error(), "")
	}
	if cfg.Context.IncludeHost && len(snapshot.AvailableTools) == 0 {
		return warn("Host facts", "no diagnostic tools found on PATH", "install procps, iproute2 or similar")
	}
	details := fmt.Sprintf("%s, %d tool(s) on PATH", valueOr(snapshot.Distro, snapshot.OS), len(snapshot.AvailableTools))
	return ok("Host facts", details)
}

func (s *Service) historyCheck(ctx context.Context, cfg domain.Config) domain.HealthCheck {
	repo, err := s.History(cfg)
	if err != nil {
		return warn("History", err.Error(), "set history.enabled: false to skip recording")
	}
	defer repo.Close()
	records, err := repo.Records(ctx, 0, "")
	if err != nil {
		return warn("History", err.Error(), "")
	}
	return ok("History", fmt.Sprintf("%s (%s, %d record(s))", repo.Path(), cfg.GetHistoryBackend(), len(records)))
}

func auditCheck(path string) domain.HealthCheck {
	if path == "" {
		return warn("Audit log", "logging.audit_file is empty", "")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, domain.DirectoryPermissions); err != nil {
		return fail("Audit log", err.Error(), "make "+dir+" writable")
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, domain.LogFilePermissions)
	if err != nil {
		return fail("Audit log", err.Error(), "make "+path+" writable")
	}
	_ = file.Close()
	return ok("Audit log", path)
}

func serverHint(provider string) string {
	if provider == string(domain.ProviderKindOllama) {
		return "start the server with `ollama serve` or set OLLAMA_BASE_URL"
	}
	return "start the local server or fix the model endpoint"
}

func valueOr(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func ok(name, details string) domain.HealthCheck {
	return domain.HealthCheck{Name: name, Status: domain.HealthOK, Details: details}
}

func warn(name, details, hint string) domain.HealthCheck {
	return domain.HealthCheck{Name: name, Status: domain.HealthWarn, Details: details, Hint: hint}
}

func fail(name, details, hint string) domain.HealthCheck {
	return domain.HealthCheck{Name: name, Status: domain.HealthError, Details: details, Hint: hint}
}

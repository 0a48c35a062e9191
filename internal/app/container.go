package app

import (
	"context"
	"errors"
	"os/exec"

	"github.com/doeshing/sysadvisor/internal/application/diagnose"
	"github.com/doeshing/sysadvisor/internal/application/doctor"
	"github.com/doeshing/sysadvisor/internal/domain"
	"github.com/doeshing/sysadvisor/internal/infrastructure/ai"
	"github.com/doeshing/sysadvisor/internal/infrastructure/audit"
	"github.com/doeshing/sysadvisor/internal/infrastructure/config"
	contextcollector "github.com/doeshing/sysadvisor/internal/infrastructure/context"
	"github.com/doeshing/sysadvisor/internal/infrastructure/executor"
	"github.com/doeshing/sysadvisor/internal/infrastructure/history"
	"github.com/doeshing/sysadvisor/internal/infrastructure/security"
	"github.com/doeshing/sysadvisor/internal/pkg/logger"
	"github.com/doeshing/sysadvisor/internal/ports"
)

// Options carries the CLI flags that influence wiring.
type Options struct {
	ConfigPath string
	LogLevel   string
	Debug      bool
}

// Container wires up application services with infrastructure adapters.
type Container struct {
	Config         domain.Config
	ConfigLoader   *config.FileLoader
	ConfigProvider ports.ConfigProvider
	Logger         *logger.ZapLogger
	Models         *ai.Factory
	Guardrail      *security.Guardrail
	Executor       *executor.LocalExecutor
	Audit          *audit.Trail
	HistoryStore   ports.HistoryRepository

	DiagnoseService *diagnose.Service
	DoctorService   *doctor.Service
}

// BuildContainer constructs the dependency graph.
func BuildContainer(ctx context.Context, opts Options) (*Container, error) {
	cfgLoader := config.NewFileLoader(opts.ConfigPath)
	cfg, err := cfgLoader.Load(ctx)
	if err != nil {
		return nil, err
	}

	log, err := logger.New(resolveLogLevel(opts, cfg))
	if err != nil {
		return nil, err
	}

	guardrail, err := security.NewGuardrail(cfg.Security.RulesFile, cfg.ShouldCheckCompound())
	if err != nil {
		log.Warn("rules file unusable, using built-in rules", map[string]interface{}{"path": cfg.Security.RulesFile, "error": err.Error()})
		guardrail, err = security.NewGuardrail("", cfg.ShouldCheckCompound())
		if err != nil {
			return nil, err
		}
	}

	trail, err := audit.Open(cfg.Logging.AuditFile)
	if err != nil {
		log.Warn("audit trail disabled", map[string]interface{}{"error": err.Error()})
		trail = audit.Nop()
	}

	var historyStore ports.HistoryRepository
	if cfg.History.Enabled {
		historyStore, err = history.NewStore(cfg)
		if err != nil {
			log.Warn("history disabled", map[string]interface{}{"error": err.Error()})
			historyStore = nil
		}
	}

	models := ai.NewFactory()
	collector := contextcollector.NewHostCollector()
	runner := executor.NewLocalExecutor(cfg.GetExecutionShell(), cfg.GetMaxOutputChars())

	diagnoseService := &diagnose.Service{
		ConfigProvider:  cfgLoader,
		HostCollector:   collector,
		ProviderFactory: models,
		SafetyFilter:    guardrail,
		Executor:        runner,
		History:         historyStore,
		Audit:           trail,
		Logger:          log,
	}

	doctorService := &doctor.Service{
		ConfigProvider:  cfgLoader,
		ProviderFactory: models,
		SafetyFilter:    guardrail,
		HostCollector:   collector,
		History:         sharedHistory(historyStore),
		LookPath:        exec.LookPath,
	}

	return &Container{
		Config:          cfg,
		ConfigLoader:    cfgLoader,
		ConfigProvider:  cfgLoader,
		Logger:          log,
		Models:          models,
		Guardrail:       guardrail,
		Executor:        runner,
		Audit:           trail,
		HistoryStore:    historyStore,
		DiagnoseService: diagnoseService,
		DoctorService:   doctorService,
	}, nil
}

// Close flushes the audit trail and releases the history store.
func (c *Container) Close() error {
	var errs []error
	if c.Audit != nil {
		errs = append(errs, c.Audit.Sync())
	}
	if c.HistoryStore != nil {
		errs = append(errs, c.HistoryStore.Close())
	}
	if c.Logger != nil {
		_ = c.Logger.Sync()
	}
	return errors.Join(errs...)
}

// resolveLogLevel picks --log-level, then --debug, then config and environment.
func resolveLogLevel(opts Options, cfg domain.Config) string {
	switch {
	case opts.LogLevel != "":
		return opts.LogLevel
	case opts.Debug:
		return "debug"
	default:
		return cfg.GetLogLevel()
	}
}

// sharedHistory hands doctor the already open store; bolt allows a single handle per file.
func sharedHistory(open ports.HistoryRepository) func(domain.Config) (ports.HistoryRepository, error) {
	if open == nil {
		return history.NewStore
	}
	return func(domain.Config) (ports.HistoryRepository, error) {
		return unclosable{open}, nil
	}
}

type unclosable struct {
	ports.HistoryRepository
}

func (unclosable) Close() error { return nil }

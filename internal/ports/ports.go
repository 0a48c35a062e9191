// Package ports defines the interfaces (ports) for the hexagonal architecture.
//
// This package establishes the contract between the application core and external
// adapters (infrastructure). The diagnostic loop depends only on these interfaces,
// so the model server, the shell, and the history store can be swapped or stubbed.
//
// Key architectural concepts:
//   - Ports: Interfaces defined here (e.g., Provider, SafetyFilter)
//   - Adapters: Concrete implementations in the infrastructure layer
//   - Dependency inversion: Application depends on abstractions, not implementations
package ports

import (
	"context"
	"time"

	"github.com/doeshing/sysadvisor/internal/domain"
)

// ConfigProvider loads the latest configuration from persistent storage.
// Implementations typically read from ~/.sysadvisor/config.yaml.
type ConfigProvider interface {
	Load(context.Context) (domain.Config, error)
}

// HostCollector gathers host facts to ground the model's command choices.
type HostCollector interface {
	Collect(context.Context, domain.Config) (domain.HostSnapshot, error)
}

// ProviderFactory builds model clients based on model definitions.
type ProviderFactory interface {
	ForModel(domain.ModelDefinition) (Provider, error)
}

// Provider is a client for one locally hosted model server.
type Provider interface {
	Name() string
	Model() domain.ModelDefinition
	// ListModels doubles as the reachability probe.
	ListModels(context.Context) ([]string, error)
	Generate(context.Context, ProviderRequest) (ProviderResponse, error)
}

// ModelPuller downloads a model onto the server. Only some providers support it.
type ModelPuller interface {
	Pull(ctx context.Context, name string) error
}

// RequestKind selects which prompt is sent to the model.
type RequestKind string

const (
	RequestNextStep RequestKind = "next_step"
	RequestSummary  RequestKind = "summary"
)

// ProviderRequest contains everything needed to render a prompt.
type ProviderRequest struct {
	Kind           RequestKind
	Query          domain.Query
	Transcript     domain.Transcript
	Host           domain.HostSnapshot
	Iteration      int
	Remaining      int
	MaxOutputChars int // bound on each quoted command output; zero means the default
}

// ProviderResponse contains the model's reply and what was parsed out of it.
// For next_step requests exactly one of Command or Done is set on well-formed output.
type ProviderResponse struct {
	Reply   string
	Command string
	Done    bool
}

// Malformed reports a next_step reply that carried neither a command nor a completion signal.
func (r ProviderResponse) Malformed() bool {
	return !r.Done && r.Command == ""
}

// SafetyFilter gates commands before execution.
type SafetyFilter interface {
	Evaluate(command string) (domain.SafetyDecision, error)
}

// CommandExecutor runs shell commands in the configured shell environment.
type CommandExecutor interface {
	Execute(ctx context.Context, command string, timeout time.Duration) (domain.CommandResult, error)
}

// ConfirmationPrompter asks the operator before a command runs.
type ConfirmationPrompter interface {
	Confirm(command string) (bool, error)
	Enabled() bool
}

// ProgressReporter receives loop events as they happen.
type ProgressReporter interface {
	Thinking(iteration int)
	StepStarted(iteration int, command string)
	StepFinished(entry domain.TranscriptEntry)
	Summarizing()
}

// HistoryRepository persists transcript digests across invocations.
type HistoryRepository interface {
	Save(context.Context, domain.HistoryRecord) error
	Records(ctx context.Context, limit int, search string) ([]domain.HistoryRecord, error)
	Get(ctx context.Context, id string) (domain.HistoryRecord, error)
	Prune(ctx context.Context, before time.Time) (int, error)
	Clear(context.Context) error
	Path() string
	Close() error
}

// AuditLogger records the append-only audit trail of attempted commands.
type AuditLogger interface {
	CommandDenied(transcriptID string, command string, decision domain.SafetyDecision)
	CommandPlanned(transcriptID string, command string)
	CommandSkipped(transcriptID string, command string)
	CommandExecuted(transcriptID string, result domain.CommandResult, reused bool)
	RunFinished(transcript domain.Transcript)
	Sync() error
}

// Logger provides structured logging abstraction for the application layer.
// Implementations can route to different backends (stdout, files, external services).
type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, err error, fields map[string]interface{})
}

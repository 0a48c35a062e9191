// Package diagnose runs the bounded ask-filter-execute-summarize loop behind every query.
package diagnose

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/doeshing/sysadvisor/internal/domain"
	"github.com/doeshing/sysadvisor/internal/ports"
)

// Fixed texts used when the model cannot or need not summarize.
const (
	SummaryNothingRan     = "No diagnostic commands were executed, so there is nothing to summarize."
	SummaryModelFailed    = "The model could not produce a summary. The raw command results are shown above."
	summaryDryRunHeader   = "Dry run: the following commands would have been executed:"
	summaryDeniedSuffix   = "%d suggested command(s) were refused by the safety filter."
	summaryNoPlannedCalls = "Dry run: the model did not propose any command that passed the safety filter."
)

type state int

const (
	stateStart state = iota
	stateAwaitCommand
	stateExecute
	stateAwaitNextOrDone
	stateSummarize
	stateEnd
)

func (s state) String() string {
	switch s {
	case stateStart:
		return "start"
	case stateAwaitCommand:
		return "await_command"
	case stateExecute:
		return "execute"
	case stateAwaitNextOrDone:
		return "await_next_or_done"
	case stateSummarize:
		return "summarize"
	default:
		return "end"
	}
}

// Service orchestrates one diagnostic run end-to-end.
type Service struct {
	ConfigProvider  ports.ConfigProvider
	HostCollector   ports.HostCollector
	ProviderFactory ports.ProviderFactory
	SafetyFilter    ports.SafetyFilter
	Executor        ports.CommandExecutor
	Prompter        ports.ConfirmationPrompter
	Progress        ports.ProgressReporter
	History         ports.HistoryRepository
	Audit           ports.AuditLogger
	Logger          ports.Logger

	// Now and NewID are replaceable for tests.
	Now   func() time.Time
	NewID func() string
}

// run holds the per-query loop state.
type run struct {
	*Service
	req        domain.DiagnosticRequest
	cfg        domain.Config
	provider   ports.Provider
	host       domain.HostSnapshot
	transcript domain.Transcript
	memo       *lru.Cache[string, domain.CommandResult]
	maxIter    int
	timeout    time.Duration
	iteration  int
	pending    ports.ProviderResponse
}

// Run answers one query. Step failures are recorded in the transcript; only a
// missing dependency, an unusable shell or cancellation return an error.
func (s *Service) Run(ctx context.Context, req domain.DiagnosticRequest) (domain.DiagnosticReport, error) {
	if s.ConfigProvider == nil || s.ProviderFactory == nil || s.SafetyFilter == nil || s.Executor == nil || s.Logger == nil {
		return domain.DiagnosticReport{}, errors.New("diagnose.Service dependencies not satisfied")
	}
	if strings.TrimSpace(req.Query.String()) == "" {
		return domain.DiagnosticReport{}, domain.ErrEmptyQuery
	}

	r, err := s.newRun(ctx, req)
	if err != nil {
		return domain.DiagnosticReport{}, err
	}

	current := stateStart
	for current != stateEnd {
		s.Logger.Debug("loop state", map[string]interface{}{"state": current.String(), "iteration": r.iteration})
		if ctx.Err() != nil && current != stateStart {
			return r.abort(ctx.Err())
		}

		switch current {
		case stateStart:
			if err := r.preflight(ctx); err != nil {
				return domain.DiagnosticReport{}, err
			}
			current = stateAwaitCommand

		case stateAwaitCommand:
			current = r.awaitCommand(ctx)

		case stateExecute:
			entry, err := r.execute(ctx, r.pending.Command, r.pending.Reply)
			if err != nil {
				if ctx.Err() != nil {
					return r.abort(ctx.Err())
				}
				return r.report(), err
			}
			r.transcript.Append(entry)
			r.progress().StepFinished(entry)
			current = stateAwaitNextOrDone

		case stateAwaitNextOrDone:
			if r.iteration >= r.maxIter {
				r.transcript.Termination = domain.TerminationMaxIterations
				current = stateSummarize
			} else {
				current = stateAwaitCommand
			}

		case stateSummarize:
			r.summarize(ctx)
			if ctx.Err() != nil {
				return r.abort(ctx.Err())
			}
			current = stateEnd
		}
	}

	r.finish(ctx)
	return r.report(), nil
}

func (s *Service) newRun(ctx context.Context, req domain.DiagnosticRequest) (*run, error) {
	cfg, err := s.ConfigProvider.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	model, err := cfg.ResolveModel(req.ModelOverride)
	if err != nil {
		return nil, err
	}
	provider, err := s.ProviderFactory.ForModel(model)
	if err != nil {
		return nil, fmt.Errorf("provider init: %w", err)
	}

	var host domain.HostSnapshot
	if s.HostCollector != nil {
		host, err = s.HostCollector.Collect(ctx, cfg)
		if err != nil {
			s.Logger.Warn("host facts unavailable", map[string]interface{}{"error": err.Error()})
		}
	}

	memo, err := lru.New[string, domain.CommandResult](domain.DefaultMemoSize)
	if err != nil {
		return nil, err
	}

	maxIter := req.MaxIterations
	if maxIter <= 0 {
		maxIter = cfg.GetMaxIterations()
	}
	timeout := req.CommandTimeout
	if timeout <= 0 {
		timeout = cfg.GetCommandTimeout()
	}

	return &run{
		Service:  s,
		req:      req,
		cfg:      cfg,
		provider: provider,
		host:     host,
		memo:     memo,
		maxIter:  maxIter,
		timeout:  timeout,
		transcript: domain.Transcript{
			ID:        s.newID(),
			Query:     req.Query,
			Model:     model.GetModelID(),
			DryRun:    req.DryRun,
			StartedAt: s.now(),
		},
	}, nil
}

// preflight confirms the model server answers and serves the model.
func (r *run) preflight(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, domain.DefaultProbeTimeout)
	defer cancel()

	model := r.provider.Model()
	available, err := r.provider.ListModels(probeCtx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, domain.ErrModelUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %s at %s: %v", domain.ErrModelUnavailable, r.provider.Name(), model.GetEndpoint(), err)
	}

	if r.provider.Name() == string(domain.ProviderKindOllama) && !ServesModel(available, model.GetModelID()) {
		return fmt.Errorf("%w: %s", domain.ErrModelNotInstalled, model.GetModelID())
	}
	r.Logger.Debug("model server ready", map[string]interface{}{"provider": r.provider.Name(), "models": len(available)})
	return nil
}

// awaitCommand asks the model for the next step and picks the following state.
func (r *run) awaitCommand(ctx context.Context) state {
	r.iteration++
	r.progress().Thinking(r.iteration)

	resp, err := r.provider.Generate(ctx, ports.ProviderRequest{
		Kind:           ports.RequestNextStep,
		Query:          r.req.Query,
		Transcript:     r.transcript,
		Host:           r.host,
		Iteration:      r.iteration,
		Remaining:      r.maxIter - r.iteration + 1,
		MaxOutputChars: r.cfg.GetMaxOutputChars(),
	})

	switch {
	case err != nil:
		if ctx.Err() != nil {
			return stateAwaitCommand
		}
		r.Logger.Warn("model request failed", map[string]interface{}{"iteration": r.iteration, "error": err.Error()})
		r.transcript.Termination = domain.TerminationModelError
		return stateSummarize
	case resp.Done:
		r.transcript.Termination = domain.TerminationCompleted
		return stateSummarize
	case resp.Malformed():
		r.Logger.Warn("model reply carried no command", map[string]interface{}{"iteration": r.iteration, "reply": resp.Reply})
		r.transcript.Termination = domain.TerminationMalformed
		return stateSummarize
	default:
		r.pending = resp
		return stateExecute
	}
}

// execute filters and runs one suggested command.
func (r *run) execute(ctx context.Context, command, reply string) (domain.TranscriptEntry, error) {
	entry := domain.TranscriptEntry{
		Iteration:  r.iteration,
		Command:    command,
		ModelReply: reply,
	}

	decision, err := r.SafetyFilter.Evaluate(command)
	if err != nil {
		decision = domain.SafetyDecision{Verdict: domain.VerdictDeny, Reason: fmt.Sprintf("safety filter error: %v", err)}
	}
	if !decision.Allowed() {
		entry.Kind = domain.EntryDenied
		entry.Decision = &decision
		r.audit().CommandDenied(r.transcript.ID, command, decision)
		r.Logger.Warn("command denied", map[string]interface{}{"command": command, "reason": decision.Reason})
		return entry, nil
	}
	entry.Decision = &decision

	if r.req.DryRun {
		entry.Kind = domain.EntryPlanned
		r.audit().CommandPlanned(r.transcript.ID, command)
		return entry, nil
	}

	if r.req.Confirm {
		// Without a way to ask, confirmation counts as declined.
		approved := false
		if r.Prompter != nil && r.Prompter.Enabled() {
			approved, err = r.Prompter.Confirm(command)
			if err != nil {
				r.Logger.Warn("confirmation failed", map[string]interface{}{"error": err.Error()})
				approved = false
			}
		}
		if !approved {
			entry.Kind = domain.EntrySkipped
			r.audit().CommandSkipped(r.transcript.ID, command)
			return entry, nil
		}
	}

	entry.Kind = domain.EntryExecuted
	if cached, ok := r.memo.Get(command); ok {
		entry.Result = &cached
		entry.Reused = true
		r.audit().CommandExecuted(r.transcript.ID, cached, true)
		return entry, nil
	}

	r.progress().StepStarted(r.iteration, command)
	result, err := r.Executor.Execute(ctx, command, r.timeout)
	if err != nil {
		return entry, err
	}
	r.memo.Add(command, result)
	r.audit().CommandExecuted(r.transcript.ID, result, false)
	r.Logger.Debug("command finished", map[string]interface{}{
		"command":   command,
		"exit_code": result.ExitCode,
		"timed_out": result.TimedOut,
		"duration":  result.Duration.String(),
	})
	entry.Result = &result
	return entry, nil
}

// summarize fills in the transcript summary. It never fails.
func (r *run) summarize(ctx context.Context) {
	r.progress().Summarizing()
	denied := r.transcript.Count(domain.EntryDenied)

	if r.req.DryRun {
		r.transcript.Summary = dryRunSummary(r.transcript)
		return
	}
	if len(r.transcript.Executed()) == 0 {
		r.transcript.Summary = withDenials(SummaryNothingRan, denied)
		return
	}

	resp, err := r.provider.Generate(ctx, ports.ProviderRequest{
		Kind:           ports.RequestSummary,
		Query:          r.req.Query,
		Transcript:     r.transcript,
		Host:           r.host,
		Iteration:      r.iteration,
		MaxOutputChars: r.cfg.GetMaxOutputChars(),
	})
	if err != nil || strings.TrimSpace(resp.Reply) == "" {
		if err != nil {
			r.Logger.Warn("summary request failed", map[string]interface{}{"error": err.Error()})
		}
		r.transcript.Summary = SummaryModelFailed
		return
	}
	r.transcript.Summary = strings.TrimSpace(resp.Reply)
}

// finish stamps, audits and stores the transcript.
func (r *run) finish(ctx context.Context) {
	r.transcript.FinishedAt = r.now()
	r.audit().RunFinished(r.transcript)

	if r.History == nil || !r.cfg.History.Enabled {
		return
	}
	if err := r.History.Save(ctx, domain.NewHistoryRecord(r.transcript)); err != nil {
		r.Logger.Warn("history save failed", map[string]interface{}{"error": err.Error()})
		return
	}
	cutoff := r.now().AddDate(0, 0, -r.cfg.GetHistoryRetentionDays())
	if removed, err := r.History.Prune(ctx, cutoff); err != nil {
		r.Logger.Warn("history prune failed", map[string]interface{}{"error": err.Error()})
	} else if removed > 0 {
		r.Logger.Debug("history pruned", map[string]interface{}{"removed": removed})
	}
}

// abort ends a cancelled run without a summary.
func (r *run) abort(cause error) (domain.DiagnosticReport, error) {
	r.transcript.Termination = domain.TerminationCancelled
	r.transcript.FinishedAt = r.now()
	r.audit().RunFinished(r.transcript)
	return r.report(), cause
}

func (r *run) report() domain.DiagnosticReport {
	return domain.DiagnosticReport{Transcript: r.transcript, Host: r.host}
}

func (r *run) progress() ports.ProgressReporter {
	if r.Progress == nil {
		return nopProgress{}
	}
	return r.Progress
}

func (r *run) audit() ports.AuditLogger {
	if r.Audit == nil {
		return nopAudit{}
	}
	return r.Audit
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) newID() string {
	if s.NewID != nil {
		return s.NewID()
	}
	return uuid.NewString()
}

// ServesModel reports whether a server's model list contains id, treating a
// missing tag as ":latest".
func ServesModel(available []string, id string) bool {
	want := normalizeTag(id)
	for _, name := range available {
		if normalizeTag(name) == want {
			return true
		}
	}
	return false
}

func normalizeTag(name string) string {
	if !strings.Contains(name, ":") {
		return name + ":latest"
	}
	return name
}

func dryRunSummary(t domain.Transcript) string {
	var planned []string
	for _, entry := range t.Entries {
		if entry.Kind == domain.EntryPlanned {
			planned = append(planned, entry.Command)
		}
	}
	denied := t.Count(domain.EntryDenied)
	if len(planned) == 0 {
		return withDenials(summaryNoPlannedCalls, denied)
	}
	var b strings.Builder
	b.WriteString(summaryDryRunHeader)
	for i, command := range planned {
		fmt.Fprintf(&b, "\n  %d. %s", i+1, command)
	}
	if denied > 0 {
		b.WriteString("\n")
		fmt.Fprintf(&b, summaryDeniedSuffix, denied)
	}
	return b.String()
}

func withDenials(text string, denied int) string {
	if denied == 0 {
		return text
	}
	return text + " " + fmt.Sprintf(summaryDeniedSuffix, denied)
}

type nopProgress struct{}

func (nopProgress) Thinking(int) {}
func (nopProgress) StepStarted(int, string) {}
func (nopProgress) StepFinished(domain.TranscriptEntry) {}
func (nopProgress) Summarizing() {}

type nopAudit struct{}

func (nopAudit) CommandDenied(string, string, domain.SafetyDecision) {}
func (nopAudit) CommandPlanned(string, string) {}
func (nopAudit) CommandSkipped(string, string) {}
func (nopAudit) CommandExecuted(string, domain.CommandResult, bool) {}
func (nopAudit) RunFinished(domain.Transcript) {}
func (nopAudit) Sync() error { return nil }

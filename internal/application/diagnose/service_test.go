package diagnose

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doeshing/sysadvisor/internal/domain"
	"github.com/doeshing/sysadvisor/internal/infrastructure/security"
	"github.com/doeshing/sysadvisor/internal/pkg/logger"
	"github.com/doeshing/sysadvisor/internal/ports"
)

const dfTable = `Filesystem      Size  Used Avail Use% Mounted on
/dev/sda1        50G   48G  2.0G  96% /
tmpfs           3.9G     0  3.9G   0% /dev/shm
`

type staticConfig struct {
	cfg domain.Config
}

func (s staticConfig) Load(context.Context) (domain.Config, error) {
	return s.cfg, nil
}

type reply struct {
	resp ports.ProviderResponse
	err  error
}

type scriptedProvider struct {
	name       string
	models     []string
	listErr    error
	model      domain.ModelDefinition
	replies    []reply
	summary    reply
	nextCalls  int
	summaries  []ports.ProviderRequest
	nextSteps  []ports.ProviderRequest
	onGenerate func()
}

func (p *scriptedProvider) Name() string                  { return p.name }
func (p *scriptedProvider) Model() domain.ModelDefinition { return p.model }

func (p *scriptedProvider) ListModels(context.Context) ([]string, error) {
	return p.models, p.listErr
}

func (p *scriptedProvider) Generate(ctx context.Context, req ports.ProviderRequest) (ports.ProviderResponse, error) {
	if p.onGenerate != nil {
		p.onGenerate()
	}
	if err := ctx.Err(); err != nil {
		return ports.ProviderResponse{}, err
	}
	if req.Kind == ports.RequestSummary {
		p.summaries = append(p.summaries, req)
		return p.summary.resp, p.summary.err
	}
	p.nextSteps = append(p.nextSteps, req)
	idx := p.nextCalls
	if idx >= len(p.replies) {
		idx = len(p.replies) - 1
	}
	p.nextCalls++
	return p.replies[idx].resp, p.replies[idx].err
}

type staticFactory struct {
	provider *scriptedProvider
}

func (f staticFactory) ForModel(model domain.ModelDefinition) (ports.Provider, error) {
	f.provider.model = model
	return f.provider, nil
}

type fakeExecutor struct {
	outputs  map[string]domain.CommandResult
	calls    []string
	timeouts []time.Duration
	err      error
	block    bool
}

func (e *fakeExecutor) Execute(ctx context.Context, command string, timeout time.Duration) (domain.CommandResult, error) {
	e.calls = append(e.calls, command)
	e.timeouts = append(e.timeouts, timeout)
	if e.block {
		<-ctx.Done()
		return domain.CommandResult{Command: command, ExitCode: -1}, ctx.Err()
	}
	if e.err != nil {
		return domain.CommandResult{}, e.err
	}
	if out, ok := e.outputs[command]; ok {
		out.Command = command
		return out, nil
	}
	return domain.CommandResult{Command: command, Stdout: "ok\n"}, nil
}

type fakePrompter struct {
	answer bool
	asked  []string
}

func (p *fakePrompter) Confirm(command string) (bool, error) {
	p.asked = append(p.asked, command)
	return p.answer, nil
}

func (p *fakePrompter) Enabled() bool { return true }

type recordingAudit struct {
	denied   []string
	planned  []string
	skipped  []string
	executed []string
	reused   int
	finished []domain.Transcript
}

func (a *recordingAudit) CommandDenied(_ string, command string, _ domain.SafetyDecision) {
	a.denied = append(a.denied, command)
}
func (a *recordingAudit) CommandPlanned(_ string, command string) { a.planned = append(a.planned, command) }
func (a *recordingAudit) CommandSkipped(_ string, command string) { a.skipped = append(a.skipped, command) }
func (a *recordingAudit) CommandExecuted(_ string, result domain.CommandResult, reused bool) {
	a.executed = append(a.executed, result.Command)
	if reused {
		a.reused++
	}
}
func (a *recordingAudit) RunFinished(t domain.Transcript) { a.finished = append(a.finished, t) }
func (a *recordingAudit) Sync() error                     { return nil }

type recordingProgress struct {
	thinking int
	started  []string
	finished []domain.TranscriptEntry
	summary  int
}

func (p *recordingProgress) Thinking(int)                { p.thinking++ }
func (p *recordingProgress) StepStarted(_ int, c string) { p.started = append(p.started, c) }
func (p *recordingProgress) StepFinished(e domain.TranscriptEntry) {
	p.finished = append(p.finished, e)
}
func (p *recordingProgress) Summarizing() { p.summary++ }

type memoryHistory struct {
	saved  []domain.HistoryRecord
	pruned []time.Time
}

func (h *memoryHistory) Save(_ context.Context, rec domain.HistoryRecord) error {
	h.saved = append(h.saved, rec)
	return nil
}
func (h *memoryHistory) Records(context.Context, int, string) ([]domain.HistoryRecord, error) {
	return h.saved, nil
}
func (h *memoryHistory) Get(context.Context, string) (domain.HistoryRecord, error) {
	return domain.HistoryRecord{}, domain.ErrRecordNotFound
}
func (h *memoryHistory) Prune(_ context.Context, before time.Time) (int, error) {
	h.pruned = append(h.pruned, before)
	return 0, nil
}
func (h *memoryHistory) Clear(context.Context) error { return nil }
func (h *memoryHistory) Path() string                { return ":memory:" }
func (h *memoryHistory) Close() error                { return nil }

type harness struct {
	service  *Service
	provider *scriptedProvider
	executor *fakeExecutor
	audit    *recordingAudit
	progress *recordingProgress
	history  *memoryHistory
}

func newHarness(t *testing.T, replies ...reply) *harness {
	t.Helper()
	guardrail, err := security.NewGuardrail("", true)
	require.NoError(t, err)

	h := &harness{
		provider: &scriptedProvider{
			name:    "ollama",
			models:  []string{"mistral:latest"},
			replies: replies,
			summary: reply{resp: ports.ProviderResponse{Reply: "summary"}},
		},
		executor: &fakeExecutor{outputs: map[string]domain.CommandResult{}},
		audit:    &recordingAudit{},
		progress: &recordingProgress{},
		history:  &memoryHistory{},
	}
	cfg := domain.Config{
		Preferences: domain.Preferences{DefaultModel: "local"},
		Models:      []domain.ModelDefinition{{Name: "local", Provider: domain.ProviderKindOllama, ModelID: "mistral"}},
		History:     domain.HistorySettings{Enabled: true},
	}
	var seq int
	h.service = &Service{
		ConfigProvider:  staticConfig{cfg: cfg},
		ProviderFactory: staticFactory{provider: h.provider},
		SafetyFilter:    guardrail,
		Executor:        h.executor,
		Progress:        h.progress,
		History:         h.history,
		Audit:           h.audit,
		Logger:          logger.NewNop(),
		NewID: func() string {
			seq++
			return fmt.Sprintf("run-%d", seq)
		},
	}
	return h
}

func command(c string) reply {
	return reply{resp: ports.ProviderResponse{Reply: "COMMAND: " + c, Command: c}}
}

func done() reply {
	return reply{resp: ports.ProviderResponse{Reply: "INVESTIGATION_COMPLETE", Done: true}}
}

func request(query string) domain.DiagnosticRequest {
	return domain.DiagnosticRequest{Query: domain.Query(query)}
}

func TestRunShowDiskUsage(t *testing.T) {
	h := newHarness(t, command("df -h"), done())
	h.executor.outputs["df -h"] = domain.CommandResult{Stdout: dfTable}
	h.provider.summary = reply{resp: ports.ProviderResponse{Reply: "The root filesystem /dev/sda1 is 96% full with 2.0G available."}}

	report, err := h.service.Run(context.Background(), request("show me disk usage"))
	require.NoError(t, err)

	transcript := report.Transcript
	assert.Equal(t, "run-1", transcript.ID)
	assert.Equal(t, domain.TerminationCompleted, transcript.Termination)
	require.Len(t, transcript.Entries, 1)
	entry := transcript.Entries[0]
	assert.Equal(t, domain.EntryExecuted, entry.Kind)
	assert.Equal(t, "df -h", entry.Command)
	require.NotNil(t, entry.Result)
	assert.Contains(t, entry.Result.Stdout, "/dev/sda1")

	assert.Equal(t, []string{"df -h"}, h.executor.calls)
	require.Len(t, h.provider.summaries, 1)
	assert.Contains(t, h.provider.summaries[0].Transcript.Entries[0].Result.Stdout, "Filesystem")
	assert.Contains(t, transcript.Summary, "/dev/sda1")

	assert.Equal(t, []string{"df -h"}, h.progress.started)
	assert.Equal(t, 1, h.progress.summary)
	assert.Equal(t, []string{"df -h"}, h.audit.executed)
	require.Len(t, h.audit.finished, 1)
	require.Len(t, h.history.saved, 1)
	assert.Equal(t, "show me disk usage", h.history.saved[0].Query)
	assert.Len(t, h.history.pruned, 1)
	assert.False(t, transcript.FinishedAt.Before(transcript.StartedAt))
}

func TestRunDeleteLogsIsRefused(t *testing.T) {
	h := newHarness(t, command("rm -rf /var/log/*"), done())

	report, err := h.service.Run(context.Background(), request("delete my logs"))
	require.NoError(t, err)

	transcript := report.Transcript
	require.Len(t, transcript.Entries, 1)
	entry := transcript.Entries[0]
	assert.Equal(t, domain.EntryDenied, entry.Kind)
	require.NotNil(t, entry.Decision)
	assert.Equal(t, "rm", entry.Decision.Program)
	assert.Nil(t, entry.Result)

	assert.Empty(t, h.executor.calls)
	assert.Empty(t, h.provider.summaries)
	assert.Equal(t, []string{"rm -rf /var/log/*"}, h.audit.denied)
	assert.Contains(t, transcript.Summary, SummaryNothingRan)
	assert.Contains(t, transcript.Summary, "1 suggested command(s) were refused")

	// The refusal is fed back to the model on the next turn.
	require.Len(t, h.provider.nextSteps, 2)
	assert.Equal(t, domain.EntryDenied, h.provider.nextSteps[1].Transcript.Entries[0].Kind)
}

func TestRunStopsAtMaxIterationsAgainstUncooperativeModel(t *testing.T) {
	for _, limit := range []int{1, 2, 4, 7} {
		t.Run(fmt.Sprint(limit), func(t *testing.T) {
			h := newHarness(t, command("uptime"))
			req := request("is the box ok")
			req.MaxIterations = limit

			report, err := h.service.Run(context.Background(), req)
			require.NoError(t, err)

			assert.Equal(t, domain.TerminationMaxIterations, report.Transcript.Termination)
			assert.Len(t, report.Transcript.Entries, limit)
			assert.Equal(t, limit, h.provider.nextCalls)
			assert.Equal(t, []string{"uptime"}, h.executor.calls, "repeated commands are served from the memo")
			assert.Equal(t, limit-1, h.audit.reused)
			assert.Len(t, h.provider.summaries, 1)
		})
	}
}

func TestRunDefaultIterationCap(t *testing.T) {
	var replies []reply
	for i := 0; i < 10; i++ {
		replies = append(replies, command(fmt.Sprintf("echo %d", i)))
	}
	h := newHarness(t, replies...)

	report, err := h.service.Run(context.Background(), request("loop forever"))
	require.NoError(t, err)
	assert.Len(t, report.Transcript.Entries, domain.DefaultMaxIterations)
	assert.Len(t, h.executor.calls, domain.DefaultMaxIterations)
	assert.Equal(t, []int{4, 3, 2, 1}, remaining(h.provider.nextSteps))
}

func TestRunDryRunNeverExecutes(t *testing.T) {
	h := newHarness(t, command("df -h"), command("rm -r /tmp/x"), command("free -m"), done())
	req := request("check resources")
	req.DryRun = true

	report, err := h.service.Run(context.Background(), req)
	require.NoError(t, err)

	assert.Empty(t, h.executor.calls)
	assert.Empty(t, h.provider.summaries)
	assert.Equal(t, []string{"df -h", "free -m"}, h.audit.planned)
	kinds := []domain.EntryKind{}
	for _, entry := range report.Transcript.Entries {
		kinds = append(kinds, entry.Kind)
	}
	assert.Equal(t, []domain.EntryKind{domain.EntryPlanned, domain.EntryDenied, domain.EntryPlanned}, kinds)
	assert.True(t, report.Transcript.DryRun)
	assert.Contains(t, report.Transcript.Summary, "1. df -h")
	assert.Contains(t, report.Transcript.Summary, "2. free -m")
	assert.Contains(t, report.Transcript.Summary, "1 suggested command(s) were refused")
}

func TestRunMalformedReplyEndsLoop(t *testing.T) {
	h := newHarness(t, reply{resp: ports.ProviderResponse{Reply: "Sure! Disks are great."}})

	report, err := h.service.Run(context.Background(), request("show me disk usage"))
	require.NoError(t, err)
	assert.Equal(t, domain.TerminationMalformed, report.Transcript.Termination)
	assert.Empty(t, report.Transcript.Entries)
	assert.Equal(t, SummaryNothingRan, report.Transcript.Summary)
	assert.Empty(t, h.provider.summaries)
}

func TestRunMalformedAfterProgressStillSummarizes(t *testing.T) {
	h := newHarness(t, command("free -m"), reply{resp: ports.ProviderResponse{Reply: "hmm"}})

	report, err := h.service.Run(context.Background(), request("memory"))
	require.NoError(t, err)
	assert.Equal(t, domain.TerminationMalformed, report.Transcript.Termination)
	assert.Len(t, h.provider.summaries, 1)
	assert.Equal(t, "summary", report.Transcript.Summary)
}

func TestRunModelErrorMidLoop(t *testing.T) {
	h := newHarness(t, command("uptime"), reply{err: errors.New("server returned 500")})

	report, err := h.service.Run(context.Background(), request("load"))
	require.NoError(t, err)
	assert.Equal(t, domain.TerminationModelError, report.Transcript.Termination)
	assert.Len(t, report.Transcript.Entries, 1)
	assert.Len(t, h.provider.summaries, 1)
}

func TestRunSummaryFailureFallsBack(t *testing.T) {
	h := newHarness(t, command("uptime"), done())
	h.provider.summary = reply{err: errors.New("timeout")}

	report, err := h.service.Run(context.Background(), request("load"))
	require.NoError(t, err)
	assert.Equal(t, SummaryModelFailed, report.Transcript.Summary)
}

func TestRunPreflightFailureIsFatal(t *testing.T) {
	h := newHarness(t, command("uptime"))
	h.provider.listErr = errors.New("dial tcp 127.0.0.1:11434: connect: connection refused")

	_, err := h.service.Run(context.Background(), request("load"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrModelUnavailable))
	assert.Zero(t, h.provider.nextCalls)
	assert.Empty(t, h.executor.calls)
	assert.Empty(t, h.history.saved)
}

func TestRunModelNotInstalledIsFatal(t *testing.T) {
	h := newHarness(t, command("uptime"))
	h.provider.models = []string{"llama3:8b"}

	_, err := h.service.Run(context.Background(), request("load"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrModelNotInstalled))
}

func TestRunConfirmDeclinedSkipsCommand(t *testing.T) {
	h := newHarness(t, command("ss -tulpn"), done())
	prompter := &fakePrompter{answer: false}
	h.service.Prompter = prompter
	req := request("open ports")
	req.Confirm = true

	report, err := h.service.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []string{"ss -tulpn"}, prompter.asked)
	assert.Empty(t, h.executor.calls)
	assert.Equal(t, domain.EntrySkipped, report.Transcript.Entries[0].Kind)
	assert.Equal(t, []string{"ss -tulpn"}, h.audit.skipped)
}

func TestRunConfirmWithoutTerminalSkipsCommand(t *testing.T) {
	h := newHarness(t, command("ss -tulpn"), done())
	h.service.Prompter = nil
	req := request("open ports")
	req.Confirm = true

	report, err := h.service.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Empty(t, h.executor.calls)
	assert.Equal(t, domain.EntrySkipped, report.Transcript.Entries[0].Kind)
}

func TestRunConfirmApprovedExecutes(t *testing.T) {
	h := newHarness(t, command("ss -tulpn"), done())
	h.service.Prompter = &fakePrompter{answer: true}
	req := request("open ports")
	req.Confirm = true

	_, err := h.service.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []string{"ss -tulpn"}, h.executor.calls)
}

func TestRunPassesCommandTimeout(t *testing.T) {
	h := newHarness(t, command("sleep 100"), done())
	h.executor.outputs["sleep 100"] = domain.CommandResult{TimedOut: true, ExitCode: -1, Err: "timed out after 2s"}
	req := request("hang")
	req.CommandTimeout = 2 * time.Second

	report, err := h.service.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{2 * time.Second}, h.executor.timeouts)
	assert.True(t, report.Transcript.Entries[0].Result.TimedOut)
	assert.Equal(t, domain.TerminationCompleted, report.Transcript.Termination)
}

func TestRunCancelled(t *testing.T) {
	h := newHarness(t, command("sleep 100"), done())
	h.executor.block = true
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	report, err := h.service.Run(ctx, request("hang"))
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, domain.TerminationCancelled, report.Transcript.Termination)
	assert.Empty(t, h.history.saved)
	require.Len(t, h.audit.finished, 1)
}

func TestRunShellUnavailableIsFatal(t *testing.T) {
	h := newHarness(t, command("uptime"))
	h.executor.err = fmt.Errorf("%w: /bin/nosh", domain.ErrShellUnavailable)

	_, err := h.service.Run(context.Background(), request("load"))
	assert.ErrorIs(t, err, domain.ErrShellUnavailable)
}

func TestRunRejectsEmptyQuery(t *testing.T) {
	h := newHarness(t, done())
	_, err := h.service.Run(context.Background(), request("   "))
	assert.ErrorIs(t, err, domain.ErrEmptyQuery)
}

func TestRunModelOverrideTag(t *testing.T) {
	h := newHarness(t, done())
	h.provider.models = []string{"llama3:8b"}
	req := request("hi")
	req.ModelOverride = "llama3:8b"

	report, err := h.service.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "llama3:8b", report.Transcript.Model)
	assert.Equal(t, SummaryNothingRan, report.Transcript.Summary)
}

func TestServesModel(t *testing.T) {
	available := []string{"mistral:latest", "llama3:8b"}
	assert.True(t, ServesModel(available, "mistral"))
	assert.True(t, ServesModel(available, "mistral:latest"))
	assert.True(t, ServesModel(available, "llama3:8b"))
	assert.False(t, ServesModel(available, "llama3"))
	assert.False(t, ServesModel(nil, "mistral"))
}

func TestDryRunSummaryWithoutPlans(t *testing.T) {
	summary := dryRunSummary(domain.Transcript{})
	assert.True(t, strings.HasPrefix(summary, "Dry run"))
}

func remaining(reqs []ports.ProviderRequest) []int {
	out := make([]int, 0, len(reqs))
	for _, req := range reqs {
		out = append(out, req.Remaining)
	}
	return out
}

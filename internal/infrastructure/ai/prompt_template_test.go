package ai

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doeshing/sysadvisor/internal/domain"
	"github.com/doeshing/sysadvisor/internal/ports"
)

func sampleRequest(kind ports.RequestKind) ports.ProviderRequest {
	transcript := domain.Transcript{Query: "why is my disk full"}
	transcript.Append(domain.TranscriptEntry{
		Iteration: 1,
		Kind:      domain.EntryExecuted,
		Command:   "df -h",
		Result: &domain.CommandResult{
			Command: "df -h",
			Stdout:  "Filesystem Size Used Avail Use% Mounted on\n/dev/sda1 50G 48G 2G 96% /",
		},
	})
	transcript.Append(domain.TranscriptEntry{
		Iteration: 2,
		Kind:      domain.EntryDenied,
		Command:   "rm -r /var/log",
		Decision:  &domain.SafetyDecision{Verdict: domain.VerdictDeny, Reason: `program "rm" is on the denylist`},
	})
	return ports.ProviderRequest{
		Kind:       kind,
		Query:      "why is my disk full",
		Transcript: transcript,
		Host: domain.HostSnapshot{
			Distro:         "Ubuntu 24.04 LTS",
			Kernel:         "6.8.0",
			AvailableTools: []string{"df", "du"},
		},
		Iteration: 3,
		Remaining: 2,
	}
}

func TestRenderNextStepPrompt(t *testing.T) {
	messages, err := renderPromptMessages(domain.ModelDefinition{}, sampleRequest(ports.RequestNextStep))
	require.NoError(t, err)
	require.Len(t, messages, 2)

	system := messages[0].Content
	assert.Contains(t, system, "Ubuntu 24.04 LTS")
	assert.Contains(t, system, "Available tools: df, du")
	assert.Contains(t, system, "INVESTIGATION_COMPLETE")

	user := messages[1].Content
	assert.Contains(t, user, "Question: why is my disk full")
	assert.Contains(t, user, "[1] df -h")
	assert.Contains(t, user, "/dev/sda1 50G 48G 2G 96% /")
	assert.Contains(t, user, "Refused by the safety filter")
	assert.Contains(t, user, "2 more command(s)")
}

func TestRenderSummaryPrompt(t *testing.T) {
	messages, err := renderPromptMessages(domain.ModelDefinition{}, sampleRequest(ports.RequestSummary))
	require.NoError(t, err)

	user := messages[1].Content
	assert.Contains(t, user, `answer: "why is my disk full"`)
	assert.Contains(t, user, "Command: df -h")
	assert.Contains(t, user, "96%")
	assert.Contains(t, user, "Refused by the safety filter")
}

func TestRenderUsesOverrides(t *testing.T) {
	model := domain.ModelDefinition{Prompts: domain.PromptTemplates{
		System:   "sys {{.Host.Kernel}}",
		NextStep: "next {{.Query}} {{len .Steps}}",
	}}

	messages, err := renderPromptMessages(model, sampleRequest(ports.RequestNextStep))
	require.NoError(t, err)
	assert.Equal(t, "sys 6.8.0", messages[0].Content)
	assert.Equal(t, "next why is my disk full 2", messages[1].Content)
}

func TestRenderRejectsBrokenTemplate(t *testing.T) {
	model := domain.ModelDefinition{Prompts: domain.PromptTemplates{NextStep: "{{.Nope"}}
	_, err := renderPromptMessages(model, sampleRequest(ports.RequestNextStep))
	assert.Error(t, err)
}

func TestRenderQuotesOutputUpToConfiguredLimit(t *testing.T) {
	long := strings.Repeat("x", domain.DefaultMaxOutputChars+500)
	req := sampleRequest(ports.RequestNextStep)
	req.Transcript.Entries[0].Result.Stdout = long

	messages, err := renderPromptMessages(domain.ModelDefinition{}, req)
	require.NoError(t, err)
	assert.NotContains(t, messages[1].Content, long)

	req.MaxOutputChars = len(long)
	messages, err = renderPromptMessages(domain.ModelDefinition{}, req)
	require.NoError(t, err)
	assert.Contains(t, messages[1].Content, long)
}

func TestTruncateText(t *testing.T) {
	assert.Equal(t, "(no output)", truncateText(10, "  \n"))
	assert.Equal(t, "short", truncateText(10, "short"))
	assert.Equal(t, "ab...", truncateText(2, "abcdef"))
	assert.Equal(t, strings.Repeat("é", 3)+"...", truncateText(3, strings.Repeat("é", 5)))
}

package ai

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"unicode/utf8"

	"github.com/doeshing/sysadvisor/internal/domain"
	"github.com/doeshing/sysadvisor/internal/ports"
)

const defaultSystemTemplate = `You are a careful Linux system administration assistant.
You answer the user's question by running read-only diagnostic shell commands, one at a time.

Host:
{{- if .Host.Distro}}
- Distribution: {{.Host.Distro}}{{end}}
{{- if .Host.Kernel}}
- Kernel: {{.Host.Kernel}}{{end}}
{{- if .Host.Hostname}}
- Hostname: {{.Host.Hostname}}{{end}}
{{- if .Host.User}}
- User: {{.Host.User}}{{end}}
{{- if .Tools}}
- Available tools: {{.Tools}}{{end}}

Rules:
- Reply with exactly one command per message, on a line of the form:
  COMMAND: <shell command>
- Prefer universal commands: df -h, du -sh, free -m, ps aux --sort=-%mem, ss -tulpn, journalctl, uptime.
- Never modify the system. Destructive, privileged or interactive commands are refused.
- If a command fails, try a simpler alternative.
- When the outputs already answer the question, reply with INVESTIGATION_COMPLETE and nothing else.
- Only reason about actual command output. Never invent data.`

const defaultNextStepTemplate = `Question: {{.Query}}
{{if .Steps}}
Steps so far:
{{range .Steps}}
[{{.Iteration}}] {{.Command}}
{{- if eq .Kind "denied"}}
Refused by the safety filter: {{.Reason}}. Choose a different, read-only command.
{{- else if eq .Kind "skipped"}}
Declined by the operator. Choose a different command.
{{- else if eq .Kind "planned"}}
Not executed (dry run).
{{- else}}
exit code {{.ExitCode}}{{if .TimedOut}} (timed out){{end}}
STDOUT:
{{truncate $.MaxChars .Stdout}}
{{- if .Stderr}}
STDERR:
{{truncate $.MaxChars .Stderr}}
{{- end}}
{{- end}}
{{end}}
{{- else}}
No commands have been run yet.
{{end}}
You may run {{.Remaining}} more command(s).
Reply with the next command as "COMMAND: <command>", or INVESTIGATION_COMPLETE if you can answer.`

const defaultSummaryTemplate = `You are analysing command outputs to answer: "{{.Query}}"

ACTUAL COMMAND OUTPUTS (do not make up any data):
{{range .Steps}}
Command: {{.Command}}
{{- if eq .Kind "denied"}}
Refused by the safety filter: {{.Reason}}
{{- else if eq .Kind "skipped"}}
Declined by the operator.
{{- else}}
Exit code: {{.ExitCode}}{{if .TimedOut}} (timed out){{end}}
Output:
{{truncate $.SummaryChars .Stdout}}
{{- if .Stderr}}
Errors:
{{truncate $.SummaryChars .Stderr}}
{{- end}}
{{- end}}
{{end}}
Instructions:
- Only use the data shown above. Do not invent numbers, percentages or process names.
- If output is empty or a command failed or was refused, say so.
- Answer in a brief summary of two or three sentences.`

type stepView struct {
	Iteration int
	Kind      string
	Command   string
	ExitCode  int
	TimedOut  bool
	Stdout    string
	Stderr    string
	Reason    string
}

type templateData struct {
	Query        string
	Host         domain.HostSnapshot
	Tools        string
	Steps        []stepView
	Iteration    int
	Remaining    int
	MaxChars     int
	SummaryChars int
}

var templateFuncs = template.FuncMap{
	"truncate": truncateText,
}

// renderPromptMessages expands the model's templates into a system and a user message.
func renderPromptMessages(model domain.ModelDefinition, req ports.ProviderRequest) ([]domain.PromptMessage, error) {
	data := buildTemplateData(req)

	userTemplate := valueOrDefault(model.Prompts.NextStep, defaultNextStepTemplate)
	if req.Kind == ports.RequestSummary {
		userTemplate = valueOrDefault(model.Prompts.Summary, defaultSummaryTemplate)
	}

	system, err := executeTemplate("system", valueOrDefault(model.Prompts.System, defaultSystemTemplate), data)
	if err != nil {
		return nil, err
	}
	user, err := executeTemplate(string(req.Kind), userTemplate, data)
	if err != nil {
		return nil, err
	}

	return []domain.PromptMessage{
		{Role: domain.RoleSystem, Content: strings.TrimSpace(system)},
		{Role: domain.RoleUser, Content: strings.TrimSpace(user)},
	}, nil
}

func buildTemplateData(req ports.ProviderRequest) templateData {
	data := templateData{
		Query:        req.Query.String(),
		Host:         req.Host,
		Tools:        strings.Join(req.Host.AvailableTools, ", "),
		Iteration:    req.Iteration,
		Remaining:    req.Remaining,
		MaxChars:     domain.DefaultMaxOutputChars,
		SummaryChars: domain.DefaultSummaryOutputChars,
	}
	if req.MaxOutputChars > 0 {
		data.MaxChars = req.MaxOutputChars
		data.SummaryChars = min(data.SummaryChars, req.MaxOutputChars)
	}
	for _, entry := range req.Transcript.Entries {
		step := stepView{
			Iteration: entry.Iteration,
			Kind:      string(entry.Kind),
			Command:   entry.Command,
		}
		if entry.Result != nil {
			step.ExitCode = entry.Result.ExitCode
			step.TimedOut = entry.Result.TimedOut
			step.Stdout = entry.Result.Stdout
			step.Stderr = entry.Result.Stderr
		}
		if entry.Decision != nil {
			step.Reason = entry.Decision.Reason
		}
		data.Steps = append(data.Steps, step)
	}
	return data
}

func executeTemplate(name, raw string, data templateData) (string, error) {
	tmpl, err := template.New(name).Funcs(templateFuncs).Parse(raw)
	if err != nil {
		return "", fmt.Errorf("prompt template %s: %w", name, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("prompt template %s: %w", name, err)
	}
	return buf.String(), nil
}

// truncateText keeps the first limit runes of text.
func truncateText(limit int, text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return "(no output)"
	}
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	return string(runes[:limit]) + "..."
}

func valueOrDefault(value string, def string) string {
	if strings.TrimSpace(value) == "" {
		return def
	}
	return value
}

package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/doeshing/sysadvisor/internal/domain"
	"github.com/doeshing/sysadvisor/internal/ports"
)

// previewLines is how much stdout is echoed per step; the model sees everything.
const previewLines = 4

// Progress prints loop events as they happen.
type Progress struct {
	out     io.Writer
	spinner *Spinner
	verbose bool
}

// NewProgress reports to out. Verbose echoes full command output.
func NewProgress(out io.Writer, verbose bool) *Progress {
	return &Progress{out: out, spinner: NewSpinner(out), verbose: verbose}
}

func (p *Progress) Thinking(iteration int) {
	p.spinner.Start(fmt.Sprintf("thinking (step %d)", iteration))
}

func (p *Progress) StepStarted(_ int, command string) {
	p.spinner.Stop()
	fmt.Fprintf(p.out, "Running: `%s`\n", command)
}

func (p *Progress) StepFinished(entry domain.TranscriptEntry) {
	p.spinner.Stop()
	switch entry.Kind {
	case domain.EntryDenied:
		reason := ""
		if entry.Decision != nil {
			reason = entry.Decision.Reason
		}
		fmt.Fprintf(p.out, "Blocked: `%s` (%s)\n", entry.Command, reason)
	case domain.EntryPlanned:
		fmt.Fprintf(p.out, "Would run: `%s`\n", entry.Command)
	case domain.EntrySkipped:
		fmt.Fprintf(p.out, "Skipped: `%s`\n", entry.Command)
	case domain.EntryExecuted:
		if entry.Result == nil {
			return
		}
		if entry.Reused {
			fmt.Fprintf(p.out, "Reused: `%s`\n", entry.Command)
		}
		fmt.Fprintf(p.out, "  %s\n", resultLine(*entry.Result, entry.Reused))
		if preview := outputPreview(entry.Result.Stdout, p.verbose); preview != "" {
			fmt.Fprintln(p.out, indent(preview, "    "))
		}
		if p.verbose && strings.TrimSpace(entry.Result.Stderr) != "" {
			fmt.Fprintln(p.out, indent("stderr: "+strings.TrimSpace(entry.Result.Stderr), "    "))
		}
	}
}

func (p *Progress) Summarizing() {
	p.spinner.Start("summarizing")
}

// Done stops any running animation.
func (p *Progress) Done() {
	p.spinner.Stop()
}

func resultLine(result domain.CommandResult, reused bool) string {
	var parts []string
	switch {
	case result.TimedOut:
		parts = append(parts, "timed out")
	case result.Err != "":
		parts = append(parts, "failed: "+result.Err)
	default:
		parts = append(parts, fmt.Sprintf("exit %d", result.ExitCode))
	}
	parts = append(parts, result.Duration.Round(time.Millisecond).String())
	parts = append(parts, humanize.Bytes(uint64(len(result.Stdout)+len(result.Stderr))))
	if result.Truncated {
		parts = append(parts, "truncated")
	}
	if reused {
		parts = append(parts, "reused")
	}
	return strings.Join(parts, ", ")
}

func outputPreview(stdout string, full bool) string {
	stdout = strings.TrimRight(stdout, "\n")
	if stdout == "" {
		return ""
	}
	lines := strings.Split(stdout, "\n")
	if full || len(lines) <= previewLines+1 {
		return stdout
	}
	return strings.Join(lines[:previewLines], "\n") + fmt.Sprintf("\n... (%d more lines)", len(lines)-previewLines)
}

func indent(text, prefix string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = prefix + line
	}
	return strings.Join(lines, "\n")
}

var _ ports.ProgressReporter = (*Progress)(nil)

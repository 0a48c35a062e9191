package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/doeshing/sysadvisor/internal/domain"
)

// RenderReport prints the summary and a one-line digest of the run.
func RenderReport(out io.Writer, report domain.DiagnosticReport) {
	t := report.Transcript
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Summary:")
	fmt.Fprintln(out, strings.TrimSpace(t.Summary))
	fmt.Fprintln(out)
	fmt.Fprintln(out, digest(t))
}

// RenderTranscript prints every step of a stored run, outputs included.
func RenderTranscript(out io.Writer, t domain.Transcript, now time.Time) {
	fmt.Fprintf(out, "ID:       %s\n", t.ID)
	fmt.Fprintf(out, "Query:    %s\n", t.Query)
	fmt.Fprintf(out, "Model:    %s\n", t.Model)
	fmt.Fprintf(out, "When:     %s (%s)\n", t.StartedAt.Local().Format(time.DateTime), humanize.RelTime(t.StartedAt, now, "ago", "from now"))
	fmt.Fprintf(out, "Outcome:  %s\n", t.Termination)

	for _, entry := range t.Entries {
		fmt.Fprintf(out, "\n[%d] %s: %s\n", entry.Iteration, entry.Kind, entry.Command)
		if entry.Kind == domain.EntryDenied && entry.Decision != nil {
			fmt.Fprintf(out, "    reason: %s\n", entry.Decision.Reason)
		}
		if entry.Result == nil {
			continue
		}
		fmt.Fprintf(out, "    %s\n", resultLine(*entry.Result, entry.Reused))
		if stdout := strings.TrimRight(entry.Result.Stdout, "\n"); stdout != "" {
			fmt.Fprintln(out, indent(stdout, "    "))
		}
		if stderr := strings.TrimRight(entry.Result.Stderr, "\n"); stderr != "" {
			fmt.Fprintln(out, indent("stderr: "+stderr, "    "))
		}
	}

	fmt.Fprintln(out, "\nSummary:")
	fmt.Fprintln(out, strings.TrimSpace(t.Summary))
}

func digest(t domain.Transcript) string {
	parts := []string{
		fmt.Sprintf("%d step(s)", len(t.Entries)),
	}
	if denied := t.Count(domain.EntryDenied); denied > 0 {
		parts = append(parts, fmt.Sprintf("%d blocked", denied))
	}
	if t.DryRun {
		parts = append(parts, "dry run")
	}
	parts = append(parts, string(t.Termination))
	if d := t.Duration(); d > 0 {
		parts = append(parts, d.Round(100*time.Millisecond).String())
	}
	return fmt.Sprintf("(%s, run %s)", strings.Join(parts, ", "), shortID(t.ID))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

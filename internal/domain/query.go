package domain

import (
	"strings"
	"time"
)

// Query is the user's natural-language question.
type Query string

// NormalizeQuery joins CLI arguments into a single question.
func NormalizeQuery(args []string) (Query, error) {
	joined := strings.Join(strings.Fields(strings.Join(args, " ")), " ")
	if joined == "" {
		return "", ErrEmptyQuery
	}
	return Query(joined), nil
}

// String implements fmt.Stringer.
func (q Query) String() string {
	return string(q)
}

// DiagnosticRequest captures one invocation of the diagnostic loop.
type DiagnosticRequest struct {
	Query          Query
	ModelOverride  string
	DryRun         bool
	Confirm        bool
	MaxIterations  int
	CommandTimeout time.Duration
}

// DiagnosticReport is the canonical response propagated back to the CLI.
type DiagnosticReport struct {
	Transcript Transcript
	Host       HostSnapshot
}

// CommandResult wraps details from the command executor.
type CommandResult struct {
	Command   string        `json:"command"`
	Stdout    string        `json:"stdout"`
	Stderr    string        `json:"stderr"`
	ExitCode  int           `json:"exit_code"`
	Duration  time.Duration `json:"duration"`
	TimedOut  bool          `json:"timed_out,omitempty"`
	Truncated bool          `json:"truncated,omitempty"`
	Err       string        `json:"error,omitempty"`
}

// Succeeded reports a clean zero exit.
func (r CommandResult) Succeeded() bool {
	return r.ExitCode == 0 && !r.TimedOut && r.Err == ""
}

// EntryKind labels what happened to a suggested command.
type EntryKind string

const (
	EntryExecuted EntryKind = "executed"
	EntryDenied   EntryKind = "denied"
	EntryPlanned  EntryKind = "planned"
	EntrySkipped  EntryKind = "skipped"
)

// TranscriptEntry is one step of the diagnostic loop.
type TranscriptEntry struct {
	Iteration  int             `json:"iteration"`
	Kind       EntryKind       `json:"kind"`
	Command    string          `json:"command"`
	ModelReply string          `json:"model_reply,omitempty"`
	Result     *CommandResult  `json:"result,omitempty"`
	Decision   *SafetyDecision `json:"decision,omitempty"`
	Reused     bool            `json:"reused,omitempty"`
}

// Termination explains why the loop stopped asking for commands.
type Termination string

const (
	TerminationCompleted     Termination = "completed"
	TerminationMaxIterations Termination = "max_iterations"
	TerminationMalformed     Termination = "malformed"
	TerminationModelError    Termination = "model_error"
	TerminationCancelled     Termination = "cancelled"
)

// Transcript is the accumulated record of one query.
type Transcript struct {
	ID          string            `json:"id"`
	Query       Query             `json:"query"`
	Model       string            `json:"model"`
	DryRun      bool              `json:"dry_run,omitempty"`
	Entries     []TranscriptEntry `json:"entries"`
	Summary     string            `json:"summary"`
	Termination Termination       `json:"termination"`
	StartedAt   time.Time         `json:"started_at"`
	FinishedAt  time.Time         `json:"finished_at"`
}

// Append adds an entry.
func (t *Transcript) Append(entry TranscriptEntry) {
	t.Entries = append(t.Entries, entry)
}

// Executed returns the entries whose command actually ran.
func (t Transcript) Executed() []TranscriptEntry {
	var out []TranscriptEntry
	for _, entry := range t.Entries {
		if entry.Kind == EntryExecuted && entry.Result != nil {
			out = append(out, entry)
		}
	}
	return out
}

// Count returns the number of entries of a kind.
func (t Transcript) Count(kind EntryKind) int {
	n := 0
	for _, entry := range t.Entries {
		if entry.Kind == kind {
			n++
		}
	}
	return n
}

// Commands lists every suggested command in order.
func (t Transcript) Commands() []string {
	commands := make([]string, 0, len(t.Entries))
	for _, entry := range t.Entries {
		commands = append(commands, entry.Command)
	}
	return commands
}

// Duration is the wall-clock time of the whole run.
func (t Transcript) Duration() time.Duration {
	if t.FinishedAt.IsZero() {
		return 0
	}
	return t.FinishedAt.Sub(t.StartedAt)
}

// Package audit writes the append-only record of every command the assistant attempted.
package audit

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/doeshing/sysadvisor/internal/domain"
	"github.com/doeshing/sysadvisor/internal/pkg/filesystem"
	"github.com/doeshing/sysadvisor/internal/ports"
)

// Trail is a zap-backed AuditLogger emitting one JSON object per line.
type Trail struct {
	log  *zap.Logger
	file *os.File
	path string
}

// Open appends to the audit file at path, creating it when missing.
func Open(path string) (*Trail, error) {
	path = filesystem.ExpandPath(path)
	if err := filesystem.EnsureParentDir(path); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, domain.LogFilePermissions)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}

	encoder := zap.NewProductionEncoderConfig()
	encoder.TimeKey = "ts"
	encoder.MessageKey = "event"
	encoder.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoder), zapcore.AddSync(file), zapcore.InfoLevel)

	trail := NewTrail(core)
	trail.file = file
	trail.path = path
	return trail, nil
}

// NewTrail wraps an arbitrary zap core.
func NewTrail(core zapcore.Core) *Trail {
	return &Trail{log: zap.New(core)}
}

// Nop returns a trail that records nothing.
func Nop() *Trail {
	return &Trail{log: zap.NewNop()}
}

// Path returns the audit file location, empty for in-memory trails.
func (t *Trail) Path() string {
	return t.path
}

func (t *Trail) CommandDenied(transcriptID string, command string, decision domain.SafetyDecision) {
	t.log.Warn("command_denied",
		zap.String("run_id", transcriptID),
		zap.String("command", command),
		zap.String("verdict", string(decision.Verdict)),
		zap.String("program", decision.Program),
		zap.String("reason", decision.Reason),
		zap.String("rule", decision.Rule),
	)
}

func (t *Trail) CommandPlanned(transcriptID string, command string) {
	t.log.Info("command_planned",
		zap.String("run_id", transcriptID),
		zap.String("command", command),
		zap.String("verdict", string(domain.VerdictAllow)),
	)
}

func (t *Trail) CommandSkipped(transcriptID string, command string) {
	t.log.Info("command_skipped",
		zap.String("run_id", transcriptID),
		zap.String("command", command),
	)
}

func (t *Trail) CommandExecuted(transcriptID string, result domain.CommandResult, reused bool) {
	fields := []zap.Field{
		zap.String("run_id", transcriptID),
		zap.String("command", result.Command),
		zap.String("verdict", string(domain.VerdictAllow)),
		zap.Int("exit_code", result.ExitCode),
		zap.Duration("duration", result.Duration),
		zap.Bool("timed_out", result.TimedOut),
		zap.Bool("truncated", result.Truncated),
		zap.Bool("reused", reused),
	}
	if result.Err != "" {
		fields = append(fields, zap.String("error", result.Err))
	}
	t.log.Info("command_executed", fields...)
}

func (t *Trail) RunFinished(transcript domain.Transcript) {
	t.log.Info("run_finished",
		zap.String("run_id", transcript.ID),
		zap.String("query", transcript.Query.String()),
		zap.String("model", transcript.Model),
		zap.Bool("dry_run", transcript.DryRun),
		zap.String("termination", string(transcript.Termination)),
		zap.Int("steps", len(transcript.Entries)),
		zap.Int("denied", transcript.Count(domain.EntryDenied)),
		zap.Duration("duration", transcript.Duration()),
		zap.String("summary", transcript.Summary),
	)
}

// Sync flushes the trail and closes the file it owns.
func (t *Trail) Sync() error {
	err := t.log.Sync()
	if t.file != nil {
		if cerr := t.file.Close(); err == nil {
			err = cerr
		}
		t.file = nil
		t.log = zap.NewNop()
	}
	return err
}

var _ ports.AuditLogger = (*Trail)(nil)

// Package executor runs diagnostic commands on the local host.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"

	"github.com/doeshing/sysadvisor/internal/domain"
	"github.com/doeshing/sysadvisor/internal/ports"
)

// LocalExecutor runs commands through the host shell, one at a time.
type LocalExecutor struct {
	shell          string
	maxOutputChars int
	killGrace      time.Duration
}

// NewLocalExecutor builds a new executor. shell defaults to /bin/sh.
func NewLocalExecutor(shell string, maxOutputChars int) *LocalExecutor {
	if shell == "" || shell == "auto" {
		shell = "/bin/sh"
	}
	if maxOutputChars <= 0 {
		maxOutputChars = domain.DefaultMaxOutputChars
	}
	return &LocalExecutor{
		shell:          shell,
		maxOutputChars: maxOutputChars,
		killGrace:      domain.DefaultKillGrace,
	}
}

// Shell returns the interpreter path.
func (e *LocalExecutor) Shell() string {
	return e.shell
}

// Execute implements ports.CommandExecutor.
// A timed out command yields TimedOut=true and a nil error; errors are reserved
// for an interpreter that cannot be started or a cancelled parent context.
func (e *LocalExecutor) Execute(ctx context.Context, command string, timeout time.Duration) (domain.CommandResult, error) {
	if timeout <= 0 {
		timeout = domain.DefaultCommandTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c := exec.CommandContext(runCtx, e.shell, "-c", command)
	configureProcessGroup(c)
	c.WaitDelay = e.killGrace

	// Cap captured bytes so a runaway command cannot exhaust memory.
	byteCap := e.maxOutputChars * utf8.UTFMax
	stdout := &cappedBuffer{limit: byteCap}
	stderr := &cappedBuffer{limit: byteCap}
	c.Stdout = stdout
	c.Stderr = stderr

	start := time.Now()
	err := c.Run()
	result := domain.CommandResult{
		Command:  command,
		Duration: time.Since(start),
	}

	var truncOut, truncErr bool
	outText, outDropped := stdout.Text()
	errText, errDropped := stderr.Text()
	result.Stdout, truncOut = truncate(outText, e.maxOutputChars, outDropped)
	result.Stderr, truncErr = truncate(errText, e.maxOutputChars, errDropped)
	result.Truncated = truncOut || truncErr

	if err == nil {
		return result, nil
	}

	if ctx.Err() != nil {
		result.ExitCode = -1
		result.Err = ctx.Err().Error()
		return result, ctx.Err()
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		result.ExitCode = -1
		result.TimedOut = true
		result.Err = fmt.Sprintf("timed out after %s", timeout)
		return result, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		return result, nil
	}
	if errors.Is(err, exec.ErrWaitDelay) {
		// The command exited but a background child kept the pipes open.
		result.ExitCode = c.ProcessState.ExitCode()
		return result, nil
	}

	result.ExitCode = -1
	result.Err = err.Error()
	return result, fmt.Errorf("%w: %s: %v", domain.ErrShellUnavailable, e.shell, err)
}

// truncate keeps at most limit runes and appends a marker with the number of dropped characters.
// alreadyDropped counts characters the capture buffer never stored.
func truncate(text string, limit int, alreadyDropped int) (string, bool) {
	total := utf8.RuneCountInString(text)
	if total <= limit && alreadyDropped == 0 {
		return text, false
	}

	kept := text
	dropped := alreadyDropped
	if total > limit {
		cut := 0
		for i := 0; i < limit; i++ {
			_, size := utf8.DecodeRuneInString(text[cut:])
			cut += size
		}
		kept = text[:cut]
		dropped += total - limit
	}

	var b strings.Builder
	b.WriteString(kept)
	if !strings.HasSuffix(kept, "\n") {
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "[truncated %s]", humanize.Comma(int64(dropped)))
	return b.String(), true
}

// cappedBuffer stores up to limit bytes and counts the characters it had to drop.
type cappedBuffer struct {
	buf     bytes.Buffer
	limit   int
	dropped int
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	room := b.limit - b.buf.Len()
	if room < 0 {
		room = 0
	}
	if len(p) > room {
		b.buf.Write(p[:room])
		b.dropped += countRuneStarts(p[room:])
		return len(p), nil
	}
	return b.buf.Write(p)
}

// Text returns the stored output without a trailing partial rune left by the
// byte cap, and the number of characters dropped in total.
func (b *cappedBuffer) Text() (string, int) {
	data := b.buf.Bytes()
	dropped := b.dropped
	for i := 1; i <= utf8.UTFMax && i <= len(data); i++ {
		tail := data[len(data)-i:]
		if !utf8.RuneStart(tail[0]) {
			continue
		}
		if !utf8.FullRune(tail) {
			// The rest of this rune was dropped as continuation bytes.
			dropped++
			data = data[:len(data)-i]
		}
		break
	}
	return string(data), dropped
}

// countRuneStarts counts characters in p; stray continuation bytes belong to
// a rune that started in an earlier write.
func countRuneStarts(p []byte) int {
	n := 0
	for _, c := range p {
		if utf8.RuneStart(c) {
			n++
		}
	}
	return n
}

var _ ports.CommandExecutor = (*LocalExecutor)(nil)

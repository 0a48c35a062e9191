package security

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doeshing/sysadvisor/internal/domain"
)

var defaultDenylist = []string{
	"rm", "rmdir", "dd", "mkfs", "fdisk", "cfdisk", "parted", "format", "del", "deltree",
	"shutdown", "reboot", "halt", "poweroff", "init", "kill", "killall", "pkill",
	"sudo", "su", "doas", "passwd", "chmod", "chown", "mount", "umount", "fsck",
}

func newDefaultGuardrail(t *testing.T) *Guardrail {
	t.Helper()
	guardrail, err := NewGuardrail(filepath.Join(t.TempDir(), "missing.yaml"), true)
	require.NoError(t, err)
	return guardrail
}

func TestGuardrailDeniesDenylistedProgramsWhateverTheArguments(t *testing.T) {
	guardrail := newDefaultGuardrail(t)
	suffixes := []string{"", " /tmp/x", " -l", " a b c", "   ", " --help"}

	for _, program := range defaultDenylist {
		for _, suffix := range suffixes {
			decision, err := guardrail.Evaluate(program + suffix)
			require.NoError(t, err)
			assert.False(t, decision.Allowed(), "%q should be denied", program+suffix)
			assert.Equal(t, program, decision.Program)
		}
	}
}

func TestGuardrailAllowsDiagnosticCommands(t *testing.T) {
	guardrail := newDefaultGuardrail(t)
	commands := []string{
		"df -h",
		"free -m",
		"ps aux --sort=-%mem",
		"du -sh /var/log",
		"ss -tulpn",
		"uptime",
		"journalctl -u nginx --since today",
		"cat /proc/meminfo",
		"ls -la /var/log",
		"RMDIR /tmp",
		"remove-me-not",
		"ps aux | head -n 20",
		"watch -n 1 ss -s",
		"timeout -s TERM 5 uptime",
		`sh -c "df -h"`,
		"bash /usr/local/bin/health-check.sh",
	}

	for _, command := range commands {
		decision, err := guardrail.Evaluate(command)
		require.NoError(t, err)
		assert.True(t, decision.Allowed(), "%q should be allowed: %+v", command, decision)
	}
}

func TestGuardrailStripsProgramPath(t *testing.T) {
	guardrail := newDefaultGuardrail(t)

	decision, err := guardrail.Evaluate("/bin/rm /var/log/syslog")
	require.NoError(t, err)
	assert.Equal(t, domain.VerdictDeny, decision.Verdict)
	assert.Equal(t, "rm", decision.Program)
}

func TestGuardrailDeniesDottedVariants(t *testing.T) {
	guardrail := newDefaultGuardrail(t)

	for _, command := range []string{"mkfs.ext4 /dev/sdb1", "fsck.xfs /dev/sda2"} {
		decision, err := guardrail.Evaluate(command)
		require.NoError(t, err)
		assert.False(t, decision.Allowed(), command)
	}
}

func TestGuardrailCompoundCommands(t *testing.T) {
	guardrail := newDefaultGuardrail(t)
	tests := []struct {
		command string
		program string
	}{
		{"ls; rm -r /tmp/x", "rm"},
		{"df -h && reboot", "reboot"},
		{"false || shutdown now", "shutdown"},
		{"find /tmp -name '*.log' | xargs rm", "rm"},
		{"echo $(rm /tmp/a)", "rm"},
		{"echo `kill 1`", "kill"},
		{"FOO=1 chmod 777 /etc", "chmod"},
		{"timeout 5 dd if=/dev/zero of=/tmp/z", "dd"},
		{"(sudo ls)", "sudo"},
		{`sh -c "rm /tmp/x"`, "rm"},
		{`bash -lc 'df -h; reboot'`, "reboot"},
		{"bash -o pipefail -c 'shutdown now'", "shutdown"},
		{`env -S "kill 1"`, "kill"},
		{"timeout -s KILL 5 rm /tmp/x", "rm"},
		{"nice -n 10 dd if=/dev/zero of=/tmp/z", "dd"},
		{"xargs -I {} rm {}", "rm"},
		{`\rm /tmp/x`, "rm"},
		{`r''m /tmp/x`, "rm"},
		{`"rm" /tmp/x`, "rm"},
		{"command -v rm", "rm"},
	}

	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			decision, err := guardrail.Evaluate(tt.command)
			require.NoError(t, err)
			assert.False(t, decision.Allowed())
			assert.Equal(t, tt.program, decision.Program)
		})
	}
}

func TestGuardrailCompoundCheckDisabled(t *testing.T) {
	guardrail, err := NewGuardrail("", false)
	require.NoError(t, err)

	decision, err := guardrail.Evaluate("ls; reboot")
	require.NoError(t, err)
	assert.True(t, decision.Allowed())

	decision, err = guardrail.Evaluate("reboot; ls")
	require.NoError(t, err)
	assert.False(t, decision.Allowed())
}

func TestGuardrailDangerPatterns(t *testing.T) {
	guardrail := newDefaultGuardrail(t)
	commands := []string{
		"git clean --force",
		"cp -rf /a /b",
		"chgrp --recursive users /srv",
		"foo --no-preserve-root /",
		"docker volume --delete data",
		"cat image.iso > /dev/sda",
		":(){ :|:& };:",
	}

	for _, command := range commands {
		decision, err := guardrail.Evaluate(command)
		require.NoError(t, err)
		assert.False(t, decision.Allowed(), command)
		assert.NotEmpty(t, decision.Reason)
	}
}

func TestGuardrailDeniesEmptyCommand(t *testing.T) {
	guardrail := newDefaultGuardrail(t)

	for _, command := range []string{"", "   ", "\n\t"} {
		decision, err := guardrail.Evaluate(command)
		require.NoError(t, err)
		assert.False(t, decision.Allowed())
		assert.Equal(t, "empty command", decision.Reason)
	}
}

func TestGuardrailLoadsRulesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "guardrail.yaml")
	rules := `rules:
  denied_programs: [curl]
  danger_patterns:
    - pattern: 'secret'
      message: Secret access
`
	require.NoError(t, os.WriteFile(path, []byte(rules), 0o600))

	guardrail, err := NewGuardrail(path, true)
	require.NoError(t, err)
	assert.Equal(t, path, guardrail.Source())
	assert.Equal(t, 1, guardrail.DeniedPrograms())

	decision, err := guardrail.Evaluate("curl http://example.com")
	require.NoError(t, err)
	assert.False(t, decision.Allowed())

	decision, err = guardrail.Evaluate("cat secret.txt")
	require.NoError(t, err)
	assert.Equal(t, "Secret access", decision.Reason)

	decision, err = guardrail.Evaluate("rm -r /tmp/x")
	require.NoError(t, err)
	assert.True(t, decision.Allowed(), "custom rules replace the defaults")
}

func TestGuardrailRejectsBrokenRules(t *testing.T) {
	dir := t.TempDir()

	badRegex := filepath.Join(dir, "regex.yaml")
	require.NoError(t, os.WriteFile(badRegex, []byte("rules:\n  danger_patterns:\n    - pattern: '('\n"), 0o600))
	_, err := NewGuardrail(badRegex, true)
	assert.Error(t, err)

	empty := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(empty, []byte("rules: {}\n"), 0o600))
	_, err = NewGuardrail(empty, true)
	assert.Error(t, err)
}

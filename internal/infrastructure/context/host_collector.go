package contextcollector

import (
	"bufio"
	"context"
	"os"
	"os/exec"
	"os/user"
	"runtime"
	"sort"
	"strings"

	"github.com/doeshing/sysadvisor/internal/domain"
	"github.com/doeshing/sysadvisor/internal/ports"
)

// DefaultTools are the diagnostic programs the model is told about when present.
var DefaultTools = []string{
	"ps", "df", "du", "free", "ss", "netstat", "ip", "journalctl", "systemctl",
	"lsof", "top", "vmstat", "iostat", "uptime", "dmesg",
}

// HostCollector implements ports.HostCollector with uname, os-release and PATH lookups.
type HostCollector struct {
	osReleasePath string
	lookPath      func(string) (string, error)
}

func NewHostCollector() *HostCollector {
	return &HostCollector{
		osReleasePath: "/etc/os-release",
		lookPath:      exec.LookPath,
	}
}

// Collect gathers host facts. Missing facts are left empty, never reported as errors.
func (c *HostCollector) Collect(ctx context.Context, cfg domain.Config) (domain.HostSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return domain.HostSnapshot{}, err
	}

	snapshot := domain.HostSnapshot{
		OS:     runtime.GOOS,
		Shell:  cfg.GetExecutionShell(),
		Kernel: kernelRelease(),
		User:   currentUser(),
	}
	if !cfg.Context.IncludeHost {
		return snapshot, nil
	}

	snapshot.Hostname, _ = os.Hostname()
	snapshot.Distro = c.distro()

	tools := cfg.Context.Tools
	if len(tools) == 0 {
		tools = DefaultTools
	}
	snapshot.AvailableTools = c.detectTools(tools)
	return snapshot, nil
}

func (c *HostCollector) detectTools(candidates []string) []string {
	var available []string
	for _, tool := range candidates {
		if _, err := c.lookPath(tool); err == nil {
			available = append(available, tool)
		}
	}
	sort.Strings(available)
	return available
}

// distro reads PRETTY_NAME from os-release, falling back to NAME.
func (c *HostCollector) distro() string {
	file, err := os.Open(c.osReleasePath)
	if err != nil {
		return ""
	}
	defer file.Close()

	values := map[string]string{}
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(scanner.Text()), "=")
		if !ok || strings.HasPrefix(key, "#") {
			continue
		}
		values[key] = strings.Trim(value, `"'`)
	}
	if pretty := values["PRETTY_NAME"]; pretty != "" {
		return pretty
	}
	return values["NAME"]
}

func currentUser() string {
	if name := os.Getenv("USER"); name != "" {
		return name
	}
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return ""
}

var _ ports.HostCollector = (*HostCollector)(nil)

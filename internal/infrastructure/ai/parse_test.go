package ai

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseReply(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    parsedReply
	}{
		{
			name:    "tool call",
			content: `[TOOL_CALLS] [{"name": "run_shell_command", "arguments": {"command": "df -h"}}]`,
			want:    parsedReply{Command: "df -h"},
		},
		{
			name:    "tool call with nested brackets",
			content: `[TOOL_CALLS][{"name":"run_shell_command","arguments":{"command":"ls /var/log/[a-c]*"}}] trailing`,
			want:    parsedReply{Command: "ls /var/log/[a-c]*"},
		},
		{
			name:    "double encoded arguments",
			content: `[TOOL_CALLS] [{"name": "run_shell_command", "arguments": "{\"command\": \"free -m\"}"}]`,
			want:    parsedReply{Command: "free -m"},
		},
		{
			name:    "unknown tool falls through to command line",
			content: "[TOOL_CALLS] [{\"name\": \"other\", \"arguments\": {}}]\nCOMMAND: uptime",
			want:    parsedReply{Command: "uptime"},
		},
		{
			name:    "command line",
			content: "I will check memory.\nCOMMAND: free -m\n",
			want:    parsedReply{Command: "free -m"},
		},
		{
			name:    "command line in backticks",
			content: "command: `ps aux --sort=-%mem`",
			want:    parsedReply{Command: "ps aux --sort=-%mem"},
		},
		{
			name:    "fenced block",
			content: "Let's look:\n```bash\n# disk usage\n$ df -h\n```\n",
			want:    parsedReply{Command: "df -h"},
		},
		{
			name:    "inline fence",
			content: "```uptime```",
			want:    parsedReply{Command: "uptime"},
		},
		{
			name:    "completion marker",
			content: "INVESTIGATION_COMPLETE",
			want:    parsedReply{Done: true},
		},
		{
			name:    "done line",
			content: "Everything checked.\nDONE\n",
			want:    parsedReply{Done: true},
		},
		{
			name:    "done wins over command",
			content: "COMMAND: df -h\nINVESTIGATION_COMPLETE",
			want:    parsedReply{Done: true},
		},
		{
			name:    "done inside a word is not a marker",
			content: "I am DONE with nothing",
			want:    parsedReply{},
		},
		{
			name:    "prose only",
			content: "Your disk looks fine I think.",
			want:    parsedReply{},
		},
		{
			name:    "unterminated fence",
			content: "```bash\ndf -h",
			want:    parsedReply{},
		},
		{
			name:    "broken tool json",
			content: `[TOOL_CALLS] [{"name": "run_shell_command",`,
			want:    parsedReply{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseReply(tt.content))
		})
	}
}

func TestJoinURL(t *testing.T) {
	tests := []struct {
		base string
		path string
		want string
	}{
		{"http://localhost:11434", "/api/chat", "http://localhost:11434/api/chat"},
		{"http://localhost:11434/", "/api/tags", "http://localhost:11434/api/tags"},
		{"http://localhost:11434/api/chat", "/api/tags", "http://localhost:11434/api/tags"},
		{"http://localhost:8080/v1", "/v1/models", "http://localhost:8080/v1/models"},
		{"http://localhost:8080/v1/chat/completions", "/v1/chat/completions", "http://localhost:8080/v1/chat/completions"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, joinURL(tt.base, tt.path))
	}
}

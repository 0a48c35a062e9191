package ai

import (
	"encoding/json"
	"strings"
)

const (
	toolName         = "run_shell_command"
	toolCallsMarker  = "[TOOL_CALLS]"
	completionMarker = "INVESTIGATION_COMPLETE"
	commandPrefix    = "command:"
	fence            = "```"
)

type parsedReply struct {
	Command string
	Done    bool
}

// parseReply extracts the next step from free-form model output.
// A completion marker wins over any command in the same reply.
func parseReply(content string) parsedReply {
	if isDone(content) {
		return parsedReply{Done: true}
	}
	for _, extract := range []func(string) string{extractToolCall, extractCommandLine, extractCodeBlock} {
		if command := cleanCommand(extract(content)); command != "" {
			return parsedReply{Command: command}
		}
	}
	return parsedReply{}
}

func isDone(content string) bool {
	if strings.Contains(content, completionMarker) {
		return true
	}
	for _, line := range strings.Split(content, "\n") {
		if strings.TrimSpace(line) == "DONE" {
			return true
		}
	}
	return false
}

// extractToolCall reads a Mistral-style `[TOOL_CALLS] [{"name": ..., "arguments": {...}}]` block.
func extractToolCall(content string) string {
	idx := strings.Index(content, toolCallsMarker)
	if idx < 0 {
		return ""
	}
	var calls []struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	decoder := json.NewDecoder(strings.NewReader(content[idx+len(toolCallsMarker):]))
	if err := decoder.Decode(&calls); err != nil {
		return ""
	}
	for _, call := range calls {
		if call.Name != toolName {
			continue
		}
		var args map[string]any
		if err := json.Unmarshal(call.Arguments, &args); err != nil {
			// Some models double-encode the arguments object.
			var encoded string
			if json.Unmarshal(call.Arguments, &encoded) != nil || json.Unmarshal([]byte(encoded), &args) != nil {
				continue
			}
		}
		if command := commandArgument(args); command != "" {
			return command
		}
	}
	return ""
}

func commandArgument(args map[string]any) string {
	command, _ := args["command"].(string)
	return strings.TrimSpace(command)
}

func extractCommandLine(content string) string {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(strings.ToLower(line), commandPrefix) {
			return strings.TrimSpace(line[len(commandPrefix):])
		}
	}
	return ""
}

// extractCodeBlock returns the first command line inside the first fenced block.
func extractCodeBlock(content string) string {
	start := strings.Index(content, fence)
	if start < 0 {
		return ""
	}
	rest := content[start+len(fence):]
	end := strings.Index(rest, fence)
	if end < 0 {
		return ""
	}

	lines := strings.Split(rest[:end], "\n")
	// The opening line holds the language tag, if any.
	if len(lines) > 1 {
		lines = lines[1:]
	}
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		return line
	}
	return ""
}

func cleanCommand(command string) string {
	command = strings.TrimSpace(command)
	command = strings.Trim(command, "`")
	command = strings.TrimPrefix(command, "$ ")
	return strings.TrimSpace(command)
}

package security

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"

	"github.com/doeshing/sysadvisor/assets"
	"github.com/doeshing/sysadvisor/internal/domain"
	"github.com/doeshing/sysadvisor/internal/pkg/filesystem"
	"github.com/doeshing/sysadvisor/internal/ports"
)

// Guardrail implements the SafetyFilter port with a program denylist plus argument patterns.
type Guardrail struct {
	denied        map[string]struct{}
	patterns      []compiledPattern
	checkCompound bool
	source        string
}

type compiledPattern struct {
	re   *regexp.Regexp
	rule DangerPattern
}

// DangerPattern describes a regex-based guardrail rule.
type DangerPattern struct {
	Pattern string `yaml:"pattern"`
	Message string `yaml:"message"`
}

// RulesFile is the YAML schema root.
type RulesFile struct {
	Rules struct {
		DeniedPrograms []string        `yaml:"denied_programs"`
		DangerPatterns []DangerPattern `yaml:"danger_patterns"`
	} `yaml:"rules"`
}

// Programs that run another program given as an argument, with the options
// whose value is a separate word.
var wrappers = map[string]map[string]bool{
	"env":     {"-u": true, "--unset": true, "-C": true, "--chdir": true},
	"nice":    {"-n": true, "--adjustment": true},
	"nohup":   nil,
	"timeout": {"-s": true, "--signal": true, "-k": true, "--kill-after": true},
	"xargs": {
		"-I": true, "-n": true, "-L": true, "-P": true, "-d": true, "-E": true, "-s": true, "-a": true,
		"--max-args": true, "--max-lines": true, "--max-procs": true, "--delimiter": true, "--arg-file": true,
	},
	"exec":    {"-a": true},
	"command": nil,
	"time":    {"-f": true, "--format": true, "-o": true, "--output": true},
	"watch":   {"-n": true, "--interval": true},
	"stdbuf":  {"-i": true, "-o": true, "-e": true},
}

// Shells whose -c argument is itself a command line.
var shells = map[string]struct{}{
	"sh": {}, "bash": {}, "dash": {}, "zsh": {}, "ksh": {}, "mksh": {}, "ash": {}, "fish": {},
}

var (
	substitutionRe = regexp.MustCompile("\\$\\(([^()]*)\\)|`([^`]*)`")
	separatorRe    = regexp.MustCompile(`\|\||&&|[;|&\n]`)
	assignmentRe   = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*=`)
)

// NewGuardrail loads rules from path, or the embedded defaults when the file is absent.
func NewGuardrail(path string, checkCompound bool) (*Guardrail, error) {
	rules, source, err := loadRules(path)
	if err != nil {
		return nil, err
	}

	g := &Guardrail{
		denied:        make(map[string]struct{}, len(rules.Rules.DeniedPrograms)),
		checkCompound: checkCompound,
		source:        source,
	}
	for _, program := range rules.Rules.DeniedPrograms {
		if program = strings.TrimSpace(program); program != "" {
			g.denied[program] = struct{}{}
		}
	}
	for _, pattern := range rules.Rules.DangerPatterns {
		re, err := regexp.Compile(pattern.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", pattern.Pattern, err)
		}
		g.patterns = append(g.patterns, compiledPattern{re: re, rule: pattern})
	}
	return g, nil
}

// Source names where the rules were loaded from.
func (g *Guardrail) Source() string {
	return g.source
}

// DeniedPrograms returns the number of denylisted programs.
func (g *Guardrail) DeniedPrograms() int {
	return len(g.denied)
}

// Evaluate implements ports.SafetyFilter.
func (g *Guardrail) Evaluate(command string) (domain.SafetyDecision, error) {
	if g == nil {
		return domain.SafetyDecision{}, errors.New("guardrail nil")
	}
	command = strings.TrimSpace(command)
	if command == "" {
		return domain.SafetyDecision{Verdict: domain.VerdictDeny, Reason: "empty command"}, nil
	}

	if program, ok := g.deniedIn(command); ok {
		return domain.SafetyDecision{
			Verdict: domain.VerdictDeny,
			Program: program,
			Reason:  fmt.Sprintf("program %q is on the denylist", program),
			Rule:    "denied_programs",
		}, nil
	}

	for _, pattern := range g.patterns {
		if pattern.re.MatchString(command) {
			return domain.SafetyDecision{
				Verdict: domain.VerdictDeny,
				Program: leadingProgram(command),
				Reason:  pattern.rule.Message,
				Rule:    pattern.rule.Pattern,
			}, nil
		}
	}

	return domain.SafetyDecision{Verdict: domain.VerdictAllow, Program: leadingProgram(command)}, nil
}

// deniedIn reports the first denylisted program in any simple command of command.
func (g *Guardrail) deniedIn(command string) (string, bool) {
	segments := []string{command}
	if g.checkCompound {
		segments = splitCompound(command)
	}
	for _, segment := range segments {
		if program, ok := g.deniedProgram(programTokens(segment)); ok {
			return program, true
		}
	}
	return "", false
}

// deniedProgram checks the leading program of one simple command, looking
// through wrappers like xargs and the command string of sh -c.
func (g *Guardrail) deniedProgram(tokens []string) (string, bool) {
	for i := 0; i < len(tokens); {
		program := filepath.Base(tokens[i])
		if g.isDenied(program) {
			return program, true
		}
		if _, ok := shells[program]; ok {
			return g.deniedInShellArgs(tokens[i+1:])
		}
		valueFlags, ok := wrappers[program]
		if !ok {
			return "", false
		}

		i++
	options:
		for i < len(tokens) {
			arg := tokens[i]
			switch {
			case program == "env" && (arg == "-S" || arg == "--split-string"):
				if i+1 < len(tokens) {
					return g.deniedIn(tokens[i+1])
				}
				return "", false
			case program == "env" && strings.HasPrefix(arg, "--split-string="):
				return g.deniedIn(strings.TrimPrefix(arg, "--split-string="))
			case valueFlags[arg]:
				i += 2
			case strings.HasPrefix(arg, "-"), isNumeric(arg), assignmentRe.MatchString(arg):
				i++
			default:
				break options
			}
		}
	}
	return "", false
}

// deniedInShellArgs evaluates the command string given to a shell with -c.
func (g *Guardrail) deniedInShellArgs(args []string) (string, bool) {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "-o" || arg == "+o":
			i++
		case strings.HasPrefix(arg, "--"):
			// --norc, --login
		case strings.HasPrefix(arg, "-") && strings.ContainsRune(arg[1:], 'c'):
			if i+1 < len(args) {
				return g.deniedIn(args[i+1])
			}
			return "", false
		case strings.HasPrefix(arg, "-") || strings.HasPrefix(arg, "+"):
		default:
			// A script path; its contents are not inspected.
			return "", false
		}
	}
	return "", false
}

func (g *Guardrail) isDenied(program string) bool {
	if _, ok := g.denied[program]; ok {
		return true
	}
	// mkfs.ext4, fsck.xfs
	if idx := strings.Index(program, "."); idx > 0 {
		_, ok := g.denied[program[:idx]]
		return ok
	}
	return false
}

// splitCompound returns every simple command inside command, including substitutions.
func splitCompound(command string) []string {
	var segments []string
	for _, match := range substitutionRe.FindAllStringSubmatch(command, -1) {
		inner := match[1]
		if inner == "" {
			inner = match[2]
		}
		segments = append(segments, splitCompound(inner)...)
	}
	flat := substitutionRe.ReplaceAllString(command, " ")
	for _, part := range separatorRe.Split(flat, -1) {
		if part = strings.TrimSpace(part); part != "" {
			segments = append(segments, part)
		}
	}
	return segments
}

// programTokens splits a simple command into words after quote removal,
// dropping grouping characters and leading variable assignments.
func programTokens(segment string) []string {
	fields := shellWords(strings.TrimLeft(strings.TrimSpace(segment), "({!"))
	for len(fields) > 0 && assignmentRe.MatchString(fields[0]) {
		fields = fields[1:]
	}
	for i, field := range fields {
		fields[i] = strings.Trim(field, "();&|`{}")
	}
	return fields
}

// shellWords splits text on unquoted whitespace, removing quotes and backslash
// escapes the way the shell does before running a command.
func shellWords(text string) []string {
	var (
		words   []string
		word    strings.Builder
		inWord  bool
		quote   rune
		escaped bool
	)
	for _, r := range text {
		switch {
		case escaped:
			word.WriteRune(r)
			escaped = false
		case r == '\\' && quote != '\'':
			escaped = true
			inWord = true
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				word.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote = r
			inWord = true
		case unicode.IsSpace(r):
			if inWord {
				words = append(words, word.String())
				word.Reset()
				inWord = false
			}
		default:
			word.WriteRune(r)
			inWord = true
		}
	}
	if inWord {
		words = append(words, word.String())
	}
	return words
}

func leadingProgram(command string) string {
	tokens := programTokens(command)
	if len(tokens) == 0 {
		return ""
	}
	return filepath.Base(tokens[0])
}

func isNumeric(token string) bool {
	if token == "" || token[0] < '0' || token[0] > '9' {
		return false
	}
	for _, r := range token {
		if (r < '0' || r > '9') && r != '.' && r != 's' && r != 'm' {
			return false
		}
	}
	return true
}

func loadRules(path string) (RulesFile, string, error) {
	var rules RulesFile
	source := "embedded defaults"
	data := assets.DefaultGuardrailYAML

	if path != "" {
		path = filesystem.ExpandPath(path)
		fileData, err := os.ReadFile(path)
		switch {
		case err == nil:
			data = fileData
			source = path
		case !errors.Is(err, fs.ErrNotExist):
			return RulesFile{}, "", err
		}
	}

	if err := yaml.Unmarshal(data, &rules); err != nil {
		return RulesFile{}, "", fmt.Errorf("parse %s: %w", source, err)
	}
	if len(rules.Rules.DeniedPrograms) == 0 && len(rules.Rules.DangerPatterns) == 0 {
		return RulesFile{}, "", fmt.Errorf("%s: no rules defined", source)
	}
	return rules, source, nil
}

var _ ports.SafetyFilter = (*Guardrail)(nil)

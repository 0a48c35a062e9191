package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/doeshing/sysadvisor/internal/ports"
)

// Prompter implements ConfirmationPrompter using stdin/stdout.
type Prompter struct {
	in          *bufio.Reader
	out         io.Writer
	interactive bool
	// beforeAsk runs ahead of each question, e.g. to stop the spinner.
	beforeAsk func()
}

// NewPrompter constructs a prompter referencing stdio.
// Confirmation is only offered when the input is a terminal.
func NewPrompter(in io.Reader, out io.Writer) *Prompter {
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stdout
	}
	return &Prompter{
		in:          bufio.NewReader(in),
		out:         out,
		interactive: isInputTerminal(in),
	}
}

// Enabled indicates the prompter can ask the operator.
func (p *Prompter) Enabled() bool {
	return p.interactive
}

// Confirm shows the command and waits for y/yes.
func (p *Prompter) Confirm(command string) (bool, error) {
	if p.beforeAsk != nil {
		p.beforeAsk()
	}
	fmt.Fprintf(p.out, "Command:\n  %s\n", command)
	fmt.Fprint(p.out, "Run it? [y/N]: ")
	line, err := p.in.ReadString('\n')
	if err != nil {
		return false, err
	}
	line = strings.ToLower(strings.TrimSpace(line))
	return line == "y" || line == "yes", nil
}

func isInputTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	if !ok {
		return false
	}
	return isTerminal(f)
}

var _ ports.ConfirmationPrompter = (*Prompter)(nil)

package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/doeshing/sysadvisor/internal/app"
	"github.com/doeshing/sysadvisor/internal/domain"
)

const sessionHelp = `Ask about this machine in plain language, for example:
  why is my CPU slow
  show me disk usage
  what processes are using the most memory
  is nginx running

Commands:
  exit, quit   end the session
  clear        clear the screen
  help         show this message

Every suggested command passes a denylist before it runs.
Ctrl-C stops the current question.`

// runSession reads questions until exit/quit or end of input.
func runSession(cmd *cobra.Command, container *app.Container, flags queryFlags, verbose bool) error {
	in := bufio.NewReader(cmd.InOrStdin())
	out := cmd.OutOrStdout()
	// The prompter shares the reader so buffered input is not lost between questions.
	prompter := &Prompter{in: in, out: out, interactive: true}

	fmt.Fprintln(out, "sysadvisor interactive session")
	fmt.Fprintln(out, "Type 'help' for usage, 'exit' or 'quit' to leave.")

	for {
		fmt.Fprint(out, "\n> ")
		line, err := in.ReadString('\n')
		if err != nil && (!errors.Is(err, io.EOF) || line == "") {
			fmt.Fprintln(out)
			return nil
		}
		input := strings.TrimSpace(line)

		switch strings.ToLower(input) {
		case "":
			continue
		case "exit", "quit":
			return nil
		case "clear":
			fmt.Fprint(out, "\033[H\033[2J")
			continue
		case "help":
			fmt.Fprintln(out, sessionHelp)
			continue
		}

		query, err := domain.NormalizeQuery([]string{input})
		if err != nil {
			continue
		}
		if err := runQuery(cmd, container, flags, verbose, query, prompter); err != nil {
			if cmd.Context().Err() != nil {
				return err
			}
			if errors.Is(err, context.Canceled) {
				fmt.Fprintln(out, "interrupted")
				continue
			}
			// A failed question does not end the session.
			printError(out, err)
		}
	}
}

func printError(out io.Writer, err error) {
	fmt.Fprintln(out, "error:", err)
	if hint := Hint(err); hint != "" {
		fmt.Fprintln(out, "hint:", hint)
	}
}

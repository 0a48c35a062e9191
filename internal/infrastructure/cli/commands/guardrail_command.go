package commands

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/doeshing/sysadvisor/internal/app"
)

// NewGuardrailCommand creates the guardrail command with status/check subcommands
func NewGuardrailCommand(container *app.Container) *cobra.Command {
	guardrailCmd := &cobra.Command{
		Use:   "guardrail",
		Short: "Inspect the command safety filter",
	}

	guardrailCmd.AddCommand(
		newGuardrailStatusCommand(container),
		newGuardrailCheckCommand(container),
	)

	return guardrailCmd
}

// newGuardrailStatusCommand shows which rules are loaded
func newGuardrailStatusCommand(container *app.Container) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the active rules source",
		RunE: func(cmd *cobra.Command, args []string) error {
			showGuardrailStatus(cmd.OutOrStdout(), container)
			return nil
		},
	}
}

// newGuardrailCheckCommand evaluates a command without running it
func newGuardrailCheckCommand(container *app.Container) *cobra.Command {
	return &cobra.Command{
		Use:   "check <command...>",
		Short: "Report whether a command would be allowed",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return checkCommand(cmd.OutOrStdout(), container, strings.Join(args, " "))
		},
	}
}

// showGuardrailStatus displays the current guardrail status
func showGuardrailStatus(out io.Writer, container *app.Container) {
	compound := "off"
	if container.Config.ShouldCheckCompound() {
		compound = "on"
	}
	fmt.Fprintf(out, "Rules: %s\n", container.Guardrail.Source())
	fmt.Fprintf(out, "Denied programs: %d\n", container.Guardrail.DeniedPrograms())
	fmt.Fprintf(out, "Compound checking: %s\n", compound)
}

// checkCommand prints the verdict for command.
func checkCommand(out io.Writer, container *app.Container, command string) error {
	decision, err := container.Guardrail.Evaluate(command)
	if err != nil {
		return err
	}
	if decision.Allowed() {
		fmt.Fprintf(out, "allowed: %s\n", command)
		return nil
	}
	fmt.Fprintf(out, "denied: %s\n", command)
	fmt.Fprintf(out, "reason: %s\n", decision.Reason)
	return nil
}

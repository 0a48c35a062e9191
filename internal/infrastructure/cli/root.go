package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/doeshing/sysadvisor/internal/app"
	"github.com/doeshing/sysadvisor/internal/domain"
	"github.com/doeshing/sysadvisor/internal/infrastructure/cli/commands"
	"github.com/doeshing/sysadvisor/internal/version"
)

// queryFlags holds the per-question flags of the root command.
type queryFlags struct {
	dryRun        bool
	confirm       bool
	model         string
	maxIterations int
	timeout       time.Duration
}

// Execute runs the CLI and releases the container whatever the outcome.
func Execute(ctx context.Context, args []string) error {
	container := &app.Container{}
	root := NewRootCmd(container)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if container.ConfigLoader != nil {
		if closeErr := container.Close(); err == nil {
			err = closeErr
		}
	}
	return err
}

// NewRootCmd wires the cobra root command. The container is filled in once
// flags are parsed, before any command runs.
func NewRootCmd(container *app.Container) *cobra.Command {
	var (
		opts  app.Options
		flags queryFlags
	)

	root := &cobra.Command{
		Use:   "sysadvisor [question]",
		Short: "Diagnose a Linux host by asking in plain language",
		Long: "sysadvisor asks a locally hosted model which diagnostic commands to run,\n" +
			"checks each one against a denylist, runs the allowed ones with a timeout\n" +
			"and summarizes what they found.",
		Version: version.Version,
		// Words that do not name a subcommand form the question.
		Args: cobra.ArbitraryArgs,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if skipsContainer(cmd) {
				return nil
			}
			built, err := app.BuildContainer(cmd.Context(), opts)
			if err != nil {
				return err
			}
			*container = *built
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				if isTerminal(os.Stdin) && isTerminal(cmd.OutOrStdout()) {
					return runSession(cmd, container, flags, opts.Debug)
				}
				return domain.ErrEmptyQuery
			}
			query, err := domain.NormalizeQuery(args)
			if err != nil {
				return err
			}
			return runQuery(cmd, container, flags, opts.Debug, query, NewPrompter(cmd.InOrStdin(), cmd.OutOrStdout()))
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "Config file (default ~/.sysadvisor/config.yaml)")
	root.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "Diagnostic log level: debug|info|warn|error")
	root.PersistentFlags().BoolVar(&opts.Debug, "debug", false, "Debug logging and full command output")

	root.Flags().BoolVar(&flags.dryRun, "dry-run", false, "Show the commands that would run without running them")
	root.Flags().BoolVar(&flags.confirm, "confirm", false, "Ask before running each command")
	root.Flags().StringVarP(&flags.model, "model", "m", "", "Model name or model id (default from config)")
	root.Flags().IntVar(&flags.maxIterations, "max-iterations", 0, "Maximum commands per question (default from config)")
	root.Flags().DurationVar(&flags.timeout, "timeout", 0, "Per-command timeout (default from config)")

	root.AddCommand(
		commands.NewDoctorCommand(container),
		commands.NewModelsCommand(container),
		commands.NewHistoryCommand(container, RenderTranscript),
		commands.NewConfigCommand(container),
		commands.NewGuardrailCommand(container),
		commands.NewVersionCommand(),
	)
	return root
}

// runQuery answers one question and prints the outcome.
func runQuery(cmd *cobra.Command, container *app.Container, flags queryFlags, verbose bool, query domain.Query, prompter *Prompter) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	progress := NewProgress(out, verbose)
	defer progress.Done()
	prompter.beforeAsk = progress.Done

	service := *container.DiagnoseService
	service.Progress = progress
	service.Prompter = prompter

	report, err := service.Run(ctx, domain.DiagnosticRequest{
		Query:          query,
		ModelOverride:  flags.model,
		DryRun:         flags.dryRun,
		Confirm:        flags.confirm,
		MaxIterations:  flags.maxIterations,
		CommandTimeout: flags.timeout,
	})
	progress.Done()
	if err != nil {
		return err
	}
	RenderReport(out, report)
	return nil
}

func skipsContainer(cmd *cobra.Command) bool {
	if cmd.Annotations[commands.AnnotationNoContainer] != "" {
		return true
	}
	for c := cmd; c != nil; c = c.Parent() {
		switch c.Name() {
		case "help", "completion", cobra.ShellCompRequestCmd, cobra.ShellCompNoDescRequestCmd:
			return true
		}
	}
	return false
}

package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/doeshing/sysadvisor/internal/app"
	"github.com/doeshing/sysadvisor/internal/application/diagnose"
	"github.com/doeshing/sysadvisor/internal/domain"
)

// NewModelsCommand creates the models command with all subcommands
func NewModelsCommand(container *app.Container) *cobra.Command {
	modelsCmd := &cobra.Command{
		Use:   "models",
		Short: "Inspect configured model servers and download models",
	}

	modelsCmd.AddCommand(
		newModelsListCommand(container),
		newModelsTestCommand(container),
		newModelsPullCommand(container),
	)

	return modelsCmd
}

// newModelsListCommand creates the 'models list' subcommand
func newModelsListCommand(container *app.Container) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured models and whether their server serves them",
		RunE: func(cmd *cobra.Command, args []string) error {
			return listModels(cmd.Context(), cmd.OutOrStdout(), container)
		},
	}
}

// newModelsTestCommand creates the 'models test' subcommand
func newModelsTestCommand(container *app.Container) *cobra.Command {
	return &cobra.Command{
		Use:   "test [name]",
		Short: "Probe the server of a configured model (default model when omitted)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return testModel(cmd.Context(), cmd.OutOrStdout(), container, firstArg(args))
		},
	}
}

// newModelsPullCommand creates the 'models pull' subcommand
func newModelsPullCommand(container *app.Container) *cobra.Command {
	var modelName string

	cmd := &cobra.Command{
		Use:   "pull [model-id]",
		Short: "Download a model onto an Ollama server (default: the configured model id)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return pullModel(ctx, cmd.OutOrStdout(), container, modelName, firstArg(args))
		},
	}

	cmd.Flags().StringVarP(&modelName, "model", "m", "", "Configured model whose server receives the pull")
	return cmd
}

// listModels prints every configured model with its availability on the server.
func listModels(ctx context.Context, out io.Writer, container *app.Container) error {
	cfg, err := container.ConfigProvider.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tPROVIDER\tMODEL ID\tENDPOINT\tDEFAULT\tSTATUS")

	for _, model := range cfg.Models {
		defaultMarker := ""
		if cfg.Preferences.DefaultModel == model.Name {
			defaultMarker = "*"
		}
		provider, status := "?", "unknown"
		if p, err := container.Models.ForModel(model); err != nil {
			status = err.Error()
		} else {
			provider = p.Name()
			status = availability(ctx, p.ListModels, model.GetModelID())
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			model.Name,
			provider,
			model.GetModelID(),
			model.GetEndpoint(),
			defaultMarker,
			status)
	}

	return tw.Flush()
}

func availability(ctx context.Context, list func(context.Context) ([]string, error), modelID string) string {
	probeCtx, cancel := context.WithTimeout(ctx, domain.DefaultProbeTimeout)
	defer cancel()
	available, err := list(probeCtx)
	switch {
	case err != nil:
		return "unreachable"
	case diagnose.ServesModel(available, modelID):
		return "available"
	default:
		return "not installed"
	}
}

// testModel checks that the server answers and serves the model.
func testModel(ctx context.Context, out io.Writer, container *app.Container, modelName string) error {
	cfg, err := container.ConfigProvider.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	model, err := lookupModel(cfg, modelName)
	if err != nil {
		return err
	}

	provider, err := container.Models.ForModel(model)
	if err != nil {
		return fmt.Errorf("failed to create provider for model %s: %w", model.Name, err)
	}

	probeCtx, cancel := context.WithTimeout(ctx, domain.DefaultProbeTimeout)
	defer cancel()
	started := time.Now()
	available, err := provider.ListModels(probeCtx)
	if err != nil {
		return fmt.Errorf("model %s test failed: %w", model.Name, err)
	}

	fmt.Fprintf(out, "%s server at %s answered in %s.\n", provider.Name(), model.GetEndpoint(), time.Since(started).Round(time.Millisecond))
	if !diagnose.ServesModel(available, model.GetModelID()) {
		fmt.Fprintf(out, "Model %s is not installed; available: %s\n", model.GetModelID(), strings.Join(available, ", "))
		return fmt.Errorf("%w: %s", domain.ErrModelNotInstalled, model.GetModelID())
	}
	fmt.Fprintf(out, "Model %s is available.\n", model.GetModelID())
	return nil
}

// pullModel downloads modelID (or the configured id) through the server of the named model.
func pullModel(ctx context.Context, out io.Writer, container *app.Container, modelName, modelID string) error {
	cfg, err := container.ConfigProvider.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	model, err := lookupModel(cfg, modelName)
	if err != nil {
		return err
	}
	if modelID == "" {
		modelID = model.GetModelID()
	}

	puller, ok, err := container.Models.Puller(model)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("the %s server of model %s cannot download models; install %s with the server's own tooling", model.Provider, model.Name, modelID)
	}

	fmt.Fprintf(out, "Pulling %s from %s (this can take a while)...\n", modelID, model.GetEndpoint())
	started := time.Now()
	if err := puller.Pull(ctx, modelID); err != nil {
		return fmt.Errorf("pull %s: %w", modelID, err)
	}
	fmt.Fprintf(out, "Pulled %s in %s.\n", modelID, time.Since(started).Round(time.Second))
	return nil
}

func lookupModel(cfg domain.Config, name string) (domain.ModelDefinition, error) {
	if name == "" {
		return cfg.GetDefaultModel()
	}
	model, ok := cfg.FindModelByName(name)
	if !ok {
		return domain.ModelDefinition{}, fmt.Errorf("%w: %s", domain.ErrModelNotFound, name)
	}
	return model, nil
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/doeshing/sysadvisor/internal/app"
	"github.com/doeshing/sysadvisor/internal/domain"
	"github.com/doeshing/sysadvisor/internal/infrastructure/history"
	"github.com/doeshing/sysadvisor/internal/ports"
)

// TranscriptRenderer prints a stored transcript in full.
type TranscriptRenderer func(out io.Writer, t domain.Transcript, now time.Time)

// NewHistoryCommand creates the history command with all subcommands
func NewHistoryCommand(container *app.Container, render TranscriptRenderer) *cobra.Command {
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect past diagnostic runs",
	}

	historyCmd.AddCommand(
		newHistoryListCommand(container),
		newHistorySearchCommand(container),
		newHistoryShowCommand(container, render),
		newHistoryClearCommand(container),
		newHistoryExportCommand(container),
		newHistoryPruneCommand(container),
	)

	return historyCmd
}

// newHistoryListCommand creates the 'history list' subcommand
func newHistoryListCommand(container *app.Container) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return listHistoryEntries(cmd.Context(), cmd.OutOrStdout(), container, limit, "")
		},
	}

	cmd.Flags().IntVar(&limit, "limit", domain.DefaultHistoryLimit, "Max entries to show")
	return cmd
}

// newHistorySearchCommand creates the 'history search' subcommand
func newHistorySearchCommand(container *app.Container) *cobra.Command {
	var searchLimit int

	cmd := &cobra.Command{
		Use:   "search <keyword...>",
		Short: "Search questions, summaries and commands",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return listHistoryEntries(cmd.Context(), cmd.OutOrStdout(), container, searchLimit, strings.Join(args, " "))
		},
	}

	cmd.Flags().IntVar(&searchLimit, "limit", domain.DefaultHistorySearchLimit, "Limit search results")
	return cmd
}

// newHistoryShowCommand creates the 'history show' subcommand
func newHistoryShowCommand(container *app.Container, render TranscriptRenderer) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show every step of one run (an id prefix is enough)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return showHistoryEntry(cmd.Context(), cmd.OutOrStdout(), container, render, args[0])
		},
	}
}

// newHistoryClearCommand creates the 'history clear' subcommand
func newHistoryClearCommand(container *app.Container) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete every stored run",
		RunE: func(cmd *cobra.Command, args []string) error {
			return clearHistory(cmd.Context(), cmd.OutOrStdout(), container)
		},
	}
}

// newHistoryExportCommand creates the 'history export' subcommand
func newHistoryExportCommand(container *app.Container) *cobra.Command {
	return &cobra.Command{
		Use:   "export [path]",
		Short: "Export history as JSON lines (stdout when no path is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return exportHistory(cmd.Context(), cmd.OutOrStdout(), container, firstArg(args))
		},
	}
}

// newHistoryPruneCommand creates the 'history prune' subcommand
func newHistoryPruneCommand(container *app.Container) *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete runs older than N days (default history.retention_days)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if days < 0 {
				return fmt.Errorf("--days must be >= 0")
			}
			return pruneHistory(cmd.Context(), cmd.OutOrStdout(), container, days)
		},
	}

	cmd.Flags().IntVar(&days, "days", 0, "Days to retain (0 uses the configured retention)")
	return cmd
}

func historyStore(container *app.Container) (ports.HistoryRepository, error) {
	if container.HistoryStore == nil {
		return nil, fmt.Errorf(ErrHistoryStoreUnavailable)
	}
	return container.HistoryStore, nil
}

// listHistoryEntries prints one line per run, newest first.
func listHistoryEntries(ctx context.Context, out io.Writer, container *app.Container, limit int, search string) error {
	store, err := historyStore(container)
	if err != nil {
		return err
	}

	records, err := store.Records(ctx, limit, search)
	if err != nil {
		return fmt.Errorf("failed to retrieve history records: %w", err)
	}
	if len(records) == 0 {
		fmt.Fprintln(out, MsgNoHistoryRecorded)
		return nil
	}

	now := time.Now()
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, rec := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d step(s)\t%s\t%s\n",
			shortID(rec.ID),
			rec.Timestamp.Local().Format(listTimestampFormat),
			humanize.RelTime(rec.Timestamp, now, "ago", "from now"),
			rec.Steps,
			rec.Termination,
			rec.Query)
	}
	return tw.Flush()
}

// showHistoryEntry prints one stored transcript.
func showHistoryEntry(ctx context.Context, out io.Writer, container *app.Container, render TranscriptRenderer, id string) error {
	store, err := historyStore(container)
	if err != nil {
		return err
	}

	record, err := store.Get(ctx, id)
	if err != nil {
		return err
	}
	if record.Transcript == nil {
		fmt.Fprintf(out, "%s  %s\n%s\n", record.ID, record.Query, record.Summary)
		return nil
	}
	render(out, *record.Transcript, time.Now())
	return nil
}

// clearHistory removes every stored run.
func clearHistory(ctx context.Context, out io.Writer, container *app.Container) error {
	store, err := historyStore(container)
	if err != nil {
		return err
	}

	if err := store.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear history: %w", err)
	}

	fmt.Fprintf(out, "Cleared %s\n", store.Path())
	return nil
}

// exportHistory writes JSON lines to path or out.
func exportHistory(ctx context.Context, out io.Writer, container *app.Container, path string) error {
	store, err := historyStore(container)
	if err != nil {
		return err
	}

	if path == "" {
		_, err := history.ExportJSONL(ctx, store, out)
		return err
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, domain.SecureFilePermissions)
	if err != nil {
		return fmt.Errorf("failed to export history to %s: %w", path, err)
	}
	count, err := history.ExportJSONL(ctx, store, file)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("failed to export history to %s: %w", path, err)
	}

	fmt.Fprintf(out, "Exported %d run(s) to %s\n", count, path)
	return nil
}

// pruneHistory deletes runs older than days, or the configured retention.
func pruneHistory(ctx context.Context, out io.Writer, container *app.Container, days int) error {
	store, err := historyStore(container)
	if err != nil {
		return err
	}

	if days == 0 {
		days = container.Config.GetHistoryRetentionDays()
	}
	cutoff := time.Now().AddDate(0, 0, -days)

	removed, err := store.Prune(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to prune old history: %w", err)
	}

	fmt.Fprintf(out, "Removed %d run(s) older than %d days.\n", removed, days)
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

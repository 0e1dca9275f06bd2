package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/michaelbrown/sandboxer/internal/storage"
)

var (
	statusFilter string
	limitFlag    int
	exportFormat string
	exportOutput string
	forceFlag    bool
)

var runsCmd = &cobra.Command{
	Use:     "runs",
	Aliases: []string{"history"},
	Short:   "Inspect recorded runs",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded runs",
	RunE:  runRunsList,
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show run details and agent messages",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsShow,
}

var runsDeleteCmd = &cobra.Command{
	Use:   "delete <run-id>",
	Short: "Delete a run",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsDelete,
}

var runsExportCmd = &cobra.Command{
	Use:   "export <run-id>",
	Short: "Export a run as markdown or JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsExport,
}

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(runsListCmd, runsShowCmd, runsDeleteCmd, runsExportCmd)

	runsListCmd.Flags().StringVar(&statusFilter, "status", "", "Filter by status (running, completed, failed)")
	runsListCmd.Flags().IntVar(&limitFlag, "limit", 20, "Max runs to show")

	runsExportCmd.Flags().StringVar(&exportFormat, "format", "md", "Export format: md or json")
	runsExportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Output file (default: stdout)")

	runsDeleteCmd.Flags().BoolVar(&forceFlag, "force", false, "Skip confirmation")
}

func openStore() (storage.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return newStore(cfg)
}

func runRunsList(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	list, err := store.ListRuns(context.Background(), storage.RunListOptions{
		Status: storage.RunStatus(statusFilter),
		Limit:  limitFlag,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(list) == 0 {
		fmt.Fprintln(out, "No runs found.")
		return nil
	}

	fmt.Fprintln(out, stateStyle.Render(fmt.Sprintf("%-10s %-10s %-20s %-40s %s", "ID", "STATUS", "STATE", "TITLE", "CREATED")))
	fmt.Fprintln(out, outputStyle.Render(strings.Repeat("─", 95)))

	for _, r := range list {
		title := r.Title
		if len([]rune(title)) > 38 {
			title = string([]rune(title)[:38]) + ".."
		}
		if title == "" {
			title = "(untitled)"
		}

		status := fmt.Sprintf("%-10s", r.Status)
		switch r.Status {
		case storage.StatusCompleted:
			status = okStyle.Render(status)
		case storage.StatusFailed:
			status = errStyle.Render(status)
		}

		fmt.Fprintf(out, "%-10s %s %-20s %-40s %s\n",
			shortID(r.ID), status, r.State, title, timeAgo(r.CreatedAt))
	}

	return nil
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	r, err := store.GetRun(ctx, args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run:      %s\n", r.ID)
	fmt.Fprintf(out, "Title:    %s\n", r.Title)
	fmt.Fprintf(out, "Status:   %s\n", r.Status)
	fmt.Fprintf(out, "State:    %s\n", r.State)
	if r.SandboxID != "" {
		fmt.Fprintf(out, "Sandbox:  %s\n", r.SandboxID)
	}
	if r.Profile != "" {
		fmt.Fprintf(out, "Profile:  %s\n", r.Profile)
	}
	if r.Error != "" {
		fmt.Fprintf(out, "Error:    %s\n", errStyle.Render(r.Error))
	}
	if r.Details != "" {
		fmt.Fprintf(out, "Details:  %s\n", r.Details)
	}
	fmt.Fprintf(out, "Created:  %s\n", r.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(out, "Updated:  %s\n", r.UpdatedAt.Format(time.RFC3339))

	messages, err := store.LoadMessages(ctx, r.ID)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "\nMessages: %d\n", len(messages))
	fmt.Fprintln(out, outputStyle.Render(strings.Repeat("─", 60)))

	for _, m := range messages {
		if s := m.Summary(); s != "" {
			fmt.Fprintf(out, "%s\n", agentStyle.Render(truncate(s, 200)))
		}
	}

	return nil
}

func runRunsDelete(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	r, err := store.GetRun(ctx, args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if !forceFlag {
		title := r.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Fprintf(out, "Delete run %s - %q? [y/N] ", shortID(r.ID), title)
		var confirm string
		fmt.Fscanln(cmd.InOrStdin(), &confirm)
		if strings.ToLower(confirm) != "y" {
			fmt.Fprintln(out, "Cancelled.")
			return nil
		}
	}

	if err := store.DeleteRun(ctx, r.ID); err != nil {
		return err
	}
	fmt.Fprintf(out, "Deleted run %s\n", shortID(r.ID))
	return nil
}

func runRunsExport(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	r, err := store.GetRun(ctx, args[0])
	if err != nil {
		return err
	}

	messages, err := store.LoadMessages(ctx, r.ID)
	if err != nil {
		return err
	}

	var output string
	switch exportFormat {
	case "json":
		data, err := storage.ExportJSON(r, messages)
		if err != nil {
			return err
		}
		output = string(data)
	case "md":
		output = storage.ExportMarkdown(r, messages)
	default:
		return fmt.Errorf("unknown export format %q, must be md or json", exportFormat)
	}

	if exportOutput != "" {
		return os.WriteFile(exportOutput, []byte(output), 0o644)
	}

	fmt.Fprint(cmd.OutOrStdout(), output)
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if r := []rune(s); len(r) > maxLen {
		return string(r[:maxLen]) + "..."
	}
	return s
}

func timeAgo(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

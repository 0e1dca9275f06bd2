package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/michaelbrown/sandboxer/internal/pipeline"
)

var verboseFlag bool

var (
	stateStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	outputStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	agentStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	okStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	errStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
)

var errRunFailed = errors.New("run failed")

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the sandbox pipeline once",
	Long: `Create a sandbox, install the agent, run the verification script and stop the
sandbox, printing each step as it completes. Exits with status 1 on failure.

Examples:
  sandboxer run
  sandboxer run --verbose`,
	RunE: runOnce,
}

func init() {
	runCmd.Flags().BoolVarP(&verboseFlag, "verbose", "v", false, "Print command output from the sandbox")
	rootCmd.AddCommand(runCmd)
}

func runOnce(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	id := uuid.New().String()
	fmt.Fprintf(out, "%s %s\n", stateStyle.Render("run"), id)

	res, err := a.service.Execute(ctx, id, &stepPrinter{w: out, verbose: verboseFlag})
	if err != nil {
		fmt.Fprintf(out, "%s %s\n", errStyle.Render("Error:"), res.Error)
		if res.Details != "" {
			fmt.Fprintln(out, outputStyle.Render(res.Details))
		}
		if errors.Is(err, context.Canceled) {
			return err
		}
		return errRunFailed
	}

	fmt.Fprintf(out, "%s %s (sandbox %s)\n", okStyle.Render("Success!"), res.Message, res.SandboxID)
	return nil
}

// stepPrinter renders pipeline events as terminal lines.
type stepPrinter struct {
	w       io.Writer
	verbose bool
}

func (p *stepPrinter) Observe(e pipeline.Event) {
	switch e.Kind {
	case pipeline.EventState:
		line := string(e.State)
		if e.State == pipeline.StateCreated {
			line += " " + e.SandboxID
		}
		fmt.Fprintf(p.w, "%s %s\n", stateStyle.Render("✓"), line)
	case pipeline.EventOutput:
		if p.verbose {
			fmt.Fprintf(p.w, "  %s\n", outputStyle.Render(e.Line))
		}
	case pipeline.EventMessage:
		if e.Message != nil {
			if s := e.Message.Summary(); s != "" {
				fmt.Fprintf(p.w, "  %s\n", agentStyle.Render(s))
			}
		}
	case pipeline.EventWarning:
		fmt.Fprintf(p.w, "%s %s: %s\n", warnStyle.Render("!"), e.Step, e.Error)
	}
}

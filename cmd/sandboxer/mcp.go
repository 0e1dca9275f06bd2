package main

import (
	"github.com/spf13/cobra"

	"github.com/michaelbrown/sandboxer/internal/mcpserver"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the run tool over MCP stdio",
	Long: `Start a Model Context Protocol server on stdin/stdout exposing the
run_sandbox_verification tool. Logs go to stderr.`,
	RunE: runMCP,
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func runMCP(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()

	return mcpserver.New(a.service, a.logger, version).ServeStdio()
}

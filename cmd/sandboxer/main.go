// Command sandboxer provisions cloud sandboxes, installs the Claude agent in
// them and lets it work on a repository.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var configFlag string

var rootCmd = &cobra.Command{
	Use:   "sandboxer",
	Short: "Sandboxer - run the Claude agent in disposable sandboxes",
	Long: `Sandboxer provisions a cloud sandbox seeded with a git repository, installs the
Claude Code CLI and Agent SDK, configures git credentials and runs a
verification script that lets the agent work on the repository.

The sandbox is always stopped when the run ends, whatever the outcome.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "Config file (default: sandboxer.yaml in ., ./config or ~/.sandboxer)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// Package cmd implements the broker's command-line surface: starting the
// per-provider daemon, sending a single synchronous ask, inspecting the
// debug log, and managing the session descriptor. Command wiring follows
// the familiar cobra root-command-plus-subcommands layout.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var provider string

var rootCmd = &cobra.Command{
	Use:   "ccb",
	Short: "Request broker for interactive AI coding assistants",
	Long: `ccb lets another agent send a prompt to an interactive AI coding
assistant running in a terminal pane (Claude Code, Codex, Gemini, OpenCode)
and get its textual reply back synchronously, without that assistant
exposing any programmatic API.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&provider, "provider", "claude", "assistant provider: claude|codex|gemini|opencode")
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(sessionCmd)
	rootCmd.AddCommand(logsCmd)
}

// Execute runs the root command, exiting with status 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

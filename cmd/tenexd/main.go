// Package main provides the tenexd daemon: it connects a Nostr-style
// relay to LLM providers and runs the configured agents against
// inbound conversation events.
//
// # Basic Usage
//
// Start the daemon:
//
//	tenexd serve --config tenex.yaml
//
// # Environment Variables
//
//   - ANTHROPIC_API_KEY: Anthropic API key for Claude models
//   - OPENAI_API_KEY: OpenAI API key for GPT models
//
// Secrets are referenced from the config file as ${VAR} and expanded
// at load time.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "tenexd",
		Short: "tenexd - multi-agent conversation daemon",
		Long: `tenexd runs a set of agents against a shared signed event log.

Inbound conversation events are dispatched to the agents they address;
each turn streams output back to the relay, executes tools, and can
delegate work to other agents.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(buildServeCmd())
	return rootCmd
}

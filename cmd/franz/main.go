// Package main provides the CLI entry point for franz, an agent that drives a
// user interface through a Plan, Execute, Reflect loop and runs the code it
// writes in a capability-restricted Starlark sandbox.
//
// # Basic Usage
//
// Run the loop:
//
//	franz run --config franz.yaml
//
// Run a single fragment:
//
//	franz exec --tier standard 'print(sum([1, 2, 3]))'
//
// Serve the sandbox to MCP clients over stdio:
//
//	franz mcp serve
//
// # Environment Variables
//
//   - FRANZ_CONFIG: Path to configuration file (default: franz.yaml)
//   - OPENAI_API_KEY: API key for the openai provider
//   - ANTHROPIC_API_KEY: API key for the anthropic provider
//   - AWS_REGION, AWS_PROFILE: used by the bedrock provider
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/franz/internal/sandbox"
)

// Build information - populated by ldflags during build.
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if sandbox.IsWorkerProcess() {
		os.Exit(sandbox.RunWorker(os.Stdin, os.Stdout))
	}

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "franz",
		Short: "franz - a Plan, Execute, Reflect agent with a trust-tiered code sandbox",
		Long: `franz looks at a screen, asks a model what to do next, does it, and
asks the model to describe what happened. Code the model writes runs in a
Starlark sandbox restricted to the capabilities of the configured trust tier.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildRunCmd(),
		buildExecCmd(),
		buildTiersCmd(),
		buildCapabilitiesCmd(),
		buildConfigCmd(),
		buildMcpCmd(),
	)
	return rootCmd
}

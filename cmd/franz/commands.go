package main

import (
	"time"

	"github.com/spf13/cobra"
)

// defaultConfigPath is used when neither --config nor FRANZ_CONFIG is set.
const defaultConfigPath = "franz.yaml"

func addConfigFlag(cmd *cobra.Command, target *string) {
	cmd.Flags().StringVarP(target, "config", "c", "", "Path to configuration file (default: $FRANZ_CONFIG or franz.yaml)")
}

type runFlags struct {
	configPath  string
	maxCycles   int
	tier        string
	provider    string
	script      string
	stopFile    string
	observation string
	journal     string
}

// buildRunCmd creates the "run" command that drives the loop.
func buildRunCmd() *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the Plan, Execute, Reflect loop",
		Long: `Run the loop until the model terminates it, the cycle limit is reached,
the stop file appears, or the process is interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoop(cmd, flags)
		},
	}
	addConfigFlag(cmd, &flags.configPath)
	cmd.Flags().IntVar(&flags.maxCycles, "max-cycles", 0, "Override loop.max_cycles")
	cmd.Flags().StringVar(&flags.tier, "tier", "", "Override sandbox.tier")
	cmd.Flags().StringVar(&flags.provider, "provider", "", "Override decision.provider (openai, anthropic, bedrock, scripted)")
	cmd.Flags().StringVar(&flags.script, "script", "", "Script file for the scripted provider")
	cmd.Flags().StringVar(&flags.stopFile, "stop-file", "", "Override loop.stop_file")
	cmd.Flags().StringVar(&flags.observation, "observation", "", "Initial observation")
	cmd.Flags().StringVar(&flags.journal, "journal", "", "Record cycles to this SQLite file")
	return cmd
}

type execFlags struct {
	configPath string
	tier       string
	file       string
	vars       string
	timeout    time.Duration
	jsonOut    bool
}

// buildExecCmd creates the "exec" command that runs one fragment.
func buildExecCmd() *cobra.Command {
	var flags execFlags
	cmd := &cobra.Command{
		Use:   "exec [code]",
		Short: "Run one fragment in the sandbox",
		Long: `Run one Starlark fragment under a trust tier and print the result.
The fragment is read from the argument, from --file, or from stdin.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExec(cmd, flags, args)
		},
	}
	addConfigFlag(cmd, &flags.configPath)
	cmd.Flags().StringVar(&flags.tier, "tier", "", "Trust tier (default: sandbox.tier)")
	cmd.Flags().StringVarP(&flags.file, "file", "f", "", "Read the fragment from a file")
	cmd.Flags().StringVar(&flags.vars, "vars", "", "JSON object of variables bound before the fragment runs")
	cmd.Flags().DurationVar(&flags.timeout, "timeout", 0, "Execution timeout (default: sandbox.timeout)")
	cmd.Flags().BoolVar(&flags.jsonOut, "json", false, "Print the structured result as JSON")
	return cmd
}

// buildTiersCmd creates the "tiers" command.
func buildTiersCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "tiers",
		Short: "List trust tiers and the capabilities they grant",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTiers(cmd, configPath)
		},
	}
	addConfigFlag(cmd, &configPath)
	return cmd
}

// buildCapabilitiesCmd creates the "capabilities" command.
func buildCapabilitiesCmd() *cobra.Command {
	var (
		configPath string
		tierName   string
	)
	cmd := &cobra.Command{
		Use:     "capabilities",
		Aliases: []string{"caps"},
		Short:   "List registered capabilities",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCapabilities(cmd, configPath, tierName)
		},
	}
	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&tierName, "tier", "", "Mark the capabilities granted to this tier")
	return cmd
}

// buildConfigCmd creates the "config" command group.
func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and validate configuration",
	}

	var validatePath string
	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate a configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigValidate(cmd, validatePath)
		},
	}
	addConfigFlag(validateCmd, &validatePath)

	schemaCmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the configuration JSON schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigSchema(cmd)
		},
	}

	cmd.AddCommand(validateCmd, schemaCmd)
	return cmd
}

// buildMcpCmd creates the "mcp" command group.
func buildMcpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Expose the sandbox over the Model Context Protocol",
	}
	var configPath string
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve franz_execute, franz_tiers and franz_capabilities on stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMcpServe(cmd, configPath)
		},
	}
	addConfigFlag(serveCmd, &configPath)
	cmd.AddCommand(serveCmd)
	return cmd
}

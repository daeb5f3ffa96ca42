// Package commands implements the stackd CLI: the server itself plus the
// tooling that checks the two-container deployment around it.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/marmos91/stackd/cmd/stackd/cmdutil"
	configcmd "github.com/marmos91/stackd/cmd/stackd/commands/config"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "stackd",
	Short: "stackd - cache-backed API server and its compose stack",
	Long: `stackd is an HTTP API server backed by a Redis cache, shipped as a
two-container compose stack (redis + server).

Besides running the server, stackd checks the compose file against the
expected topology, inspects the running stack through the Docker Engine
and probes the published endpoints.

Configuration is read from an env file (default .env) and the process
environment, which takes precedence.

Use "stackd [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Sync flags to cmdutil.Flags for subcommands
		cmdutil.Flags.EnvFile, _ = cmd.Flags().GetString("env-file")
		cmdutil.Flags.AllowMissingEnvFile, _ = cmd.Flags().GetBool("allow-missing-env-file")
		cmdutil.Flags.Output, _ = cmd.Flags().GetString("output")
		cmdutil.Flags.NoColor, _ = cmd.Flags().GetBool("no-color")
		cmdutil.Flags.Verbose, _ = cmd.Flags().GetBool("verbose")
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global persistent flags
	rootCmd.PersistentFlags().String("env-file", "", "env file to load (default: .env)")
	rootCmd.PersistentFlags().Bool("allow-missing-env-file", false, "Use the process environment only when the env file is missing")
	rootCmd.PersistentFlags().StringP("output", "o", "table", "Output format (table|json|yaml)")
	rootCmd.PersistentFlags().Bool("no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose output")

	// Add subcommands
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(envCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(topologyCmd)
	rootCmd.AddCommand(stackCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(configcmd.Cmd)
	rootCmd.AddCommand(completionCmd)

	// Hide the default completion command (we provide our own)
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

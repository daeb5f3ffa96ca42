package commands

import (
	"github.com/spf13/cobra"

	"github.com/marmos91/stackd/cmd/stackd/cmdutil"
	"github.com/marmos91/stackd/internal/logger"
	"github.com/marmos91/stackd/pkg/topology"
)

var topologyFile string

var topologyCmd = &cobra.Command{
	Use:   "topology",
	Short: "Compose topology checks",
	Long: `Check the compose file that deploys stackd.

Subcommands:
  check  Validate the compose file against the expected topology`,
}

var topologyCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the compose file",
	Long: `Validate the compose file against the expected two-service topology:

  - a redis cache service publishing 6379 with its data on a named volume
  - a server service built locally, publishing 8000 and depending on redis
  - both services on one shared bridge network
  - every referenced env file, volume and network declared and present

The command exits with status 1 when any error finding is reported.
Warnings are printed but do not fail the check.

Examples:
  # Check ./compose.yaml (or docker-compose.yml)
  stackd topology check

  # Check a specific file, as JSON for CI
  stackd topology check -f deploy/compose.yaml -o json`,
	RunE: runTopologyCheck,
}

func init() {
	topologyCheckCmd.Flags().StringVarP(&topologyFile, "file", "f", "", "Compose file or directory (default: compose.yaml in the current directory)")
	topologyCmd.AddCommand(topologyCheckCmd)
}

func runTopologyCheck(cmd *cobra.Command, args []string) error {
	p, err := cmdutil.NewPrinter(cmd.OutOrStdout())
	if err != nil {
		return err
	}

	desc, err := topology.Load(cmd.Context(), topologyFile)
	if err != nil {
		return err
	}
	logger.Debug("Compose file loaded", logger.File(desc.Path), "loader", desc.Loader, "services", desc.ServiceNames())

	return printReport(p, topology.Check(desc, topology.DefaultContract()))
}

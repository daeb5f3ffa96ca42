package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/compose-spec/compose-go/v2/loader"
	"github.com/spf13/cobra"

	"github.com/marmos91/stackd/cmd/stackd/cmdutil"
	"github.com/marmos91/stackd/internal/cli/output"
	"github.com/marmos91/stackd/internal/logger"
	"github.com/marmos91/stackd/pkg/stack"
	"github.com/marmos91/stackd/pkg/topology"
)

var (
	stackProject  string
	stackDir      string
	stackNoVerify bool

	probeCacheAddr string
	probeServerURL string
	probeTimeout   time.Duration
)

var stackCmd = &cobra.Command{
	Use:   "stack",
	Short: "Running stack inspection",
	Long: `Inspect the running compose stack.

Subcommands:
  inspect  List the project's containers and verify the running topology
  probe    Check that the published cache and server endpoints answer`,
}

var stackInspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Inspect the running compose project",
	Long: `List the containers, volumes and networks of the compose project
through the Docker Engine API, then verify that exactly two containers
are running, the cache data lives on a named volume, both containers
share a bridge network and ports 6379 and 8000 are published.

The project name defaults to COMPOSE_PROJECT_NAME or, like docker
compose, to the name of the directory holding the compose file.

The Docker connection honours DOCKER_HOST, DOCKER_API_VERSION,
DOCKER_CERT_PATH and DOCKER_TLS_VERIFY.

Examples:
  # Inspect the project of the current directory
  stackd stack inspect

  # Inspect a named project without verification
  stackd stack inspect --project stackd --no-verify`,
	RunE: runStackInspect,
}

var stackProbeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Probe the published endpoints",
	Long: `Check that the cache answers PING and the server answers GET /health.

Redis credentials are taken from the loaded configuration when an env
file is available.

Examples:
  # Probe the endpoints published on localhost
  stackd stack probe

  # Probe a remote host
  stackd stack probe --cache-addr 10.0.0.5:6379 --server-url http://10.0.0.5:8000`,
	RunE: runStackProbe,
}

func init() {
	stackInspectCmd.Flags().StringVar(&stackProject, "project", "", "Compose project name (default: COMPOSE_PROJECT_NAME or the compose directory name)")
	stackInspectCmd.Flags().StringVar(&stackDir, "project-directory", "", "Directory holding the compose file (default: current directory)")
	stackInspectCmd.Flags().BoolVar(&stackNoVerify, "no-verify", false, "Only list resources")

	stackProbeCmd.Flags().StringVar(&probeCacheAddr, "cache-addr", "localhost:6379", "Published cache address")
	stackProbeCmd.Flags().StringVar(&probeServerURL, "server-url", "http://localhost:8000", "Published server URL")
	stackProbeCmd.Flags().DurationVar(&probeTimeout, "timeout", stack.DefaultProbeTimeout, "Timeout per probe")

	stackCmd.AddCommand(stackInspectCmd)
	stackCmd.AddCommand(stackProbeCmd)
}

// inspectResult is the JSON/YAML shape of "stack inspect".
type inspectResult struct {
	Snapshot *stack.Snapshot  `json:"snapshot" yaml:"snapshot"`
	Report   *topology.Report `json:"report,omitempty" yaml:"report,omitempty"`
}

func runStackInspect(cmd *cobra.Command, args []string) error {
	p, err := cmdutil.NewPrinter(cmd.OutOrStdout())
	if err != nil {
		return err
	}

	project, err := projectName(stackProject, stackDir)
	if err != nil {
		return err
	}

	engine, err := stack.NewDockerEngine()
	if err != nil {
		return err
	}
	defer func() { _ = engine.Close() }()

	snap, err := stack.Inspect(cmd.Context(), engine, project)
	if err != nil {
		return err
	}
	logger.Debug("Project inspected", logger.Project(project), "containers", len(snap.Containers))

	var report *topology.Report
	if !stackNoVerify {
		report = stack.Verify(snap, topology.DefaultContract())
	}

	if p.Format() != output.FormatTable {
		if err := p.Print(inspectResult{Snapshot: snap, Report: report}); err != nil {
			return err
		}
		if report != nil {
			return reportResult(report)
		}
		return nil
	}

	rows := output.NewTableData(snap.Headers()...)
	for _, row := range snap.Rows() {
		row[2] = p.Badge(row[2])
		rows.AddRow(row...)
	}
	if err := output.PrintTable(p.Writer(), rows); err != nil {
		return err
	}
	p.Println()

	if report == nil {
		return nil
	}
	return printReport(p, report)
}

func runStackProbe(cmd *cobra.Command, args []string) error {
	p, err := cmdutil.NewPrinter(cmd.OutOrStdout())
	if err != nil {
		return err
	}

	opts := stack.ProbeOptions{Timeout: probeTimeout}
	if cfg, err := cmdutil.LoadConfig(); err == nil {
		opts.Username = cfg.Redis.Username
		opts.Password = cfg.Redis.Password
		opts.DB = cfg.Redis.DB
	} else {
		logger.Debug("Probing without redis credentials", logger.Err(err))
	}

	contract := topology.DefaultContract()
	report := stack.Probe(cmd.Context(),
		stack.CacheTarget(contract.Cache.Name, probeCacheAddr, opts),
		stack.ServerTarget(contract.Server.Name, probeServerURL, probeTimeout),
	)
	return printReport(p, report)
}

// projectName resolves the compose project name the way docker compose
// does when no -p is given.
func projectName(explicit, dir string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if name := os.Getenv("COMPOSE_PROJECT_NAME"); name != "" {
		return name, nil
	}

	if dir == "" {
		dir = "."
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	name := loader.NormalizeProjectName(filepath.Base(abs))
	if name == "" {
		return "", fmt.Errorf("cannot derive a project name from %s; use --project", abs)
	}
	return name, nil
}

package config

import (
	"sort"

	"github.com/spf13/cobra"

	"github.com/marmos91/stackd/cmd/stackd/cmdutil"
	"github.com/marmos91/stackd/internal/cli/output"
	"github.com/marmos91/stackd/pkg/config"
)

var showReveal bool

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display the effective configuration",
	Long: `Display the configuration stackd would run with: defaults, overridden
by the env file, overridden by the process environment.

Secrets are masked unless --reveal is given. The table format lists
environment variables; json and yaml print the structured configuration.

Examples:
  # Show as environment variables
  stackd config show

  # Show as YAML
  stackd config show -o yaml

  # Show the configuration of another env file
  stackd config show --env-file deploy/prod.env`,
	RunE: runConfigShow,
}

func init() {
	showCmd.Flags().BoolVar(&showReveal, "reveal", false, "Print secrets in clear text")
}

const masked = "********"

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := cmdutil.LoadConfig()
	if err != nil {
		return err
	}
	if !showReveal {
		maskSecrets(cfg)
	}

	p, err := cmdutil.NewPrinter(cmd.OutOrStdout())
	if err != nil {
		return err
	}
	if p.Format() != output.FormatTable {
		return p.Print(cfg)
	}

	values := config.EnvValues(cfg)
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	rows := output.NewTableData("Variable", "Value")
	for _, name := range names {
		rows.AddRow(name, values[name])
	}
	return output.PrintTable(p.Writer(), rows)
}

func maskSecrets(cfg *config.Config) {
	if cfg.Redis.Password != "" {
		cfg.Redis.Password = masked
	}
	if cfg.Auth.JWTSecret != "" {
		cfg.Auth.JWTSecret = masked
	}
}

package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/stackd/cmd/stackd/cmdutil"
	"github.com/marmos91/stackd/internal/cli/output"
	"github.com/marmos91/stackd/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	Long: `Validate the env file and the process environment.

Checks for unparsable values, missing required fields and out of range
values. Errors name the environment variable to fix.

Examples:
  # Validate ./.env
  stackd config validate

  # Validate a specific env file
  stackd config validate --env-file deploy/prod.env`,
	RunE: runConfigValidate,
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := cmdutil.LoadConfig()
	if err != nil {
		return err
	}

	p, err := cmdutil.NewPrinter(cmd.OutOrStdout())
	if err != nil {
		return err
	}

	warnings := configWarnings(cfg)

	p.Printf("Env file:   %s\n", cmdutil.EnvFilePath())
	p.Success("Validation: OK")

	if len(warnings) > 0 {
		p.Println("\nWarnings:")
		for _, w := range warnings {
			p.Warning(fmt.Sprintf("  - %s", w))
		}
	}

	p.Println("\nConfiguration summary:")
	summary := output.KeyValues{}.
		Add("Server address", cfg.Server.Addr()).
		Add("Cache driver", cfg.Cache.Driver).
		Add("Log level", cfg.Logging.Level)
	if cfg.Cache.Driver == config.DriverRedis {
		summary = summary.Add("Redis address", cfg.Redis.Addr())
	}
	return output.PrintTable(p.Writer(), summary)
}

// configWarnings lists settings that are valid but probably unintended.
func configWarnings(cfg *config.Config) []string {
	var warnings []string
	if !cfg.Auth.HasJWTSecret() {
		warnings = append(warnings, "JWT_SECRET_KEY not set - cache admin API is disabled")
	}
	if cfg.Cache.Driver == config.DriverRedis && cfg.Redis.FlushOnStart {
		warnings = append(warnings, "REDIS_FLUSH_ON_START is set - cached data is dropped on every restart")
	}
	if cfg.Cache.Driver == config.DriverBadger && cfg.Cache.Path == "" {
		warnings = append(warnings, "CACHE_PATH not set - badger keeps data in memory only")
	}
	if cfg.Server.Port != 8000 {
		warnings = append(warnings, fmt.Sprintf("SERVER_PORT is %d but the compose file publishes 8000", cfg.Server.Port))
	}
	return warnings
}

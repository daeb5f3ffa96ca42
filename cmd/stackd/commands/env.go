package commands

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/marmos91/stackd/cmd/stackd/cmdutil"
	"github.com/marmos91/stackd/internal/cli/prompt"
	"github.com/marmos91/stackd/pkg/config"
)

var (
	envInitPath           string
	envInitForce          bool
	envInitNonInteractive bool
	envInitSet            []string
)

var envCmd = &cobra.Command{
	Use:   "env",
	Short: "Env file management",
	Long: `Manage the env file shared by the compose stack and the server.

Subcommands:
  init  Create an env file with defaults or interactive answers`,
}

var envInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create an env file",
	Long: `Create the env file referenced by both compose services.

Interactive mode asks for the cache driver, the redis connection and
whether to enable the cache admin API. Non-interactive mode (or a
non-terminal stdin) writes the defaults. Use --set to override values
in either mode.

The file is written with 0600 permissions since it may contain
REDIS_PASSWORD and JWT_SECRET_KEY.

Examples:
  # Answer a few questions and write ./.env
  stackd env init

  # Write defaults for CI
  stackd env init --non-interactive --path .env

  # Override values
  stackd env init --non-interactive --set LOG_LEVEL=DEBUG --set CACHE_KEY_PREFIX=ci`,
	RunE: runEnvInit,
}

func init() {
	envInitCmd.Flags().StringVar(&envInitPath, "path", "", "env file to write (default: --env-file or .env)")
	envInitCmd.Flags().BoolVar(&envInitForce, "force", false, "Overwrite an existing env file")
	envInitCmd.Flags().BoolVar(&envInitNonInteractive, "non-interactive", false, "Write defaults without prompting")
	envInitCmd.Flags().StringArrayVar(&envInitSet, "set", nil, "Set VARIABLE=value (repeatable)")
	envCmd.AddCommand(envInitCmd)
}

// prompter is swapped by tests.
var prompter prompt.Prompter = prompt.Terminal{}

func runEnvInit(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	path := envInitPath
	if path == "" {
		path = cmdutil.EnvFilePath()
	}

	if _, err := os.Stat(path); err == nil && !envInitForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	overrides, err := parseAssignments(envInitSet)
	if err != nil {
		return err
	}

	interactive := !envInitNonInteractive && isatty.IsTerminal(os.Stdin.Fd())
	values, err := buildEnvValues(prompter, interactive)
	if err != nil {
		return cmdutil.HandleAbort(out, err)
	}
	for k, v := range overrides {
		values[k] = v
	}

	if err := config.WriteEnvFile(path, values); err != nil {
		return err
	}
	if _, err := config.Load(config.LoadOptions{EnvFile: path}); err != nil {
		return fmt.Errorf("wrote %s but it does not load: %w", path, err)
	}

	cmdutil.PrintSuccess(out, fmt.Sprintf("Env file created at: %s", path))
	_, _ = fmt.Fprintln(out, "\nNext steps:")
	_, _ = fmt.Fprintf(out, "  1. Check the compose file: stackd topology check\n")
	_, _ = fmt.Fprintln(out, "  2. Start the stack:       docker compose up -d")
	_, _ = fmt.Fprintln(out, "  3. Probe the endpoints:   stackd stack probe")
	if values["JWT_SECRET_KEY"] != "" {
		_, _ = fmt.Fprintln(out, "\nThe cache admin API is enabled. Mint a token with: stackd token issue --subject <name>")
	}
	return nil
}

// buildEnvValues returns the default assignments, adjusted by answers when
// interactive. Declining the final confirmation returns prompt.ErrAborted.
func buildEnvValues(p prompt.Prompter, interactive bool) (map[string]string, error) {
	values := config.EnvValues(config.GetDefaultConfig())
	if !interactive {
		return values, nil
	}

	driver, err := p.Select("Cache driver", []string{config.DriverRedis, config.DriverBadger}, values["CACHE_DRIVER"])
	if err != nil {
		return nil, err
	}
	values["CACHE_DRIVER"] = driver

	if driver == config.DriverRedis {
		host, err := p.Input("Redis host", values["REDIS_HOST"])
		if err != nil {
			return nil, err
		}
		port, err := p.Port("Redis port", config.GetDefaultConfig().Redis.Port)
		if err != nil {
			return nil, err
		}
		password, err := p.Secret("Redis password (empty for none)")
		if err != nil {
			return nil, err
		}
		values["REDIS_HOST"] = host
		values["REDIS_PORT"] = fmt.Sprint(port)
		values["REDIS_PASSWORD"] = password
	} else {
		path, err := p.Input("Badger directory (empty keeps data in memory)", values["CACHE_PATH"])
		if err != nil {
			return nil, err
		}
		values["CACHE_PATH"] = path
	}

	serverPort, err := p.Port("Server port", config.GetDefaultConfig().Server.Port)
	if err != nil {
		return nil, err
	}
	values["SERVER_PORT"] = fmt.Sprint(serverPort)

	admin, err := p.Confirm("Enable the cache admin API (generates JWT_SECRET_KEY)", false)
	if err != nil {
		return nil, err
	}
	if admin {
		secret, err := randomSecret()
		if err != nil {
			return nil, err
		}
		values["JWT_SECRET_KEY"] = secret
	}

	write, err := p.Confirm("Write env file", true)
	if err != nil {
		return nil, err
	}
	if !write {
		return nil, prompt.ErrAborted
	}
	return values, nil
}

// parseAssignments turns VARIABLE=value pairs into a map, rejecting
// variables stackd does not read.
func parseAssignments(pairs []string) (map[string]string, error) {
	known := make(map[string]bool)
	for _, b := range config.Bindings() {
		known[b.Env] = true
	}

	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid assignment %q: expected VARIABLE=value", pair)
		}
		if !known[name] {
			return nil, errors.New("unknown variable " + name)
		}
		out[name] = value
	}
	return out, nil
}

// randomSecret returns 32 random bytes hex encoded.
func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

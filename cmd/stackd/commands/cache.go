package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/stackd/cmd/stackd/cmdutil"
	"github.com/marmos91/stackd/internal/cli/output"
	"github.com/marmos91/stackd/pkg/api/auth"
	"github.com/marmos91/stackd/pkg/apiclient"
)

// TokenEnv holds a bearer token for the cache commands.
const TokenEnv = "STACKD_TOKEN"

// mintedTokenTTL bounds tokens minted on the fly from JWT_SECRET_KEY.
const mintedTokenTTL = 5 * time.Minute

var (
	cacheServerURL string
	cacheToken     string
	cacheTTL       time.Duration
	cacheTimeout   time.Duration
	cachePrefix    string
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Cache admin API client",
	Long: `Read and write cache entries through a running server's admin API
(/api/v1/cache).

The bearer token comes from --token, then STACKD_TOKEN. When neither is
set and the loaded configuration has JWT_SECRET_KEY, a short-lived token
is minted locally.

Subcommands:
  get     Print the value stored under a key
  set     Store a JSON value under a key
  delete  Delete a key, or every key with --prefix`,
}

var cacheGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print a cached value",
	Args:  cobra.ExactArgs(1),
	RunE:  runCacheGet,
}

var cacheSetCmd = &cobra.Command{
	Use:   "set <key> <json>",
	Short: "Store a JSON value",
	Long: `Store a JSON document under key. A TTL of zero uses the server's
CACHE_DEFAULT_TTL.

Examples:
  stackd cache set users/42 '{"name":"ada"}' --ttl 30m
  stackd cache set counter 7`,
	Args: cobra.ExactArgs(2),
	RunE: runCacheSet,
}

var cacheDeleteCmd = &cobra.Command{
	Use:   "delete [key]",
	Short: "Delete a key or a prefix",
	Long: `Delete one key, or every key starting with --prefix.

Examples:
  stackd cache delete users/42
  stackd cache delete --prefix session:`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCacheDelete,
}

func init() {
	cacheCmd.PersistentFlags().StringVar(&cacheServerURL, "server-url", "http://localhost:8000", "Server base URL")
	cacheCmd.PersistentFlags().StringVar(&cacheToken, "token", "", "Bearer token (default: $"+TokenEnv+")")
	cacheCmd.PersistentFlags().DurationVar(&cacheTimeout, "timeout", apiclient.DefaultTimeout, "Request timeout")

	cacheSetCmd.Flags().DurationVar(&cacheTTL, "ttl", 0, "Entry lifetime (default: server default)")
	cacheDeleteCmd.Flags().StringVar(&cachePrefix, "prefix", "", "Delete every key with this prefix")

	cacheCmd.AddCommand(cacheGetCmd)
	cacheCmd.AddCommand(cacheSetCmd)
	cacheCmd.AddCommand(cacheDeleteCmd)
}

// cacheClient returns an API client carrying the resolved bearer token.
func cacheClient() (*apiclient.Client, error) {
	token, err := resolveToken()
	if err != nil {
		return nil, err
	}
	return apiclient.New(cacheServerURL).WithToken(token).WithTimeout(cacheTimeout), nil
}

func resolveToken() (string, error) {
	if cacheToken != "" {
		return cacheToken, nil
	}
	if tok := os.Getenv(TokenEnv); tok != "" {
		return tok, nil
	}

	cfg, err := cmdutil.LoadConfig()
	if err != nil || !cfg.Auth.HasJWTSecret() {
		return "", fmt.Errorf("no bearer token: pass --token, set %s or configure JWT_SECRET_KEY", TokenEnv)
	}
	svc, err := auth.NewJWTService(auth.JWTConfig{Secret: cfg.Auth.JWTSecret})
	if err != nil {
		return "", err
	}
	tok, err := svc.Issue("stackd-cli", mintedTokenTTL, nil)
	if err != nil {
		return "", err
	}
	return tok.Token, nil
}

// cacheError points at the server side when the API is up but its cache
// backend is not.
func cacheError(err error) error {
	if apiclient.IsUnavailable(err) {
		return fmt.Errorf("server cannot reach its cache backend: %w", err)
	}
	return err
}

func runCacheGet(cmd *cobra.Command, args []string) error {
	client, err := cacheClient()
	if err != nil {
		return err
	}

	entry, err := client.Get(cmd.Context(), args[0])
	if err != nil {
		if apiclient.IsNotFound(err) {
			return fmt.Errorf("key %q not found", args[0])
		}
		return cacheError(err)
	}

	p, err := cmdutil.NewPrinter(cmd.OutOrStdout())
	if err != nil {
		return err
	}
	if p.Format() != output.FormatTable {
		return p.Print(entry)
	}
	p.Println(string(entry.Value))
	return nil
}

func runCacheSet(cmd *cobra.Command, args []string) error {
	value := json.RawMessage(args[1])
	if !json.Valid(value) {
		return fmt.Errorf("value must be a JSON document; quote strings as '\"text\"'")
	}

	client, err := cacheClient()
	if err != nil {
		return err
	}
	if err := client.Set(cmd.Context(), args[0], value, cacheTTL); err != nil {
		return cacheError(err)
	}

	cmdutil.PrintSuccess(cmd.OutOrStdout(), fmt.Sprintf("Stored %q", args[0]))
	return nil
}

func runCacheDelete(cmd *cobra.Command, args []string) error {
	switch {
	case len(args) == 1 && cachePrefix != "":
		return errors.New("pass either a key or --prefix, not both")
	case len(args) == 0 && cachePrefix == "":
		return errors.New("a key or --prefix is required")
	}

	client, err := cacheClient()
	if err != nil {
		return err
	}

	var n int64
	if cachePrefix != "" {
		n, err = client.DeleteByPrefix(cmd.Context(), cachePrefix)
	} else {
		n, err = client.Delete(cmd.Context(), args[0])
	}
	if err != nil {
		return cacheError(err)
	}

	p, err := cmdutil.NewPrinter(cmd.OutOrStdout())
	if err != nil {
		return err
	}
	if p.Format() != output.FormatTable {
		return p.Print(map[string]int64{"deleted": n})
	}
	p.Printf("Deleted %d key(s)\n", n)
	return nil
}

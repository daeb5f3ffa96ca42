package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/stackd/cmd/stackd/cmdutil"
	"github.com/marmos91/stackd/internal/cli/health"
	"github.com/marmos91/stackd/internal/cli/output"
	"github.com/marmos91/stackd/internal/cli/timeutil"
)

var (
	statusHost    string
	statusPort    int
	statusTimeout time.Duration
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server status",
	Long: `Display the current status of a running stackd server.

This command calls the liveness and readiness endpoints and displays
status, uptime and cache health.

Examples:
  # Check the server published by the compose stack
  stackd status

  # Check a server on another port
  stackd status --port 9000

  # Output as JSON
  stackd status -o json`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusHost, "host", "localhost", "API server host")
	statusCmd.Flags().IntVar(&statusPort, "port", 8000, "API server port")
	statusCmd.Flags().DurationVar(&statusTimeout, "timeout", 2*time.Second, "Request timeout")
}

// ServerStatus represents the server status information.
type ServerStatus struct {
	URL          string  `json:"url" yaml:"url"`
	Running      bool    `json:"running" yaml:"running"`
	Healthy      bool    `json:"healthy" yaml:"healthy"`
	Ready        bool    `json:"ready" yaml:"ready"`
	Message      string  `json:"message" yaml:"message"`
	Version      string  `json:"version,omitempty" yaml:"version,omitempty"`
	StartedAt    string  `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	Uptime       string  `json:"uptime,omitempty" yaml:"uptime,omitempty"`
	CacheDriver  string  `json:"cache_driver,omitempty" yaml:"cache_driver,omitempty"`
	CacheLatency float64 `json:"cache_latency_ms,omitempty" yaml:"cache_latency_ms,omitempty"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	p, err := cmdutil.NewPrinter(cmd.OutOrStdout())
	if err != nil {
		return err
	}

	baseURL := fmt.Sprintf("http://%s:%d", statusHost, statusPort)
	status := collectStatus(cmd, health.NewClient(baseURL, statusTimeout))
	status.URL = baseURL

	if p.Format() != output.FormatTable {
		return p.Print(status)
	}
	printStatusTable(p, status)
	return nil
}

func collectStatus(cmd *cobra.Command, client *health.Client) ServerStatus {
	status := ServerStatus{Message: "Server is not running"}

	live, err := client.Liveness(cmd.Context())
	if err != nil {
		if cmdutil.Flags.Verbose {
			status.Message = fmt.Sprintf("Server is not running: %v", err)
		}
		return status
	}

	status.Running = true
	status.Healthy = live.Healthy()
	status.Version = live.Data.Version
	status.StartedAt = live.Data.StartedAt
	status.Uptime = live.Data.Uptime

	ready, err := client.Readiness(cmd.Context())
	switch {
	case err != nil:
		status.Message = fmt.Sprintf("Server is running but readiness failed: %v", err)
	case !ready.Healthy():
		status.CacheDriver = ready.Data.Driver
		status.Message = fmt.Sprintf("Server is running but not ready: %s", cmdutil.EmptyOr(ready.Error, ready.Data.Error))
	default:
		status.Ready = true
		status.CacheDriver = ready.Data.Driver
		status.CacheLatency = ready.Data.LatencyMs
		status.Message = "Server is running and ready"
	}
	return status
}

func printStatusTable(p *output.Printer, status ServerStatus) {
	p.Println()
	p.Println("stackd Server Status")
	p.Println("====================")
	p.Println()

	switch {
	case status.Ready:
		p.Printf("  Status:     %s\n", p.Badge("running"))
	case status.Running:
		p.Printf("  Status:     %s\n", p.Badge("warning")+" (not ready)")
	default:
		p.Printf("  Status:     %s\n", p.Badge("stopped"))
	}
	p.Printf("  URL:        %s\n", status.URL)
	if status.Version != "" {
		p.Printf("  Version:    %s\n", status.Version)
	}
	if status.StartedAt != "" {
		p.Printf("  Started:    %s\n", timeutil.FormatTime(status.StartedAt))
	}
	if status.Uptime != "" {
		p.Printf("  Uptime:     %s\n", timeutil.FormatUptime(status.Uptime))
	}
	if status.CacheDriver != "" {
		p.Printf("  Cache:      %s (%.2fms)\n", status.CacheDriver, status.CacheLatency)
	}

	p.Println()
	p.Printf("  %s\n", status.Message)
	p.Println()
}

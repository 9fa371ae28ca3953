package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/svcdeck/pkg/client"
)

func main() {
	root := buildRoot(os.Stdout)
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds the persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
	APIUrl     string
	APITimeout time.Duration
}

// command carries what the client-side commands need; tests swap out.
type command struct {
	flags *GlobalFlags
	out   io.Writer
}

func (c command) client() *client.Client {
	return client.New(client.Config{BaseURL: c.flags.APIUrl, Timeout: c.flags.APITimeout})
}

// buildRoot creates the command tree writing results to out.
func buildRoot(out io.Writer) *cobra.Command {
	globalFlags := &GlobalFlags{}
	cmd := command{flags: globalFlags, out: out}

	root := createRootCommand(globalFlags)
	root.SetOut(out)
	root.AddCommand(
		createServeCommand(globalFlags),
		createStatusCommand(cmd),
		createListCommand(cmd),
		createActionCommand(cmd, "start", "Start a service", func(c *client.Client, name string) (any, bool, error) {
			r, err := c.Start(ctxBackground(), name)
			return r, r.Success, err
		}),
		createStopCommand(cmd),
		createActionCommand(cmd, "restart", "Stop then start a service", func(c *client.Client, name string) (any, bool, error) {
			r, err := c.Restart(ctxBackground(), name)
			return r, r.Success, err
		}),
		createActionCommand(cmd, "delete", "Remove a service from the registry (running processes are left alone)", func(c *client.Client, name string) (any, bool, error) {
			r, err := c.Delete(ctxBackground(), name)
			return r, r.Success, err
		}),
		createActionCommand(cmd, "scan-ports", "List the ports a service's processes listen on", func(c *client.Client, name string) (any, bool, error) {
			r, err := c.ScanPorts(ctxBackground(), name)
			return r, r.Success, err
		}),
		createAddCommand(cmd),
		createBulkStopCommand(cmd),
		createConflictsCommand(cmd),
		createSettingsCommand(cmd),
		createCheckCommand(cmd),
	)
	return root
}

// createRootCommand creates the root command with the persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "svcdeck",
		Short: "Supervise local development services",
		Long: `svcdeck starts, stops and watches keyword-matched local services
(backends, frontends, workers) and serves a REST + websocket API for dashboards.

Examples:
  svcdeck serve --data-dir ~/.svcdeck          # Start daemon
  svcdeck status                               # Status table
  svcdeck restart "FastAPI Backend"
  svcdeck bulk-stop frontend
  svcdeck status --api-url=http://box:8765/api # Remote daemon`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	root.PersistentFlags().StringVar(&flags.APIUrl, "api-url", client.DefaultBaseURL, "daemon API base URL")
	root.PersistentFlags().DurationVar(&flags.APITimeout, "api-timeout", 30*time.Second, "API request timeout")
	return root
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/svcdeck/pkg/client"
)

func ctxBackground() context.Context { return context.Background() }

// errOperationFailed marks a daemon reply with success=false; the reply has
// already been printed.
var errOperationFailed = errors.New("operation failed")

type actionFunc func(c *client.Client, name string) (result any, ok bool, err error)

func createActionCommand(cmd command, use, short string, fn actionFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use + " NAME",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			res, ok, err := fn(cmd.client(), args[0])
			if err != nil {
				return err
			}
			return cmd.report(res, ok)
		},
	}
}

func createStopCommand(cmd command) *cobra.Command {
	var timeout time.Duration
	c := &cobra.Command{
		Use:   "stop NAME",
		Short: "Stop every process of a service",
		Long: `Stop sends a graceful terminate to every matched process, waits up to
--timeout and kills whatever is still alive.`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			r, err := cmd.client().Stop(ctxBackground(), args[0], timeout)
			if err != nil {
				return err
			}
			return cmd.report(r, r.Success)
		},
	}
	c.Flags().DurationVar(&timeout, "timeout", 0, "grace period before kill (daemon default when 0)")
	return c
}

func createBulkStopCommand(cmd command) *cobra.Command {
	return &cobra.Command{
		Use:   "bulk-stop KIND",
		Short: "Stop every service of a kind (backend, frontend, other)",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			r, err := cmd.client().BulkStop(ctxBackground(), args[0])
			if err != nil {
				return err
			}
			return cmd.report(r, r.Success)
		},
	}
}

// AddFlags holds flags for the add command
type AddFlags struct {
	Name         string
	Kind         string
	Cmd          string
	WorkDir      string
	Keywords     []string
	Ports        []int
	ServiceURL   string
	TailscaleURL string
	Description  string
}

func createAddCommand(cmd command) *cobra.Command {
	f := &AddFlags{}
	c := &cobra.Command{
		Use:   "add",
		Short: "Register a new service",
		Long: `Register a new service with the daemon. Every --keyword must appear in a
process command line for the process to count as part of the service.

Examples:
  svcdeck add --name api --kind backend --cmd "uvicorn main:app --port 8000" --keyword uvicorn --keyword main:app --port 8000`,
		RunE: func(_ *cobra.Command, _ []string) error {
			spec := client.ServiceSpec{
				Name:          f.Name,
				Kind:          f.Kind,
				StartCmd:      f.Cmd,
				WorkingDir:    f.WorkDir,
				MatchKeywords: f.Keywords,
				Ports:         f.Ports,
				APIURL:        f.ServiceURL,
				TailscaleURL:  f.TailscaleURL,
				Description:   f.Description,
			}
			if spec.MatchKeywords == nil {
				spec.MatchKeywords = []string{}
			}
			if spec.Ports == nil {
				spec.Ports = []int{}
			}
			res, err := cmd.client().AddService(ctxBackground(), spec)
			if ve, ok := client.IsValidation(err); ok {
				for _, issue := range ve.Issues {
					_, _ = fmt.Fprintln(cmd.out, "error:", issue)
				}
				for _, w := range ve.Warnings {
					_, _ = fmt.Fprintln(cmd.out, "warning:", w)
				}
				return errors.New(ve.Message)
			}
			if err != nil {
				return err
			}
			for _, w := range res.Warnings {
				_, _ = fmt.Fprintln(cmd.out, "warning:", w)
			}
			_, _ = fmt.Fprintln(cmd.out, res.Message)
			return nil
		},
	}
	fl := c.Flags()
	fl.StringVar(&f.Name, "name", "", "service name (unique)")
	fl.StringVar(&f.Kind, "kind", "other", "backend, frontend or other")
	fl.StringVar(&f.Cmd, "cmd", "", "shell command that starts the service")
	fl.StringVar(&f.WorkDir, "dir", "", "working directory for --cmd")
	fl.StringSliceVar(&f.Keywords, "keyword", nil, "command-line keyword identifying the service's processes (repeatable)")
	fl.IntSliceVar(&f.Ports, "port", nil, "expected listening port (repeatable)")
	fl.StringVar(&f.ServiceURL, "service-url", "", "URL the service is reachable at")
	fl.StringVar(&f.TailscaleURL, "tailscale-url", "", "tailnet URL of the service")
	fl.StringVar(&f.Description, "description", "", "free-form description")
	_ = c.MarkFlagRequired("name")
	_ = c.MarkFlagRequired("cmd")
	return c
}

func createStatusCommand(cmd command) *cobra.Command {
	var asJSON bool
	c := &cobra.Command{
		Use:   "status",
		Short: "Show the live status of every service",
		RunE: func(_ *cobra.Command, _ []string) error {
			sts, err := cmd.client().Status(ctxBackground())
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.out, sts)
			}
			printStatusTable(cmd.out, sts)
			return nil
		},
	}
	c.Flags().BoolVar(&asJSON, "json", false, "print raw JSON")
	return c
}

func createListCommand(cmd command) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered service definitions",
		RunE: func(_ *cobra.Command, _ []string) error {
			specs, err := cmd.client().Services(ctxBackground())
			if err != nil {
				return err
			}
			return printJSON(cmd.out, specs)
		},
	}
}

func createConflictsCommand(cmd command) *cobra.Command {
	return &cobra.Command{
		Use:   "conflicts",
		Short: "Show ports claimed by more than one service",
		RunE: func(_ *cobra.Command, _ []string) error {
			rep, err := cmd.client().PortConflicts(ctxBackground())
			if err != nil {
				return err
			}
			if !rep.HasConflicts {
				_, _ = fmt.Fprintln(cmd.out, "no port conflicts")
				return nil
			}
			ports := make([]int, 0, len(rep.Conflicts))
			for p := range rep.Conflicts {
				ports = append(ports, p)
			}
			sort.Ints(ports)
			for _, p := range ports {
				_, _ = fmt.Fprintf(cmd.out, "%d: %s\n", p, strings.Join(rep.Conflicts[p], ", "))
			}
			return nil
		},
	}
}

func createSettingsCommand(cmd command) *cobra.Command {
	c := &cobra.Command{
		Use:   "settings",
		Short: "Show daemon settings",
		RunE: func(_ *cobra.Command, _ []string) error {
			s, err := cmd.client().Settings(ctxBackground())
			if err != nil {
				return err
			}
			return printJSON(cmd.out, s)
		},
	}
	c.AddCommand(&cobra.Command{
		Use:   "set KEY=VALUE...",
		Short: "Update settings; values are parsed as JSON when possible",
		Example: `  svcdeck settings set update_interval_seconds=3 check_port_conflicts=false
  svcdeck settings set default_tailscale_domain=tail1234.ts.net`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			patch, err := parseAssignments(args)
			if err != nil {
				return err
			}
			r, err := cmd.client().UpdateSettings(ctxBackground(), patch)
			if err != nil {
				return err
			}
			return cmd.report(r, r.Success)
		},
	})
	return c
}

// parseAssignments turns key=value pairs into a settings patch. Values that
// parse as JSON keep their type; anything else is a string.
func parseAssignments(args []string) (map[string]any, error) {
	out := make(map[string]any, len(args))
	for _, a := range args {
		k, v, ok := strings.Cut(a, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid assignment %q, want KEY=VALUE", a)
		}
		var parsed any
		if err := json.Unmarshal([]byte(v), &parsed); err == nil {
			out[k] = parsed
		} else {
			out[k] = v
		}
	}
	return out, nil
}

func createCheckCommand(cmd command) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check connectivity to the daemon (port, /health, status API)",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runCheck(cmd)
		},
	}
}

func runCheck(cmd command) error {
	c := cmd.client()
	ctx := ctxBackground()
	failed := 0
	step := func(name string, err error, detail string) {
		if err != nil {
			failed++
			_, _ = fmt.Fprintf(cmd.out, "FAIL  %s: %v\n", name, err)
			return
		}
		_, _ = fmt.Fprintf(cmd.out, "ok    %s%s\n", name, detail)
	}

	u, err := url.Parse(c.BaseURL())
	if err != nil {
		return fmt.Errorf("invalid --api-url: %w", err)
	}
	host := u.Host
	if u.Port() == "" {
		if u.Scheme == "https" {
			host = net.JoinHostPort(u.Hostname(), "443")
		} else {
			host = net.JoinHostPort(u.Hostname(), "80")
		}
	}
	conn, err := net.DialTimeout("tcp", host, 2*time.Second)
	if err == nil {
		_ = conn.Close()
	}
	step("port "+host, err, "")

	h, err := c.Health(ctx)
	step("health", err, fmt.Sprintf(" (version %s, %d services)", h.Version, h.ServicesCount))

	sts, err := c.Status(ctx)
	running := 0
	for _, s := range sts {
		if s.Running {
			running++
		}
	}
	step("status api", err, fmt.Sprintf(" (%d running of %d)", running, len(sts)))

	if failed > 0 {
		return fmt.Errorf("%d check(s) failed", failed)
	}
	return nil
}

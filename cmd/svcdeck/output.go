package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/loykin/svcdeck/pkg/client"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// report prints a daemon reply and turns success=false into a non-zero exit.
func (c command) report(v any, ok bool) error {
	if err := printJSON(c.out, v); err != nil {
		return err
	}
	if !ok {
		return errOperationFailed
	}
	return nil
}

func printStatusTable(w io.Writer, sts []client.ServiceStatus) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "NAME\tKIND\tSTATE\tPIDS\tPORTS\tUPTIME\tRESTARTS\tLAST ERROR")
	for _, s := range sts {
		state := "stopped"
		if s.Running {
			state = "running"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\t%d\t%s\n",
			s.Name, s.Kind, state, s.PIDCount, portList(s.PortStatus), dash(s.Runtime.Uptime),
			s.Runtime.RestartCount, dash(s.Runtime.LastError))
	}
	_ = tw.Flush()
}

// portList renders configured ports, marking the ones accepting connections.
func portList(ps []client.PortState) string {
	if len(ps) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(ps))
	for _, p := range ps {
		s := strconv.Itoa(p.Port)
		if p.Accessible {
			s += "*"
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, ",")
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// Package ports probes TCP ports and discovers the ports a service's
// processes are actually listening on.
package ports

import (
	"context"
	"net"
	"strconv"
	"time"

	gopsnet "github.com/shirou/gopsutil/v4/net"
	gopsproc "github.com/shirou/gopsutil/v4/process"

	"github.com/loykin/svcdeck/internal/process"
	"github.com/loykin/svcdeck/internal/service"
)

// DefaultProbeTimeout bounds a single IsListening dial.
const DefaultProbeTimeout = 500 * time.Millisecond

// SocketLister lists the sockets a process has open.
type SocketLister interface {
	Sockets(ctx context.Context, pid int32) ([]gopsnet.ConnectionStat, error)
}

// HostSockets reads sockets through gopsutil.
type HostSockets struct{}

func (HostSockets) Sockets(ctx context.Context, pid int32) ([]gopsnet.ConnectionStat, error) {
	p, err := gopsproc.NewProcessWithContext(ctx, pid)
	if err != nil {
		return nil, err
	}
	return p.ConnectionsWithContext(ctx)
}

// Inspector answers port questions about the local host.
type Inspector struct {
	Host    string
	Timeout time.Duration
	sockets SocketLister
}

// NewInspector returns an Inspector probing localhost. A nil lister reads the
// host socket table.
func NewInspector(sockets SocketLister) *Inspector {
	if sockets == nil {
		sockets = HostSockets{}
	}
	return &Inspector{Host: "localhost", Timeout: DefaultProbeTimeout, sockets: sockets}
}

// IsListening reports whether something accepts TCP connections on port.
// Every dial error counts as "not listening".
func (in *Inspector) IsListening(ctx context.Context, port int) bool {
	if port <= 0 || port > 65535 {
		return false
	}
	d := net.Dialer{Timeout: in.timeout()}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(in.Host, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// Scan returns the local ports of every LISTEN socket held by the matched
// processes, deduplicated in discovery order. Processes that vanish or deny
// inspection are skipped.
func (in *Inspector) Scan(ctx context.Context, matches []process.Match) []int {
	seen := make(map[int]struct{})
	var out []int
	for _, m := range matches {
		conns, err := in.sockets.Sockets(ctx, m.PID)
		if err != nil {
			continue
		}
		for _, c := range conns {
			if c.Status != "LISTEN" || c.Laddr.Port == 0 {
				continue
			}
			p := int(c.Laddr.Port)
			if _, dup := seen[p]; dup {
				continue
			}
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	return out
}

// PortState is the live view of one expected port.
type PortState struct {
	Port       int  `json:"port"`
	InUse      bool `json:"in_use"`
	Accessible bool `json:"accessible"`
}

// Probe checks every expected port. A port is accessible only when it is in
// use and the owning service is running.
func (in *Inspector) Probe(ctx context.Context, ports []int, running bool) []PortState {
	out := make([]PortState, 0, len(ports))
	for _, p := range ports {
		inUse := in.IsListening(ctx, p)
		out = append(out, PortState{Port: p, InUse: inUse, Accessible: inUse && running})
	}
	return out
}

func (in *Inspector) timeout() time.Duration {
	if in.Timeout <= 0 {
		return DefaultProbeTimeout
	}
	return in.Timeout
}

// Conflicts maps each port claimed by more than one spec to the claimants'
// names in registry order.
func Conflicts(specs []service.Spec) map[int][]string {
	usage := make(map[int][]string)
	for _, s := range specs {
		for _, p := range s.Ports {
			usage[p] = append(usage[p], s.Name)
		}
	}
	out := make(map[int][]string)
	for p, names := range usage {
		if len(names) > 1 {
			out[p] = names
		}
	}
	return out
}

// ClaimedBy returns the names of specs that already expect port.
func ClaimedBy(specs []service.Spec, port int) []string {
	var out []string
	for _, s := range specs {
		if s.HasPort(port) {
			out = append(out, s.Name)
		}
	}
	return out
}

package process

import (
	"context"
	"strings"

	gopsproc "github.com/shirou/gopsutil/v4/process"

	"github.com/loykin/svcdeck/internal/service"
)

// Match is a live OS process that satisfies a service's keyword predicate.
type Match struct {
	PID         int32   `json:"pid"`
	Name        string  `json:"name"`
	CPUPercent  float64 `json:"cpu"`
	MemoryBytes uint64  `json:"memory"`
	CreateTime  int64   `json:"create_time"` // unix milliseconds
}

// Handle is one entry of the host process table.
type Handle interface {
	Pid() int32
	Cmdline(ctx context.Context) ([]string, error)
	Describe(ctx context.Context) (Match, error)
}

// Source enumerates the host process table.
type Source interface {
	Processes(ctx context.Context) ([]Handle, error)
}

// HostSource reads the real process table through gopsutil.
type HostSource struct{}

func (HostSource) Processes(ctx context.Context) ([]Handle, error) {
	ps, err := gopsproc.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Handle, 0, len(ps))
	for _, p := range ps {
		out = append(out, hostHandle{p: p})
	}
	return out, nil
}

type hostHandle struct{ p *gopsproc.Process }

func (h hostHandle) Pid() int32 { return h.p.Pid }

func (h hostHandle) Cmdline(ctx context.Context) ([]string, error) {
	return h.p.CmdlineSliceWithContext(ctx)
}

// Describe collects the display fields best-effort; only a vanished process is an error.
func (h hostHandle) Describe(ctx context.Context) (Match, error) {
	m := Match{PID: h.p.Pid}
	name, err := h.p.NameWithContext(ctx)
	if err != nil {
		if running, rerr := h.p.IsRunningWithContext(ctx); rerr == nil && !running {
			return Match{}, err
		}
	}
	m.Name = name
	if cpu, err := h.p.CPUPercentWithContext(ctx); err == nil {
		m.CPUPercent = roundTenth(cpu)
	}
	if mem, err := h.p.MemoryInfoWithContext(ctx); err == nil && mem != nil {
		m.MemoryBytes = mem.RSS
	}
	if ct, err := h.p.CreateTimeWithContext(ctx); err == nil {
		m.CreateTime = ct
	}
	return m, nil
}

// Matcher finds the processes belonging to a service.
type Matcher struct {
	src Source
}

// NewMatcher returns a Matcher over src; nil means the host process table.
func NewMatcher(src Source) *Matcher {
	if src == nil {
		src = HostSource{}
	}
	return &Matcher{src: src}
}

// Match enumerates the process table once and returns every process whose
// joined, lowercased command line contains all of spec's keywords. A spec
// without keywords matches nothing. Processes that vanish or deny access
// while being inspected are skipped.
func (m *Matcher) Match(ctx context.Context, spec service.Spec) []Match {
	keywords := lowerAll(spec.MatchKeywords)
	if len(keywords) == 0 {
		return nil
	}
	handles, err := m.src.Processes(ctx)
	if err != nil {
		return nil
	}
	var out []Match
	for _, h := range handles {
		args, err := h.Cmdline(ctx)
		if err != nil || !containsAll(strings.ToLower(strings.Join(args, " ")), keywords) {
			continue
		}
		d, err := h.Describe(ctx)
		if err != nil {
			continue
		}
		d.PID = h.Pid()
		out = append(out, d)
	}
	return out
}

// PIDs extracts the pid column of ms.
func PIDs(ms []Match) []int32 {
	out := make([]int32, len(ms))
	for i, m := range ms {
		out[i] = m.PID
	}
	return out
}

func lowerAll(ss []string) []string {
	if len(ss) == 0 {
		return nil
	}
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = strings.ToLower(s)
	}
	return out
}

func containsAll(s string, subs []string) bool {
	for _, k := range subs {
		if !strings.Contains(s, k) {
			return false
		}
	}
	return true
}

func roundTenth(f float64) float64 {
	return float64(int64(f*10+0.5)) / 10
}

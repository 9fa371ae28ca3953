package metrics

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
)

const gib = 1 << 30

// HostStats is the host resource summary pushed with every snapshot.
type HostStats struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	MemoryUsedGB  float64 `json:"memory_used_gb"`
	MemoryTotalGB float64 `json:"memory_total_gb"`
	DiskPercent   float64 `json:"disk_percent"`
	DiskUsedGB    float64 `json:"disk_used_gb"`
	DiskTotalGB   float64 `json:"disk_total_gb"`
}

// HostCollector samples host cpu, memory and disk usage.
type HostCollector struct {
	// DiskPath is the mount whose usage is reported.
	DiskPath string
	// CPUWindow is the sampling window for cpu percent.
	CPUWindow time.Duration
}

// NewHostCollector reports the root filesystem with a 100ms cpu window.
func NewHostCollector() *HostCollector {
	return &HostCollector{DiskPath: "/", CPUWindow: 100 * time.Millisecond}
}

// Collect returns the current host stats. Each part is best-effort: a failed
// probe leaves its fields zero.
func (h *HostCollector) Collect(ctx context.Context) HostStats {
	var s HostStats
	if pct, err := cpu.PercentWithContext(ctx, h.CPUWindow, false); err == nil && len(pct) > 0 {
		s.CPUPercent = round(pct[0], 1)
	} else if err != nil {
		slog.Debug("cpu stats unavailable", "error", err)
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		s.MemoryPercent = round(vm.UsedPercent, 1)
		s.MemoryUsedGB = round(float64(vm.Used)/gib, 2)
		s.MemoryTotalGB = round(float64(vm.Total)/gib, 2)
	} else {
		slog.Debug("memory stats unavailable", "error", err)
	}
	path := h.DiskPath
	if path == "" {
		path = "/"
	}
	if du, err := disk.UsageWithContext(ctx, path); err == nil {
		s.DiskPercent = round(du.UsedPercent, 1)
		s.DiskUsedGB = round(float64(du.Used)/gib, 2)
		s.DiskTotalGB = round(float64(du.Total)/gib, 2)
	} else {
		slog.Debug("disk stats unavailable", "path", path, "error", err)
	}
	return s
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

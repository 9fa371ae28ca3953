package client

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ServiceSpec is a registered service definition.
type ServiceSpec struct {
	Name          string   `json:"name"`
	Kind          string   `json:"kind"`
	StartCmd      string   `json:"start_cmd"`
	WorkingDir    string   `json:"working_dir,omitempty"`
	MatchKeywords []string `json:"match_keywords"`
	Ports         []int    `json:"ports"`
	APIURL        string   `json:"api_url,omitempty"`
	TailscaleURL  string   `json:"tailscale_url,omitempty"`
	Description   string   `json:"description,omitempty"`
}

// ProcessInfo is one matched OS process.
type ProcessInfo struct {
	PID         int32   `json:"pid"`
	Name        string  `json:"name"`
	CPUPercent  float64 `json:"cpu"`
	MemoryBytes uint64  `json:"memory"`
	CreateTime  int64   `json:"create_time"`
}

// PortState reports one configured port.
type PortState struct {
	Port       int  `json:"port"`
	InUse      bool `json:"in_use"`
	Accessible bool `json:"accessible"`
}

type ErrorEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// Runtime is the daemon's bookkeeping for a service.
type Runtime struct {
	DeclaredState    string       `json:"declared_state"`
	ObservedState    string       `json:"observed_state"`
	StartTime        *time.Time   `json:"start_time,omitempty"`
	Uptime           string       `json:"uptime,omitempty"`
	RestartCount     int          `json:"restart_count"`
	RestartSuccesses int          `json:"restart_successes"`
	Errors           []ErrorEntry `json:"errors"`
	LastError        string       `json:"last_error,omitempty"`
}

// ServiceStatus is the live view of one service.
type ServiceStatus struct {
	Name          string        `json:"name"`
	Kind          string        `json:"kind"`
	Running       bool          `json:"running"`
	Processes     []ProcessInfo `json:"processes"`
	PIDCount      int           `json:"pid_count"`
	Ports         []int         `json:"ports"`
	PortStatus    []PortState   `json:"port_status"`
	DetectedPorts []int         `json:"detected_ports"`
	APIURL        string        `json:"api_url,omitempty"`
	TailscaleURL  string        `json:"tailscale_url,omitempty"`
	Description   string        `json:"description,omitempty"`
	Runtime       Runtime       `json:"runtime"`
}

// ActionResult is returned by start, restart, delete and settings updates.
type ActionResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// StopResult is returned by stop and bulk stop.
type StopResult struct {
	Success  bool     `json:"success"`
	Message  string   `json:"message"`
	Count    int      `json:"count"`
	Killed   int      `json:"killed,omitempty"`
	Services []string `json:"services,omitempty"`
}

type ScanResult struct {
	Success         bool   `json:"success"`
	Message         string `json:"message,omitempty"`
	DetectedPorts   []int  `json:"detected_ports"`
	ConfiguredPorts []int  `json:"configured_ports"`
}

type ConflictReport struct {
	HasConflicts bool             `json:"has_conflicts"`
	Conflicts    map[int][]string `json:"conflicts"`
}

type AddResult struct {
	Success  bool     `json:"success"`
	Message  string   `json:"message"`
	Warnings []string `json:"warnings"`
}

// Settings mirrors the daemon's settings record.
type Settings struct {
	StoragePaths           map[string]string `json:"storage_paths"`
	ScheduledTasks         []json.RawMessage `json:"scheduled_tasks"`
	StatsRetentionDays     int               `json:"stats_retention_days"`
	AutoRestartOnFailure   bool              `json:"auto_restart_on_failure"`
	CheckPortConflicts     bool              `json:"check_port_conflicts"`
	DefaultTailscaleDomain string            `json:"default_tailscale_domain"`
	UpdateIntervalSeconds  int               `json:"update_interval_seconds"`
	APIBaseURL             string            `json:"api_base_url"`
}

type HostStats struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	MemoryUsedGB  float64 `json:"memory_used_gb"`
	MemoryTotalGB float64 `json:"memory_total_gb"`
	DiskPercent   float64 `json:"disk_percent"`
	DiskUsedGB    float64 `json:"disk_used_gb"`
	DiskTotalGB   float64 `json:"disk_total_gb"`
}

type Health struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	ServicesCount int    `json:"services_count"`
}

// ValidationError is returned by AddService when the daemon rejects a spec.
type ValidationError struct {
	Message  string   `json:"message"`
	Issues   []string `json:"issues"`
	Warnings []string `json:"warnings"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Message, strings.Join(e.Issues, "; "))
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Message string `json:"message"`
}

package supervisor

import (
	"fmt"
	"strings"

	"github.com/loykin/svcdeck/internal/ports"
	"github.com/loykin/svcdeck/internal/process"
	"github.com/loykin/svcdeck/internal/service"
	"github.com/loykin/svcdeck/internal/state"
)

// NotFoundMessage is the message of every result for an unknown service.
const NotFoundMessage = "Service not found"

// Result is the outcome of start, restart and delete.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// StopResult is the outcome of stop and bulk stop. Count is the number of
// matched processes the stop targeted.
type StopResult struct {
	Success  bool     `json:"success"`
	Message  string   `json:"message"`
	Count    int      `json:"count"`
	Killed   int      `json:"killed,omitempty"`
	Services []string `json:"services,omitempty"`
}

// ScanResult compares discovered listeners with the configured ports.
type ScanResult struct {
	Success         bool   `json:"success"`
	Message         string `json:"message,omitempty"`
	DetectedPorts   []int  `json:"detected_ports"`
	ConfiguredPorts []int  `json:"configured_ports"`
}

// ConflictReport lists ports claimed by more than one service.
type ConflictReport struct {
	HasConflicts bool             `json:"has_conflicts"`
	Conflicts    map[int][]string `json:"conflicts"`
}

// Status is the composed live view of one service.
type Status struct {
	Name          string            `json:"name"`
	Kind          service.Kind      `json:"kind"`
	Running       bool              `json:"running"`
	Processes     []process.Match   `json:"processes"`
	PIDCount      int               `json:"pid_count"`
	Ports         []int             `json:"ports"`
	PortStatus    []ports.PortState `json:"port_status"`
	DetectedPorts []int             `json:"detected_ports"`
	APIURL        string            `json:"api_url,omitempty"`
	TailscaleURL  string            `json:"tailscale_url,omitempty"`
	Description   string            `json:"description,omitempty"`
	Runtime       state.View        `json:"runtime"`
}

// Validation is the verdict on a candidate spec. Issues block the add;
// warnings do not.
type Validation struct {
	Valid    bool     `json:"valid"`
	Issues   []string `json:"issues"`
	Warnings []string `json:"warnings"`
}

// ValidationError rejects an add before anything is mutated.
type ValidationError struct {
	Validation
}

func (e *ValidationError) Error() string {
	return "service validation failed: " + strings.Join(e.Issues, "; ")
}

// ChangeKind classifies notifications sent to the change listener.
type ChangeKind string

const (
	ChangeStatus   ChangeKind = "status"
	ChangeAdded    ChangeKind = "added"
	ChangeDeleted  ChangeKind = "deleted"
	ChangeReloaded ChangeKind = "reloaded"
)

// Change tells observers that supervised state moved.
type Change struct {
	Kind    ChangeKind
	Service string
	// Spec is set for ChangeAdded.
	Spec *service.Spec
}

func (c Change) String() string { return fmt.Sprintf("%s:%s", c.Kind, c.Service) }

// Package state keeps the per-service supervision bookkeeping: what the
// supervisor last asked for, what it last saw, uptime, restarts and a bounded
// error log.
package state

import (
	"fmt"
	"sync"
	"time"
)

const (
	// MaxErrors is how many error entries a Runtime retains.
	MaxErrors = 10
	// ViewErrors is how many of the most recent errors a View exposes.
	ViewErrors = 3
)

// Declared is the last lifecycle operation issued for a service.
type Declared string

const (
	DeclaredUnknown Declared = "unknown"
	DeclaredStarted Declared = "started"
	DeclaredStopped Declared = "stopped"
)

// Observed is the result of the last live probe.
type Observed string

const (
	ObservedUnknown Observed = "unknown"
	ObservedRunning Observed = "running"
	ObservedStopped Observed = "stopped"
)

// ErrorEntry is one recorded failure.
type ErrorEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// Runtime is the mutable record for one service. All methods are safe for
// concurrent use.
type Runtime struct {
	mu               sync.Mutex
	declared         Declared
	observed         Observed
	startTime        *time.Time
	restartCount     int
	restartSuccesses int
	errors           []ErrorEntry
	lastError        string
	now              func() time.Time
}

func newRuntime(now func() time.Time) *Runtime {
	return &Runtime{declared: DeclaredUnknown, observed: ObservedUnknown, now: now}
}

// MarkStarted records a successful start.
func (r *Runtime) MarkStarted() {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.now()
	r.declared = DeclaredStarted
	r.startTime = &t
}

// MarkStopped records a stop and clears the start time.
func (r *Runtime) MarkStopped() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.declared = DeclaredStopped
	r.startTime = nil
}

// Observe reconciles the record with a live probe. A running service without
// a start time is backfilled to now; a stopped one loses its start time.
func (r *Runtime) Observe(running bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observed, r.startTime = Reconcile(running, r.startTime, r.now())
}

// Reconcile is the pure rule behind Observe.
func Reconcile(running bool, start *time.Time, now time.Time) (Observed, *time.Time) {
	if running {
		if start == nil {
			t := now
			return ObservedRunning, &t
		}
		return ObservedRunning, start
	}
	return ObservedStopped, nil
}

// RecordRestart counts a restart attempt and, when ok, a successful one.
func (r *Runtime) RecordRestart(ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.restartCount++
	if ok {
		r.restartSuccesses++
	}
}

// RecordError appends to the error log, keeping the most recent MaxErrors.
func (r *Runtime) RecordError(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, ErrorEntry{Timestamp: r.now(), Message: msg})
	if n := len(r.errors); n > MaxErrors {
		r.errors = append([]ErrorEntry(nil), r.errors[n-MaxErrors:]...)
	}
	r.lastError = msg
}

// RestartCount returns the number of restart attempts.
func (r *Runtime) RestartCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.restartCount
}

// StartTime returns a copy of the start time, nil when not running.
func (r *Runtime) StartTime() *time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.startTime == nil {
		return nil
	}
	t := *r.startTime
	return &t
}

// ErrorCount returns the number of retained errors.
func (r *Runtime) ErrorCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.errors)
}

// View is the read-only projection embedded in a status snapshot.
type View struct {
	Declared         Declared     `json:"declared_state"`
	Observed         Observed     `json:"observed_state"`
	StartTime        *time.Time   `json:"start_time,omitempty"`
	Uptime           string       `json:"uptime,omitempty"`
	RestartCount     int          `json:"restart_count"`
	RestartSuccesses int          `json:"restart_successes"`
	Errors           []ErrorEntry `json:"errors"`
	LastError        string       `json:"last_error,omitempty"`
}

// View snapshots the record.
func (r *Runtime) View() View {
	r.mu.Lock()
	defer r.mu.Unlock()
	v := View{
		Declared:         r.declared,
		Observed:         r.observed,
		RestartCount:     r.restartCount,
		RestartSuccesses: r.restartSuccesses,
		LastError:        r.lastError,
	}
	if r.startTime != nil {
		t := *r.startTime
		v.StartTime = &t
		v.Uptime = FormatUptime(r.now().Sub(t))
	}
	from := len(r.errors) - ViewErrors
	if from < 0 {
		from = 0
	}
	v.Errors = append([]ErrorEntry{}, r.errors[from:]...)
	return v
}

// FormatUptime renders d as "Xd Yh Zm", "Yh Zm" or "Zm Ss".
func FormatUptime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	days := total / 86400
	hours := (total % 86400) / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60
	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	default:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
}

// Package supervisor orchestrates the lifecycle of registered services:
// validation, start, stop, restart, status and bulk operations. Process and
// port errors are recorded and returned as result data; nothing here panics
// on OS failures.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/loykin/svcdeck/internal/config"
	"github.com/loykin/svcdeck/internal/history"
	"github.com/loykin/svcdeck/internal/metrics"
	"github.com/loykin/svcdeck/internal/ports"
	"github.com/loykin/svcdeck/internal/process"
	"github.com/loykin/svcdeck/internal/service"
	"github.com/loykin/svcdeck/internal/state"
)

const (
	DefaultStopTimeout  = 5 * time.Second
	DefaultSettleDelay  = 500 * time.Millisecond
	DefaultRestartPause = 500 * time.Millisecond
)

// Matcher finds the live processes belonging to a spec.
type Matcher interface {
	Match(ctx context.Context, spec service.Spec) []process.Match
}

// PortProber answers port questions.
type PortProber interface {
	IsListening(ctx context.Context, port int) bool
	Scan(ctx context.Context, matches []process.Match) []int
	Probe(ctx context.Context, ps []int, running bool) []ports.PortState
}

// SettingsSource exposes the current settings.
type SettingsSource interface {
	Get() config.Settings
}

// Options wires a Supervisor. Zero fields get host-backed defaults.
type Options struct {
	Registry   *service.Registry
	State      *state.Table
	Matcher    Matcher
	Ports      PortProber
	Controller process.Controller
	Settings   SettingsSource
	// Persist saves the registry after add and delete.
	Persist func([]service.Spec) error
	History history.Sink
	// EventQueue bounds history events awaiting delivery. Zero means
	// DefaultEventQueue.
	EventQueue int
	// OnChange is called after each mutating operation, outside all locks.
	OnChange func(Change)

	StopTimeout  time.Duration
	SettleDelay  time.Duration
	RestartPause time.Duration
}

// Supervisor owns the registry and the runtime table.
type Supervisor struct {
	reg      *service.Registry
	table    *state.Table
	matcher  Matcher
	ports    PortProber
	ctl      process.Controller
	settings SettingsSource
	persist  func([]service.Spec) error
	events   *eventQueue

	stopTimeout  time.Duration
	settle       time.Duration
	restartPause time.Duration

	locks keyedMutex
	// addMu makes validate+append atomic across concurrent adds.
	addMu sync.Mutex

	onChangeMu sync.RWMutex
	onChange   func(Change)

	self int32
}

func New(o Options) *Supervisor {
	s := &Supervisor{
		reg:          o.Registry,
		table:        o.State,
		matcher:      o.Matcher,
		ports:        o.Ports,
		ctl:          o.Controller,
		settings:     o.Settings,
		persist:      o.Persist,
		onChange:     o.OnChange,
		stopTimeout:  valOr(o.StopTimeout, DefaultStopTimeout),
		settle:       valOr(o.SettleDelay, DefaultSettleDelay),
		restartPause: valOr(o.RestartPause, DefaultRestartPause),
		self:         int32(os.Getpid()),
	}
	if s.reg == nil {
		s.reg = service.NewRegistry()
	}
	if s.table == nil {
		s.table = state.NewTable()
	}
	if s.matcher == nil {
		s.matcher = process.NewMatcher(nil)
	}
	if s.ports == nil {
		s.ports = ports.NewInspector(nil)
	}
	if s.ctl == nil {
		s.ctl = process.OSController{}
	}
	if s.settings == nil {
		s.settings = config.NewLive(config.DefaultSettings(), nil)
	}
	if o.History != nil {
		size := o.EventQueue
		if size <= 0 {
			size = DefaultEventQueue
		}
		s.events = newEventQueue(o.History, size)
	}
	for _, sp := range s.reg.List() {
		s.table.Ensure(sp.Name)
	}
	return s
}

// Close stops history delivery after flushing queued events, waiting at most
// until ctx ends. Operations after Close still work but record no history.
func (s *Supervisor) Close(ctx context.Context) error {
	if s.events == nil {
		return nil
	}
	return s.events.close(ctx)
}

// SetOnChange replaces the change listener.
func (s *Supervisor) SetOnChange(fn func(Change)) {
	s.onChangeMu.Lock()
	s.onChange = fn
	s.onChangeMu.Unlock()
}

func (s *Supervisor) notify(c Change) {
	s.onChangeMu.RLock()
	fn := s.onChange
	s.onChangeMu.RUnlock()
	if fn != nil {
		fn(c)
	}
}

// Services returns the registered specs in registry order.
func (s *Supervisor) Services() []service.Spec { return s.reg.List() }

// Len returns the number of registered services.
func (s *Supervisor) Len() int { return s.reg.Len() }

// Runtime returns the runtime view for name.
func (s *Supervisor) Runtime(name string) (state.View, bool) {
	rt, ok := s.table.Get(name)
	if !ok {
		return state.View{}, false
	}
	return rt.View(), true
}

// Tracked lists names that have runtime state.
func (s *Supervisor) Tracked() []string { return s.table.Names() }

// ValidateAdd checks spec against the registry and live ports.
func (s *Supervisor) ValidateAdd(ctx context.Context, spec service.Spec) Validation {
	return Validate(ctx, s.ports, spec, s.reg.List(), s.settings.Get().CheckPortConflicts)
}

// Validate applies the add rules. Duplicate names and, when checkConflicts is
// set, ports claimed by another spec are issues, as are a blank name, a kind
// outside backend/frontend/other and a port outside 1-65535. An empty kind
// means other. A missing start command and a port that is live right now are
// only warnings.
func Validate(ctx context.Context, prober PortProber, spec service.Spec, existing []service.Spec, checkConflicts bool) Validation {
	v := Validation{Issues: []string{}, Warnings: []string{}}
	if strings.TrimSpace(spec.Name) == "" {
		v.Issues = append(v.Issues, "Service name is required")
	}
	for _, e := range existing {
		if e.Name == spec.Name {
			v.Issues = append(v.Issues, fmt.Sprintf("Service name '%s' already exists", spec.Name))
			break
		}
	}
	if strings.TrimSpace(string(spec.Kind)) != "" {
		if _, err := service.ParseKind(string(spec.Kind)); err != nil {
			v.Issues = append(v.Issues, fmt.Sprintf("Unknown kind '%s' (want backend, frontend or other)", spec.Kind))
		}
	}
	if strings.TrimSpace(spec.StartCmd) == "" {
		v.Warnings = append(v.Warnings, "No start command; start will do nothing")
	}
	for _, p := range spec.Ports {
		if p <= 0 || p > 65535 {
			v.Issues = append(v.Issues, fmt.Sprintf("Port %d is out of range", p))
			continue
		}
		if checkConflicts {
			if names := ports.ClaimedBy(existing, p); len(names) > 0 {
				v.Issues = append(v.Issues, fmt.Sprintf("Port %d conflicts with: %s", p, strings.Join(names, ", ")))
			}
		}
		if prober != nil && prober.IsListening(ctx, p) {
			v.Warnings = append(v.Warnings, fmt.Sprintf("Port %d is currently in use", p))
		}
	}
	v.Valid = len(v.Issues) == 0
	return v
}

// Add validates and registers spec, creates its runtime record and persists
// the registry. An invalid spec returns *ValidationError and changes nothing.
func (s *Supervisor) Add(ctx context.Context, spec service.Spec) (Validation, error) {
	spec = spec.Clone()
	if strings.TrimSpace(string(spec.Kind)) == "" {
		spec.Kind = service.KindOther
	} else if k, err := service.ParseKind(string(spec.Kind)); err == nil {
		spec.Kind = k
	}

	s.addMu.Lock()
	v := s.ValidateAdd(ctx, spec)
	if !v.Valid {
		s.addMu.Unlock()
		return v, &ValidationError{Validation: v}
	}
	if err := s.reg.Add(spec); err != nil {
		s.addMu.Unlock()
		return v, err
	}
	s.table.Ensure(spec.Name)
	if err := s.save(); err != nil {
		_, _ = s.reg.Remove(spec.Name)
		s.table.Delete(spec.Name)
		s.addMu.Unlock()
		return v, fmt.Errorf("persist services: %w", err)
	}
	s.addMu.Unlock()

	slog.Info("service added", "service", spec.Name, "kind", string(spec.Kind), "warnings", len(v.Warnings))
	s.record(spec, history.EventAdd, true, 0, "")
	s.notify(Change{Kind: ChangeAdded, Service: spec.Name, Spec: &spec})
	return v, nil
}

// Delete unregisters name and drops its runtime record. Running processes
// are left alone.
func (s *Supervisor) Delete(ctx context.Context, name string) Result {
	unlock := s.locks.Lock(name)
	s.addMu.Lock()
	before := s.reg.List()
	spec, err := s.reg.Remove(name)
	if err != nil {
		s.addMu.Unlock()
		unlock()
		return Result{Success: false, Message: NotFoundMessage}
	}
	if err := s.save(); err != nil {
		s.reg.Replace(before)
		s.addMu.Unlock()
		unlock()
		slog.Error("persist services failed", "service", name, "error", err)
		return Result{Success: false, Message: fmt.Sprintf("persist services: %v", err)}
	}
	s.table.Delete(name)
	s.addMu.Unlock()
	unlock()

	metrics.Forget(name)
	slog.Info("service deleted", "service", name)
	s.record(spec, history.EventDelete, true, 0, "")
	s.notify(Change{Kind: ChangeDeleted, Service: name})
	return Result{Success: true, Message: fmt.Sprintf("Service '%s' deleted", name)}
}

// ReplaceAll swaps the whole registry, e.g. after the services file was
// edited by hand. Runtime records of removed services are dropped.
func (s *Supervisor) ReplaceAll(specs []service.Spec) {
	s.addMu.Lock()
	s.reg.Replace(specs)
	names := make([]string, 0, len(specs))
	for _, sp := range s.reg.List() {
		names = append(names, sp.Name)
		s.table.Ensure(sp.Name)
	}
	s.table.Retain(names)
	s.addMu.Unlock()
	slog.Info("service registry reloaded", "count", len(names))
	s.notify(Change{Kind: ChangeReloaded})
}

// Start launches the named service.
func (s *Supervisor) Start(ctx context.Context, name string) Result {
	spec, unlock, ok := s.lockSpec(name)
	if !ok {
		return Result{Success: false, Message: NotFoundMessage}
	}
	r := s.start(ctx, spec)
	unlock()
	s.notify(Change{Kind: ChangeStatus, Service: name})
	return r
}

// Stop stops the named service with the default timeout.
func (s *Supervisor) Stop(ctx context.Context, name string) StopResult {
	return s.StopWithTimeout(ctx, name, s.stopTimeout)
}

// StopWithTimeout stops the named service, force-killing processes still
// alive after timeout.
func (s *Supervisor) StopWithTimeout(ctx context.Context, name string, timeout time.Duration) StopResult {
	spec, unlock, ok := s.lockSpec(name)
	if !ok {
		return StopResult{Success: false, Message: NotFoundMessage}
	}
	r := s.stop(ctx, spec, timeout)
	unlock()
	s.notify(Change{Kind: ChangeStatus, Service: name})
	return r
}

// Restart stops, pauses briefly and starts the named service. The restart
// counter counts attempts; only a successful start bumps the success count.
func (s *Supervisor) Restart(ctx context.Context, name string) Result {
	spec, unlock, ok := s.lockSpec(name)
	if !ok {
		return Result{Success: false, Message: NotFoundMessage}
	}
	stopped := s.stop(ctx, spec, s.stopTimeout)
	sleepCtx(ctx, s.restartPause)
	started := s.start(ctx, spec)
	s.table.Ensure(spec.Name).RecordRestart(started.Success)
	unlock()

	metrics.IncRestart(name)
	msg := fmt.Sprintf("Stopped: %d process(es), Started service", stopped.Count)
	if !started.Success {
		msg = fmt.Sprintf("Stopped: %d process(es), Start failed: %s", stopped.Count, started.Message)
	}
	s.record(spec, history.EventRestart, started.Success, stopped.Count, msg)
	s.notify(Change{Kind: ChangeStatus, Service: name})
	return Result{Success: started.Success, Message: msg}
}

// BulkStop stops every service whose kind matches case-insensitively. A
// failing service does not abort the batch.
func (s *Supervisor) BulkStop(ctx context.Context, kind string) StopResult {
	total, killed := 0, 0
	ok := true
	var names []string
	for _, candidate := range s.reg.ByKind(kind) {
		spec, unlock, found := s.lockSpec(candidate.Name)
		if !found {
			continue
		}
		r := s.stop(ctx, spec, s.stopTimeout)
		unlock()
		total += r.Count
		killed += r.Killed
		names = append(names, spec.Name)
		if !r.Success {
			ok = false
		}
	}
	slog.Info("bulk stop", "kind", kind, "services", len(names), "count", total)
	s.notify(Change{Kind: ChangeStatus})
	return StopResult{
		Success:  ok,
		Message:  fmt.Sprintf("Stopped %d process(es)", total),
		Count:    total,
		Killed:   killed,
		Services: names,
	}
}

// Status probes the named service.
func (s *Supervisor) Status(ctx context.Context, name string) (Status, error) {
	spec, unlock, ok := s.lockSpec(name)
	if !ok {
		return Status{}, fmt.Errorf("%w: %s", service.ErrNotFound, name)
	}
	defer unlock()
	return s.status(ctx, spec), nil
}

// StatusAll probes every service in registry order.
func (s *Supervisor) StatusAll(ctx context.Context) []Status {
	specs := s.reg.List()
	out := make([]Status, 0, len(specs))
	for _, candidate := range specs {
		if ctx.Err() != nil {
			break
		}
		spec, unlock, ok := s.lockSpec(candidate.Name)
		if !ok {
			continue
		}
		out = append(out, s.status(ctx, spec))
		unlock()
	}
	return out
}

// ScanPorts lists the ports the named service's processes listen on.
func (s *Supervisor) ScanPorts(ctx context.Context, name string) ScanResult {
	spec, ok := s.reg.Get(name)
	if !ok {
		return ScanResult{Success: false, Message: NotFoundMessage, DetectedPorts: []int{}, ConfiguredPorts: []int{}}
	}
	detected := s.ports.Scan(ctx, s.matches(ctx, spec))
	if detected == nil {
		detected = []int{}
	}
	return ScanResult{Success: true, DetectedPorts: detected, ConfiguredPorts: spec.Ports}
}

// PortConflicts reports ports claimed by more than one registered service.
func (s *Supervisor) PortConflicts() ConflictReport {
	c := ports.Conflicts(s.reg.List())
	return ConflictReport{HasConflicts: len(c) > 0, Conflicts: c}
}

// lockSpec takes the per-service lock and re-reads the spec under it, so an
// operation never runs against a service deleted while it waited.
func (s *Supervisor) lockSpec(name string) (service.Spec, func(), bool) {
	if _, ok := s.reg.Get(name); !ok {
		return service.Spec{}, nil, false
	}
	unlock := s.locks.Lock(name)
	spec, ok := s.reg.Get(name)
	if !ok {
		unlock()
		return service.Spec{}, nil, false
	}
	return spec, unlock, true
}

func (s *Supervisor) start(ctx context.Context, spec service.Spec) Result {
	rt := s.table.Ensure(spec.Name)
	child, err := s.ctl.Launch(ctx, process.LaunchSpec{Name: spec.Name, Command: spec.StartCmd, WorkDir: spec.WorkingDir})
	if err != nil {
		msg := err.Error()
		s.fail(spec, rt, msg)
		return Result{Success: false, Message: msg}
	}
	// give fast-failing commands a chance to die before reporting
	sleepCtx(ctx, s.settle)
	if exited, exitErr := child.Exited(); exited && exitErr != nil {
		msg := fmt.Sprintf("%s exited during startup: %v", spec.Name, exitErr)
		s.fail(spec, rt, msg)
		return Result{Success: false, Message: msg}
	}
	rt.MarkStarted()
	metrics.IncStart(spec.Name)
	slog.Info("service started", "service", spec.Name, "pid", child.PID)
	s.record(spec, history.EventStart, true, 1, "")
	return Result{Success: true, Message: fmt.Sprintf("Started %s", spec.Name)}
}

func (s *Supervisor) stop(ctx context.Context, spec service.Spec, timeout time.Duration) StopResult {
	rt := s.table.Ensure(spec.Name)
	matches := s.matches(ctx, spec)
	metrics.IncStop(spec.Name)
	if len(matches) == 0 {
		rt.MarkStopped()
		s.record(spec, history.EventStop, true, 0, "No processes found")
		return StopResult{Success: true, Message: "No processes found", Count: 0}
	}
	if timeout <= 0 {
		timeout = s.stopTimeout
	}
	rep := process.TerminateAll(ctx, s.ctl, process.PIDs(matches), timeout)
	metrics.AddKilled(spec.Name, len(rep.Killed))
	if len(rep.Killed) > 0 {
		slog.Warn("processes ignored terminate and were killed", "service", spec.Name, "count", len(rep.Killed))
	}
	if err := errors.Join(rep.Errors...); err != nil {
		msg := err.Error()
		s.fail(spec, rt, msg)
		return StopResult{Success: false, Message: msg, Count: len(matches), Killed: len(rep.Killed)}
	}
	rt.MarkStopped()
	msg := fmt.Sprintf("Stopped %d process(es)", len(matches))
	slog.Info("service stopped", "service", spec.Name, "count", len(matches))
	s.record(spec, history.EventStop, true, len(matches), msg)
	return StopResult{Success: true, Message: msg, Count: len(matches), Killed: len(rep.Killed)}
}

func (s *Supervisor) status(ctx context.Context, spec service.Spec) Status {
	rt := s.table.Ensure(spec.Name)
	matches := s.matches(ctx, spec)
	running := len(matches) > 0
	rt.Observe(running)
	metrics.SetRunning(spec.Name, running, len(matches))

	detected := []int{}
	if running {
		if d := s.ports.Scan(ctx, matches); d != nil {
			detected = d
		}
	}
	portStatus := s.ports.Probe(ctx, spec.Ports, running)
	if portStatus == nil {
		portStatus = []ports.PortState{}
	}
	if matches == nil {
		matches = []process.Match{}
	}
	return Status{
		Name:          spec.Name,
		Kind:          spec.Kind,
		Running:       running,
		Processes:     matches,
		PIDCount:      len(matches),
		Ports:         spec.Ports,
		PortStatus:    portStatus,
		DetectedPorts: detected,
		APIURL:        spec.APIURL,
		TailscaleURL:  spec.TailscaleURL,
		Description:   spec.Description,
		Runtime:       rt.View(),
	}
}

// matches excludes the supervisor's own process so keywords that happen to
// match its command line never make it stop itself.
func (s *Supervisor) matches(ctx context.Context, spec service.Spec) []process.Match {
	ms := s.matcher.Match(ctx, spec)
	out := ms[:0]
	for _, m := range ms {
		if m.PID != s.self {
			out = append(out, m)
		}
	}
	return out
}

func (s *Supervisor) fail(spec service.Spec, rt *state.Runtime, msg string) {
	rt.RecordError(msg)
	metrics.IncError(spec.Name)
	slog.Error("service operation failed", "service", spec.Name, "error", msg)
	s.record(spec, history.EventError, false, 0, msg)
}

func (s *Supervisor) record(spec service.Spec, typ history.EventType, ok bool, count int, msg string) {
	if s.events == nil {
		return
	}
	s.events.push(history.Event{
		Type:       typ,
		OccurredAt: time.Now().UTC(),
		Service:    spec.Name,
		Kind:       string(spec.Kind),
		Success:    ok,
		Count:      count,
		Message:    msg,
	})
}

func (s *Supervisor) save() error {
	if s.persist == nil {
		return nil
	}
	return s.persist(s.reg.List())
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

func valOr(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

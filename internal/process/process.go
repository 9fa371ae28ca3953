package process

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"
)

// Child is a launched, detached process. Nothing waits on it except the
// reaper goroutine started by Launch.
type Child struct {
	PID int

	once sync.Once
	done chan struct{}
	err  error
}

// NewChild returns a running Child for pid. Finish marks it exited.
func NewChild(pid int) *Child { return &Child{PID: pid, done: make(chan struct{})} }

// Finish records the exit result. Only the first call has an effect.
func (c *Child) Finish(err error) {
	c.once.Do(func() {
		c.err = err
		close(c.done)
	})
}

// Done is closed once the child has exited.
func (c *Child) Done() <-chan struct{} { return c.done }

// Exited reports whether the child is gone and, if so, its exit error.
func (c *Child) Exited() (bool, error) {
	select {
	case <-c.done:
		return true, c.err
	default:
		return false, nil
	}
}

// Controller spawns and signals OS processes.
type Controller interface {
	Launch(ctx context.Context, spec LaunchSpec) (*Child, error)
	Terminate(pid int32) error
	Kill(pid int32) error
	Alive(pid int32) bool
}

// OSController drives real processes.
type OSController struct{}

// Launch starts spec detached from the supervisor: new session (process
// group and no console on Windows), stdio on the null device, and the
// configured working directory.
func (OSController) Launch(_ context.Context, spec LaunchSpec) (*Child, error) {
	cmd := spec.BuildCommand()
	if spec.WorkDir != "" {
		cmd.Dir = spec.WorkDir
	}
	null, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", os.DevNull, err)
	}
	defer func() { _ = null.Close() }()
	cmd.Stdin = null
	cmd.Stdout = null
	cmd.Stderr = null
	configureSysProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		return nil, err
	}
	child := NewChild(cmd.Process.Pid)
	go func() { child.Finish(cmd.Wait()) }()
	return child, nil
}

func (OSController) Terminate(pid int32) error { return terminateProcess(int(pid)) }
func (OSController) Kill(pid int32) error      { return killProcess(int(pid)) }
func (OSController) Alive(pid int32) bool      { return processExists(int(pid)) }

// StopReport summarizes a TerminateAll run.
type StopReport struct {
	Targeted int     // pids the run was asked to stop
	Killed   []int32 // pids that needed SIGKILL after the grace period
	Errors   []error // signal failures other than "already gone"
}

const pollInterval = 100 * time.Millisecond

// TerminateAll sends a graceful terminate to every pid, waits up to timeout
// for all of them to exit and force-kills the survivors. Processes that
// disappear along the way are not errors.
func TerminateAll(ctx context.Context, ctl Controller, pids []int32, timeout time.Duration) StopReport {
	rep := StopReport{Targeted: len(pids)}
	pending := make([]int32, 0, len(pids))
	for _, pid := range pids {
		if err := ctl.Terminate(pid); err != nil {
			rep.Errors = append(rep.Errors, fmt.Errorf("terminate pid %d: %w", pid, err))
		}
		pending = append(pending, pid)
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(pollInterval)
	defer tick.Stop()
wait:
	for {
		pending = alive(ctl, pending)
		if len(pending) == 0 {
			return rep
		}
		select {
		case <-tick.C:
		case <-deadline.C:
			break wait
		case <-ctx.Done():
			break wait
		}
	}

	for _, pid := range alive(ctl, pending) {
		if err := ctl.Kill(pid); err != nil {
			rep.Errors = append(rep.Errors, fmt.Errorf("kill pid %d: %w", pid, err))
			continue
		}
		rep.Killed = append(rep.Killed, pid)
	}
	return rep
}

func alive(ctl Controller, pids []int32) []int32 {
	out := pids[:0]
	for _, pid := range pids {
		if ctl.Alive(pid) {
			out = append(out, pid)
		}
	}
	return out
}

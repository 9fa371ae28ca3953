//go:build !windows

package process

import "os/exec"

// shellCommand runs script through /bin/sh.
func shellCommand(script string) *exec.Cmd { return exec.Command("/bin/sh", "-c", script) }

// noopCommand stands in for an empty start command.
func noopCommand() *exec.Cmd { return exec.Command("/bin/true") }

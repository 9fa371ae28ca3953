//go:build windows

package process

import "os/exec"

// shellCommand runs script through cmd.exe.
func shellCommand(script string) *exec.Cmd { return exec.Command("cmd", "/c", script) }

// noopCommand stands in for an empty start command.
func noopCommand() *exec.Cmd { return exec.Command("cmd", "/c", "rem") }

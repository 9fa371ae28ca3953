package process

import (
	"os/exec"
	"strings"
)

// LaunchSpec describes a detached child to start.
type LaunchSpec struct {
	Name    string // service name, for logs only
	Command string // shell command line
	WorkDir string // optional working dir
}

// BuildCommand constructs the *exec.Cmd for s.Command. The command always runs
// through the platform shell; an explicit "sh -c ..." prefix is honored
// without adding another shell layer.
func (s LaunchSpec) BuildCommand() *exec.Cmd {
	cmdStr := strings.TrimSpace(s.Command)
	if cmdStr == "" {
		return noopCommand()
	}
	if _, afterC, ok := parseExplicitShell(cmdStr); ok {
		return shellCommand(afterC)
	}
	return shellCommand(cmdStr)
}

// parseExplicitShell detects patterns like "sh -c <ARG>" or "/bin/sh -c <ARG>" at the
// beginning of cmdStr. It returns (shellPath, afterCArg, true) when matched.
// It preserves the substring after "-c " verbatim to avoid breaking quoting.
func parseExplicitShell(cmdStr string) (string, string, bool) {
	trim := strings.TrimLeft(cmdStr, " \t")
	candidates := []string{"sh -c ", "/bin/sh -c ", "/usr/bin/sh -c "}
	for _, p := range candidates {
		if strings.HasPrefix(trim, p) {
			after := trim[len(p):]
			// Strip one pair of wrapping quotes so redirections inside the script still parse.
			if n := len(after); n >= 2 {
				if (after[0] == '\'' && after[n-1] == '\'') || (after[0] == '"' && after[n-1] == '"') {
					after = after[1 : n-1]
				}
			}
			return strings.Fields(p)[0], after, true
		}
	}
	return "", "", false
}

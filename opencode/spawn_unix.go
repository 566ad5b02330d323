//go:build !windows

package opencode

import (
	"os/exec"
)

// buildCommand constructs the exec.Cmd for a workspace binary. On POSIX
// systems shebang lines make wrapper scripts directly executable, so no
// interpreter marshaling is needed.
func buildCommand(binaryPath string, args []string) *exec.Cmd {
	return exec.Command(binaryPath, args...)
}

//go:build windows

package opencode

import (
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
)

// buildCommand constructs the exec.Cmd for a workspace binary, marshaling
// arguments for wrapper scripts that cannot be executed directly on Windows:
//
//   - .cmd/.bat run through cmd.exe /c with a verbatim command line, since
//     cmd.exe applies its own quoting rules and Go's default escaping breaks
//     paths containing spaces.
//   - .ps1 run through the PowerShell script host.
func buildCommand(binaryPath string, args []string) *exec.Cmd {
	switch strings.ToLower(filepath.Ext(binaryPath)) {
	case ".cmd", ".bat":
		cmd := exec.Command("cmd.exe")
		cmd.SysProcAttr = &syscall.SysProcAttr{CmdLine: cmdShellLine(binaryPath, args)}
		return cmd
	case ".ps1":
		psArgs := append([]string{"-NoProfile", "-ExecutionPolicy", "Bypass", "-File", binaryPath}, args...)
		return exec.Command("powershell.exe", psArgs...)
	default:
		return exec.Command(binaryPath, args...)
	}
}

// cmdShellLine builds the verbatim cmd.exe command line. The whole command is
// wrapped in an extra pair of quotes so cmd.exe keeps the quotes around the
// script path and each argument (its /c parsing strips one quote layer).
func cmdShellLine(binaryPath string, args []string) string {
	var b strings.Builder
	b.WriteString(`cmd.exe /c ""`)
	b.WriteString(binaryPath)
	b.WriteString(`"`)
	for _, arg := range args {
		b.WriteString(` "`)
		b.WriteString(arg)
		b.WriteString(`"`)
	}
	b.WriteString(`"`)
	return b.String()
}

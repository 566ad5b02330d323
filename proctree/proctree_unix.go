//go:build !windows

package proctree

import (
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"

	"github.com/codenomad/core/logger"
)

// posixKiller discovers children via pgrep and signals each PID individually.
type posixKiller struct{}

func newPlatformKiller() Killer {
	return &posixKiller{}
}

func (k *posixKiller) KillTree(pid int, sig Signal) error {
	log := logger.WithComponent("proctree")

	sysSig := syscall.SIGTERM
	if sig == Forced {
		sysSig = syscall.SIGKILL
	}

	// Children first, then the parent. pgrep returns exit code 1 when no
	// children exist, which is not an error.
	for _, child := range childPIDs(pid) {
		if err := syscall.Kill(child, sysSig); err != nil {
			log.Debug("signal to child failed (may have exited)", "pid", child, "error", err)
		}
	}

	if err := syscall.Kill(pid, sysSig); err != nil {
		log.Debug("signal to parent failed (may have exited)", "pid", pid, "error", err)
	}

	return nil
}

// childPIDs lists the direct children of pid via `pgrep -P`.
// Any failure yields an empty list.
func childPIDs(pid int) []int {
	out, err := exec.Command("pgrep", "-P", strconv.Itoa(pid)).Output()
	if err != nil {
		return nil
	}

	var pids []int
	for _, field := range strings.Fields(string(out)) {
		child, err := strconv.Atoi(field)
		if err != nil {
			continue
		}
		pids = append(pids, child)
	}
	return pids
}

// alive probes pid with signal 0, which reports addressability without
// delivering anything. EPERM still means the process exists.
func alive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = process.Signal(syscall.Signal(0))
	return err == nil || os.IsPermission(err)
}

//go:build windows

package proctree

import (
	"os/exec"
	"strconv"
	"strings"

	"github.com/codenomad/core/logger"
)

// windowsKiller delegates the whole job to taskkill, whose /T flag kills the
// entire process tree recursively.
type windowsKiller struct{}

func newPlatformKiller() Killer {
	return &windowsKiller{}
}

func (k *windowsKiller) KillTree(pid int, sig Signal) error {
	log := logger.WithComponent("proctree")

	args := []string{"/T", "/PID", strconv.Itoa(pid)}
	if sig == Forced {
		args = append([]string{"/F"}, args...)
	}

	if err := exec.Command("taskkill", args...).Run(); err != nil {
		log.Debug("taskkill failed (process may have exited)", "pid", pid, "error", err)
	}
	return nil
}

// alive checks the process table via tasklist, since signal 0 probing is not
// available on Windows.
func alive(pid int) bool {
	out, err := exec.Command("tasklist", "/FI", "PID eq "+strconv.Itoa(pid), "/FO", "CSV", "/NH").Output()
	if err != nil {
		return false
	}
	return strings.Contains(string(out), ","+strconv.Itoa(pid)+",") ||
		strings.Contains(string(out), "\""+strconv.Itoa(pid)+"\"")
}

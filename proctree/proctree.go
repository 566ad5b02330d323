// Package proctree provides platform-specific process-tree termination and
// PID liveness probing for supervised workspace subprocesses.
//
// Killing is always best-effort: a child may legitimately exit between
// discovery and signaling, so "process not found" is never an error here.
package proctree

// Signal selects how hard to terminate a process tree.
type Signal int

const (
	// Graceful asks processes to shut down cleanly (SIGTERM on POSIX,
	// taskkill without /F on Windows).
	Graceful Signal = iota
	// Forced terminates processes immediately (SIGKILL on POSIX,
	// taskkill /F on Windows).
	Forced
)

// Killer terminates a process and its direct descendants.
type Killer interface {
	// KillTree best-effort signals pid and all of its direct children.
	// It never returns an error for processes that are already gone.
	KillTree(pid int, sig Signal) error
}

// New returns the Killer for the current platform, selected once at startup.
func New() Killer {
	return newPlatformKiller()
}

// Alive reports whether a process with the given PID is currently addressable.
// The probe must never affect the target process.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return alive(pid)
}

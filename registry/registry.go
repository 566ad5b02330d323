// Package registry persists the workspaceID → {pid, folder, startedAt} table
// that lets a restarted supervisor find and reap subprocesses left behind by
// an unclean exit.
//
// The registry is an optimization for crash recovery, not a correctness-
// critical store: Register and Unregister never fail the caller, and an
// entry's presence never guarantees the PID is alive — every consumer must
// revalidate against the OS before trusting it.
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/codenomad/core/logger"
	"github.com/codenomad/core/paths"
	"github.com/codenomad/core/proctree"
)

// escalationDelay is how long cleanup waits after the graceful signal before
// force-killing orphans that are still alive.
const escalationDelay = 1 * time.Second

// Entry describes one registered workspace subprocess.
type Entry struct {
	PID       int       `json:"pid"`
	Folder    string    `json:"folder"`
	StartedAt time.Time `json:"startedAt"`
}

// RegisteredWorkspace is an Entry annotated with current OS liveness,
// returned by ListRegistered for diagnostics.
type RegisteredWorkspace struct {
	Entry
	Alive bool
}

// registryFile is the on-disk JSON shape.
type registryFile struct {
	Workspaces map[string]Entry `json:"workspaces"`
}

// Registry is a file-backed PID table. All operations re-read the file from
// scratch, so concurrent supervisors racing on the same file get last-write-
// wins semantics; the mutex only serializes writers within this process.
type Registry struct {
	mu     sync.Mutex
	path   string
	killer proctree.Killer
}

// New creates a Registry backed by the default per-user registry file.
func New() (*Registry, error) {
	path, err := paths.RegistryFilePath()
	if err != nil {
		return nil, err
	}
	return NewAt(path, proctree.New()), nil
}

// NewAt creates a Registry backed by an explicit file path.
// This is primarily used for testing.
func NewAt(path string, killer proctree.Killer) *Registry {
	return &Registry{path: path, killer: killer}
}

// Register records a launched workspace subprocess.
// Write failures are swallowed (logged): losing a registry entry only costs
// orphan recovery, never the launch itself.
func (r *Registry) Register(workspaceID string, pid int, folder string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	log := logger.WithComponent("registry")

	doc := r.load()
	doc.Workspaces[workspaceID] = Entry{
		PID:       pid,
		Folder:    folder,
		StartedAt: time.Now(),
	}

	if err := r.save(doc); err != nil {
		log.Warn("failed to write pid registry (best-effort)", "workspaceID", workspaceID, "error", err)
		return
	}
	log.Debug("registered workspace pid", "workspaceID", workspaceID, "pid", pid)
}

// Unregister removes a workspace's entry after its subprocess exits through
// this supervisor. Best-effort like Register.
func (r *Registry) Unregister(workspaceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	log := logger.WithComponent("registry")

	doc := r.load()
	if _, ok := doc.Workspaces[workspaceID]; !ok {
		return
	}
	delete(doc.Workspaces, workspaceID)

	if err := r.save(doc); err != nil {
		log.Warn("failed to write pid registry (best-effort)", "workspaceID", workspaceID, "error", err)
		return
	}
	log.Debug("unregistered workspace pid", "workspaceID", workspaceID)
}

// CleanupOrphans reaps subprocesses recorded by a previous supervisor run.
// Each live entry gets a graceful tree-kill; after a short delay, entries
// still alive get a forced tree-kill. Dead entries are never signaled.
// The registry file is cleared once the scan — including the escalation
// wait — completes, so a forced kill is never lost to an early clear.
//
// Returns the number of orphans that were signaled.
func (r *Registry) CleanupOrphans() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	log := logger.WithComponent("registry")
	doc := r.load()

	var live []Entry
	for workspaceID, entry := range doc.Workspaces {
		if !proctree.Alive(entry.PID) {
			log.Debug("registered orphan already dead", "workspaceID", workspaceID, "pid", entry.PID)
			continue
		}
		log.Info("terminating registered orphan", "workspaceID", workspaceID, "pid", entry.PID, "folder", entry.Folder)
		r.killer.KillTree(entry.PID, proctree.Graceful)
		live = append(live, entry)
	}

	// Escalate for any orphan that ignored the graceful signal. The wait is
	// deliberately synchronous: clearing the registry before escalation
	// completes would lose the forced kill if the supervisor exits early.
	if len(live) > 0 {
		time.Sleep(escalationDelay)
		for _, entry := range live {
			if proctree.Alive(entry.PID) {
				log.Warn("orphan survived graceful signal, force killing", "pid", entry.PID)
				r.killer.KillTree(entry.PID, proctree.Forced)
			}
		}
	}

	if err := r.clearLocked(); err != nil {
		return len(live), fmt.Errorf("failed to clear pid registry: %w", err)
	}

	log.Info("orphan cleanup complete", "scanned", len(doc.Workspaces), "signaled", len(live))
	return len(live), nil
}

// ListRegistered returns the raw table annotated with current liveness.
func (r *Registry) ListRegistered() map[string]RegisteredWorkspace {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc := r.load()
	out := make(map[string]RegisteredWorkspace, len(doc.Workspaces))
	for workspaceID, entry := range doc.Workspaces {
		out[workspaceID] = RegisteredWorkspace{
			Entry: entry,
			Alive: proctree.Alive(entry.PID),
		}
	}
	return out
}

// Clear unconditionally deletes the registry file.
func (r *Registry) Clear() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clearLocked()
}

func (r *Registry) clearLocked() error {
	if err := os.Remove(r.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// load reads the registry file, returning an empty table on any failure.
// A corrupt or missing registry only degrades orphan recovery, so it is
// never an error.
func (r *Registry) load() registryFile {
	doc := registryFile{Workspaces: make(map[string]Entry)}

	data, err := os.ReadFile(r.path)
	if err != nil {
		return doc
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		logger.WithComponent("registry").Warn("corrupt pid registry, starting fresh", "path", r.path, "error", err)
		return registryFile{Workspaces: make(map[string]Entry)}
	}
	if doc.Workspaces == nil {
		doc.Workspaces = make(map[string]Entry)
	}
	return doc
}

// save writes the whole table back, creating the parent directory as needed.
func (r *Registry) save(doc registryFile) error {
	if err := os.MkdirAll(filepath.Dir(r.path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(r.path, data, 0644)
}

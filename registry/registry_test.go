//go:build !windows

package registry

import (
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/codenomad/core/proctree"
)

// recordingKiller records KillTree calls without touching any process.
type recordingKiller struct {
	mu    sync.Mutex
	calls []killCall
}

type killCall struct {
	pid int
	sig proctree.Signal
}

func (k *recordingKiller) KillTree(pid int, sig proctree.Signal) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.calls = append(k.calls, killCall{pid: pid, sig: sig})
	return nil
}

func (k *recordingKiller) Calls() []killCall {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := make([]killCall, len(k.calls))
	copy(out, k.calls)
	return out
}

func newTestRegistry(t *testing.T) (*Registry, string, *recordingKiller) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "workspace-pids.json")
	killer := &recordingKiller{}
	return NewAt(path, killer), path, killer
}

func TestRegisterAndListRegistered(t *testing.T) {
	reg, _, _ := newTestRegistry(t)

	reg.Register("ws-1", os.Getpid(), "/projects/app")
	reg.Register("ws-2", 1<<30, "/projects/other")

	listed := reg.ListRegistered()
	if len(listed) != 2 {
		t.Fatalf("ListRegistered = %d entries, want 2", len(listed))
	}

	ws1 := listed["ws-1"]
	if ws1.PID != os.Getpid() {
		t.Errorf("ws-1 pid = %d, want %d", ws1.PID, os.Getpid())
	}
	if ws1.Folder != "/projects/app" {
		t.Errorf("ws-1 folder = %q", ws1.Folder)
	}
	if !ws1.Alive {
		t.Error("ws-1 (our own pid) should be annotated alive")
	}
	if ws1.StartedAt.IsZero() {
		t.Error("ws-1 startedAt should be set")
	}

	if listed["ws-2"].Alive {
		t.Error("ws-2 (impossible pid) should be annotated dead")
	}
}

func TestRegisterWritesThroughToDisk(t *testing.T) {
	reg, path, _ := newTestRegistry(t)
	reg.Register("ws-1", 4242, "/projects/app")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("registry file not written: %v", err)
	}

	var doc struct {
		Workspaces map[string]Entry `json:"workspaces"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("registry file is not valid JSON: %v", err)
	}
	if doc.Workspaces["ws-1"].PID != 4242 {
		t.Errorf("persisted pid = %d, want 4242", doc.Workspaces["ws-1"].PID)
	}
}

func TestUnregister(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	reg.Register("ws-1", 4242, "/a")
	reg.Register("ws-2", 4243, "/b")

	reg.Unregister("ws-1")

	listed := reg.ListRegistered()
	if _, ok := listed["ws-1"]; ok {
		t.Error("ws-1 should be gone after Unregister")
	}
	if _, ok := listed["ws-2"]; !ok {
		t.Error("ws-2 should survive ws-1's Unregister")
	}
}

func TestUnregister_UnknownIDIsNoop(t *testing.T) {
	reg, path, _ := newTestRegistry(t)

	// Must not create the file or panic
	reg.Unregister("never-registered")

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("Unregister of unknown id should not create the registry file")
	}
}

func TestRegisterSurvivesCorruptFile(t *testing.T) {
	reg, path, _ := newTestRegistry(t)
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}

	// Must not panic or fail; corrupt registry is discarded
	reg.Register("ws-1", 99, "/p")

	listed := reg.ListRegistered()
	if len(listed) != 1 {
		t.Errorf("registry should have been rebuilt with 1 entry, got %d", len(listed))
	}
}

func TestCleanupOrphans_DeadEntryNotSignaled(t *testing.T) {
	reg, path, killer := newTestRegistry(t)

	// A process that has already exited
	cmd := exec.Command("true")
	if err := cmd.Start(); err != nil {
		t.Fatal(err)
	}
	deadPID := cmd.Process.Pid
	cmd.Wait()

	reg.Register("ws-dead", deadPID, "/p")

	signaled, err := reg.CleanupOrphans()
	if err != nil {
		t.Fatalf("CleanupOrphans: %v", err)
	}
	if signaled != 0 {
		t.Errorf("signaled = %d, want 0 for a dead entry", signaled)
	}
	if calls := killer.Calls(); len(calls) != 0 {
		t.Errorf("dead pid must not be signaled, got %v", calls)
	}

	// Registry file is cleared regardless of per-entry outcome
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("registry file should be removed after cleanup")
	}
}

func TestCleanupOrphans_LiveEntryEscalates(t *testing.T) {
	reg, _, killer := newTestRegistry(t)

	// Use our own PID as a guaranteed-alive process the recording killer
	// never actually signals — it stays alive, forcing escalation.
	reg.Register("ws-live", os.Getpid(), "/p")

	start := time.Now()
	signaled, err := reg.CleanupOrphans()
	if err != nil {
		t.Fatalf("CleanupOrphans: %v", err)
	}
	elapsed := time.Since(start)

	if signaled != 1 {
		t.Errorf("signaled = %d, want 1", signaled)
	}
	if elapsed < escalationDelay {
		t.Errorf("cleanup returned in %v, should await the %v escalation delay", elapsed, escalationDelay)
	}

	calls := killer.Calls()
	if len(calls) != 2 {
		t.Fatalf("kill calls = %v, want graceful then forced", calls)
	}
	if calls[0].sig != proctree.Graceful || calls[1].sig != proctree.Forced {
		t.Errorf("expected graceful then forced, got %v", calls)
	}
	if calls[0].pid != os.Getpid() || calls[1].pid != os.Getpid() {
		t.Errorf("kill calls targeted wrong pid: %v", calls)
	}
}

func TestCleanupOrphans_EmptyRegistry(t *testing.T) {
	reg, _, killer := newTestRegistry(t)

	signaled, err := reg.CleanupOrphans()
	if err != nil {
		t.Fatalf("CleanupOrphans: %v", err)
	}
	if signaled != 0 || len(killer.Calls()) != 0 {
		t.Error("empty registry should be a no-op")
	}
}

func TestClear(t *testing.T) {
	reg, path, _ := newTestRegistry(t)
	reg.Register("ws-1", 1, "/a")

	if err := reg.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("Clear should delete the registry file")
	}

	// Clearing an already-missing file is fine
	if err := reg.Clear(); err != nil {
		t.Errorf("Clear on missing file: %v", err)
	}
}

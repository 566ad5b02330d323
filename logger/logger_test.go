package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/codenomad/core/paths"
)

// setupTestLogger creates a temp log file and initializes the logger with it.
func setupTestLogger(t *testing.T) (string, func()) {
	t.Helper()
	Reset()

	tmpDir := t.TempDir()
	logPath := filepath.Join(tmpDir, "test-debug.log")
	if err := Init(logPath); err != nil {
		t.Fatalf("Failed to init logger: %v", err)
	}

	return logPath, func() {
		Reset()
	}
}

func TestGet(t *testing.T) {
	_, cleanup := setupTestLogger(t)
	defer cleanup()

	log := Get()
	if log == nil {
		t.Fatal("Get() returned nil")
	}

	// Should not panic
	log.Info("test message")
	log.Debug("debug message", "key", "value")
	log.Warn("warning", "count", 42)
	log.Error("error occurred", "err", "something failed")
}

func TestGet_StructuredLogging(t *testing.T) {
	logPath, cleanup := setupTestLogger(t)
	defer cleanup()

	log := Get()
	log.Info("launch requested", "workspaceID", "ws-1", "pid", 123)

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}

	contentStr := string(content)

	if !strings.Contains(contentStr, "launch requested") {
		t.Error("Should contain message")
	}
	if !strings.Contains(contentStr, "workspaceID=ws-1") {
		t.Error("Should contain workspaceID=ws-1")
	}
	if !strings.Contains(contentStr, "pid=123") {
		t.Error("Should contain pid=123")
	}
}

func TestWithWorkspace(t *testing.T) {
	logPath, cleanup := setupTestLogger(t)
	defer cleanup()

	log := WithWorkspace("ws-abc")
	log.Info("attached field test")

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}

	if !strings.Contains(string(content), "workspaceID=ws-abc") {
		t.Error("Should contain workspaceID=ws-abc on every entry")
	}
}

func TestWithComponent(t *testing.T) {
	logPath, cleanup := setupTestLogger(t)
	defer cleanup()

	log := WithComponent("registry")
	log.Info("component field test")

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}

	if !strings.Contains(string(content), "component=registry") {
		t.Error("Should contain component=registry")
	}
}

func TestSetDebug(t *testing.T) {
	logPath, cleanup := setupTestLogger(t)
	defer cleanup()

	// Debug disabled by default
	Get().Debug("hidden-debug-marker")

	SetDebug(true)
	Get().Debug("visible-debug-marker")

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}

	contentStr := string(content)
	if strings.Contains(contentStr, "hidden-debug-marker") {
		t.Error("Debug message should be suppressed at info level")
	}
	if !strings.Contains(contentStr, "visible-debug-marker") {
		t.Error("Debug message should appear after SetDebug(true)")
	}
}

func TestClose(t *testing.T) {
	_, cleanup := setupTestLogger(t)
	defer cleanup()

	// Close should not panic
	Close()
}

func TestInit_Idempotent(t *testing.T) {
	logPath, cleanup := setupTestLogger(t)
	defer cleanup()

	// A second Init with a different path is a no-op
	other := filepath.Join(t.TempDir(), "other.log")
	if err := Init(other); err != nil {
		t.Fatalf("second Init: %v", err)
	}

	Get().Info("idempotency-marker")

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	if !strings.Contains(string(content), "idempotency-marker") {
		t.Error("Log should still go to the first path")
	}
	if _, err := os.Stat(other); !os.IsNotExist(err) {
		t.Error("Second Init path should not be created")
	}
}

func TestClearLogs(t *testing.T) {
	Reset()
	defer Reset()

	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("XDG_DATA_HOME", "")
	t.Setenv("XDG_STATE_HOME", "")
	paths.Reset()
	t.Cleanup(paths.Reset)

	logsDir := filepath.Join(home, ".codenomad", "logs")
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"codenomad.log", "workspace-ws1.log", "workspace-ws2.log"} {
		if err := os.WriteFile(filepath.Join(logsDir, name), []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	count, err := ClearLogs()
	if err != nil {
		t.Fatalf("ClearLogs: %v", err)
	}
	if count != 3 {
		t.Errorf("ClearLogs removed %d files, want 3", count)
	}
}
